// Package messagequeue defines the port for publishing index events to a
// message broker.
package messagequeue

import (
	"context"

	"github.com/Strob0t/lspindex/internal/domain/event"
)

// Handler processes a message received from the queue.
// The context carries the run id of the publishing index run, if any.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// DLQSuffix is appended to a subject for messages that failed validation
// or exhausted their retries.
const DLQSuffix = ".dlq"

// Subject returns the subject an event of type t is published on.
func Subject(prefix string, t event.Type) string {
	if prefix == "" {
		return string(t)
	}
	return prefix + "." + string(t)
}
