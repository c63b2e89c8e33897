// Package broadcast defines the port for pushing index events to live
// clients.
package broadcast

import (
	"context"

	"github.com/Strob0t/lspindex/internal/domain/event"
)

// Broadcaster sends events to all connected clients.
type Broadcaster interface {
	Broadcast(ctx context.Context, ev event.Event)
}
