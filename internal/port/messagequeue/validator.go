package messagequeue

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Strob0t/lspindex/internal/domain/event"
)

// Validate checks that data is an event envelope whose type matches the
// subject and whose payload decodes into that type's schema. Dead-letter
// and unknown subjects only need to carry valid JSON.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}
	if strings.HasSuffix(subject, DLQSuffix) {
		return nil
	}

	want, payload := payloadFor(subject)
	if payload == nil {
		return nil
	}

	var env event.Event
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", subject, err)
	}
	if env.Type != want {
		return fmt.Errorf("schema validation failed for %s: event type %q", subject, env.Type)
	}
	if len(env.Payload) == 0 {
		return fmt.Errorf("schema validation failed for %s: missing payload", subject)
	}
	if err := json.Unmarshal(env.Payload, payload); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", subject, err)
	}
	return nil
}
