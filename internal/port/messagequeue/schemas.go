package messagequeue

import (
	"strings"

	"github.com/Strob0t/lspindex/internal/domain/event"
)

// payloadFor returns a fresh payload value for the event type carried on
// subject, or nil when the subject is not an event subject.
func payloadFor(subject string) (event.Type, any) {
	for t, newPayload := range payloads {
		if subject == string(t) || strings.HasSuffix(subject, "."+string(t)) {
			return t, newPayload()
		}
	}
	return "", nil
}

var payloads = map[event.Type]func() any{
	event.TypeIndexStarted:   func() any { return &event.IndexStarted{} },
	event.TypeFileIndexed:    func() any { return &event.FileIndexed{} },
	event.TypeIndexCompleted: func() any { return &event.IndexCompleted{} },
	event.TypeDiagnostics:    func() any { return &event.Diagnostics{} },
	event.TypeServerState:    func() any { return &event.ServerState{} },
}
