// Package event defines the events an index run emits to subscribers.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/lspindex/internal/domain/index"
	"github.com/Strob0t/lspindex/internal/domain/lsp"
)

// Type identifies the kind of event. Values double as message subjects
// below the configured prefix.
type Type string

const (
	TypeIndexStarted   Type = "index.started"
	TypeFileIndexed    Type = "index.file"
	TypeIndexCompleted Type = "index.completed"
	TypeDiagnostics    Type = "lsp.diagnostics"
	TypeServerState    Type = "lsp.state"
)

// Event is the envelope shared by every transport.
type Event struct {
	ID        string          `json:"id"`
	RunID     string          `json:"run_id,omitempty"`
	Type      Type            `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// New wraps payload in an envelope with a fresh id.
func New(runID string, t Type, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Event{
		ID:        uuid.NewString(),
		RunID:     runID,
		Type:      t,
		Payload:   data,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// IndexStarted is the payload of TypeIndexStarted.
type IndexStarted struct {
	Root    string `json:"root"`
	Command string `json:"command"`
}

// FileIndexed is the payload of TypeFileIndexed.
type FileIndexed struct {
	Path    string `json:"path"`
	Symbols int    `json:"symbols"`
	Cached  bool   `json:"cached"`
	Error   string `json:"error,omitempty"`
	Done    int    `json:"done"`
	Total   int    `json:"total"`
}

// IndexCompleted is the payload of TypeIndexCompleted.
type IndexCompleted struct {
	Status index.Status `json:"status"`
}

// Diagnostics is the payload of TypeDiagnostics.
type Diagnostics struct {
	URI         string           `json:"uri"`
	Diagnostics []lsp.Diagnostic `json:"diagnostics"`
}

// ServerState is the payload of TypeServerState.
type ServerState struct {
	From  lsp.ServerState `json:"from"`
	To    lsp.ServerState `json:"to"`
	Error string          `json:"error,omitempty"`
}
