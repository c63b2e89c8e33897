package lsp

import "fmt"

// ServerState is the handshake/lifecycle state of a language server session.
type ServerState int

const (
	StateNotStarted ServerState = iota
	StateStarting
	StateAwaitingInitializeResult
	StateReady
	StateShuttingDown
	StateStopped
	StateFailed
)

// String returns a human-readable state name.
func (s ServerState) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateStarting:
		return "starting"
	case StateAwaitingInitializeResult:
		return "awaiting_initialize_result"
	case StateReady:
		return "ready"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON and YAML output.
func (s ServerState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name as produced by MarshalText.
func (s *ServerState) UnmarshalText(text []byte) error {
	for st := StateNotStarted; st <= StateFailed; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown server state %q", text)
}

// Terminal reports whether the session is over and a new Start is required.
func (s ServerState) Terminal() bool {
	return s == StateStopped || s == StateFailed
}

// transitions lists the allowed moves. Failed is reachable from any state
// and is handled separately in CanTransition.
var transitions = map[ServerState][]ServerState{
	StateNotStarted:               {StateStarting},
	StateStarting:                 {StateAwaitingInitializeResult, StateShuttingDown},
	StateAwaitingInitializeResult: {StateReady, StateShuttingDown},
	StateReady:                    {StateShuttingDown},
	StateShuttingDown:             {StateStopped},
	StateStopped:                  {StateStarting},
	StateFailed:                   {StateStarting, StateShuttingDown, StateStopped},
}

// CanTransition reports whether from → to is a legal state change.
func CanTransition(from, to ServerState) bool {
	if to == StateFailed {
		return from != StateFailed && from != StateStopped
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionError is returned for an illegal state change.
type TransitionError struct {
	From ServerState
	To   ServerState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal server state transition %s -> %s", e.From, e.To)
}
