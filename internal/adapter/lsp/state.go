package lsp

import (
	"fmt"
	"sync"

	lspDomain "github.com/Strob0t/lspindex/internal/domain/lsp"
)

const methodInitialize = "initialize"

// stateMachine guards the session's ServerState. Every change goes through
// Transition, which enforces the domain transition table.
type stateMachine struct {
	mu    sync.Mutex
	state lspDomain.ServerState
	obs   Observer
}

func newStateMachine(obs Observer) *stateMachine {
	if obs == nil {
		obs = nopObserver{}
	}
	return &stateMachine{state: lspDomain.StateNotStarted, obs: obs}
}

// Current returns the state.
func (m *stateMachine) Current() lspDomain.ServerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transition moves to `to` or returns a *TransitionError.
func (m *stateMachine) Transition(to lspDomain.ServerState) (lspDomain.ServerState, error) {
	m.mu.Lock()
	from := m.state
	if !lspDomain.CanTransition(from, to) {
		m.mu.Unlock()
		return from, &lspDomain.TransitionError{From: from, To: to}
	}
	m.state = to
	m.mu.Unlock()

	m.obs.StateChanged(from, to)
	return from, nil
}

// TransitionFrom moves from → to only when the current state is `from`.
func (m *stateMachine) TransitionFrom(from, to lspDomain.ServerState) bool {
	m.mu.Lock()
	if m.state != from || !lspDomain.CanTransition(from, to) {
		m.mu.Unlock()
		return false
	}
	m.state = to
	m.mu.Unlock()

	m.obs.StateChanged(from, to)
	return true
}

// Gate rejects outgoing traffic the current state does not permit:
// initialize only while Starting, everything else only while Ready.
func (m *stateMachine) Gate(method string) error {
	st := m.Current()
	if method == methodInitialize {
		if st != lspDomain.StateStarting {
			return fmt.Errorf("%w: initialize in state %s", ErrNotReady, st)
		}
		return nil
	}
	if st != lspDomain.StateReady {
		return fmt.Errorf("%w: %s in state %s", ErrNotReady, method, st)
	}
	return nil
}
