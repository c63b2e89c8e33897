package lsp

import (
	"errors"
	"testing"

	lspDomain "github.com/Strob0t/lspindex/internal/domain/lsp"
)

func TestStateMachine_Handshake(t *testing.T) {
	obs := &recordingObserver{}
	m := newStateMachine(obs)

	steps := []lspDomain.ServerState{
		lspDomain.StateStarting,
		lspDomain.StateAwaitingInitializeResult,
		lspDomain.StateReady,
		lspDomain.StateShuttingDown,
		lspDomain.StateStopped,
	}
	for _, to := range steps {
		if _, err := m.Transition(to); err != nil {
			t.Fatalf("Transition(%s): %v", to, err)
		}
	}
	if len(obs.states) != len(steps) {
		t.Errorf("observer saw %d changes, want %d", len(obs.states), len(steps))
	}
}

func TestStateMachine_IllegalTransition(t *testing.T) {
	m := newStateMachine(nil)
	from, err := m.Transition(lspDomain.StateReady)
	var te *lspDomain.TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
	if from != lspDomain.StateNotStarted || m.Current() != lspDomain.StateNotStarted {
		t.Errorf("state changed on illegal transition: %s", m.Current())
	}
}

func TestStateMachine_TransitionFrom(t *testing.T) {
	m := newStateMachine(nil)
	if m.TransitionFrom(lspDomain.StateStarting, lspDomain.StateAwaitingInitializeResult) {
		t.Fatal("TransitionFrom should fail when the current state differs")
	}
	if !m.TransitionFrom(lspDomain.StateNotStarted, lspDomain.StateStarting) {
		t.Fatal("TransitionFrom should succeed from the current state")
	}
}

func TestStateMachine_Gate(t *testing.T) {
	m := newStateMachine(nil)

	if err := m.Gate("textDocument/documentSymbol"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady before start, got %v", err)
	}
	if err := m.Gate(methodInitialize); !errors.Is(err, ErrNotReady) {
		t.Fatalf("initialize before start should be rejected, got %v", err)
	}

	_, _ = m.Transition(lspDomain.StateStarting)
	if err := m.Gate(methodInitialize); err != nil {
		t.Fatalf("initialize while starting: %v", err)
	}
	if err := m.Gate("textDocument/didOpen"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("didOpen while starting should be rejected, got %v", err)
	}

	_, _ = m.Transition(lspDomain.StateAwaitingInitializeResult)
	if err := m.Gate("$/memoryUsage"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("custom request while awaiting initialize should be rejected, got %v", err)
	}
	if err := m.Gate(methodInitialize); !errors.Is(err, ErrNotReady) {
		t.Fatalf("second initialize should be rejected, got %v", err)
	}

	_, _ = m.Transition(lspDomain.StateReady)
	if err := m.Gate("textDocument/documentSymbol"); err != nil {
		t.Fatalf("request while ready: %v", err)
	}
}

func TestStateMachine_FailedFromAnyLiveState(t *testing.T) {
	for _, st := range []lspDomain.ServerState{
		lspDomain.StateStarting,
		lspDomain.StateAwaitingInitializeResult,
		lspDomain.StateReady,
		lspDomain.StateShuttingDown,
	} {
		m := &stateMachine{state: st, obs: nopObserver{}}
		if _, err := m.Transition(lspDomain.StateFailed); err != nil {
			t.Errorf("%s -> failed: %v", st, err)
		}
	}
}
