package lsp

import (
	"time"

	lspDomain "github.com/Strob0t/lspindex/internal/domain/lsp"
)

// Observer receives client telemetry. Implementations must be safe for
// concurrent use and must not block.
type Observer interface {
	RequestStarted(method string)
	RequestFinished(method string, latency time.Duration, err error)
	StateChanged(from, to lspDomain.ServerState)
}

type nopObserver struct{}

func (nopObserver) RequestStarted(string)                                     {}
func (nopObserver) RequestFinished(string, time.Duration, error)              {}
func (nopObserver) StateChanged(lspDomain.ServerState, lspDomain.ServerState) {}

// StateFunc adapts a function to an Observer that only sees state changes.
type StateFunc func(from, to lspDomain.ServerState)

func (StateFunc) RequestStarted(string)                        {}
func (StateFunc) RequestFinished(string, time.Duration, error) {}

// StateChanged calls f.
func (f StateFunc) StateChanged(from, to lspDomain.ServerState) { f(from, to) }

// Observers fans every call out to each non-nil observer in order.
func Observers(obs ...Observer) Observer {
	var list multiObserver
	for _, o := range obs {
		if o != nil {
			list = append(list, o)
		}
	}
	return list
}

type multiObserver []Observer

func (m multiObserver) RequestStarted(method string) {
	for _, o := range m {
		o.RequestStarted(method)
	}
}

func (m multiObserver) RequestFinished(method string, latency time.Duration, err error) {
	for _, o := range m {
		o.RequestFinished(method, latency, err)
	}
}

func (m multiObserver) StateChanged(from, to lspDomain.ServerState) {
	for _, o := range m {
		o.StateChanged(from, to)
	}
}
