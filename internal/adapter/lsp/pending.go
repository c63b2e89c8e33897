package lsp

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// ResponseFunc completes a request. Exactly one of result and err is
// meaningful; result is the raw JSON "result" member, possibly "null".
type ResponseFunc func(result json.RawMessage, err error)

// pendingRequest is owned by the table until it is resolved.
type pendingRequest struct {
	id       int64
	method   string
	issuedAt time.Time
	done     ResponseFunc
	timer    *time.Timer
}

// PendingTable correlates request ids with their completion callbacks. Each
// entry is removed under the lock before its callback runs, which makes
// Resolve, FailAll and timeout expiry mutually exclusive per id. Callbacks
// are invoked outside the lock.
type PendingTable struct {
	next    atomic.Int64
	timeout time.Duration
	obs     Observer

	mu      sync.Mutex
	entries map[int64]*pendingRequest
}

// NewPendingTable creates an empty table whose ids start at 1. A positive
// timeout fails requests that outlive it with ErrRequestTimeout; the
// timeout callback runs on a timer goroutine.
func NewPendingTable(timeout time.Duration, obs Observer) *PendingTable {
	if obs == nil {
		obs = nopObserver{}
	}
	return &PendingTable{
		timeout: timeout,
		obs:     obs,
		entries: make(map[int64]*pendingRequest),
	}
}

// NextID returns the next request id. Safe for concurrent use.
func (t *PendingTable) NextID() int64 {
	return t.next.Add(1)
}

// Register stores done under id.
func (t *PendingTable) Register(id int64, method string, done ResponseFunc) {
	p := &pendingRequest{id: id, method: method, issuedAt: time.Now(), done: done}

	t.mu.Lock()
	t.entries[id] = p
	if t.timeout > 0 {
		p.timer = time.AfterFunc(t.timeout, func() {
			t.Resolve(id, nil, fmt.Errorf("%s after %s: %w", method, t.timeout, ErrRequestTimeout))
		})
	}
	t.mu.Unlock()

	t.obs.RequestStarted(method)
}

// Resolve completes and removes the entry for id. It returns false when no
// such entry exists, e.g. a late reply to a timed-out request.
func (t *PendingTable) Resolve(id int64, result json.RawMessage, err error) bool {
	t.mu.Lock()
	p, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}
	t.complete(p, result, err)
	return true
}

// Remove drops the entry for id without invoking its callback. It is used
// when the request could not be written. It returns false if the entry was
// already resolved.
func (t *PendingTable) Remove(id int64) bool {
	t.mu.Lock()
	p, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	t.mu.Unlock()

	if ok && p.timer != nil {
		p.timer.Stop()
	}
	return ok
}

// FailAll drains the table and fails every entry with reason, in id order.
// It returns the number of callbacks invoked.
func (t *PendingTable) FailAll(reason error) int {
	t.mu.Lock()
	drained := make([]*pendingRequest, 0, len(t.entries))
	for _, p := range t.entries {
		drained = append(drained, p)
	}
	clear(t.entries)
	t.mu.Unlock()

	slices.SortFunc(drained, func(a, b *pendingRequest) int { return cmp.Compare(a.id, b.id) })
	for _, p := range drained {
		t.complete(p, nil, reason)
	}
	return len(drained)
}

// Len returns the number of unresolved requests.
func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Methods returns the method names of unresolved requests, keyed by id.
func (t *PendingTable) Methods() map[int64]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[int64]string, len(t.entries))
	for id, p := range t.entries {
		out[id] = p.method
	}
	return out
}

func (t *PendingTable) complete(p *pendingRequest, result json.RawMessage, err error) {
	if p.timer != nil {
		p.timer.Stop()
	}
	t.obs.RequestFinished(p.method, time.Since(p.issuedAt), err)
	p.done(result, err)
}
