package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
)

// LogFunc receives one human-readable line per log record.
type LogFunc func(level slog.Level, line string)

// Sink is a swappable LogFunc. The zero value discards lines.
type Sink struct {
	fn atomic.Pointer[LogFunc]
}

// Set installs fn as the destination. A nil fn disables forwarding.
func (s *Sink) Set(fn LogFunc) {
	if fn == nil {
		s.fn.Store(nil)
		return
	}
	s.fn.Store(&fn)
}

func (s *Sink) load() LogFunc {
	if p := s.fn.Load(); p != nil {
		return *p
	}
	return nil
}

// CallbackHandler forwards every record to the next handler and, when the
// sink holds a function, also renders it as a single text line for the
// sink. Lines look like `level=INFO msg="server ready" pid=4242`.
type CallbackHandler struct {
	next slog.Handler
	sink *Sink

	mu   *sync.Mutex
	buf  *bytes.Buffer
	text slog.Handler // renders into buf
}

// NewCallbackHandler wraps next. A nil next discards records apart from
// the sink.
func NewCallbackHandler(next slog.Handler, sink *Sink) *CallbackHandler {
	buf := &bytes.Buffer{}
	return &CallbackHandler{
		next: next,
		sink: sink,
		mu:   &sync.Mutex{},
		buf:  buf,
		text: slog.NewTextHandler(buf, &slog.HandlerOptions{
			Level: slog.LevelDebug,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if len(groups) == 0 && a.Key == slog.TimeKey {
					return slog.Attr{}
				}
				return a
			},
		}),
	}
}

// Enabled reports true when either destination wants the record.
func (h *CallbackHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if h.sink.load() != nil {
		return true
	}
	return h.next != nil && h.next.Enabled(ctx, level)
}

func (h *CallbackHandler) Handle(ctx context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	if fn := h.sink.load(); fn != nil {
		h.mu.Lock()
		h.buf.Reset()
		_ = h.text.Handle(ctx, rec)
		line := strings.TrimRight(h.buf.String(), "\n")
		h.mu.Unlock()
		fn(rec.Level, line)
	}
	if h.next != nil && h.next.Enabled(ctx, rec.Level) {
		return h.next.Handle(ctx, rec)
	}
	return nil
}

func (h *CallbackHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.text = h.text.WithAttrs(attrs)
	if h.next != nil {
		c.next = h.next.WithAttrs(attrs)
	}
	return &c
}

func (h *CallbackHandler) WithGroup(name string) slog.Handler {
	c := *h
	c.text = h.text.WithGroup(name)
	if h.next != nil {
		c.next = h.next.WithGroup(name)
	}
	return &c
}
