package logger

import (
	"context"
	"log/slog"
)

type contextKey int

const (
	runIDKey contextKey = iota
	uriKey
	requestIDKey
)

// WithRequestID returns a new context carrying the HTTP request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID extracts the request id from the context.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithRunID returns a new context carrying the id of an index run.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

// RunID extracts the index run id from the context.
// Returns an empty string if none is set.
func RunID(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey).(string)
	return id
}

// WithURI returns a new context carrying the document URI being processed.
func WithURI(ctx context.Context, uri string) context.Context {
	return context.WithValue(ctx, uriKey, uri)
}

// URI extracts the document URI from the context.
func URI(ctx context.Context) string {
	uri, _ := ctx.Value(uriKey).(string)
	return uri
}

// contextHandler copies request_id, run_id and uri from the context onto records
// logged with the *Context variants of slog.
type contextHandler struct {
	next slog.Handler
}

func (h *contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *contextHandler) Handle(ctx context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	if id := RequestID(ctx); id != "" {
		rec.AddAttrs(slog.String("request_id", id))
	}
	if id := RunID(ctx); id != "" {
		rec.AddAttrs(slog.String("run_id", id))
	}
	if uri := URI(ctx); uri != "" {
		rec.AddAttrs(slog.String("uri", uri))
	}
	return h.next.Handle(ctx, rec)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{next: h.next.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{next: h.next.WithGroup(name)}
}
