package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "lspindex"

// StartIndexSpan starts a span for an index run over root.
func StartIndexSpan(ctx context.Context, runID, root string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "index",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("index.root", root),
		),
	)
}

// StartFileSpan starts a span for indexing a single file within a run.
func StartFileSpan(ctx context.Context, path string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "index.file",
		trace.WithAttributes(attribute.String("file.path", path)),
	)
}

// StartToolSpan starts a span for an MCP tool invocation.
func StartToolSpan(ctx context.Context, tool string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "mcp.tool",
		trace.WithAttributes(attribute.String("mcp.tool", tool)),
	)
}
