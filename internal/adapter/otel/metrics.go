package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Strob0t/lspindex/internal/adapter/lsp"
	lspDomain "github.com/Strob0t/lspindex/internal/domain/lsp"
)

const meterName = "lspindex"

var _ lsp.Observer = (*Metrics)(nil)

// Metrics holds all lspindex metric instruments. It doubles as the LSP
// client's Observer.
type Metrics struct {
	RequestsStarted  metric.Int64Counter
	RequestsFailed   metric.Int64Counter
	RequestLatency   metric.Float64Histogram
	StateChanges     metric.Int64Counter
	FilesIndexed     metric.Int64Counter
	FilesFailed      metric.Int64Counter
	CacheHits        metric.Int64Counter
	ServerRestarts   metric.Int64Counter
	IndexRunDuration metric.Float64Histogram
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.RequestsStarted, err = meter.Int64Counter("lspindex.lsp.requests",
		metric.WithDescription("LSP requests sent"))
	if err != nil {
		return nil, err
	}

	m.RequestsFailed, err = meter.Int64Counter("lspindex.lsp.requests.failed",
		metric.WithDescription("LSP requests that completed with an error"))
	if err != nil {
		return nil, err
	}

	m.RequestLatency, err = meter.Float64Histogram("lspindex.lsp.request.duration_seconds",
		metric.WithDescription("LSP request round trip in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	m.StateChanges, err = meter.Int64Counter("lspindex.lsp.state_changes",
		metric.WithDescription("Language server session state transitions"))
	if err != nil {
		return nil, err
	}

	m.FilesIndexed, err = meter.Int64Counter("lspindex.index.files",
		metric.WithDescription("Files indexed"))
	if err != nil {
		return nil, err
	}

	m.FilesFailed, err = meter.Int64Counter("lspindex.index.files.failed",
		metric.WithDescription("Files that could not be indexed"))
	if err != nil {
		return nil, err
	}

	m.CacheHits, err = meter.Int64Counter("lspindex.index.cache_hits",
		metric.WithDescription("Files served from the symbol cache"))
	if err != nil {
		return nil, err
	}

	m.ServerRestarts, err = meter.Int64Counter("lspindex.lsp.restarts",
		metric.WithDescription("Language server restarts during index runs"))
	if err != nil {
		return nil, err
	}

	m.IndexRunDuration, err = meter.Float64Histogram("lspindex.index.duration_seconds",
		metric.WithDescription("Index run duration in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RequestStarted implements lsp.Observer.
func (m *Metrics) RequestStarted(method string) {
	m.RequestsStarted.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("lsp.method", method)))
}

// RequestFinished implements lsp.Observer.
func (m *Metrics) RequestFinished(method string, latency time.Duration, err error) {
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("lsp.method", method))
	m.RequestLatency.Record(ctx, latency.Seconds(), attrs)
	if err != nil {
		m.RequestsFailed.Add(ctx, 1, attrs)
	}
}

// StateChanged implements lsp.Observer.
func (m *Metrics) StateChanged(from, to lspDomain.ServerState) {
	m.StateChanges.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("lsp.state.from", from.String()),
		attribute.String("lsp.state.to", to.String()),
	))
}

// FileIndexed records one processed file.
func (m *Metrics) FileIndexed(ctx context.Context, cached bool, err error) {
	switch {
	case err != nil:
		m.FilesFailed.Add(ctx, 1)
	case cached:
		m.CacheHits.Add(ctx, 1)
		m.FilesIndexed.Add(ctx, 1)
	default:
		m.FilesIndexed.Add(ctx, 1)
	}
}

// Restarted records a language server restart.
func (m *Metrics) Restarted(ctx context.Context) {
	m.ServerRestarts.Add(ctx, 1)
}

// RunFinished records the duration of an index run.
func (m *Metrics) RunFinished(ctx context.Context, d time.Duration, state string) {
	m.IndexRunDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("index.state", state)))
}
