package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	lspAdapter "github.com/Strob0t/lspindex/internal/adapter/lsp"
	cfnats "github.com/Strob0t/lspindex/internal/adapter/nats"
	"github.com/Strob0t/lspindex/internal/adapter/natskv"
	cfotel "github.com/Strob0t/lspindex/internal/adapter/otel"
	"github.com/Strob0t/lspindex/internal/adapter/ristretto"
	"github.com/Strob0t/lspindex/internal/adapter/tiered"
	"github.com/Strob0t/lspindex/internal/adapter/ws"
	"github.com/Strob0t/lspindex/internal/config"
	lspDomain "github.com/Strob0t/lspindex/internal/domain/lsp"
	"github.com/Strob0t/lspindex/internal/logger"
	"github.com/Strob0t/lspindex/internal/port/cache"
	"github.com/Strob0t/lspindex/internal/service"
)

const (
	symbolKVBucket = "lspindex-symbols"
	// l1Backfill bounds how long an L2 hit stays in the in-process cache.
	l1Backfill   = 10 * time.Minute
	closeTimeout = 10 * time.Second
)

// app is the wired runtime shared by the subcommands.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	command []string
	metrics *cfotel.Metrics
	client  *lspAdapter.Client
	hub     *ws.Hub
	queue   *cfnats.Queue
	index   *service.IndexService

	closers []func(context.Context) error
}

type appOptions struct {
	index bool // build the index service with its cache and event outlets
	hub   bool // live websocket event stream
}

// newApp wires logging, telemetry and the language server client, plus the
// index service when opts asks for it. Optional infrastructure (NATS, OTLP)
// is enabled by configuration only.
func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	log, closer := logger.New(cfg.Logging)
	slog.SetDefault(log)
	a.log = log
	a.onClose(func(context.Context) error { closer.Close(); return nil })

	shutdown, err := cfotel.Setup(ctx, cfg.OTel)
	if err != nil {
		return nil, fmt.Errorf("otel: %w", err)
	}
	a.onClose(shutdown)

	if a.metrics, err = cfotel.NewMetrics(); err != nil {
		return nil, fmt.Errorf("otel metrics: %w", err)
	}

	if a.command, err = resolveCommand(cfg.LSP.Command); err != nil {
		return nil, err
	}

	// The index service observes state changes, and it needs the client to
	// be built first.
	var svc *service.IndexService
	observer := lspAdapter.Observers(a.metrics, lspAdapter.StateFunc(func(from, to lspDomain.ServerState) {
		if svc != nil {
			svc.StateChanged(from, to)
		}
	}))
	a.client = lspAdapter.NewClient(cfg.LSP,
		lspAdapter.WithLogger(log.With("component", "lsp")),
		lspAdapter.WithObserver(observer),
		lspAdapter.WithClientInfo("lspindex", version),
	)

	if !opts.index {
		a.onClose(func(context.Context) error { return a.client.Stop() })
		return a, nil
	}

	indexOpts := []service.IndexOption{
		service.WithMetrics(a.metrics),
		service.WithIndexLogger(log.With("component", "index")),
	}

	if cfg.NATS.URL != "" {
		if a.queue, err = cfnats.Connect(ctx, cfg.NATS.URL, cfg.NATS.SubjectPrefix, log); err != nil {
			return nil, fmt.Errorf("nats: %w", err)
		}
		a.onClose(func(context.Context) error { return a.queue.Drain() })
		indexOpts = append(indexOpts, service.WithQueue(a.queue, cfg.NATS.SubjectPrefix))
	}

	symbols, err := a.symbolCache(ctx)
	if err != nil {
		return nil, err
	}
	indexOpts = append(indexOpts, service.WithCache(symbols))

	if opts.hub {
		a.hub = ws.NewHub(log.With("component", "ws"))
		a.onClose(func(context.Context) error { a.hub.Close(); return nil })
		indexOpts = append(indexOpts, service.WithBroadcaster(a.hub))
	}

	svc = service.NewIndexService(cfg.Index, cfg.LSP, a.command, a.client, indexOpts...)
	a.index = svc
	a.onClose(func(context.Context) error { return svc.Close() })
	return a, nil
}

// symbolCache builds the in-process L1 and, with NATS configured, a shared
// JetStream KV L2 behind it.
func (a *app) symbolCache(ctx context.Context) (cache.Cache, error) {
	l1, err := ristretto.New(a.cfg.Index.CacheMaxSizeMB << 20)
	if err != nil {
		return nil, fmt.Errorf("symbol cache: %w", err)
	}
	a.onClose(func(context.Context) error { l1.Close(); return nil })

	var l2 cache.Cache
	if a.queue != nil {
		kv, err := a.queue.KeyValue(ctx, symbolKVBucket, a.cfg.Index.CacheTTL)
		if err != nil {
			a.log.Warn("shared symbol cache unavailable, using in-process cache only", "error", err)
		} else {
			l2 = natskv.New(kv)
		}
	}
	return tiered.New(l1, l2, l1Backfill, a.log.With("component", "cache")), nil
}

func (a *app) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// close releases everything in reverse order of acquisition.
func (a *app) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// workspace returns the configured workspace root, defaulting to ".".
func (a *app) workspace() string {
	if a.cfg.LSP.WorkspaceRoot == "" {
		return "."
	}
	return a.cfg.LSP.WorkspaceRoot
}

// resolveCommand returns command, or the default server found on PATH when
// command is empty.
func resolveCommand(command []string) ([]string, error) {
	if len(command) > 0 {
		return command, nil
	}
	path, err := exec.LookPath(lspDomain.DefaultServer)
	if err != nil {
		return nil, fmt.Errorf("no language server configured and %s not found on PATH: %w", lspDomain.DefaultServer, err)
	}
	return []string{path}, nil
}

// splitCommand splits a command line on whitespace.
func splitCommand(s string) []string {
	return strings.Fields(s)
}
