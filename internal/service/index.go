package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	lspAdapter "github.com/Strob0t/lspindex/internal/adapter/lsp"
	cfotel "github.com/Strob0t/lspindex/internal/adapter/otel"
	"github.com/Strob0t/lspindex/internal/config"
	"github.com/Strob0t/lspindex/internal/domain/event"
	"github.com/Strob0t/lspindex/internal/domain/index"
	lspDomain "github.com/Strob0t/lspindex/internal/domain/lsp"
	"github.com/Strob0t/lspindex/internal/logger"
	"github.com/Strob0t/lspindex/internal/port/broadcast"
	"github.com/Strob0t/lspindex/internal/port/cache"
	"github.com/Strob0t/lspindex/internal/port/languageserver"
	"github.com/Strob0t/lspindex/internal/port/messagequeue"
	"github.com/Strob0t/lspindex/internal/resilience"
)

// ErrIndexBusy is returned when an index run is already in progress.
var ErrIndexBusy = errors.New("index run already in progress")

// maxFileErrors caps the per-file errors kept in the run status.
const maxFileErrors = 100

// IndexService drives one language server over a workspace and keeps the
// flattened document symbols of every indexed file.
type IndexService struct {
	cfg     config.Index
	lspCfg  config.LSP
	command []string
	client  languageserver.Client
	breaker *resilience.Breaker
	log     *slog.Logger

	cache   cache.Cache           // optional
	queue   messagequeue.Queue    // optional
	prefix  string                // subject prefix for queue
	hub     broadcast.Broadcaster // optional
	metrics *cfotel.Metrics       // optional

	runMu sync.Mutex // one run at a time

	mu         sync.RWMutex
	status     index.Status
	files      map[string][]index.Entry // root-relative path -> entries
	serverRoot string

	// Debounce diagnostic broadcasts per URI.
	diagTimers map[string]*time.Timer
	diagMu     sync.Mutex
}

// IndexOption configures an IndexService.
type IndexOption func(*IndexService)

// WithCache enables the symbol result cache.
func WithCache(c cache.Cache) IndexOption {
	return func(s *IndexService) { s.cache = c }
}

// WithQueue publishes index events to q under prefix.
func WithQueue(q messagequeue.Queue, prefix string) IndexOption {
	return func(s *IndexService) { s.queue, s.prefix = q, prefix }
}

// WithBroadcaster pushes index events to live clients.
func WithBroadcaster(b broadcast.Broadcaster) IndexOption {
	return func(s *IndexService) { s.hub = b }
}

// WithMetrics records index counters.
func WithMetrics(m *cfotel.Metrics) IndexOption {
	return func(s *IndexService) { s.metrics = m }
}

// WithIndexLogger sets the service logger.
func WithIndexLogger(l *slog.Logger) IndexOption {
	return func(s *IndexService) { s.log = l }
}

// NewIndexService creates an index service around client. command is the
// resolved language server command line.
func NewIndexService(cfg config.Index, lspCfg config.LSP, command []string, client languageserver.Client, opts ...IndexOption) *IndexService {
	s := &IndexService{
		cfg:        cfg,
		lspCfg:     lspCfg,
		command:    command,
		client:     client,
		breaker:    resilience.NewBreaker(cfg.RestartMax, cfg.RestartTimeout),
		log:        slog.Default(),
		status:     index.Status{State: index.RunIdle},
		files:      make(map[string][]index.Entry),
		diagTimers: make(map[string]*time.Timer),
	}
	for _, o := range opts {
		o(s)
	}
	s.breaker.OnStateChange(func(from, to resilience.State) {
		s.log.Warn("lsp restart breaker", "from", from.String(), "to", to.String())
	})
	client.SetDiagnosticCallback(s.onDiagnostics)
	return s
}

// Index walks root and indexes every matching file. It returns the final
// run status; the error is non-nil only when the run as a whole failed.
// Per-file failures are recorded in the status.
func (s *IndexService) Index(ctx context.Context, root string) (index.Status, error) {
	if !s.runMu.TryLock() {
		return s.Status(), ErrIndexBusy
	}
	defer s.runMu.Unlock()

	root, err := filepath.Abs(root)
	if err != nil {
		return s.Status(), fmt.Errorf("resolve root: %w", err)
	}

	runID := uuid.NewString()
	ctx = logger.WithRunID(ctx, runID)
	ctx, span := cfotel.StartIndexSpan(ctx, runID, root)
	defer span.End()

	started := time.Now()
	s.mu.Lock()
	s.status = index.Status{
		RunID:     runID,
		State:     index.RunIndexing,
		Root:      root,
		StartedAt: started.UTC(),
	}
	s.mu.Unlock()

	s.log.InfoContext(ctx, "index run started", "root", root)
	s.emit(ctx, event.TypeIndexStarted, event.IndexStarted{
		Root:    root,
		Command: strings.Join(s.command, " "),
	})

	seen, runErr := s.run(ctx, root)
	server := s.client.Info()

	s.mu.Lock()
	if runErr == nil {
		// Drop files that disappeared since the previous run.
		for path := range s.files {
			if _, ok := seen[path]; !ok {
				delete(s.files, path)
			}
		}
	}
	s.status.FinishedAt = time.Now().UTC()
	s.status.State = index.RunCompleted
	if runErr != nil {
		s.status.State = index.RunFailed
		s.status.LastError = runErr.Error()
	}
	s.status.Symbols = s.countLocked()
	s.status.Server = server
	final := s.snapshotLocked()
	s.mu.Unlock()

	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		s.log.ErrorContext(ctx, "index run failed", "root", root, "error", runErr)
	} else {
		s.log.InfoContext(ctx, "index run completed",
			"files", final.Files, "indexed", final.Indexed, "cached", final.Cached,
			"failed", final.Failed, "symbols", final.Symbols,
			"duration", time.Since(started).Round(time.Millisecond))
	}
	if s.metrics != nil {
		s.metrics.RunFinished(ctx, time.Since(started), string(final.State))
	}
	s.emit(ctx, event.TypeIndexCompleted, event.IndexCompleted{Status: final})
	return final, runErr
}

// run is the discovery → indexing pipeline. It returns the set of
// root-relative paths that were processed.
func (s *IndexService) run(ctx context.Context, root string) (map[string]struct{}, error) {
	if err := s.ensureClient(ctx, root, false); err != nil {
		return nil, fmt.Errorf("start language server: %w", err)
	}

	seen := make(map[string]struct{})
	paths := make(chan string, 64)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(paths)
		return s.discover(gctx, root, paths)
	})

	g.Go(func() error {
		for path := range paths {
			if err := gctx.Err(); err != nil {
				return err
			}
			rel := relPath(root, path)
			seen[rel] = struct{}{}
			if err := s.indexFile(gctx, root, path, rel); err != nil {
				return err
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return seen, err
	}
	return seen, nil
}

// discover sends every file below root whose extension is indexed.
func (s *IndexService) discover(ctx context.Context, root string, out chan<- string) error {
	exclude := make(map[string]struct{}, len(s.cfg.ExcludeDirs))
	for _, d := range s.cfg.ExcludeDirs {
		exclude[d] = struct{}{}
	}

	found := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			s.log.WarnContext(ctx, "index walk error", "path", path, "error", err)
			return nil
		}
		if d.IsDir() {
			if _, skip := exclude[d.Name()]; skip && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if !s.indexable(path) {
			return nil
		}
		if found >= s.cfg.MaxFiles {
			s.log.WarnContext(ctx, "index file limit reached", "max_files", s.cfg.MaxFiles)
			return fs.SkipAll
		}
		found++

		s.mu.Lock()
		s.status.Files = found
		s.mu.Unlock()

		select {
		case out <- path:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if err != nil {
		return fmt.Errorf("walk %s: %w", root, err)
	}
	return nil
}

func (s *IndexService) indexable(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return slices.Contains(s.cfg.Extensions, ext)
}

// indexFile indexes one file. Only errors that make further progress
// impossible are returned; file-level failures go into the status.
func (s *IndexService) indexFile(ctx context.Context, root, path, rel string) error {
	ctx, span := cfotel.StartFileSpan(ctx, rel)
	defer span.End()

	uri := lspAdapter.FileURI(path)
	ctx = logger.WithURI(ctx, uri)

	symbols, cached, err := s.symbolsFor(ctx, root, path, uri)
	if err != nil && isFatal(err) {
		span.RecordError(err)
		return err
	}

	var entries []index.Entry
	if err == nil {
		entries = index.Flatten(rel, uri, symbols)
	}

	s.mu.Lock()
	switch {
	case err != nil:
		s.status.Failed++
		if len(s.status.Errors) < maxFileErrors {
			s.status.Errors = append(s.status.Errors, index.FileError{Path: rel, Error: err.Error()})
		}
		delete(s.files, rel)
	default:
		s.status.Indexed++
		if cached {
			s.status.Cached++
		}
		s.files[rel] = entries
	}
	done := s.status.Indexed + s.status.Failed
	total := s.status.Files
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.FileIndexed(ctx, cached, err)
	}

	payload := event.FileIndexed{Path: rel, Symbols: len(entries), Cached: cached, Done: done, Total: total}
	if err != nil {
		span.RecordError(err)
		payload.Error = err.Error()
		s.log.WarnContext(ctx, "index file failed", "path", rel, "error", err)
	} else {
		s.log.DebugContext(ctx, "index file done", "path", rel, "symbols", len(entries), "cached", cached)
	}
	s.emit(ctx, event.TypeFileIndexed, payload)
	return nil
}

// symbolsFor returns the symbols of path, from the cache when its content
// is unchanged, otherwise from the language server. A server that died
// mid-request is restarted once per file.
func (s *IndexService) symbolsFor(ctx context.Context, root, path, uri string) ([]lspDomain.Symbol, bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from walking the workspace root
	if err != nil {
		return nil, false, fmt.Errorf("read: %w", err)
	}
	key := cacheKey(uri, data)

	if s.cache != nil {
		if raw, ok, err := s.cache.Get(ctx, key); err != nil {
			s.log.WarnContext(ctx, "symbol cache get failed", "error", err)
		} else if ok {
			var symbols []lspDomain.Symbol
			if err := json.Unmarshal(raw, &symbols); err == nil {
				return symbols, true, nil
			}
			_ = s.cache.Delete(ctx, key)
		}
	}

	symbols, err := s.fetchSymbols(ctx, path, uri, string(data))
	if err != nil && s.serverLost(err) {
		s.log.WarnContext(ctx, "language server lost, restarting", "state", s.client.State().String(), "error", err)
		if rerr := s.restart(ctx, root); rerr != nil {
			return nil, false, rerr
		}
		symbols, err = s.fetchSymbols(ctx, path, uri, string(data))
	}
	if err != nil {
		return nil, false, err
	}

	if s.cache != nil {
		if raw, err := json.Marshal(symbols); err == nil {
			if err := s.cache.Set(ctx, key, raw, s.cfg.CacheTTL); err != nil {
				s.log.WarnContext(ctx, "symbol cache set failed", "error", err)
			}
		}
	}
	return symbols, false, nil
}

// fetchSymbols runs didOpen → documentSymbol → didClose for one file.
func (s *IndexService) fetchSymbols(ctx context.Context, path, uri, text string) ([]lspDomain.Symbol, error) {
	if err := s.client.DidOpen(uri, lspDomain.LanguageIDForPath(path), text); err != nil {
		return nil, fmt.Errorf("didOpen: %w", err)
	}
	symbols, err := s.client.AwaitDocumentSymbols(ctx, uri)
	if cerr := s.client.DidClose(uri); cerr != nil && err == nil && !s.client.State().Terminal() {
		s.log.DebugContext(ctx, "didClose failed", "error", cerr)
	}
	if err != nil {
		return nil, fmt.Errorf("documentSymbol: %w", err)
	}
	return symbols, nil
}

// serverLost reports whether err means the session is gone. Process death
// fails pending requests before the state moves to Failed, so the error is
// checked as well as the state.
func (s *IndexService) serverLost(err error) bool {
	return errors.Is(err, lspAdapter.ErrProcessExited) ||
		errors.Is(err, lspAdapter.ErrFraming) ||
		s.client.State().Terminal()
}

// restart brings the language server back after it died during a run.
func (s *IndexService) restart(ctx context.Context, root string) error {
	s.mu.Lock()
	s.status.Restarts++
	restarts := s.status.Restarts
	s.mu.Unlock()
	if restarts > s.cfg.RestartMax {
		return &fatalError{fmt.Errorf("language server died %d times, giving up", restarts)}
	}
	if s.metrics != nil {
		s.metrics.Restarted(ctx)
	}
	if err := s.ensureClient(ctx, root, true); err != nil {
		return &fatalError{fmt.Errorf("restart language server: %w", err)}
	}
	return nil
}

// ensureClient starts and initializes the client unless it is already
// ready on root. force replaces a session that still looks ready. Attempts
// go through the restart breaker.
func (s *IndexService) ensureClient(ctx context.Context, root string, force bool) error {
	s.mu.RLock()
	sameRoot := s.serverRoot == root
	s.mu.RUnlock()
	if !force && sameRoot && s.client.State() == lspDomain.StateReady {
		return nil
	}

	return s.breaker.Execute(ctx, func(ctx context.Context) error {
		if st := s.client.State(); st != lspDomain.StateNotStarted && !st.Terminal() {
			if err := s.client.Stop(); err != nil {
				s.log.WarnContext(ctx, "stop language server", "error", err)
			}
		}
		if err := s.client.Start(s.command, root); err != nil {
			return err
		}
		startCtx, cancel := context.WithTimeout(ctx, s.lspCfg.StartTimeout)
		defer cancel()
		if err := s.client.AwaitInitialize(startCtx); err != nil {
			_ = s.client.Stop()
			return fmt.Errorf("initialize: %w", err)
		}

		s.mu.Lock()
		s.serverRoot = root
		s.mu.Unlock()

		info := s.client.Info()
		s.log.InfoContext(ctx, "language server ready", "name", info.Name, "version", info.Version, "pid", info.PID)
		return nil
	})
}

// fatalError marks an error that aborts the run.
type fatalError struct{ err error }

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

func isFatal(err error) bool {
	var fe *fatalError
	return errors.As(err, &fe) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// StateChanged emits server state transitions as events. It is meant to
// be installed as the client's observer and never blocks the caller.
func (s *IndexService) StateChanged(from, to lspDomain.ServerState) {
	// The client may hold its own locks here; do all work elsewhere.
	go func() {
		payload := event.ServerState{From: from, To: to}
		if to == lspDomain.StateFailed {
			payload.Error = s.client.Info().Error
		}
		s.emit(logger.WithRunID(context.Background(), s.runID()), event.TypeServerState, payload)
	}()
}

func (s *IndexService) runID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status.RunID
}

// onDiagnostics is the client's diagnostics callback. Broadcasts are
// debounced per URI.
func (s *IndexService) onDiagnostics(uri string, diags []lspDomain.Diagnostic) {
	ctx := logger.WithURI(logger.WithRunID(context.Background(), s.runID()), uri)
	payload := event.Diagnostics{URI: uri, Diagnostics: diags}

	if s.cfg.DiagnosticDelay <= 0 {
		go s.emit(ctx, event.TypeDiagnostics, payload)
		return
	}

	s.diagMu.Lock()
	defer s.diagMu.Unlock()
	if t, ok := s.diagTimers[uri]; ok {
		t.Stop()
	}
	s.diagTimers[uri] = time.AfterFunc(s.cfg.DiagnosticDelay, func() {
		s.emit(ctx, event.TypeDiagnostics, payload)

		s.diagMu.Lock()
		delete(s.diagTimers, uri)
		s.diagMu.Unlock()
	})
}

// emit sends an event to the broadcaster and the queue, when configured.
// Delivery failures are logged and never fail the run.
func (s *IndexService) emit(ctx context.Context, t event.Type, payload any) {
	if s.hub == nil && s.queue == nil {
		return
	}
	ev, err := event.New(logger.RunID(ctx), t, payload)
	if err != nil {
		s.log.ErrorContext(ctx, "build event", "type", t, "error", err)
		return
	}
	if s.hub != nil {
		s.hub.Broadcast(ctx, ev)
	}
	if s.queue != nil {
		data, err := json.Marshal(ev)
		if err != nil {
			s.log.ErrorContext(ctx, "marshal event", "type", t, "error", err)
			return
		}
		if err := s.queue.Publish(ctx, messagequeue.Subject(s.prefix, t), data); err != nil {
			s.log.WarnContext(ctx, "publish event", "type", t, "error", err)
		}
	}
}

// Search returns symbols matching query, best match first.
func (s *IndexService) Search(query string, limit int) []index.Entry {
	return index.Search(s.allEntries(), query, limit)
}

// FileSymbols returns the symbols of one file in document order. path may
// be absolute or relative to the indexed root.
func (s *IndexService) FileSymbols(path string) ([]index.Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if filepath.IsAbs(path) {
		path = relPath(s.status.Root, path)
	}
	entries, ok := s.files[filepath.ToSlash(filepath.Clean(path))]
	return slices.Clone(entries), ok
}

// SymbolsByKind returns every symbol of kind ordered by path and position.
// limit <= 0 means no limit.
func (s *IndexService) SymbolsByKind(kind lspDomain.SymbolKind, limit int) []index.Entry {
	var out []index.Entry
	for _, e := range s.allEntries() {
		if e.Kind != kind {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Files lists the indexed root-relative paths in order.
func (s *IndexService) Files() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	paths := make([]string, 0, len(s.files))
	for p := range s.files {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	return paths
}

// Status returns the latest run status with live server info.
func (s *IndexService) Status() index.Status {
	server := s.client.Info()
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.snapshotLocked()
	st.Symbols = s.countLocked()
	st.Server = server
	return st
}

// Close stops pending diagnostic broadcasts and the language server.
func (s *IndexService) Close() error {
	s.diagMu.Lock()
	for uri, t := range s.diagTimers {
		t.Stop()
		delete(s.diagTimers, uri)
	}
	s.diagMu.Unlock()
	return s.client.Stop()
}

// allEntries returns every entry ordered by path, then position.
func (s *IndexService) allEntries() []index.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	paths := make([]string, 0, len(s.files))
	for p := range s.files {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	out := make([]index.Entry, 0, s.countLocked())
	for _, p := range paths {
		out = append(out, s.files[p]...)
	}
	return out
}

// countLocked must be called with s.mu held.
func (s *IndexService) countLocked() int {
	n := 0
	for _, entries := range s.files {
		n += len(entries)
	}
	return n
}

// snapshotLocked must be called with s.mu held.
func (s *IndexService) snapshotLocked() index.Status {
	st := s.status
	st.Errors = slices.Clone(s.status.Errors)
	return st
}

// cacheKey identifies a file version: same uri and same bytes.
func cacheKey(uri string, content []byte) string {
	return fmt.Sprintf("sym.%016x.%016x", xxhash.Sum64String(uri), xxhash.Sum64(content))
}

func relPath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
