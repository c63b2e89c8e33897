package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/lspindex/internal/adapter/echolsp"
	"github.com/Strob0t/lspindex/internal/config"
	lspDomain "github.com/Strob0t/lspindex/internal/domain/lsp"
)

// echoHelperEnv turns the test binary into an echolsp server.
const echoHelperEnv = "LSPINDEX_TEST_ECHOLSP"

func TestMain(m *testing.M) {
	if os.Getenv(echoHelperEnv) == "1" {
		log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
		os.Exit(echolsp.RunStdio(context.Background(), echolsp.Options{Version: "test", Logger: log}))
	}
	os.Exit(m.Run())
}

// echoCommand returns a command line that runs the echo server.
func echoCommand(t *testing.T) []string {
	t.Helper()
	t.Setenv(echoHelperEnv, "1")
	return []string{os.Args[0], "-test.run=^$"}
}

func newProcessClient(t *testing.T, cfg config.LSP, opts ...Option) *Client {
	t.Helper()
	if cfg.StopGrace == 0 {
		cfg.StopGrace = 2 * time.Second
	}
	c := NewClient(cfg, append([]Option{WithLogger(testLogger())}, opts...)...)
	t.Cleanup(func() { _ = c.Stop() })
	return c
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// startReady spawns the echo server and completes the handshake.
func startReady(t *testing.T, c *Client) {
	t.Helper()
	if err := c.Start(echoCommand(t), t.TempDir()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.AwaitInitialize(testContext(t)); err != nil {
		t.Fatalf("AwaitInitialize: %v", err)
	}
}

func waitForState(t *testing.T, c *Client, want lspDomain.ServerState) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", c.State(), want)
}

func TestProcess_SymbolsRoundTrip(t *testing.T) {
	c := newProcessClient(t, config.LSP{})
	ctx := testContext(t)

	if err := c.Start(echoCommand(t), t.TempDir()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if c.State() != lspDomain.StateStarting {
		t.Fatalf("state = %s, want starting", c.State())
	}
	if c.PID() == 0 {
		t.Fatal("expected a pid")
	}
	if err := c.AwaitInitialize(ctx); err != nil {
		t.Fatalf("AwaitInitialize: %v", err)
	}
	if c.State() != lspDomain.StateReady {
		t.Fatalf("state = %s, want ready", c.State())
	}
	if id := c.Identity(); id.Name != "echolsp" || id.Version != "test" {
		t.Errorf("identity = %+v", id)
	}

	uri := "file:///workspace/a.cpp"
	if err := c.DidOpen(uri, "cpp", "int x;"); err != nil {
		t.Fatalf("DidOpen: %v", err)
	}
	syms, err := c.AwaitDocumentSymbols(ctx, uri)
	if err != nil {
		t.Fatalf("AwaitDocumentSymbols: %v", err)
	}
	if len(syms) != 1 || syms[0].Name != "x" || syms[0].Kind != lspDomain.SymbolKindVariable {
		t.Fatalf("symbols = %+v", syms)
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if c.State() != lspDomain.StateStopped {
		t.Fatalf("state = %s, want stopped", c.State())
	}
	if c.PID() != 0 || len(c.OpenDocuments()) != 0 {
		t.Fatalf("stopped client still reports pid=%d docs=%d", c.PID(), len(c.OpenDocuments()))
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestProcess_DuplicateOpenReplacesContent(t *testing.T) {
	c := newProcessClient(t, config.LSP{})
	startReady(t, c)

	uri := "file:///workspace/a.cpp"
	if err := c.DidOpen(uri, "cpp", "int x;"); err != nil {
		t.Fatalf("DidOpen: %v", err)
	}
	if err := c.DidOpen(uri, "cpp", "int y;"); err != nil {
		t.Fatalf("DidOpen again: %v", err)
	}
	syms, err := c.AwaitDocumentSymbols(testContext(t), uri)
	if err != nil {
		t.Fatalf("AwaitDocumentSymbols: %v", err)
	}
	if len(syms) != 1 || syms[0].Name != "y" {
		t.Fatalf("symbols = %+v, want y", syms)
	}
}

func TestProcess_FlatSymbols(t *testing.T) {
	c := newProcessClient(t, config.LSP{}, WithInitializationOptions(map[string]any{"flatSymbols": true}))
	startReady(t, c)

	uri := "file:///workspace/p.h"
	text := "struct Point {\n  int x;\n};\n"
	if err := c.DidOpen(uri, "cpp", text); err != nil {
		t.Fatalf("DidOpen: %v", err)
	}
	syms, err := c.AwaitDocumentSymbols(testContext(t), uri)
	if err != nil {
		t.Fatalf("AwaitDocumentSymbols: %v", err)
	}
	var field *lspDomain.Symbol
	for i := range syms {
		if len(syms[i].Children) != 0 {
			t.Errorf("flat result has children: %+v", syms[i])
		}
		if syms[i].Name == "x" {
			field = &syms[i]
		}
	}
	if field == nil || field.Detail != "Point" {
		t.Fatalf("expected field x in container Point, got %+v", syms)
	}
}

func TestProcess_UnopenedDocumentError(t *testing.T) {
	c := newProcessClient(t, config.LSP{})
	startReady(t, c)

	_, err := c.AwaitDocumentSymbols(testContext(t), "file:///workspace/missing.c")
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != CodeInvalidParams {
		t.Fatalf("expected invalid params error, got %v", err)
	}
	if c.State() != lspDomain.StateReady {
		t.Fatalf("state = %s, want ready", c.State())
	}
}

func TestProcess_CustomRequests(t *testing.T) {
	c := newProcessClient(t, config.LSP{})
	startReady(t, c)
	ctx := testContext(t)

	raw, err := c.AwaitCustomRequest(ctx, MethodMemoryUsage, nil)
	if err != nil {
		t.Fatalf("memory usage: %v", err)
	}
	var usage map[string]any
	if err := json.Unmarshal(raw, &usage); err != nil || usage["_total"] == nil {
		t.Fatalf("unexpected memory usage %s (%v)", raw, err)
	}

	if _, err := c.AwaitCustomRequest(ctx, "no/such/method", nil); err == nil {
		t.Fatal("expected error for unknown method")
	} else {
		var rpcErr *RPCError
		if !errors.As(err, &rpcErr) || !IsMethodNotFound(err) {
			t.Fatalf("expected method not found, got %v", err)
		}
	}
}

func TestProcess_ConcurrentRequests(t *testing.T) {
	c := newProcessClient(t, config.LSP{})
	startReady(t, c)
	ctx := testContext(t)

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.AwaitCustomRequest(ctx, MethodMemoryUsage, nil); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent request: %v", err)
	}
	if n := c.PendingRequests(); n != 0 {
		t.Fatalf("pending = %d, want 0", n)
	}
}

func TestProcess_OrphanResponseIgnored(t *testing.T) {
	c := newProcessClient(t, config.LSP{})
	startReady(t, c)

	raw, err := c.AwaitCustomRequest(testContext(t), echolsp.MethodOrphan, nil)
	if err != nil {
		t.Fatalf("orphan request: %v", err)
	}
	if string(raw) != `"ok"` {
		t.Fatalf("result = %s, want \"ok\"", raw)
	}
	if c.State() != lspDomain.StateReady {
		t.Fatalf("state = %s, want ready", c.State())
	}
}

func TestProcess_ServerRequestGetsMethodNotFound(t *testing.T) {
	c := newProcessClient(t, config.LSP{})
	startReady(t, c)

	raw, err := c.AwaitCustomRequest(testContext(t), echolsp.MethodServerRequest, nil)
	if err != nil {
		t.Fatalf("server request: %v", err)
	}
	var res struct {
		Code int `json:"code"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	if res.Code != CodeMethodNotFound {
		t.Fatalf("server saw code %d, want %d", res.Code, CodeMethodNotFound)
	}
}

func TestProcess_NotificationsAndDiagnostics(t *testing.T) {
	c := newProcessClient(t, config.LSP{MaxDiagnostics: 10})

	custom := make(chan json.RawMessage, 1)
	c.OnNotification("echo/custom", func(params json.RawMessage) { custom <- params })
	diagURIs := make(chan string, 4)
	c.SetDiagnosticCallback(func(uri string, _ []lspDomain.Diagnostic) { diagURIs <- uri })

	startReady(t, c)
	ctx := testContext(t)

	if _, err := c.AwaitCustomRequest(ctx, echolsp.MethodNotify, nil); err != nil {
		t.Fatalf("notify request: %v", err)
	}
	// Notifications precede the reply on the wire and are dispatched in order.
	select {
	case params := <-custom:
		if !strings.Contains(string(params), "world") {
			t.Errorf("custom params = %s", params)
		}
	default:
		t.Fatal("custom notification not delivered before the reply")
	}
	if got := c.Diagnostics("file:///echo/notify.c"); len(got) != 1 {
		t.Fatalf("cached diagnostics = %+v", got)
	}

	uri := "file:///workspace/bad.c"
	if err := c.DidOpen(uri, "c", "#error broken\nint x;\n"); err != nil {
		t.Fatalf("DidOpen: %v", err)
	}
	// A round trip flushes the publish that follows didOpen.
	if _, err := c.AwaitDocumentSymbols(ctx, uri); err != nil {
		t.Fatalf("AwaitDocumentSymbols: %v", err)
	}
	diags := c.Diagnostics(uri)
	if len(diags) != 1 || diags[0].Severity != lspDomain.SeverityError {
		t.Fatalf("diagnostics for %s = %+v", uri, diags)
	}
}

func TestProcess_LogCallback(t *testing.T) {
	c := newProcessClient(t, config.LSP{})

	var mu sync.Mutex
	var lines []string
	c.SetLogCallback(func(_ slog.Level, line string) {
		mu.Lock()
		lines = append(lines, line)
		mu.Unlock()
	})
	startReady(t, c)

	mu.Lock()
	defer mu.Unlock()
	joined := strings.Join(lines, "\n")
	for _, want := range []string{"lsp server started", "lsp server ready"} {
		if !strings.Contains(joined, want) {
			t.Errorf("log callback missed %q:\n%s", want, joined)
		}
	}
}

func TestProcess_CrashFailsAllPending(t *testing.T) {
	c := newProcessClient(t, config.LSP{})
	startReady(t, c)

	const hung = 3
	results := make(chan error, hung+1)
	for range hung {
		if err := c.SendCustomRequest(echolsp.MethodHang, nil, func(_ json.RawMessage, err error) { results <- err }); err != nil {
			t.Fatalf("hang request: %v", err)
		}
	}
	if err := c.SendCustomRequest(echolsp.MethodCrash, nil, func(_ json.RawMessage, err error) { results <- err }); err != nil {
		t.Fatalf("crash request: %v", err)
	}

	timeout := time.After(10 * time.Second)
	for range hung + 1 {
		select {
		case err := <-results:
			if !errors.Is(err, ErrProcessExited) {
				t.Errorf("expected ErrProcessExited, got %v", err)
			}
		case <-timeout:
			t.Fatal("pending requests were not failed")
		}
	}

	waitForState(t, c, lspDomain.StateFailed)
	if n := c.PendingRequests(); n != 0 {
		t.Fatalf("pending = %d, want 0", n)
	}
	if c.Info().Error == "" {
		t.Error("expected the exit cause in Info")
	}
	if err := c.GetDocumentSymbols("file:///a.c", func([]lspDomain.Symbol, error) {}); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady after crash, got %v", err)
	}
}

func TestProcess_FramingErrorFailsSession(t *testing.T) {
	c := newProcessClient(t, config.LSP{})
	startReady(t, c)

	got := make(chan error, 1)
	if err := c.SendCustomRequest(echolsp.MethodGarbage, nil, func(_ json.RawMessage, err error) { got <- err }); err != nil {
		t.Fatalf("garbage request: %v", err)
	}

	select {
	case err := <-got:
		if !errors.Is(err, ErrFraming) {
			t.Fatalf("expected ErrFraming, got %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("framing error not reported")
	}
	waitForState(t, c, lspDomain.StateFailed)

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop after failure: %v", err)
	}
	if c.State() != lspDomain.StateStopped {
		t.Fatalf("state = %s, want stopped", c.State())
	}
}

func TestProcess_RequestTimeoutKeepsSession(t *testing.T) {
	c := newProcessClient(t, config.LSP{RequestTimeout: 100 * time.Millisecond})
	startReady(t, c)

	_, err := c.AwaitCustomRequest(testContext(t), echolsp.MethodHang, nil)
	if !errors.Is(err, ErrRequestTimeout) {
		t.Fatalf("expected ErrRequestTimeout, got %v", err)
	}
	if c.State() != lspDomain.StateReady {
		t.Fatalf("state = %s, want ready", c.State())
	}
	if _, err := c.AwaitCustomRequest(testContext(t), MethodMemoryUsage, nil); err != nil {
		t.Fatalf("session unusable after timeout: %v", err)
	}
}

func TestProcess_SpawnFailure(t *testing.T) {
	c := newProcessClient(t, config.LSP{})

	missing := filepath.Join(t.TempDir(), "no-such-server")
	if err := c.Start([]string{missing}, t.TempDir()); !errors.Is(err, ErrSpawnFailed) {
		t.Fatalf("expected ErrSpawnFailed, got %v", err)
	}
	if c.State() != lspDomain.StateNotStarted {
		t.Fatalf("state = %s, want not_started", c.State())
	}
	if err := c.Start(nil, t.TempDir()); !errors.Is(err, ErrSpawnFailed) {
		t.Fatalf("empty command: expected ErrSpawnFailed, got %v", err)
	}

	// The client is still usable afterwards.
	startReady(t, c)
}

func TestProcess_StartTwiceAndRestart(t *testing.T) {
	c := newProcessClient(t, config.LSP{})
	startReady(t, c)

	if err := c.Start(echoCommand(t), t.TempDir()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
	if err := c.DidOpen("file:///workspace/a.c", "c", "int x;"); err != nil {
		t.Fatalf("DidOpen: %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	startReady(t, c)
	if n := len(c.OpenDocuments()); n != 0 {
		t.Fatalf("restart kept %d open documents", n)
	}
	// initialize took id 1 in the new session.
	c.mu.Lock()
	next := c.sess.table.NextID()
	c.mu.Unlock()
	if next != 2 {
		t.Fatalf("next id after restart = %d, want 2", next)
	}
}

func TestProcess_StopFromCallback(t *testing.T) {
	c := newProcessClient(t, config.LSP{StopGrace: 200 * time.Millisecond})
	startReady(t, c)

	stopped := make(chan error, 1)
	if err := c.SendCustomRequest(MethodMemoryUsage, nil, func(json.RawMessage, error) {
		stopped <- c.Stop()
	}); err != nil {
		t.Fatalf("SendCustomRequest: %v", err)
	}

	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("Stop: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Stop from a callback did not return")
	}
	if c.State() != lspDomain.StateStopped {
		t.Fatalf("state = %s, want stopped", c.State())
	}
}
