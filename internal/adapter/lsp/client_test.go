package lsp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/lspindex/internal/config"
	lspDomain "github.com/Strob0t/lspindex/internal/domain/lsp"
)

// captureWriter stands in for the server's stdin.
type captureWriter struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *captureWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *captureWriter) Close() error { return nil }

func (w *captureWriter) bytes() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]byte(nil), w.buf.Bytes()...)
}

// harness drives a Client without a process: outgoing frames are captured
// and inbound frames are handed straight to the dispatcher.
type harness struct {
	t    *testing.T
	c    *Client
	sess *session
	in   *captureWriter
	disp *dispatcher
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T, cfg config.LSP, opts ...Option) *harness {
	t.Helper()
	if cfg.StopGrace == 0 {
		cfg.StopGrace = 50 * time.Millisecond
	}
	c := NewClient(cfg, append([]Option{WithLogger(testLogger())}, opts...)...)

	in := &captureWriter{}
	tr := NewProcessTransport([]string{"fake-server"}, "/tmp/ws", c.log)
	tr.stdin = in

	sess := &session{
		transport: tr,
		table:     NewPendingTable(c.requestTimeout, c.obs),
		command:   tr.command,
		workspace: "/tmp/ws",
	}
	disp := &dispatcher{log: c.log, table: sess.table, write: tr.Write, notify: c.handleNotification}

	c.sess = sess
	if _, err := c.state.Transition(lspDomain.StateStarting); err != nil {
		t.Fatalf("transition to starting: %v", err)
	}
	return &harness{t: t, c: c, sess: sess, in: in, disp: disp}
}

// ready completes the handshake.
func (h *harness) ready() {
	h.t.Helper()
	done := make(chan error, 1)
	if err := h.c.Initialize(func(err error) { done <- err }); err != nil {
		h.t.Fatalf("Initialize: %v", err)
	}
	h.reply(1, `{"capabilities":{"documentSymbolProvider":true},"serverInfo":{"name":"fake","version":"1.0"}}`)
	if err := <-done; err != nil {
		h.t.Fatalf("initialize callback: %v", err)
	}
}

func (h *harness) feed(body string) {
	h.disp.HandleFrame([]byte(body))
}

func (h *harness) reply(id int64, result string) {
	h.feed(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":%s}`, id, result))
}

// sent decodes everything the client wrote so far.
func (h *harness) sent() []message {
	h.t.Helper()
	dec := NewDecoder()
	dec.Feed(h.in.bytes())
	var out []message
	for {
		body, ok, err := dec.Next()
		if err != nil {
			h.t.Fatalf("client wrote a malformed frame: %v", err)
		}
		if !ok {
			return out
		}
		var msg message
		if err := json.Unmarshal(body, &msg); err != nil {
			h.t.Fatalf("client wrote invalid json: %v", err)
		}
		out = append(out, msg)
	}
}

func (h *harness) last() message {
	h.t.Helper()
	msgs := h.sent()
	if len(msgs) == 0 {
		h.t.Fatal("nothing was sent")
	}
	return msgs[len(msgs)-1]
}

func TestClient_GateBeforeReady(t *testing.T) {
	h := newHarness(t, config.LSP{})

	err := h.c.GetDocumentSymbols("file:///a.c", func([]lspDomain.Symbol, error) {
		t.Error("callback must not fire for a rejected call")
	})
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	if err := h.c.DidOpen("file:///a.c", "c", "int x;"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("DidOpen: expected ErrNotReady, got %v", err)
	}
	if n := len(h.in.bytes()); n != 0 {
		t.Fatalf("expected no bytes written, got %d", n)
	}

	// Still gated while the initialize result is outstanding.
	if err := h.c.Initialize(func(error) {}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if h.c.State() != lspDomain.StateAwaitingInitializeResult {
		t.Fatalf("state = %s", h.c.State())
	}
	if err := h.c.SendCustomRequest("$/memoryUsage", nil, func(json.RawMessage, error) {}); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	if err := h.c.Initialize(func(error) {}); !errors.Is(err, ErrNotReady) {
		t.Fatalf("second Initialize: expected ErrNotReady, got %v", err)
	}
	if n := len(h.sent()); n != 1 {
		t.Fatalf("expected only the initialize frame, got %d frames", n)
	}
}

func TestClient_InitializeHandshake(t *testing.T) {
	h := newHarness(t, config.LSP{}, WithClientInfo("tester", "9"), WithInitializationOptions(map[string]any{"flatSymbols": true}))
	h.ready()

	msgs := h.sent()
	if len(msgs) != 2 {
		t.Fatalf("expected initialize + initialized, got %d frames", len(msgs))
	}
	initReq := msgs[0]
	if initReq.Method != "initialize" || string(initReq.ID) != "1" {
		t.Fatalf("unexpected first frame: method=%s id=%s", initReq.Method, initReq.ID)
	}
	var params struct {
		ProcessID  int    `json:"processId"`
		RootURI    string `json:"rootUri"`
		ClientInfo struct {
			Name string `json:"name"`
		} `json:"clientInfo"`
		InitializationOptions map[string]any `json:"initializationOptions"`
		Capabilities          struct {
			TextDocument struct {
				DocumentSymbol struct {
					Hierarchical bool `json:"hierarchicalDocumentSymbolSupport"`
				} `json:"documentSymbol"`
			} `json:"textDocument"`
		} `json:"capabilities"`
	}
	if err := json.Unmarshal(initReq.Params, &params); err != nil {
		t.Fatalf("initialize params: %v", err)
	}
	if params.ProcessID == 0 || params.RootURI != "file:///tmp/ws" || params.ClientInfo.Name != "tester" {
		t.Errorf("unexpected initialize params: %+v", params)
	}
	if params.InitializationOptions["flatSymbols"] != true {
		t.Errorf("initializationOptions not forwarded: %v", params.InitializationOptions)
	}
	if !params.Capabilities.TextDocument.DocumentSymbol.Hierarchical {
		t.Error("hierarchical document symbols not advertised")
	}

	if msgs[1].Method != MethodInitialized || msgs[1].hasID() {
		t.Errorf("expected initialized notification, got %+v", msgs[1])
	}
	if h.c.State() != lspDomain.StateReady {
		t.Fatalf("state = %s, want ready", h.c.State())
	}
	id := h.c.Identity()
	if id.Name != "fake" || id.Version != "1.0" || len(id.Capabilities) == 0 {
		t.Errorf("unexpected identity %+v", id)
	}
}

func TestClient_InitializeErrorFails(t *testing.T) {
	h := newHarness(t, config.LSP{})

	done := make(chan error, 1)
	if err := h.c.Initialize(func(err error) { done <- err }); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	h.feed(`{"jsonrpc":"2.0","id":1,"error":{"code":-32603,"message":"boom"}}`)

	err := <-done
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != CodeInternalError {
		t.Fatalf("expected RPCError, got %v", err)
	}
	if h.c.State() != lspDomain.StateFailed {
		t.Fatalf("state = %s, want failed", h.c.State())
	}
	if h.c.Info().Error == "" {
		t.Error("expected last error in Info")
	}
}

func TestClient_DocumentSymbols(t *testing.T) {
	h := newHarness(t, config.LSP{})
	h.ready()

	if err := h.c.DidOpen("file:///a.c", "c", "int x;"); err != nil {
		t.Fatalf("DidOpen: %v", err)
	}
	got := make(chan []lspDomain.Symbol, 1)
	err := h.c.GetDocumentSymbols("file:///a.c", func(syms []lspDomain.Symbol, err error) {
		if err != nil {
			t.Errorf("symbols: %v", err)
		}
		got <- syms
	})
	if err != nil {
		t.Fatalf("GetDocumentSymbols: %v", err)
	}

	req := h.last()
	if req.Method != MethodDocumentSymbol || string(req.ID) != "2" {
		t.Fatalf("unexpected request method=%s id=%s", req.Method, req.ID)
	}
	h.reply(2, `[{"name":"x","kind":13,"range":{"start":{"line":0,"character":0},"end":{"line":0,"character":6}},"selectionRange":{"start":{"line":0,"character":4},"end":{"line":0,"character":5}}}]`)

	syms := <-got
	if len(syms) != 1 || syms[0].Name != "x" || syms[0].Kind != lspDomain.SymbolKindVariable {
		t.Fatalf("unexpected symbols %+v", syms)
	}
	if h.c.PendingRequests() != 0 {
		t.Errorf("pending = %d, want 0", h.c.PendingRequests())
	}
}

func TestClient_DuplicateOpenBumpsVersion(t *testing.T) {
	h := newHarness(t, config.LSP{})
	h.ready()

	if err := h.c.DidOpen("file:///a.c", "c", "int x;"); err != nil {
		t.Fatalf("DidOpen: %v", err)
	}
	if err := h.c.DidOpen("file:///a.c", "c", "int y;"); err != nil {
		t.Fatalf("DidOpen again: %v", err)
	}

	var versions []int32
	var texts []string
	for _, msg := range h.sent() {
		if msg.Method != MethodDidOpen {
			continue
		}
		var p struct {
			TextDocument struct {
				Version int32  `json:"version"`
				Text    string `json:"text"`
			} `json:"textDocument"`
		}
		if err := json.Unmarshal(msg.Params, &p); err != nil {
			t.Fatalf("didOpen params: %v", err)
		}
		versions = append(versions, p.TextDocument.Version)
		texts = append(texts, p.TextDocument.Text)
	}
	if len(versions) != 2 || versions[0] != 1 || versions[1] != 2 {
		t.Fatalf("versions = %v, want [1 2]", versions)
	}
	if texts[1] != "int y;" {
		t.Errorf("second didOpen text = %q", texts[1])
	}
	docs := h.c.OpenDocuments()
	if len(docs) != 1 || docs[0].Version != 2 {
		t.Fatalf("unexpected open documents %+v", docs)
	}
}

func TestClient_DidClose(t *testing.T) {
	h := newHarness(t, config.LSP{})

	// Untracked uri is a no-op even before Ready.
	if err := h.c.DidClose("file:///never.c"); err != nil {
		t.Fatalf("DidClose untracked: %v", err)
	}
	if len(h.in.bytes()) != 0 {
		t.Fatal("untracked close must not write")
	}

	h.ready()
	if err := h.c.DidOpen("file:///a.c", "c", "int x;"); err != nil {
		t.Fatalf("DidOpen: %v", err)
	}
	if err := h.c.DidClose("file:///a.c"); err != nil {
		t.Fatalf("DidClose: %v", err)
	}
	if msg := h.last(); msg.Method != MethodDidClose {
		t.Fatalf("last frame = %s, want didClose", msg.Method)
	}
	if n := len(h.c.OpenDocuments()); n != 0 {
		t.Fatalf("open documents = %d, want 0", n)
	}
}

func TestClient_DeathFailsPending(t *testing.T) {
	h := newHarness(t, config.LSP{})
	h.ready()

	var mu sync.Mutex
	var errs []error
	for range 3 {
		err := h.c.GetDocumentSymbols("file:///a.c", func(syms []lspDomain.Symbol, err error) {
			if syms != nil {
				t.Error("expected no symbols on failure")
			}
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		})
		if err != nil {
			t.Fatalf("GetDocumentSymbols: %v", err)
		}
	}

	h.c.handleExit(h.sess, ErrProcessExited)

	mu.Lock()
	defer mu.Unlock()
	if len(errs) != 3 {
		t.Fatalf("callbacks fired %d times, want 3", len(errs))
	}
	for _, err := range errs {
		if !errors.Is(err, ErrProcessExited) {
			t.Errorf("expected ErrProcessExited, got %v", err)
		}
	}
	if h.c.State() != lspDomain.StateFailed {
		t.Fatalf("state = %s, want failed", h.c.State())
	}
	if h.c.PendingRequests() != 0 {
		t.Fatalf("pending = %d, want 0", h.c.PendingRequests())
	}
	if err := h.c.DidOpen("file:///a.c", "c", ""); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady after death, got %v", err)
	}
}

func TestClient_DeathWhileShuttingDownStops(t *testing.T) {
	h := newHarness(t, config.LSP{})
	h.ready()

	if _, err := h.c.state.Transition(lspDomain.StateShuttingDown); err != nil {
		t.Fatalf("transition: %v", err)
	}
	h.c.handleExit(h.sess, ErrProcessExited)

	if h.c.State() != lspDomain.StateStopped {
		t.Fatalf("state = %s, want stopped", h.c.State())
	}
	if h.c.Info().Error != "" {
		t.Errorf("orderly exit recorded an error: %s", h.c.Info().Error)
	}
}

func TestClient_StopDuringHandshakeStops(t *testing.T) {
	h := newHarness(t, config.LSP{})

	done := make(chan error, 1)
	if err := h.c.Initialize(func(err error) { done <- err }); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := h.c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if err := <-done; !errors.Is(err, ErrStopped) {
		t.Fatalf("initialize callback = %v, want ErrStopped", err)
	}
	if h.c.State() != lspDomain.StateStopped {
		t.Fatalf("state = %s, want stopped", h.c.State())
	}
	if h.c.Info().Error != "" {
		t.Errorf("explicit stop recorded an error: %s", h.c.Info().Error)
	}
}

func TestClient_CustomInitializeRejected(t *testing.T) {
	h := newHarness(t, config.LSP{})

	called := false
	err := h.c.SendCustomRequest(methodInitialize, nil, func(json.RawMessage, error) { called = true })
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	if called {
		t.Fatal("callback fired for a rejected call")
	}
	if len(h.sent()) != 0 {
		t.Fatal("rejected initialize wrote bytes")
	}
	if h.c.State() != lspDomain.StateStarting {
		t.Fatalf("state = %s, want starting", h.c.State())
	}
	h.ready()
}

func TestClient_MalformedResponseIgnored(t *testing.T) {
	h := newHarness(t, config.LSP{})
	h.ready()

	got := make(chan json.RawMessage, 1)
	if err := h.c.SendCustomRequest("$/memoryUsage", nil, func(r json.RawMessage, err error) {
		if err != nil {
			t.Errorf("unexpected error %v", err)
		}
		got <- r
	}); err != nil {
		t.Fatalf("SendCustomRequest: %v", err)
	}

	h.feed(`{"jsonrpc":"2.0","result":"orphan"}`)
	h.feed(`{"jsonrpc":"2.0","id":"two","result":"wrong type"}`)
	h.feed(`{"jsonrpc":"2.0","id":99,"result":"unknown"}`)
	h.feed(`not json at all`)

	if h.c.PendingRequests() != 1 {
		t.Fatalf("pending = %d, want 1", h.c.PendingRequests())
	}
	h.reply(2, `{"_total":1}`)
	if r := <-got; string(r) != `{"_total":1}` {
		t.Fatalf("result = %s", r)
	}
	if h.c.State() != lspDomain.StateReady {
		t.Fatalf("state = %s, want ready", h.c.State())
	}
}

func TestClient_NullResult(t *testing.T) {
	h := newHarness(t, config.LSP{})
	h.ready()

	got := make(chan []lspDomain.Symbol, 1)
	if err := h.c.GetDocumentSymbols("file:///a.c", func(s []lspDomain.Symbol, err error) {
		if err != nil {
			t.Errorf("unexpected error %v", err)
		}
		got <- s
	}); err != nil {
		t.Fatalf("GetDocumentSymbols: %v", err)
	}
	h.feed(`{"jsonrpc":"2.0","id":2,"result":null}`)
	if s := <-got; len(s) != 0 {
		t.Fatalf("expected no symbols, got %v", s)
	}
}

func TestClient_ServerRequestRejected(t *testing.T) {
	h := newHarness(t, config.LSP{})
	h.ready()

	for _, id := range []string{`7`, `"abc"`} {
		h.feed(`{"jsonrpc":"2.0","id":` + id + `,"method":"workspace/configuration","params":{}}`)

		reply := h.last()
		if string(reply.ID) != id {
			t.Errorf("reply id = %s, want %s", reply.ID, id)
		}
		if reply.Error == nil || reply.Error.Code != CodeMethodNotFound {
			t.Errorf("expected -32601 reply, got %+v", reply.Error)
		}
		if !strings.Contains(reply.Error.Message, "workspace/configuration") {
			t.Errorf("reply message %q does not name the method", reply.Error.Message)
		}
	}
}

func TestClient_Diagnostics(t *testing.T) {
	h := newHarness(t, config.LSP{MaxDiagnostics: 2})

	var gotURI string
	var gotCount int
	h.c.SetDiagnosticCallback(func(uri string, diags []lspDomain.Diagnostic) {
		gotURI, gotCount = uri, len(diags)
	})

	h.feed(`{"jsonrpc":"2.0","method":"textDocument/publishDiagnostics","params":{"uri":"file:///a.c","diagnostics":[
		{"range":{"start":{"line":0,"character":0},"end":{"line":0,"character":1}},"severity":1,"message":"one"},
		{"range":{"start":{"line":1,"character":0},"end":{"line":1,"character":1}},"severity":2,"message":"two"},
		{"range":{"start":{"line":2,"character":0},"end":{"line":2,"character":1}},"severity":3,"message":"three"}]}}`)

	if gotURI != "file:///a.c" || gotCount != 2 {
		t.Fatalf("callback got uri=%s count=%d", gotURI, gotCount)
	}
	diags := h.c.Diagnostics("file:///a.c")
	if len(diags) != 2 || diags[0].Message != "one" {
		t.Fatalf("cached diagnostics %+v", diags)
	}
	if h.c.DiagnosticCount() != 2 {
		t.Fatalf("DiagnosticCount = %d", h.c.DiagnosticCount())
	}

	h.feed(`{"jsonrpc":"2.0","method":"textDocument/publishDiagnostics","params":{"uri":"file:///a.c","diagnostics":[]}}`)
	if h.c.DiagnosticCount() != 0 {
		t.Fatalf("empty publish should clear, count = %d", h.c.DiagnosticCount())
	}
}

func TestClient_NotificationHandlers(t *testing.T) {
	h := newHarness(t, config.LSP{})

	var got json.RawMessage
	h.c.OnNotification("echo/custom", func(params json.RawMessage) { got = params })
	h.feed(`{"jsonrpc":"2.0","method":"echo/custom","params":{"hello":"world"}}`)
	if string(got) != `{"hello":"world"}` {
		t.Fatalf("handler got %s", got)
	}

	got = nil
	h.c.OnNotification("echo/custom", nil)
	h.feed(`{"jsonrpc":"2.0","method":"echo/custom","params":{}}`)
	if got != nil {
		t.Fatal("removed handler still called")
	}

	// Unhandled notifications are dropped quietly.
	h.feed(`{"jsonrpc":"2.0","method":"$/progress","params":{"token":1}}`)
}

func TestClient_LogCallback(t *testing.T) {
	h := newHarness(t, config.LSP{})

	type entry struct {
		level slog.Level
		line  string
	}
	var mu sync.Mutex
	var entries []entry
	h.c.SetLogCallback(func(level slog.Level, line string) {
		mu.Lock()
		entries = append(entries, entry{level, line})
		mu.Unlock()
	})

	h.feed(`{"jsonrpc":"2.0","method":"window/showMessage","params":{"type":1,"message":"disk on fire"}}`)
	h.feed(`{"jsonrpc":"2.0","method":"window/logMessage","params":{"type":4,"message":"chatter"}}`)

	snapshot := func() []entry {
		mu.Lock()
		defer mu.Unlock()
		return append([]entry(nil), entries...)
	}

	var sawError, sawDebug bool
	for _, e := range snapshot() {
		if strings.Contains(e.line, "disk on fire") && e.level == slog.LevelError {
			sawError = true
		}
		if strings.Contains(e.line, "chatter") && e.level == slog.LevelDebug {
			sawDebug = true
		}
	}
	if !sawError || !sawDebug {
		t.Fatalf("window messages not routed to the log callback: %+v", snapshot())
	}

	h.c.SetLogCallback(nil)
	n := len(snapshot())
	h.feed(`{"jsonrpc":"2.0","method":"window/showMessage","params":{"type":1,"message":"again"}}`)
	if len(snapshot()) != n {
		t.Fatal("cleared callback still receives lines")
	}
}

func TestClient_RequestTimeout(t *testing.T) {
	h := newHarness(t, config.LSP{RequestTimeout: 30 * time.Millisecond})
	h.ready()

	got := make(chan error, 1)
	if err := h.c.SendCustomRequest("echo/hang", nil, func(_ json.RawMessage, err error) { got <- err }); err != nil {
		t.Fatalf("SendCustomRequest: %v", err)
	}

	select {
	case err := <-got:
		if !errors.Is(err, ErrRequestTimeout) {
			t.Fatalf("expected ErrRequestTimeout, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout callback never fired")
	}

	// The late answer is dropped and the session stays usable.
	h.reply(2, `"late"`)
	if h.c.State() != lspDomain.StateReady {
		t.Fatalf("state = %s, want ready", h.c.State())
	}
	select {
	case err := <-got:
		t.Fatalf("callback fired twice: %v", err)
	default:
	}
}

func TestClient_StopFailsPending(t *testing.T) {
	h := newHarness(t, config.LSP{})
	h.ready()

	got := make(chan error, 1)
	if err := h.c.SendCustomRequest("echo/hang", nil, func(_ json.RawMessage, err error) { got <- err }); err != nil {
		t.Fatalf("SendCustomRequest: %v", err)
	}

	if err := h.c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := <-got; !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	if h.c.State() != lspDomain.StateStopped {
		t.Fatalf("state = %s, want stopped", h.c.State())
	}

	var methods []string
	for _, msg := range h.sent() {
		methods = append(methods, msg.Method)
	}
	joined := strings.Join(methods, ",")
	if !strings.HasSuffix(joined, MethodShutdown+","+MethodExit) {
		t.Fatalf("expected shutdown then exit, sent %s", joined)
	}

	if err := h.c.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestClient_StopBeforeStart(t *testing.T) {
	c := NewClient(config.LSP{}, WithLogger(testLogger()))
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if c.State() != lspDomain.StateNotStarted {
		t.Fatalf("state = %s", c.State())
	}
	if err := c.DidOpen("file:///a.c", "c", ""); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
}

func TestClient_ObserverSeesStates(t *testing.T) {
	obs := &recordingObserver{}
	h := newHarness(t, config.LSP{}, WithObserver(obs))
	h.ready()

	obs.mu.Lock()
	defer obs.mu.Unlock()
	want := []lspDomain.ServerState{
		lspDomain.StateStarting,
		lspDomain.StateAwaitingInitializeResult,
		lspDomain.StateReady,
	}
	if len(obs.states) != len(want) {
		t.Fatalf("states = %v, want %v", obs.states, want)
	}
	for i := range want {
		if obs.states[i] != want[i] {
			t.Fatalf("states = %v, want %v", obs.states, want)
		}
	}
}
