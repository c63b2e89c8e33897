// Package lsp provides a Language Server Protocol client that manages a single
// language server process, communicating via JSON-RPC 2.0 over stdio.
//
// All facade methods are non-blocking: they write to the server and return.
// Completion callbacks run later on the client's reader goroutine (or on a
// timer goroutine when a request times out). A callback fires exactly once
// if and only if the method that registered it returned nil. Consumers that
// need delivery on a particular goroutine must marshal it themselves.
package lsp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Strob0t/lspindex/internal/config"
	lspDomain "github.com/Strob0t/lspindex/internal/domain/lsp"
	"github.com/Strob0t/lspindex/internal/logger"
	"github.com/Strob0t/lspindex/internal/port/languageserver"
)

// LSP method names used by the client.
const (
	MethodInitialized       = "initialized"
	MethodShutdown          = "shutdown"
	MethodExit              = "exit"
	MethodDidOpen           = "textDocument/didOpen"
	MethodDidClose          = "textDocument/didClose"
	MethodDocumentSymbol    = "textDocument/documentSymbol"
	MethodPublishDiagnostic = "textDocument/publishDiagnostics"
	MethodLogMessage        = "window/logMessage"
	MethodShowMessage       = "window/showMessage"
	MethodMemoryUsage       = "$/memoryUsage"
)

// NotificationHandler receives the params of a server notification on the
// reader goroutine.
type NotificationHandler func(params json.RawMessage)

// DiagnosticsFunc receives diagnostics published for uri, already truncated
// to the configured maximum.
type DiagnosticsFunc = func(uri string, diags []lspDomain.Diagnostic)

// ServerIdentity is what the server reported about itself in its
// initialize result.
type ServerIdentity struct {
	Name         string          `json:"name,omitempty"`
	Version      string          `json:"version,omitempty"`
	Capabilities json.RawMessage `json:"capabilities,omitempty"`
}

// session is one Start lifetime: a process, its id space and its reader.
type session struct {
	transport *ProcessTransport
	table     *PendingTable
	command   []string
	workspace string
}

// Client manages a single language server process.
type Client struct {
	sink *logger.Sink
	log  *slog.Logger
	obs  Observer

	requestTimeout time.Duration
	stopGrace      time.Duration
	maxDiagnostics int
	initOpts       map[string]any
	clientName     string
	clientVersion  string

	mu       sync.Mutex // guards sess, identity and lastErr
	sess     *session
	identity ServerIdentity
	lastErr  error

	state *stateMachine
	docs  *documentSet

	handlersMu   sync.RWMutex
	handlers     map[string]NotificationHandler
	onDiagnostic DiagnosticsFunc

	diagMu      sync.RWMutex
	diagnostics map[string][]lspDomain.Diagnostic // URI -> diagnostics
}

var _ languageserver.Client = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the base logger. Records also reach the SetLogCallback sink.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithObserver installs a telemetry observer.
func WithObserver(obs Observer) Option {
	return func(c *Client) { c.obs = obs }
}

// WithInitializationOptions sets the initialize request's
// initializationOptions member.
func WithInitializationOptions(opts map[string]any) Option {
	return func(c *Client) { c.initOpts = opts }
}

// WithClientInfo sets the clientInfo reported in initialize.
func WithClientInfo(name, version string) Option {
	return func(c *Client) { c.clientName, c.clientVersion = name, version }
}

// NewClient creates an idle client. Timeouts and the diagnostics cap come
// from cfg; a zero RequestTimeout disables per-request timeouts.
func NewClient(cfg config.LSP, opts ...Option) *Client {
	c := &Client{
		sink:           &logger.Sink{},
		log:            slog.Default(),
		obs:            nopObserver{},
		requestTimeout: cfg.RequestTimeout,
		stopGrace:      cfg.StopGrace,
		maxDiagnostics: cfg.MaxDiagnostics,
		clientName:     "lspindex",
		docs:           newDocumentSet(),
		handlers:       make(map[string]NotificationHandler),
		diagnostics:    make(map[string][]lspDomain.Diagnostic),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.stopGrace <= 0 {
		c.stopGrace = 2 * time.Second
	}
	c.log = slog.New(logger.NewCallbackHandler(c.log.Handler(), c.sink)).With("component", "lsp")
	c.state = newStateMachine(c.obs)
	return c
}

// SetLogCallback routes every log line the client produces to fn, in
// addition to the base logger. A nil fn restores the default (no-op) sink.
func (c *Client) SetLogCallback(fn logger.LogFunc) {
	c.sink.Set(fn)
}

// SetDiagnosticCallback sets a callback invoked when diagnostics are received.
func (c *Client) SetDiagnosticCallback(fn DiagnosticsFunc) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.onDiagnostic = fn
}

// OnNotification registers fn for a server notification method, replacing
// any previous handler. Built-in handling of diagnostics and window
// messages still runs. A nil fn removes the handler.
func (c *Client) OnNotification(method string, fn NotificationHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	if fn == nil {
		delete(c.handlers, method)
		return
	}
	c.handlers[method] = fn
}

// State returns the current protocol state.
func (c *Client) State() lspDomain.ServerState {
	return c.state.Current()
}

// PID returns the process ID of the language server, or 0 if not running.
func (c *Client) PID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil || c.state.Current().Terminal() {
		return 0
	}
	return c.sess.transport.PID()
}

// Identity returns the serverInfo and capabilities from the last
// successful initialize.
func (c *Client) Identity() ServerIdentity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// OpenDocuments lists the documents currently open with the server.
func (c *Client) OpenDocuments() []OpenDocument {
	return c.docs.List()
}

// PendingRequests returns the number of requests awaiting a response.
func (c *Client) PendingRequests() int {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return 0
	}
	return sess.table.Len()
}

// Info summarizes the client for status surfaces.
func (c *Client) Info() lspDomain.ServerInfo {
	c.mu.Lock()
	var command string
	if c.sess != nil && len(c.sess.command) > 0 {
		command = c.sess.command[0]
	}
	id := c.identity
	var lastErr string
	if c.lastErr != nil {
		lastErr = c.lastErr.Error()
	}
	c.mu.Unlock()

	return lspDomain.ServerInfo{
		Error:       lastErr,
		Command:     command,
		State:       c.State(),
		PID:         c.PID(),
		Name:        id.Name,
		Version:     id.Version,
		OpenDocs:    c.docs.Len(),
		Pending:     c.PendingRequests(),
		Diagnostics: c.DiagnosticCount(),
	}
}

// Start spawns command in workspaceRoot and starts the reader goroutine.
// On spawn failure it returns an error wrapping ErrSpawnFailed and the
// client state is unchanged. Request ids restart at 1 for each Start.
func (c *Client) Start(command []string, workspaceRoot string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if st := c.state.Current(); st != lspDomain.StateNotStarted && !st.Terminal() {
		return fmt.Errorf("%w: state %s", ErrAlreadyStarted, st)
	}

	if workspaceRoot == "" {
		workspaceRoot = "."
	}
	root, err := filepath.Abs(workspaceRoot)
	if err != nil {
		return fmt.Errorf("%w: workspace %q: %w", ErrSpawnFailed, workspaceRoot, err)
	}

	sess := &session{
		table:     NewPendingTable(c.requestTimeout, c.obs),
		command:   append([]string(nil), command...),
		workspace: root,
	}
	sess.transport = NewProcessTransport(sess.command, root, c.log)

	disp := &dispatcher{
		log:    c.log,
		table:  sess.table,
		write:  sess.transport.Write,
		notify: c.handleNotification,
	}
	events := TransportEvents{
		OnFrame: disp.HandleFrame,
		OnExit:  func(cause error) { c.handleExit(sess, cause) },
	}
	if err := sess.transport.Start(events); err != nil {
		c.log.Error("lsp server spawn failed", "command", command, "error", err)
		return err
	}

	c.sess = sess
	c.identity = ServerIdentity{}
	c.lastErr = nil
	c.docs.Reset()
	if _, err := c.state.Transition(lspDomain.StateStarting); err != nil {
		// Unreachable given the check above; do not leak the process.
		sess.transport.Kill()
		return err
	}

	c.log.Info("lsp server started", "command", command, "pid", sess.transport.PID(), "workspace", root)
	return nil
}

// Initialize sends the initialize request. onDone receives nil once the
// server answered successfully and the initialized notification was sent;
// the client is Ready by then. Any failure moves the client to Failed.
func (c *Client) Initialize(onDone func(err error)) error {
	sess, err := c.gate(methodInitialize)
	if err != nil {
		return err
	}

	params := map[string]any{
		"processId": os.Getpid(),
		"clientInfo": map[string]string{
			"name":    c.clientName,
			"version": c.clientVersion,
		},
		"rootUri":  FileURI(sess.workspace),
		"rootPath": sess.workspace,
		"workspaceFolders": []map[string]string{
			{"uri": FileURI(sess.workspace), "name": filepath.Base(sess.workspace)},
		},
		"capabilities": map[string]any{
			"textDocument": map[string]any{
				"documentSymbol": map[string]any{
					"hierarchicalDocumentSymbolSupport": true,
				},
				"publishDiagnostics": map[string]any{},
			},
		},
	}
	if c.initOpts != nil {
		params["initializationOptions"] = c.initOpts
	}

	if !c.state.TransitionFrom(lspDomain.StateStarting, lspDomain.StateAwaitingInitializeResult) {
		return fmt.Errorf("%w: initialize raced with %s", ErrNotReady, c.state.Current())
	}

	err = c.send(sess, methodInitialize, params, func(result json.RawMessage, err error) {
		c.finishInitialize(sess, result, err, onDone)
	})
	if err != nil {
		c.fail(sess, fmt.Errorf("send initialize: %w", err))
	}
	return err
}

func (c *Client) finishInitialize(sess *session, result json.RawMessage, err error, onDone func(error)) {
	if err != nil {
		c.log.Error("lsp initialize failed", "error", err)
		c.fail(sess, err)
		onDone(fmt.Errorf("initialize: %w", err))
		return
	}

	var res struct {
		Capabilities json.RawMessage `json:"capabilities"`
		ServerInfo   *struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"serverInfo"`
	}
	if uerr := json.Unmarshal(result, &res); uerr != nil {
		c.log.Warn("lsp initialize result not understood", "error", uerr)
	}
	id := ServerIdentity{Capabilities: res.Capabilities}
	if res.ServerInfo != nil {
		id.Name, id.Version = res.ServerInfo.Name, res.ServerInfo.Version
	}

	if nerr := c.notify(sess, MethodInitialized, struct{}{}); nerr != nil {
		c.fail(sess, nerr)
		onDone(fmt.Errorf("initialized notification: %w", nerr))
		return
	}

	c.mu.Lock()
	if c.sess == sess {
		c.identity = id
	}
	c.mu.Unlock()

	if !c.state.TransitionFrom(lspDomain.StateAwaitingInitializeResult, lspDomain.StateReady) {
		onDone(fmt.Errorf("%w: session ended during initialize (%s)", ErrNotReady, c.state.Current()))
		return
	}
	c.log.Info("lsp server ready", "server", id.Name, "version", id.Version, "pid", sess.transport.PID())
	onDone(nil)
}

// DidOpen announces text for uri. Re-opening a tracked uri re-sends didOpen
// with the version bumped, replacing the server's copy.
func (c *Client) DidOpen(uri, languageID, text string) error {
	sess, err := c.gate(MethodDidOpen)
	if err != nil {
		return err
	}

	doc, prev, existed := c.docs.Open(uri, languageID, text)
	err = c.notify(sess, MethodDidOpen, map[string]any{
		"textDocument": map[string]any{
			"uri":        uri,
			"languageId": languageID,
			"version":    doc.Version,
			"text":       text,
		},
	})
	if err != nil {
		c.docs.Restore(uri, prev, existed)
		return err
	}
	c.log.Debug("lsp document opened", "uri", uri, "version", doc.Version, "reopen", existed)
	return nil
}

// DidClose forgets uri and notifies the server. Closing an untracked uri is
// a no-op.
func (c *Client) DidClose(uri string) error {
	if _, ok := c.docs.Get(uri); !ok {
		return nil
	}
	sess, err := c.gate(MethodDidClose)
	if err != nil {
		return err
	}

	doc, ok := c.docs.Close(uri)
	if !ok {
		return nil
	}
	err = c.notify(sess, MethodDidClose, map[string]any{
		"textDocument": map[string]string{"uri": uri},
	})
	if err != nil {
		c.docs.Restore(uri, doc, true)
		return err
	}
	c.log.Debug("lsp document closed", "uri", uri)
	return nil
}

// GetDocumentSymbols requests the symbol tree of uri. onResult always
// fires once the call returned nil: with the symbols on success, or with
// no symbols and the cause on failure.
func (c *Client) GetDocumentSymbols(uri string, onResult func(symbols []lspDomain.Symbol, err error)) error {
	sess, err := c.gate(MethodDocumentSymbol)
	if err != nil {
		return err
	}
	params := map[string]any{
		"textDocument": map[string]string{"uri": uri},
	}
	return c.send(sess, MethodDocumentSymbol, params, func(result json.RawMessage, err error) {
		if err != nil {
			c.log.Warn("lsp document symbols failed", "uri", uri, "error", err)
			onResult(nil, err)
			return
		}
		symbols, perr := ParseDocumentSymbols(result)
		if perr != nil {
			c.log.Warn("lsp document symbols unparsable", "uri", uri, "error", perr)
			onResult(nil, perr)
			return
		}
		onResult(symbols, nil)
	})
}

// SendCustomRequest issues an arbitrary request, e.g. $/memoryUsage, and
// passes the raw result through untouched. The initialize handshake is
// only reachable through Initialize.
func (c *Client) SendCustomRequest(method string, params any, onResult func(result json.RawMessage, err error)) error {
	if method == methodInitialize {
		return fmt.Errorf("%w: use Initialize for the handshake", ErrNotReady)
	}
	sess, err := c.gate(method)
	if err != nil {
		return err
	}
	return c.send(sess, method, params, ResponseFunc(onResult))
}

// Stop shuts the session down: shutdown request and exit notification
// when the handshake completed, then process teardown bounded by the stop
// grace period. Requests still pending fail with ErrStopped. Stop is
// idempotent.
func (c *Client) Stop() error {
	c.mu.Lock()
	sess := c.sess
	if sess == nil {
		c.mu.Unlock()
		return nil
	}
	from, err := c.state.Transition(lspDomain.StateShuttingDown)
	c.mu.Unlock()
	if err != nil {
		// Already stopped, stopping, or never started.
		return nil
	}

	c.log.Info("lsp server stopping", "pid", sess.transport.PID(), "from", from.String())

	if from == lspDomain.StateReady {
		c.shutdown(sess)
	}
	if from != lspDomain.StateFailed {
		if err := c.notify(sess, MethodExit, nil); err != nil {
			c.log.Debug("lsp exit notification not sent", "error", err)
		}
	}

	sess.transport.Stop(c.stopGrace)
	if n := sess.table.FailAll(ErrStopped); n > 0 {
		c.log.Warn("lsp requests abandoned by stop", "count", n)
	}
	c.docs.Reset()
	c.state.TransitionFrom(lspDomain.StateShuttingDown, lspDomain.StateStopped)

	c.log.Info("lsp server stopped")
	return nil
}

// shutdown sends the shutdown request and waits for its reply, bounded by
// the stop grace period.
func (c *Client) shutdown(sess *session) {
	replied := make(chan error, 1)
	err := c.send(sess, MethodShutdown, nil, func(_ json.RawMessage, err error) { replied <- err })
	if err != nil {
		c.log.Warn("lsp shutdown request failed", "error", err)
		return
	}

	timer := time.NewTimer(c.stopGrace)
	defer timer.Stop()
	select {
	case err := <-replied:
		if err != nil {
			c.log.Warn("lsp shutdown request failed", "error", err)
		}
	case <-timer.C:
		c.log.Warn("lsp shutdown request unanswered", "grace", c.stopGrace)
	}
}

// Diagnostics returns cached diagnostics for a URI. If uri is empty, all diagnostics are returned.
func (c *Client) Diagnostics(uri string) []lspDomain.Diagnostic {
	c.diagMu.RLock()
	defer c.diagMu.RUnlock()

	if uri != "" {
		return append([]lspDomain.Diagnostic(nil), c.diagnostics[uri]...)
	}

	var all []lspDomain.Diagnostic
	for _, diags := range c.diagnostics {
		all = append(all, diags...)
	}
	return all
}

// DiagnosticCount returns the total number of cached diagnostics.
func (c *Client) DiagnosticCount() int {
	c.diagMu.RLock()
	defer c.diagMu.RUnlock()
	count := 0
	for _, diags := range c.diagnostics {
		count += len(diags)
	}
	return count
}

// --- Internal methods ---

// gate returns the live session if method may be sent now.
func (c *Client) gate(method string) (*session, error) {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()

	if err := c.state.Gate(method); err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrNotReady
	}
	return sess, nil
}

// send registers done and writes the request. If the write fails the entry
// is withdrawn and the error returned, unless a concurrent FailAll already
// claimed it, in which case done has fired and nil is returned.
func (c *Client) send(sess *session, method string, params any, done ResponseFunc) error {
	id := sess.table.NextID()
	body, err := marshalRequest(id, method, params)
	if err != nil {
		return err
	}

	sess.table.Register(id, method, done)
	if err := sess.transport.Write(body); err != nil {
		if sess.table.Remove(id) {
			return fmt.Errorf("send %s: %w", method, err)
		}
		return nil
	}
	c.log.Debug("lsp request sent", "id", id, "method", method)
	return nil
}

func (c *Client) notify(sess *session, method string, params any) error {
	body, err := marshalNotification(method, params)
	if err != nil {
		return err
	}
	if err := sess.transport.Write(body); err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}
	return nil
}

// fail moves a live session to Failed and kills its process. The exit
// handler then fails whatever is still pending.
func (c *Client) fail(sess *session, cause error) {
	c.mu.Lock()
	current := c.sess == sess
	c.mu.Unlock()
	if !current {
		return
	}
	// Only a live session fails; once Stop has begun it owns the teardown.
	from := c.state.Current()
	switch from {
	case lspDomain.StateStarting, lspDomain.StateAwaitingInitializeResult, lspDomain.StateReady:
	default:
		return
	}
	if !c.state.TransitionFrom(from, lspDomain.StateFailed) {
		return
	}
	c.setLastErr(cause)
	c.log.Error("lsp session failed", "error", cause)
	sess.transport.Kill()
}

// handleExit runs once per session on the reader goroutine after the
// process is gone.
func (c *Client) handleExit(sess *session, cause error) {
	n := sess.table.FailAll(cause)

	c.mu.Lock()
	current := c.sess == sess
	c.mu.Unlock()
	if !current {
		return
	}
	c.docs.Reset()

	if c.state.TransitionFrom(lspDomain.StateShuttingDown, lspDomain.StateStopped) {
		c.log.Debug("lsp server exited during shutdown", "pending_failed", n)
		return
	}
	if _, err := c.state.Transition(lspDomain.StateFailed); err == nil {
		c.setLastErr(cause)
		c.log.Error("lsp server exited unexpectedly", "cause", cause, "pending_failed", n)
	}
}

func (c *Client) setLastErr(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}

func (c *Client) handleNotification(method string, params json.RawMessage) {
	switch method {
	case MethodPublishDiagnostic:
		c.handlePublishDiagnostics(params)
	case MethodLogMessage, MethodShowMessage:
		c.handleWindowMessage(method, params)
	}

	c.handlersMu.RLock()
	fn := c.handlers[method]
	c.handlersMu.RUnlock()

	switch {
	case fn != nil:
		fn(params)
	case method == MethodPublishDiagnostic, method == MethodLogMessage, method == MethodShowMessage:
	default:
		c.log.Debug("lsp notification ignored", "method", method)
	}
}

// handlePublishDiagnostics processes diagnostic notifications from the server.
func (c *Client) handlePublishDiagnostics(raw json.RawMessage) {
	var params struct {
		URI         string                 `json:"uri"`
		Diagnostics []lspDomain.Diagnostic `json:"diagnostics"`
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		c.log.Warn("lsp: failed to unmarshal diagnostics", "error", err)
		return
	}

	// Apply max diagnostics limit.
	diags := params.Diagnostics
	if c.maxDiagnostics > 0 && len(diags) > c.maxDiagnostics {
		diags = diags[:c.maxDiagnostics]
	}

	c.diagMu.Lock()
	if len(diags) == 0 {
		delete(c.diagnostics, params.URI)
	} else {
		c.diagnostics[params.URI] = diags
	}
	c.diagMu.Unlock()

	c.handlersMu.RLock()
	fn := c.onDiagnostic
	c.handlersMu.RUnlock()
	if fn != nil {
		fn(params.URI, diags)
	}
}

// handleWindowMessage logs window/logMessage and window/showMessage at the
// level matching the LSP MessageType.
func (c *Client) handleWindowMessage(method string, raw json.RawMessage) {
	var params struct {
		Type    int    `json:"type"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		c.log.Warn("lsp: failed to unmarshal window message", "method", method, "error", err)
		return
	}

	level := slog.LevelDebug
	switch params.Type {
	case 1:
		level = slog.LevelError
	case 2:
		level = slog.LevelWarn
	case 3:
		level = slog.LevelInfo
	}
	c.log.Log(context.Background(), level, "lsp server message", "method", method, "message", params.Message)
}
