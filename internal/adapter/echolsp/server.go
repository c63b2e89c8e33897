// Package echolsp is a minimal language server used to exercise the LSP
// client end to end. It keeps the text of open documents, answers
// documentSymbol from a line scanner and offers a few echo/* methods that
// provoke failure modes (hangs, crashes, corrupt frames) on demand.
package echolsp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/sourcegraph/jsonrpc2"

	lspDomain "github.com/Strob0t/lspindex/internal/domain/lsp"
)

// Test hook methods.
const (
	MethodHang          = "echo/hang"          // never answered
	MethodCrash         = "echo/crash"         // process exits with status 3
	MethodGarbage       = "echo/garbage"       // writes an unparsable header block
	MethodOrphan        = "echo/orphan"        // writes a response without id, then answers
	MethodServerRequest = "echo/serverRequest" // calls the client, reports the error code it got
	MethodNotify        = "echo/notify"        // sends diagnostics and window messages
)

// Options configures a Server.
type Options struct {
	Name    string
	Version string
	Logger  *slog.Logger
	// Exit terminates the process for MethodCrash. Defaults to os.Exit.
	Exit func(code int)
}

type document struct {
	languageID string
	version    int
	text       string
}

// Server implements jsonrpc2.Handler.
type Server struct {
	opts Options
	log  *slog.Logger

	mu       sync.Mutex
	docs     map[string]document
	flat     bool // answer documentSymbol with SymbolInformation[]
	shutdown bool
	raw      io.Writer

	exit     chan struct{}
	exitOnce sync.Once
}

// New creates a Server.
func New(opts Options) *Server {
	if opts.Name == "" {
		opts.Name = "echolsp"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Exit == nil {
		opts.Exit = os.Exit
	}
	return &Server{
		opts: opts,
		log:  opts.Logger,
		docs: make(map[string]document),
		exit: make(chan struct{}),
	}
}

// Serve speaks LSP over rwc until the client sends exit, closes the stream,
// or ctx is cancelled. The returned status follows the LSP convention: 0
// when exit was preceded by shutdown, 1 otherwise.
func (s *Server) Serve(ctx context.Context, rwc io.ReadWriteCloser) int {
	s.mu.Lock()
	s.raw = rwc
	s.mu.Unlock()

	conn := jsonrpc2.NewConn(ctx, jsonrpc2.NewBufferedStream(rwc, jsonrpc2.VSCodeObjectCodec{}), s)
	defer conn.Close()

	select {
	case <-conn.DisconnectNotify():
		s.log.Debug("echolsp client disconnected")
	case <-s.exit:
	case <-ctx.Done():
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return 0
	}
	return 1
}

// Handle implements jsonrpc2.Handler. Requests are handled in arrival order
// on the connection's read goroutine.
func (s *Server) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	s.log.Debug("echolsp handling", "method", req.Method, "notif", req.Notif)

	var params json.RawMessage
	if req.Params != nil {
		params = *req.Params
	}

	switch req.Method {
	case "initialize":
		s.reply(ctx, conn, req, s.initialize(params), nil)
	case "initialized":
		s.notify(ctx, conn, "window/logMessage", map[string]any{"type": 3, "message": s.opts.Name + " ready"})
	case "shutdown":
		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		s.reply(ctx, conn, req, nil, nil)
	case "exit":
		s.exitOnce.Do(func() { close(s.exit) })
	case "textDocument/didOpen":
		s.didOpen(ctx, conn, params)
	case "textDocument/didClose":
		s.didClose(ctx, conn, params)
	case "textDocument/documentSymbol":
		result, err := s.documentSymbol(params)
		s.reply(ctx, conn, req, result, err)
	case "$/memoryUsage":
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		s.reply(ctx, conn, req, map[string]any{"_self": m.HeapAlloc, "_total": m.Sys}, nil)
	case MethodHang:
		s.log.Debug("echolsp hanging request", "id", req.ID.String())
	case MethodCrash:
		s.opts.Exit(3)
	case MethodGarbage:
		s.writeRaw([]byte("Content-Length: nope\r\n\r\n{}"))
	case MethodOrphan:
		s.writeRaw(frame([]byte(`{"jsonrpc":"2.0","result":"orphan"}`)))
		s.reply(ctx, conn, req, "ok", nil)
	case MethodServerRequest:
		go s.serverRequest(ctx, conn, req)
	case MethodNotify:
		s.notify(ctx, conn, "textDocument/publishDiagnostics", map[string]any{
			"uri": "file:///echo/notify.c",
			"diagnostics": []lspDomain.Diagnostic{{
				Severity: lspDomain.SeverityWarning,
				Source:   s.opts.Name,
				Message:  "notify",
			}},
		})
		s.notify(ctx, conn, "window/showMessage", map[string]any{"type": 2, "message": "notify"})
		s.notify(ctx, conn, "echo/custom", map[string]any{"hello": "world"})
		s.reply(ctx, conn, req, nil, nil)
	default:
		if !req.Notif {
			s.reply(ctx, conn, req, nil, &jsonrpc2.Error{
				Code:    jsonrpc2.CodeMethodNotFound,
				Message: fmt.Sprintf("method not supported: %s", req.Method),
			})
		}
	}
}

func (s *Server) initialize(params json.RawMessage) any {
	var p struct {
		InitializationOptions struct {
			FlatSymbols bool `json:"flatSymbols"`
		} `json:"initializationOptions"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			s.log.Warn("echolsp initialize params", "error", err)
		}
	}
	s.mu.Lock()
	s.flat = p.InitializationOptions.FlatSymbols
	s.mu.Unlock()

	return map[string]any{
		"capabilities": map[string]any{
			"textDocumentSync":       map[string]any{"openClose": true, "change": 1},
			"documentSymbolProvider": true,
		},
		"serverInfo": map[string]string{"name": s.opts.Name, "version": s.opts.Version},
	}
}

func (s *Server) didOpen(ctx context.Context, conn *jsonrpc2.Conn, params json.RawMessage) {
	var p struct {
		TextDocument struct {
			URI        string `json:"uri"`
			LanguageID string `json:"languageId"`
			Version    int    `json:"version"`
			Text       string `json:"text"`
		} `json:"textDocument"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		s.log.Warn("echolsp didOpen params", "error", err)
		return
	}
	td := p.TextDocument

	s.mu.Lock()
	s.docs[td.URI] = document{languageID: td.LanguageID, version: td.Version, text: td.Text}
	s.mu.Unlock()

	s.notify(ctx, conn, "textDocument/publishDiagnostics", map[string]any{
		"uri":         td.URI,
		"version":     td.Version,
		"diagnostics": scanDiagnostics(td.Text, s.opts.Name),
	})
}

func (s *Server) didClose(ctx context.Context, conn *jsonrpc2.Conn, params json.RawMessage) {
	var p struct {
		TextDocument struct {
			URI string `json:"uri"`
		} `json:"textDocument"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		s.log.Warn("echolsp didClose params", "error", err)
		return
	}

	s.mu.Lock()
	delete(s.docs, p.TextDocument.URI)
	s.mu.Unlock()

	s.notify(ctx, conn, "textDocument/publishDiagnostics", map[string]any{
		"uri":         p.TextDocument.URI,
		"diagnostics": []lspDomain.Diagnostic{},
	})
}

type symbolInformation struct {
	Name          string               `json:"name"`
	Kind          lspDomain.SymbolKind `json:"kind"`
	Location      lspDomain.Location   `json:"location"`
	ContainerName string               `json:"containerName,omitempty"`
}

func (s *Server) documentSymbol(params json.RawMessage) (any, error) {
	var p struct {
		TextDocument struct {
			URI string `json:"uri"`
		} `json:"textDocument"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error()}
	}

	s.mu.Lock()
	doc, ok := s.docs[p.TextDocument.URI]
	flat := s.flat
	s.mu.Unlock()
	if !ok {
		return nil, &jsonrpc2.Error{
			Code:    jsonrpc2.CodeInvalidParams,
			Message: "document not open: " + p.TextDocument.URI,
		}
	}

	symbols := ScanSymbols(doc.text)
	if !flat {
		return symbols, nil
	}

	var out []symbolInformation
	for i := range symbols {
		symbols[i].Walk(func(sym *lspDomain.Symbol, parents []string) bool {
			out = append(out, symbolInformation{
				Name:          sym.Name,
				Kind:          sym.Kind,
				Location:      lspDomain.Location{URI: p.TextDocument.URI, Range: sym.Range},
				ContainerName: strings.Join(parents, "::"),
			})
			return true
		})
	}
	return out, nil
}

// serverRequest issues a client-bound request and reports the error code
// of the reply, 0 on success. It runs off the read goroutine because the
// reply arrives on it.
func (s *Server) serverRequest(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var result json.RawMessage
	code := int64(0)
	if err := conn.Call(ctx, "workspace/configuration", map[string]any{"items": []any{}}, &result); err != nil {
		if rpcErr, ok := err.(*jsonrpc2.Error); ok {
			code = rpcErr.Code
		} else {
			code = -1
		}
	}
	s.reply(ctx, conn, req, map[string]int64{"code": code}, nil)
}

func (s *Server) reply(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, result any, err error) {
	if req.Notif {
		return
	}
	var rerr error
	if err != nil {
		rpcErr, ok := err.(*jsonrpc2.Error)
		if !ok {
			rpcErr = &jsonrpc2.Error{Code: jsonrpc2.CodeInternalError, Message: err.Error()}
		}
		rerr = conn.ReplyWithError(ctx, req.ID, rpcErr)
	} else {
		rerr = conn.Reply(ctx, req.ID, result)
	}
	if rerr != nil {
		s.log.Warn("echolsp reply failed", "method", req.Method, "error", rerr)
	}
}

func (s *Server) notify(ctx context.Context, conn *jsonrpc2.Conn, method string, params any) {
	if err := conn.Notify(ctx, method, params); err != nil {
		s.log.Warn("echolsp notify failed", "method", method, "error", err)
	}
}

// writeRaw bypasses the codec. Only safe from the read goroutine while no
// reply is being written.
func (s *Server) writeRaw(b []byte) {
	s.mu.Lock()
	w := s.raw
	s.mu.Unlock()
	if w == nil {
		return
	}
	if _, err := w.Write(b); err != nil {
		s.log.Warn("echolsp raw write failed", "error", err)
	}
}

func frame(body []byte) []byte {
	return append([]byte(fmt.Sprintf("Content-Length: %d\r\n\r\n", len(body))), body...)
}

// scanDiagnostics reports #error and #warning directives.
func scanDiagnostics(text, source string) []lspDomain.Diagnostic {
	diags := []lspDomain.Diagnostic{}
	for i, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		severity := 0
		var msg string
		switch {
		case strings.HasPrefix(trimmed, "#error"):
			severity, msg = lspDomain.SeverityError, strings.TrimSpace(strings.TrimPrefix(trimmed, "#error"))
		case strings.HasPrefix(trimmed, "#warning"):
			severity, msg = lspDomain.SeverityWarning, strings.TrimSpace(strings.TrimPrefix(trimmed, "#warning"))
		default:
			continue
		}
		diags = append(diags, lspDomain.Diagnostic{
			Range: lspDomain.Range{
				Start: lspDomain.Position{Line: i},
				End:   lspDomain.Position{Line: i, Character: len(strings.TrimRight(line, "\r"))},
			},
			Severity: severity,
			Source:   source,
			Message:  msg,
		})
	}
	return diags
}
