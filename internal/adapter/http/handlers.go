package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/Strob0t/lspindex/internal/domain/index"
	lspDomain "github.com/Strob0t/lspindex/internal/domain/lsp"
	"github.com/Strob0t/lspindex/internal/service"
)

const defaultLimit = 50

// IndexService is the slice of the index service the HTTP API serves.
type IndexService interface {
	Index(ctx context.Context, root string) (index.Status, error)
	Search(query string, limit int) []index.Entry
	FileSymbols(path string) ([]index.Entry, bool)
	SymbolsByKind(kind lspDomain.SymbolKind, limit int) []index.Entry
	Files() []string
	Status() index.Status
}

// DiagnosticsSource exposes the diagnostics cached by the language server
// client. An empty uri returns every cached diagnostic.
type DiagnosticsSource interface {
	Diagnostics(uri string) []lspDomain.Diagnostic
}

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Index       IndexService
	Diagnostics DiagnosticsSource // optional
	// BaseCtx bounds index runs started over HTTP; they outlive the request.
	BaseCtx context.Context
	Log     *slog.Logger
}

type healthResponse struct {
	Status      string                `json:"status"`
	ServerState lspDomain.ServerState `json:"server_state"`
}

// Health reports liveness plus the language server state. It answers 200
// even when the server is down so probes can tell the two apart.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		ServerState: h.Index.Status().Server.State,
	})
}

// GetStatus returns the latest index run status.
func (h *Handlers) GetStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Index.Status())
}

// ListFiles returns the indexed files relative to the root.
func (h *Handlers) ListFiles(w http.ResponseWriter, _ *http.Request) {
	files := h.Index.Files()
	if files == nil {
		files = []string{}
	}
	writeJSON(w, http.StatusOK, files)
}

// ListSymbols answers one of three queries: ?file= lists one file in
// document order, ?kind= filters by symbol kind, ?q= searches by name.
func (h *Handlers) ListSymbols(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, ok := queryInt(w, r, "limit", defaultLimit)
	if !ok {
		return
	}

	var entries []index.Entry
	switch {
	case q.Get("file") != "":
		entries, ok = h.Index.FileSymbols(q.Get("file"))
		if !ok {
			writeError(w, http.StatusNotFound, "file is not indexed")
			return
		}
	case q.Get("kind") != "":
		kind, err := lspDomain.ParseSymbolKind(q.Get("kind"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		entries = h.Index.SymbolsByKind(kind, limit)
	case strings.TrimSpace(q.Get("q")) != "":
		entries = h.Index.Search(q.Get("q"), limit)
	default:
		writeError(w, http.StatusBadRequest, "one of q, kind or file is required")
		return
	}

	if entries == nil {
		entries = []index.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// ListDiagnostics returns cached diagnostics, optionally for one ?uri=.
func (h *Handlers) ListDiagnostics(w http.ResponseWriter, r *http.Request) {
	if h.Diagnostics == nil {
		writeError(w, http.StatusNotImplemented, "diagnostics are not available")
		return
	}
	diags := h.Diagnostics.Diagnostics(r.URL.Query().Get("uri"))
	if diags == nil {
		diags = []lspDomain.Diagnostic{}
	}
	writeJSON(w, http.StatusOK, diags)
}

type indexRequest struct {
	Root string `json:"root"`
}

type indexResponse struct {
	Root   string         `json:"root"`
	Status index.RunState `json:"status"`
}

// StartIndex starts an index run in the background and answers 202. Progress
// is streamed over /ws. Without a root, the previous run's root is reused.
func (h *Handlers) StartIndex(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[indexRequest](w, r)
	if !ok {
		return
	}

	st := h.Index.Status()
	root := req.Root
	if root == "" {
		root = st.Root
	}
	if root == "" {
		writeError(w, http.StatusBadRequest, "root is required")
		return
	}
	if !filepath.IsAbs(root) {
		writeError(w, http.StatusBadRequest, "root must be an absolute path")
		return
	}
	if st.State == index.RunIndexing {
		writeError(w, http.StatusConflict, service.ErrIndexBusy.Error())
		return
	}

	ctx := h.BaseCtx
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		if _, err := h.Index.Index(ctx, root); err != nil && !errors.Is(err, context.Canceled) {
			h.logger().Error("index run failed", "root", root, "error", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, indexResponse{Root: root, Status: index.RunIndexing})
}

func (h *Handlers) logger() *slog.Logger {
	if h.Log == nil {
		return slog.Default()
	}
	return h.Log
}
