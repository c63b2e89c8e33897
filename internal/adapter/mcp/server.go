// Package mcp exposes the symbol index to AI assistants over the Model
// Context Protocol. It only reads the index; it never drives the language
// server directly.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/lspindex/internal/domain/index"
	"github.com/Strob0t/lspindex/internal/domain/lsp"
)

// IndexReader is the read side of the index service.
type IndexReader interface {
	Search(query string, limit int) []index.Entry
	FileSymbols(path string) ([]index.Entry, bool)
	SymbolsByKind(kind lsp.SymbolKind, limit int) []index.Entry
	Status() index.Status
}

// Indexer starts a fresh index run.
type Indexer interface {
	Index(ctx context.Context, root string) (index.Status, error)
}

// ServerConfig holds MCP server settings.
type ServerConfig struct {
	Addr    string // listen address for streamable HTTP
	Name    string
	Version string
	APIKey  string // empty disables auth on HTTP
}

// ServerDeps are the services the tools read from. Nil fields make the
// matching tools report "not configured".
type ServerDeps struct {
	Index   IndexReader
	Indexer Indexer
}

// Server wraps an mcp-go server with the lspindex tools and resources.
type Server struct {
	cfg       ServerConfig
	deps      ServerDeps
	mcpServer *mcpserver.MCPServer
	log       *slog.Logger

	httpSrv *http.Server
}

// NewServer creates the MCP server and registers tools and resources.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		log:  slog.Default().With("component", "mcp"),
		mcpServer: mcpserver.NewMCPServer(cfg.Name, cfg.Version,
			mcpserver.WithToolCapabilities(false),
			mcpserver.WithResourceCapabilities(false, false),
			mcpserver.WithRecovery(),
		),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// Handler returns the streamable HTTP endpoint behind AuthMiddleware.
func (s *Server) Handler() http.Handler {
	return AuthMiddleware(s.cfg.APIKey, mcpserver.NewStreamableHTTPServer(s.mcpServer))
}

// ServeStdio serves MCP on in/out until ctx ends or in is closed.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	s.log.Info("mcp serving stdio")
	return mcpserver.NewStdioServer(s.mcpServer).Listen(ctx, in, out)
}

// Start listens on cfg.Addr and serves streamable HTTP in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("mcp listen %s: %w", s.cfg.Addr, err)
	}
	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info("mcp serving http", "addr", ln.Addr().String())
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("mcp http server failed", "error", err)
		}
	}()
	return nil
}

// Stop shuts the HTTP listener down. It is a no-op if Start was not called.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
