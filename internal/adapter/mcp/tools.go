package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	cfotel "github.com/Strob0t/lspindex/internal/adapter/otel"
	"github.com/Strob0t/lspindex/internal/domain/lsp"
)

const defaultLimit = 50

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.searchSymbolsTool(),
		s.listFileSymbolsTool(),
		s.listSymbolsByKindTool(),
		s.indexStatusTool(),
		s.reindexTool(),
	)
}

func (s *Server) searchSymbolsTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("search_symbols",
		mcplib.WithDescription("Search indexed symbols by name. Exact matches rank first, then prefix, substring and qualified-name matches."),
		mcplib.WithString("query",
			mcplib.Required(),
			mcplib.Description("Symbol name or fragment, case-insensitive"),
		),
		mcplib.WithNumber("limit",
			mcplib.Description("Maximum number of results (default 50)"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.traced("search_symbols", s.handleSearchSymbols)}
}

func (s *Server) listFileSymbolsTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("list_file_symbols",
		mcplib.WithDescription("List the symbols of one indexed file in document order"),
		mcplib.WithString("path",
			mcplib.Required(),
			mcplib.Description("File path, absolute or relative to the indexed root"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.traced("list_file_symbols", s.handleListFileSymbols)}
}

func (s *Server) listSymbolsByKindTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("list_symbols_by_kind",
		mcplib.WithDescription("List indexed symbols of one LSP kind, e.g. Function, Struct, Class"),
		mcplib.WithString("kind",
			mcplib.Required(),
			mcplib.Description("LSP SymbolKind name or number"),
		),
		mcplib.WithNumber("limit",
			mcplib.Description("Maximum number of results (default 50)"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.traced("list_symbols_by_kind", s.handleListSymbolsByKind)}
}

func (s *Server) indexStatusTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("index_status",
		mcplib.WithDescription("Report the latest index run and the language server behind it"),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.traced("index_status", s.handleIndexStatus)}
}

func (s *Server) reindexTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("reindex",
		mcplib.WithDescription("Re-index the workspace and return the new run status"),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.traced("reindex", s.handleReindex)}
}

type toolHandler = func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error)

// traced wraps a handler in a tool span.
func (s *Server) traced(name string, h toolHandler) toolHandler {
	return func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
		ctx, span := cfotel.StartToolSpan(ctx, name)
		defer span.End()
		return h(ctx, req)
	}
}

func (s *Server) handleSearchSymbols(_ context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Index == nil {
		return mcplib.NewToolResultError("index not configured"), nil
	}
	query, err := req.RequireString("query")
	if err != nil || query == "" {
		return mcplib.NewToolResultError("query is required"), nil
	}
	return toolResultJSON(s.deps.Index.Search(query, req.GetInt("limit", defaultLimit)))
}

func (s *Server) handleListFileSymbols(_ context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Index == nil {
		return mcplib.NewToolResultError("index not configured"), nil
	}
	path, err := req.RequireString("path")
	if err != nil || path == "" {
		return mcplib.NewToolResultError("path is required"), nil
	}
	entries, ok := s.deps.Index.FileSymbols(path)
	if !ok {
		return mcplib.NewToolResultError(fmt.Sprintf("file %s is not indexed", path)), nil
	}
	return toolResultJSON(entries)
}

func (s *Server) handleListSymbolsByKind(_ context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Index == nil {
		return mcplib.NewToolResultError("index not configured"), nil
	}
	name, err := req.RequireString("kind")
	if err != nil {
		return mcplib.NewToolResultError("kind is required"), nil
	}
	kind, err := lsp.ParseSymbolKind(name)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("invalid kind", err), nil
	}
	return toolResultJSON(s.deps.Index.SymbolsByKind(kind, req.GetInt("limit", defaultLimit)))
}

func (s *Server) handleIndexStatus(_ context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Index == nil {
		return mcplib.NewToolResultError("index not configured"), nil
	}
	return toolResultJSON(s.deps.Index.Status())
}

func (s *Server) handleReindex(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Indexer == nil || s.deps.Index == nil {
		return mcplib.NewToolResultError("indexer not configured"), nil
	}
	root := s.deps.Index.Status().Root
	if root == "" {
		return mcplib.NewToolResultError("no workspace has been indexed yet"), nil
	}
	st, err := s.deps.Indexer.Index(ctx, root)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("reindex failed", err), nil
	}
	return toolResultJSON(st)
}

// toolResultJSON renders v as a JSON text result.
func toolResultJSON(v any) (*mcplib.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal result", err), nil
	}
	return mcplib.NewToolResultText(string(data)), nil
}
