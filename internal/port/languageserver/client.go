// Package languageserver defines the port through which services drive a
// single language server session.
package languageserver

import (
	"context"

	"github.com/Strob0t/lspindex/internal/domain/lsp"
)

// DiagnosticsFunc receives the diagnostics published for a document.
type DiagnosticsFunc = func(uri string, diags []lsp.Diagnostic)

// Client is the subset of the LSP client the index service depends on.
// Blocking calls honor ctx for the wait only; a request in flight is still
// resolved by the session.
type Client interface {
	Start(command []string, workspaceRoot string) error
	AwaitInitialize(ctx context.Context) error
	DidOpen(uri, languageID, text string) error
	DidClose(uri string) error
	AwaitDocumentSymbols(ctx context.Context, uri string) ([]lsp.Symbol, error)
	SetDiagnosticCallback(fn DiagnosticsFunc)
	State() lsp.ServerState
	Info() lsp.ServerInfo
	Stop() error
}
