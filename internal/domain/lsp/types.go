// Package lsp defines domain types for Language Server Protocol integration.
// These types represent LSP concepts (positions, symbols, diagnostics, server
// state) in a transport-independent way for use across the service, adapter,
// and handler layers.
package lsp

// Position in a text document (0-based line and character).
// Conversion to 1-based display coordinates is a consumer concern.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range in a text document.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Location links a URI to a range.
type Location struct {
	URI   string `json:"uri"`
	Range Range  `json:"range"`
}

// DiagnosticSeverity mirrors LSP DiagnosticSeverity.
const (
	SeverityError   = 1
	SeverityWarning = 2
	SeverityInfo    = 3
	SeverityHint    = 4
)

// Diagnostic represents a compiler/linter diagnostic.
type Diagnostic struct {
	Range    Range  `json:"range"`
	Severity int    `json:"severity"` // 1=Error, 2=Warning, 3=Info, 4=Hint
	Source   string `json:"source"`
	Message  string `json:"message"`
}

// Symbol is a document symbol reported by a language server. Each symbol
// exclusively owns its children; there are no back references.
type Symbol struct {
	Name           string     `json:"name"`
	Kind           SymbolKind `json:"kind"`
	Detail         string     `json:"detail,omitempty"`
	Range          Range      `json:"range"`          // full extent
	SelectionRange Range      `json:"selectionRange"` // name-only extent
	Children       []Symbol   `json:"children,omitempty"`
}

// Walk visits s and all of its descendants depth-first, pre-order. The
// parents slice holds the names of the enclosing symbols, outermost first.
// Returning false from fn skips the symbol's children.
func (s *Symbol) Walk(fn func(sym *Symbol, parents []string) bool) {
	s.walk(nil, fn)
}

func (s *Symbol) walk(parents []string, fn func(*Symbol, []string) bool) {
	if !fn(s, parents) {
		return
	}
	next := append(parents[:len(parents):len(parents)], s.Name)
	for i := range s.Children {
		s.Children[i].walk(next, fn)
	}
}

// CountSymbols returns the number of symbols in the forest, children included.
func CountSymbols(symbols []Symbol) int {
	n := 0
	for i := range symbols {
		symbols[i].Walk(func(*Symbol, []string) bool {
			n++
			return true
		})
	}
	return n
}

// ServerInfo describes a running language server instance.
type ServerInfo struct {
	Command     string      `json:"command"`
	State       ServerState `json:"state"`
	PID         int         `json:"pid,omitempty"`
	Name        string      `json:"name,omitempty"`
	Version     string      `json:"version,omitempty"`
	OpenDocs    int         `json:"open_documents"`
	Pending     int         `json:"pending_requests"`
	Diagnostics int         `json:"diagnostics"` // Count of cached diagnostics
	Error       string      `json:"error,omitempty"`
}
