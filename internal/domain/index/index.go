// Package index defines the symbol index domain: flattened symbol entries,
// index run status and the ranking used by symbol search.
package index

import (
	"strings"
	"time"

	"github.com/Strob0t/lspindex/internal/domain/lsp"
)

// Entry is one symbol of one file, detached from its parent tree.
type Entry struct {
	Path      string         `json:"path"`
	URI       string         `json:"uri"`
	Name      string         `json:"name"`
	Kind      lsp.SymbolKind `json:"kind"`
	KindName  string         `json:"kind_name"`
	Container string         `json:"container,omitempty"` // enclosing symbols joined by "::"
	Detail    string         `json:"detail,omitempty"`
	Range     lsp.Range      `json:"range"`
}

// QualifiedName returns Container::Name, or Name at top level.
func (e *Entry) QualifiedName() string {
	if e.Container == "" {
		return e.Name
	}
	return e.Container + "::" + e.Name
}

// Flatten turns a symbol forest into entries in document order.
func Flatten(path, uri string, symbols []lsp.Symbol) []Entry {
	entries := make([]Entry, 0, lsp.CountSymbols(symbols))
	for i := range symbols {
		symbols[i].Walk(func(sym *lsp.Symbol, parents []string) bool {
			entries = append(entries, Entry{
				Path:      path,
				URI:       uri,
				Name:      sym.Name,
				Kind:      sym.Kind,
				KindName:  sym.Kind.String(),
				Container: strings.Join(parents, "::"),
				Detail:    sym.Detail,
				Range:     sym.SelectionRange,
			})
			return true
		})
	}
	return entries
}

// RunState is the lifecycle of an index run.
type RunState string

const (
	RunIdle      RunState = "idle"
	RunIndexing  RunState = "indexing"
	RunCompleted RunState = "completed"
	RunFailed    RunState = "failed"
)

// FileError records a file the run could not index.
type FileError struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// Status summarizes the latest index run and the language server behind it.
type Status struct {
	RunID      string         `json:"run_id,omitempty"`
	State      RunState       `json:"state"`
	Root       string         `json:"root,omitempty"`
	Files      int            `json:"files"`
	Indexed    int            `json:"indexed"`
	Cached     int            `json:"cached"`
	Failed     int            `json:"failed"`
	Symbols    int            `json:"symbols"`
	Restarts   int            `json:"restarts"`
	StartedAt  time.Time      `json:"started_at,omitzero"`
	FinishedAt time.Time      `json:"finished_at,omitzero"`
	LastError  string         `json:"last_error,omitempty"`
	Errors     []FileError    `json:"errors,omitempty"`
	Server     lsp.ServerInfo `json:"server"`
}

// Done reports whether the run has finished, successfully or not.
func (s *Status) Done() bool {
	return s.State == RunCompleted || s.State == RunFailed
}
