package lsp

import (
	"encoding/json"
	"fmt"

	lspDomain "github.com/Strob0t/lspindex/internal/domain/lsp"
)

// rawSymbol decodes both shapes of a textDocument/documentSymbol result
// element: DocumentSymbol (hierarchical) and SymbolInformation (flat, with
// a location and optional containerName).
type rawSymbol struct {
	Name           string               `json:"name"`
	Kind           lspDomain.SymbolKind `json:"kind"`
	Detail         string               `json:"detail"`
	Range          lspDomain.Range      `json:"range"`
	SelectionRange *lspDomain.Range     `json:"selectionRange"`
	Children       []rawSymbol          `json:"children"`

	ContainerName string              `json:"containerName"`
	Location      *lspDomain.Location `json:"location"`
}

// ParseDocumentSymbols maps a documentSymbol result into an owned Symbol
// tree. A null or empty result yields no symbols and no error.
func ParseDocumentSymbols(raw json.RawMessage) ([]lspDomain.Symbol, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var items []rawSymbol
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("unmarshal document symbols: %w", err)
	}

	out := make([]lspDomain.Symbol, 0, len(items))
	for i := range items {
		out = append(out, items[i].toSymbol())
	}
	return out, nil
}

func (r *rawSymbol) toSymbol() lspDomain.Symbol {
	if r.Location != nil {
		return lspDomain.Symbol{
			Name:           r.Name,
			Kind:           r.Kind,
			Detail:         r.ContainerName,
			Range:          r.Location.Range,
			SelectionRange: r.Location.Range,
		}
	}

	sym := lspDomain.Symbol{
		Name:           r.Name,
		Kind:           r.Kind,
		Detail:         r.Detail,
		Range:          r.Range,
		SelectionRange: r.Range,
	}
	if r.SelectionRange != nil {
		sym.SelectionRange = *r.SelectionRange
	}
	if len(r.Children) > 0 {
		sym.Children = make([]lspDomain.Symbol, 0, len(r.Children))
		for i := range r.Children {
			sym.Children = append(sym.Children, r.Children[i].toSymbol())
		}
	}
	return sym
}
