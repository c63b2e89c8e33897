package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	lspDomain "github.com/Strob0t/lspindex/internal/domain/lsp"
)

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd())) //nolint:gosec // G115: fd fits in int
}

// renderReport prints the probe result as an indented symbol tree.
func renderReport(w io.Writer, r *probeReport) error {
	name := r.Server.Name
	if name == "" {
		name = strings.Join(r.Command, " ")
	}
	if r.Server.Version != "" {
		name += " " + r.Server.Version
	}
	fmt.Fprintf(w, "%s (pid %d)\n", name, r.PID)
	if total, ok := memoryTotal(r.MemoryUsage); ok {
		fmt.Fprintf(w, "memory: %s\n", formatBytes(total))
	}

	for _, f := range r.Files {
		fmt.Fprintf(w, "\n%s\n", f.Path)
		if f.Error != "" {
			fmt.Fprintf(w, "  error: %s\n", f.Error)
			continue
		}
		if len(f.Symbols) == 0 {
			fmt.Fprintln(w, "  (no symbols)")
			continue
		}
		for i := range f.Symbols {
			f.Symbols[i].Walk(func(sym *lspDomain.Symbol, parents []string) bool {
				pos := sym.SelectionRange.Start
				fmt.Fprintf(w, "%s%-10s %s  %d:%d\n",
					strings.Repeat("  ", len(parents)+1), sym.Kind, sym.Name, pos.Line+1, pos.Character+1)
				return true
			})
		}
	}
	return nil
}

// memoryTotal extracts _total from a $/memoryUsage tree.
func memoryTotal(raw json.RawMessage) (uint64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var usage struct {
		Total *uint64 `json:"_total"`
	}
	if err := json.Unmarshal(raw, &usage); err != nil || usage.Total == nil {
		return 0, false
	}
	return *usage.Total, true
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
