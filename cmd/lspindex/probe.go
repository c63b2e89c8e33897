package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	lspAdapter "github.com/Strob0t/lspindex/internal/adapter/lsp"
	lspDomain "github.com/Strob0t/lspindex/internal/domain/lsp"
)

type probeFlags struct {
	json  bool
	trace bool
}

// probeReport is what one probe learned about the server.
type probeReport struct {
	Command     []string                  `json:"command"`
	Server      lspAdapter.ServerIdentity `json:"server"`
	PID         int                       `json:"pid"`
	MemoryUsage json.RawMessage           `json:"memory_usage,omitempty"`
	Files       []fileReport              `json:"files"`
}

type fileReport struct {
	Path    string             `json:"path"`
	URI     string             `json:"uri"`
	Symbols []lspDomain.Symbol `json:"symbols,omitempty"`
	Error   string             `json:"error,omitempty"`
}

func newProbeCmd(gf *globalFlags) *cobra.Command {
	flags := &probeFlags{}
	cmd := &cobra.Command{
		Use:   "probe [file...]",
		Short: "Start the language server, list document symbols of the given files, and stop it",
		Long: `probe runs one complete session against the language server: spawn,
initialize handshake, a $/memoryUsage request, didOpen + documentSymbol +
didClose per file, then shutdown. Output is a symbol tree on a terminal and
JSON otherwise.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, gf)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, appOptions{})
			if err != nil {
				return err
			}
			defer a.close() //nolint:errcheck // best-effort shutdown

			if flags.trace {
				a.client.SetLogCallback(func(level slog.Level, line string) {
					fmt.Fprintf(cmd.ErrOrStderr(), "[%s] %s\n", level, line)
				})
			}

			report, err := probe(cmd.Context(), a, args)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if flags.json || !isTerminal(out) {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			return renderReport(out, report)
		},
	}
	cmd.Flags().BoolVar(&flags.json, "json", false, "always print JSON")
	cmd.Flags().BoolVar(&flags.trace, "trace", false, "print client log lines to stderr")
	return cmd
}

// probe runs one session. Per-file failures are reported in the result;
// only a failed handshake aborts the probe.
func probe(ctx context.Context, a *app, files []string) (*probeReport, error) {
	c := a.client
	if err := c.Start(a.command, a.workspace()); err != nil {
		return nil, err
	}
	defer c.Stop() //nolint:errcheck // Stop is idempotent and logs its own failures

	initCtx, cancel := context.WithTimeout(ctx, a.cfg.LSP.StartTimeout)
	err := c.AwaitInitialize(initCtx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}

	report := &probeReport{
		Command: a.command,
		Server:  c.Identity(),
		PID:     c.PID(),
		Files:   make([]fileReport, 0, len(files)),
	}

	// Not every server implements $/memoryUsage.
	if usage, err := c.AwaitCustomRequest(ctx, lspAdapter.MethodMemoryUsage, nil); err == nil {
		report.MemoryUsage = usage
	} else {
		a.log.Debug("memory usage unavailable", "error", err)
	}

	for _, f := range files {
		report.Files = append(report.Files, probeFile(ctx, c, f))
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return report, nil
}

func probeFile(ctx context.Context, c *lspAdapter.Client, file string) fileReport {
	abs, err := filepath.Abs(file)
	if err != nil {
		return fileReport{Path: file, Error: err.Error()}
	}
	fr := fileReport{Path: file, URI: lspAdapter.FileURI(abs)}

	text, err := os.ReadFile(abs) //nolint:gosec // G304: files are named by the operator
	if err != nil {
		fr.Error = err.Error()
		return fr
	}
	if err := c.DidOpen(fr.URI, lspDomain.LanguageIDForPath(abs), string(text)); err != nil {
		fr.Error = err.Error()
		return fr
	}
	defer func() { _ = c.DidClose(fr.URI) }()

	symbols, err := c.AwaitDocumentSymbols(ctx, fr.URI)
	if err != nil {
		fr.Error = err.Error()
		return fr
	}
	fr.Symbols = symbols
	return fr
}
