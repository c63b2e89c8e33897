package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/Strob0t/lspindex/internal/domain/index"
)

type indexFlags struct {
	json   bool
	search string
	limit  int
}

func newIndexCmd(gf *globalFlags) *cobra.Command {
	flags := &indexFlags{}
	cmd := &cobra.Command{
		Use:   "index [root]",
		Short: "Index every source file under root and print a summary",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, gf)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, appOptions{index: true})
			if err != nil {
				return err
			}
			defer a.close() //nolint:errcheck // best-effort shutdown

			root := a.workspace()
			if len(args) == 1 {
				root = args[0]
			}
			st, runErr := a.index.Index(cmd.Context(), root)

			out := cmd.OutOrStdout()
			var matches []index.Entry
			if flags.search != "" {
				matches = a.index.Search(flags.search, flags.limit)
			}
			if flags.json || !isTerminal(out) {
				if err := writeIndexJSON(out, st, matches, flags.search != ""); err != nil {
					return err
				}
			} else {
				printIndexSummary(out, st)
				if flags.search != "" {
					printMatches(out, matches)
				}
			}
			return runErr
		},
	}
	cmd.Flags().BoolVar(&flags.json, "json", false, "always print JSON")
	cmd.Flags().StringVarP(&flags.search, "search", "q", "", "search the index after the run")
	cmd.Flags().IntVarP(&flags.limit, "limit", "n", 20, "maximum search results")
	return cmd
}

func writeIndexJSON(w io.Writer, st index.Status, matches []index.Entry, searched bool) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if !searched {
		return enc.Encode(st)
	}
	if matches == nil {
		matches = []index.Entry{}
	}
	return enc.Encode(struct {
		Status  index.Status  `json:"status"`
		Matches []index.Entry `json:"matches"`
	}{st, matches})
}

func printIndexSummary(w io.Writer, st index.Status) {
	elapsed := st.FinishedAt.Sub(st.StartedAt).Round(time.Millisecond)
	fmt.Fprintf(w, "%s %s in %s\n", st.Root, st.State, elapsed)
	fmt.Fprintf(w, "  files:    %d (%d indexed, %d cached, %d failed)\n", st.Files, st.Indexed, st.Cached, st.Failed)
	fmt.Fprintf(w, "  symbols:  %d\n", st.Symbols)
	if st.Restarts > 0 {
		fmt.Fprintf(w, "  restarts: %d\n", st.Restarts)
	}
	for _, fe := range st.Errors {
		fmt.Fprintf(w, "  error: %s: %s\n", fe.Path, fe.Error)
	}
	if st.LastError != "" {
		fmt.Fprintf(w, "  run error: %s\n", st.LastError)
	}
}

func printMatches(w io.Writer, matches []index.Entry) {
	if len(matches) == 0 {
		fmt.Fprintln(w, "\nno matches")
		return
	}
	fmt.Fprintln(w)
	for i := range matches {
		m := &matches[i]
		pos := m.Range.Start
		fmt.Fprintf(w, "%-10s %s  %s:%d:%d\n", m.KindName, m.QualifiedName(), m.Path, pos.Line+1, pos.Character+1)
	}
}

// indexInBackground starts the initial run for a long-lived server. Failure
// is logged; the index stays queryable and can be rebuilt on demand.
func indexInBackground(ctx context.Context, a *app) {
	go func() {
		root := a.workspace()
		st, err := a.index.Index(ctx, root)
		if err != nil {
			if ctx.Err() == nil {
				a.log.Error("initial index run failed", "root", root, "error", err)
			}
			return
		}
		a.log.Info("initial index run completed", "root", st.Root, "files", st.Files, "symbols", st.Symbols)
	}()
}
