package main

import (
	"os"

	"github.com/spf13/cobra"

	cfmcp "github.com/Strob0t/lspindex/internal/adapter/mcp"
	"github.com/Strob0t/lspindex/internal/config"
)

func newMCPCmd(gf *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Index the workspace and serve the symbol index as MCP tools",
		Long: `mcp indexes the workspace in the background and serves the index over
the Model Context Protocol, on stdin/stdout by default or as streamable HTTP
with --transport http. Logs always go to stderr.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, gf)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, appOptions{index: true})
			if err != nil {
				return err
			}
			defer a.close() //nolint:errcheck // best-effort shutdown

			srv := newMCPServer(cfg, a)
			ctx := cmd.Context()
			indexInBackground(ctx, a)

			if cfg.MCP.Transport == "stdio" {
				return srv.ServeStdio(ctx, os.Stdin, os.Stdout)
			}

			if err := srv.Start(); err != nil {
				return err
			}
			<-ctx.Done()
			shutdownCtx, cancel := shutdownContext()
			defer cancel()
			return srv.Stop(shutdownCtx)
		},
	}
	cmd.Flags().String("transport", "", "stdio or http (default from config)")
	cmd.Flags().String("addr", "", "listen address for --transport http")
	return cmd
}

func newMCPServer(cfg *config.Config, a *app) *cfmcp.Server {
	return cfmcp.NewServer(cfmcp.ServerConfig{
		Addr:    cfg.Server.Addr,
		Name:    cfg.MCP.Name,
		Version: cfg.MCP.Version,
		APIKey:  cfg.MCP.APIKey,
	}, cfmcp.ServerDeps{Index: a.index, Indexer: a.index})
}
