// Command lspindex drives a language server over a workspace: it probes
// the server, builds a symbol index and serves it over MCP and HTTP.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Strob0t/lspindex/internal/config"
)

var version = "dev"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	server     string
	workspace  string
	logLevel   string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "lspindex:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "lspindex",
		Short:         "Index workspace symbols through a language server",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", config.DefaultConfigFile, "YAML configuration file")
	pf.StringVarP(&flags.server, "server", "s", "", `language server command line, e.g. "clangd --background-index"`)
	pf.StringVarP(&flags.workspace, "workspace", "w", "", "workspace root (default: current directory)")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		newProbeCmd(flags),
		newIndexCmd(flags),
		newMCPCmd(flags),
		newServeCmd(flags),
	)
	return root
}

// loadConfig loads the configuration and applies the flags that were set
// explicitly on cmd.
func loadConfig(cmd *cobra.Command, flags *globalFlags) (*config.Config, error) {
	cfg, err := config.LoadFrom(flags.configPath)
	if err != nil {
		return nil, err
	}

	var o config.Overrides
	if cmd.Flags().Changed("server") {
		o.Command = splitCommand(flags.server)
	}
	if cmd.Flags().Changed("workspace") {
		o.WorkspaceRoot = &flags.workspace
	}
	if cmd.Flags().Changed("log-level") {
		o.LogLevel = &flags.logLevel
	}
	if cmd.Flags().Changed("addr") {
		addr, _ := cmd.Flags().GetString("addr")
		o.Addr = &addr
	}
	if cmd.Flags().Changed("transport") {
		transport, _ := cmd.Flags().GetString("transport")
		o.Transport = &transport
	}
	if err := o.Apply(cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}
	return cfg, nil
}
