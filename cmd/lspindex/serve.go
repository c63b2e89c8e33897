package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	cfhttp "github.com/Strob0t/lspindex/internal/adapter/http"
	cfotel "github.com/Strob0t/lspindex/internal/adapter/otel"
)

const shutdownTimeout = 10 * time.Second

func shutdownContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), shutdownTimeout)
}

func newServeCmd(gf *globalFlags) *cobra.Command {
	var noIndex bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the index over HTTP with a websocket event stream and an MCP endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, gf)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, appOptions{index: true, hub: true})
			if err != nil {
				return err
			}
			defer a.close() //nolint:errcheck // best-effort shutdown

			ctx := cmd.Context()
			handlers := &cfhttp.Handlers{
				Index:       a.index,
				Diagnostics: a.client,
				BaseCtx:     ctx,
				Log:         a.log,
			}
			router := cfhttp.NewRouter(ctx, cfg.Server, handlers, cfhttp.RouterDeps{
				WS:    a.hub.HandleWS,
				MCP:   newMCPServer(cfg, a).Handler(),
				Trace: cfotel.HTTPMiddleware(cfg.OTel.ServiceName),
			}, a.log.With("component", "http"))

			srv := &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
				IdleTimeout:       120 * time.Second,
			}

			if !noIndex {
				indexInBackground(ctx, a)
			}

			errc := make(chan error, 1)
			go func() {
				a.log.Info("starting server", "addr", cfg.Server.Addr)
				errc <- srv.ListenAndServe()
			}()

			select {
			case err := <-errc:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			a.log.Info("shutting down server")
			shutdownCtx, cancel := shutdownContext()
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().String("addr", "", "listen address (default from config)")
	cmd.Flags().BoolVar(&noIndex, "no-index", false, "do not index the workspace on startup")
	return cmd
}
