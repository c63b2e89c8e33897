// Command echolsp is a tiny language server for exercising lspindex without
// clangd. It speaks LSP on stdin/stdout and logs to stderr.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Strob0t/lspindex/internal/adapter/echolsp"
	"github.com/Strob0t/lspindex/internal/config"
	"github.com/Strob0t/lspindex/internal/logger"
)

var version = "dev"

func main() {
	cfg := config.Logging{Level: os.Getenv("ECHOLSP_LOG_LEVEL"), Service: "echolsp"}
	log, closer := logger.New(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := echolsp.RunStdio(ctx, echolsp.Options{Version: version, Logger: log})
	stop()
	closer.Close()
	os.Exit(code)
}
