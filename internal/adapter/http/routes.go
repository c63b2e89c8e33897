package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/lspindex/internal/config"
	"github.com/Strob0t/lspindex/internal/middleware"
)

// RouterDeps are the optional handlers mounted next to the JSON API.
type RouterDeps struct {
	WS  http.HandlerFunc // websocket event stream
	MCP http.Handler     // MCP streamable HTTP endpoint
	// Trace wraps the router, e.g. with otelhttp.
	Trace func(http.Handler) http.Handler
}

// NewRouter builds the status server router. ctx bounds the rate limiter
// cleanup loop.
func NewRouter(ctx context.Context, cfg config.Server, h *Handlers, deps RouterDeps, log *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(Logger(log))
	r.Use(SecurityHeaders)
	if cfg.CORSOrigin != "" {
		r.Use(CORS(cfg.CORSOrigin))
	}
	if cfg.RateLimit > 0 {
		rl := middleware.NewRateLimiter(cfg.RateLimit, cfg.RateBurst, "/health", "/ws")
		go rl.Cleanup(ctx, time.Minute)
		r.Use(rl.Handler)
	}

	MountRoutes(r, h, deps)

	if deps.Trace != nil {
		return deps.Trace(r)
	}
	return r
}

// MountRoutes registers all routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers, deps RouterDeps) {
	r.Get("/health", h.Health)
	if deps.WS != nil {
		r.Get("/ws", deps.WS)
	}
	if deps.MCP != nil {
		r.Handle("/mcp", deps.MCP)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", h.GetStatus)
		r.Get("/files", h.ListFiles)
		r.Get("/symbols", h.ListSymbols)
		r.Get("/diagnostics", h.ListDiagnostics)
		r.Post("/index", h.StartIndex)
	})
}
