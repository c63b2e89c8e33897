// Package config provides hierarchical configuration loading for lspindex.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for lspindex.
type Config struct {
	LSP     LSP     `yaml:"lsp"`
	Index   Index   `yaml:"index"`
	MCP     MCP     `yaml:"mcp"`
	Server  Server  `yaml:"server"`
	NATS    NATS    `yaml:"nats"`
	OTel    OTel    `yaml:"otel"`
	Logging Logging `yaml:"logging"`
}

// LSP holds language server process and protocol configuration.
type LSP struct {
	Command        []string      `yaml:"command"`         // e.g. ["clangd", "--background-index"]; empty = PATH lookup of clangd
	WorkspaceRoot  string        `yaml:"workspace_root"`  // defaults to the current directory
	StartTimeout   time.Duration `yaml:"start_timeout"`   // bound on spawn + initialize handshake
	RequestTimeout time.Duration `yaml:"request_timeout"` // 0 disables per-request timeouts
	StopGrace      time.Duration `yaml:"stop_grace"`      // grace period before the process is killed
	MaxDiagnostics int           `yaml:"max_diagnostics"` // per-URI cap on cached diagnostics; 0 = unlimited
}

// Index holds symbol indexer configuration.
type Index struct {
	Extensions      []string      `yaml:"extensions"`
	ExcludeDirs     []string      `yaml:"exclude_dirs"`
	MaxFiles        int           `yaml:"max_files"`
	CacheMaxSizeMB  int64         `yaml:"cache_max_size_mb"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	RestartMax      int           `yaml:"restart_max"`      // consecutive server restarts before giving up
	RestartTimeout  time.Duration `yaml:"restart_timeout"`  // breaker open period after RestartMax failures
	DiagnosticDelay time.Duration `yaml:"diagnostic_delay"` // debounce for diagnostics events; 0 sends each publish
}

// MCP holds Model Context Protocol tool provider configuration.
type MCP struct {
	Name      string `yaml:"name"`
	Version   string `yaml:"version"`
	Transport string `yaml:"transport"` // "stdio" | "http"
	APIKey    string `yaml:"api_key"`
}

// Server holds HTTP status server configuration.
type Server struct {
	Addr       string  `yaml:"addr"`
	CORSOrigin string  `yaml:"cors_origin"` // empty disables CORS headers
	RateLimit  float64 `yaml:"rate_limit"`  // sustained requests per second per client IP; 0 disables
	RateBurst  int     `yaml:"rate_burst"`
}

// NATS holds optional event publishing configuration. Empty URL disables it.
type NATS struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// OTel holds optional OpenTelemetry export configuration. Empty endpoint
// keeps the global no-op providers.
type OTel struct {
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
	Insecure    bool   `yaml:"insecure"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		LSP: LSP{
			StartTimeout:   30 * time.Second,
			RequestTimeout: 30 * time.Second,
			StopGrace:      2 * time.Second,
			MaxDiagnostics: 200,
		},
		Index: Index{
			Extensions:      []string{".c", ".h", ".cc", ".cpp", ".cxx", ".hh", ".hpp", ".hxx"},
			ExcludeDirs:     []string{".git", "build", "node_modules", ".cache", "third_party"},
			MaxFiles:        5000,
			CacheMaxSizeMB:  64,
			CacheTTL:        time.Hour,
			RestartMax:      3,
			RestartTimeout:  time.Minute,
			DiagnosticDelay: 500 * time.Millisecond,
		},
		MCP: MCP{
			Name:      "lspindex",
			Version:   "0.1.0",
			Transport: "stdio",
		},
		Server: Server{
			Addr:      "127.0.0.1:7777",
			RateLimit: 20,
			RateBurst: 40,
		},
		NATS: NATS{
			SubjectPrefix: "lspindex",
		},
		OTel: OTel{
			ServiceName: "lspindex",
			Insecure:    true,
		},
		Logging: Logging{
			Level:   "info",
			Service: "lspindex",
		},
	}
}
