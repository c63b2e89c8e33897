package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "lspindex.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is chosen by the operator
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setFields(&cfg.LSP.Command, "LSPINDEX_LSP_COMMAND")
	setString(&cfg.LSP.WorkspaceRoot, "LSPINDEX_WORKSPACE")
	setDuration(&cfg.LSP.StartTimeout, "LSPINDEX_LSP_START_TIMEOUT")
	setDuration(&cfg.LSP.RequestTimeout, "LSPINDEX_LSP_REQUEST_TIMEOUT")
	setDuration(&cfg.LSP.StopGrace, "LSPINDEX_LSP_STOP_GRACE")
	setInt(&cfg.LSP.MaxDiagnostics, "LSPINDEX_LSP_MAX_DIAGNOSTICS")

	// Index
	setList(&cfg.Index.Extensions, "LSPINDEX_INDEX_EXTENSIONS")
	setList(&cfg.Index.ExcludeDirs, "LSPINDEX_INDEX_EXCLUDE_DIRS")
	setInt(&cfg.Index.MaxFiles, "LSPINDEX_INDEX_MAX_FILES")
	setInt64(&cfg.Index.CacheMaxSizeMB, "LSPINDEX_CACHE_SIZE_MB")
	setDuration(&cfg.Index.CacheTTL, "LSPINDEX_CACHE_TTL")
	setInt(&cfg.Index.RestartMax, "LSPINDEX_RESTART_MAX")
	setDuration(&cfg.Index.RestartTimeout, "LSPINDEX_RESTART_TIMEOUT")
	setDuration(&cfg.Index.DiagnosticDelay, "LSPINDEX_DIAGNOSTIC_DELAY")

	// MCP
	setString(&cfg.MCP.Name, "LSPINDEX_MCP_NAME")
	setString(&cfg.MCP.Transport, "LSPINDEX_MCP_TRANSPORT")
	setString(&cfg.MCP.APIKey, "LSPINDEX_MCP_API_KEY")

	setString(&cfg.Server.Addr, "LSPINDEX_ADDR")
	setString(&cfg.Server.CORSOrigin, "LSPINDEX_CORS_ORIGIN")
	setFloat(&cfg.Server.RateLimit, "LSPINDEX_RATE_LIMIT")
	setInt(&cfg.Server.RateBurst, "LSPINDEX_RATE_BURST")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.SubjectPrefix, "LSPINDEX_NATS_PREFIX")
	setString(&cfg.OTel.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.OTel.ServiceName, "OTEL_SERVICE_NAME")
	setBool(&cfg.OTel.Insecure, "LSPINDEX_OTEL_INSECURE")

	setString(&cfg.Logging.Level, "LSPINDEX_LOG_LEVEL")
	setString(&cfg.Logging.Service, "LSPINDEX_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "LSPINDEX_LOG_ASYNC")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.LSP.StartTimeout <= 0 {
		return errors.New("lsp.start_timeout must be > 0")
	}
	if cfg.LSP.RequestTimeout < 0 {
		return errors.New("lsp.request_timeout must be >= 0")
	}
	if cfg.LSP.StopGrace <= 0 {
		return errors.New("lsp.stop_grace must be > 0")
	}
	if len(cfg.Index.Extensions) == 0 {
		return errors.New("index.extensions must not be empty")
	}
	if cfg.Index.MaxFiles < 1 {
		return errors.New("index.max_files must be >= 1")
	}
	if cfg.Index.CacheMaxSizeMB < 1 {
		return errors.New("index.cache_max_size_mb must be >= 1")
	}
	if cfg.Index.RestartMax < 1 {
		return errors.New("index.restart_max must be >= 1")
	}
	if cfg.Index.DiagnosticDelay < 0 {
		return errors.New("index.diagnostic_delay must be >= 0")
	}
	if cfg.Server.RateLimit < 0 {
		return errors.New("server.rate_limit must be >= 0")
	}
	if cfg.Server.RateLimit > 0 && cfg.Server.RateBurst < 1 {
		return errors.New("server.rate_burst must be >= 1 when rate limiting is enabled")
	}
	switch cfg.MCP.Transport {
	case "stdio", "http":
	default:
		return fmt.Errorf("mcp.transport must be stdio or http, got %q", cfg.MCP.Transport)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// setFields splits a command line on whitespace.
func setFields(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = strings.Fields(v)
	}
}

// setList splits a comma separated list, dropping empty entries.
func setList(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// Overrides carries command-line values. Nil fields leave the loaded
// configuration untouched; CLI values win over YAML and ENV.
type Overrides struct {
	Command       []string
	WorkspaceRoot *string
	LogLevel      *string
	Addr          *string
	Transport     *string
}

// Apply overlays non-nil overrides onto cfg and re-validates it.
func (o Overrides) Apply(cfg *Config) error {
	if len(o.Command) > 0 {
		cfg.LSP.Command = o.Command
	}
	if o.WorkspaceRoot != nil {
		cfg.LSP.WorkspaceRoot = *o.WorkspaceRoot
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
	if o.Addr != nil {
		cfg.Server.Addr = *o.Addr
	}
	if o.Transport != nil {
		cfg.MCP.Transport = *o.Transport
	}
	return validate(cfg)
}
