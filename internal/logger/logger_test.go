package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/Strob0t/lspindex/internal/config"
)

func TestNew(t *testing.T) {
	cfg := config.Logging{Level: "debug", Service: "test-svc"}
	l, closer := New(cfg)
	defer closer.Close()
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNewAsync(t *testing.T) {
	cfg := config.Logging{Level: "debug", Service: "test-svc", Async: true}
	l, closer := New(cfg)
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
	closer.Close()
	closer.Close()
}

func TestNewWithWriter_ServiceAndContextAttrs(t *testing.T) {
	var buf bytes.Buffer
	l, closer := NewWithWriter(config.Logging{Level: "info", Service: "lspindex"}, &buf)
	defer closer.Close()

	ctx := WithURI(WithRunID(WithRequestID(context.Background(), "req-9"), "run-1"), "file:///a.c")
	l.InfoContext(ctx, "indexed")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if rec["service"] != "lspindex" {
		t.Errorf("expected service attr, got %v", rec["service"])
	}
	if rec["run_id"] != "run-1" {
		t.Errorf("expected run_id attr, got %v", rec["run_id"])
	}
	if rec["uri"] != "file:///a.c" {
		t.Errorf("expected uri attr, got %v", rec["uri"])
	}
	if rec["request_id"] != "req-9" {
		t.Errorf("expected request_id attr, got %v", rec["request_id"])
	}
}

func TestNewWithWriter_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l, closer := NewWithWriter(config.Logging{Level: "warn"}, &buf)
	defer closer.Close()

	l.Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("info should be filtered at warn level, got %q", buf.String())
	}
}

func TestContextAccessorsEmpty(t *testing.T) {
	ctx := context.Background()
	if RunID(ctx) != "" || URI(ctx) != "" || RequestID(ctx) != "" {
		t.Error("expected empty values on bare context")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"debug", "DEBUG"},
		{"info", "INFO"},
		{"warn", "WARN"},
		{"warning", "WARN"},
		{"ERROR", "ERROR"},
		{"unknown", "INFO"},
		{"", "INFO"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseLevel(tt.input).String()
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}
