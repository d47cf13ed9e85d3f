package main

import (
	"io"
	"testing"
	"time"

	"github.com/watt-toolkit/strand/pkg/strand/server"
)

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := parseConfig(nil, env(nil), io.Discard)
	if err != nil {
		t.Fatalf("parseConfig failed: %v", err)
	}
	def := server.DefaultConfig()
	if cfg.Addr != ":8080" || cfg.Mode != server.ModeWorkerPool || cfg.Workers != def.Workers {
		t.Errorf("defaults = %+v", cfg)
	}
	if !cfg.Compress || cfg.ServerName != "strand" {
		t.Errorf("defaults = %+v", cfg)
	}
}

func TestParseConfigOverrides(t *testing.T) {
	vars := map[string]string{
		"STRAND_ADDR":         ":9000",
		"STRAND_MODE":         "per-conn",
		"STRAND_IDLE_TIMEOUT": "3s",
		"STRAND_COMPRESS":     "false",
	}
	cfg, err := parseConfig([]string{"-addr", ":7000", "-max-requests", "10"}, env(vars), io.Discard)
	if err != nil {
		t.Fatalf("parseConfig failed: %v", err)
	}

	if cfg.Addr != ":7000" {
		t.Errorf("Addr = %q, flag should win over environment", cfg.Addr)
	}
	if cfg.Mode != server.ModePerConn {
		t.Errorf("Mode = %v, want per-conn", cfg.Mode)
	}
	if cfg.IdleTimeout != 3*time.Second {
		t.Errorf("IdleTimeout = %v, want 3s", cfg.IdleTimeout)
	}
	if cfg.Compress {
		t.Error("Compress not disabled by environment")
	}
	if cfg.MaxRequests != 10 {
		t.Errorf("MaxRequests = %d, want 10", cfg.MaxRequests)
	}
}

func TestParseConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		vars map[string]string
	}{
		{"unknown mode", []string{"-mode", "event-loop"}, nil},
		{"zero workers", []string{"-workers", "0"}, nil},
		{"bad env duration", nil, map[string]string{"STRAND_READ_TIMEOUT": "soon"}},
		{"unknown flag", []string{"-http2"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseConfig(tt.args, env(tt.vars), io.Discard); err == nil {
				t.Error("parseConfig succeeded")
			}
		})
	}
}

func TestEnvName(t *testing.T) {
	if got := envName("metrics-addr"); got != "STRAND_METRICS_ADDR" {
		t.Errorf("envName = %q", got)
	}
}
