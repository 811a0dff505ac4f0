package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/GetRighhttt/HandlingNetworkConnectivity/internal/mock"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return cfgPath
}

func TestLoad(t *testing.T) {
	cfgPath := writeConfig(t, `
server:
  port: 9090
  host: "0.0.0.0"
  auth_token: secret
  allowed_origins:
    - "https://status.example.com"
source:
  kind: mock
  poll_interval: 5s
  ignore:
    - "tailscale*"
  mock:
    interval: 250ms
    seed: 42
    interfaces:
      - name: eth0
        pattern: periodic
        period: 4
log:
  level: debug
  format: json
history:
  enabled: true
  dir: /var/lib/reachd
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.AuthToken != "secret" {
		t.Errorf("Server.AuthToken = %q, want %q", cfg.Server.AuthToken, "secret")
	}
	if len(cfg.Server.AllowedOrigins) != 1 {
		t.Errorf("Server.AllowedOrigins = %v, want one entry", cfg.Server.AllowedOrigins)
	}
	if cfg.Source.Kind != SourceMock {
		t.Errorf("Source.Kind = %q, want %q", cfg.Source.Kind, SourceMock)
	}
	if cfg.Source.PollInterval != 5*time.Second {
		t.Errorf("Source.PollInterval = %v, want 5s", cfg.Source.PollInterval)
	}
	if len(cfg.Source.Ignore) != 1 || cfg.Source.Ignore[0] != "tailscale*" {
		t.Errorf("Source.Ignore = %v, want [tailscale*]", cfg.Source.Ignore)
	}
	if cfg.Source.Mock.Seed != 42 || cfg.Source.Mock.Interval != 250*time.Millisecond {
		t.Errorf("Source.Mock = %+v", cfg.Source.Mock)
	}
	if len(cfg.Source.Mock.Interfaces) != 1 || cfg.Source.Mock.Interfaces[0].Period != 4 {
		t.Errorf("Source.Mock.Interfaces = %+v", cfg.Source.Mock.Interfaces)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v", cfg.Log)
	}

	if !cfg.History.Enabled || cfg.History.Dir != "/var/lib/reachd" {
		t.Errorf("History = %+v", cfg.History)
	}

	// Defaults should still be applied for unspecified fields.
	if cfg.Source.FastPollInterval != 500*time.Millisecond {
		t.Errorf("Source.FastPollInterval = %v, want default 500ms", cfg.Source.FastPollInterval)
	}
	if cfg.Source.FailureThreshold != 3 {
		t.Errorf("Source.FailureThreshold = %d, want default 3", cfg.Source.FailureThreshold)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics = %+v, want enabled at /metrics", cfg.Metrics)
	}
	if cfg.History.MaxEntries != 256 || cfg.History.SaveInterval != 30*time.Second {
		t.Errorf("History = %+v, want default limits", cfg.History)
	}
	if cfg.Server.ClientBuffer != 16 {
		t.Errorf("Server.ClientBuffer = %d, want default 16", cfg.Server.ClientBuffer)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("Load() on missing file should return error")
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, err := LoadOrDefault("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("LoadOrDefault() error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want default 8080", cfg.Server.Port)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want default %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Source.Kind != SourcePoll {
		t.Errorf("Source.Kind = %q, want default %q", cfg.Source.Kind, SourcePoll)
	}
	if cfg.Addr() != "127.0.0.1:8080" {
		t.Errorf("Addr() = %q, want %q", cfg.Addr(), "127.0.0.1:8080")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	cfgPath := writeConfig(t, ":::not valid yaml")

	_, err := Load(cfgPath)
	if err == nil {
		t.Fatal("Load() with invalid YAML should return error")
	}
}

func TestLoadOrDefaultInvalidYAML(t *testing.T) {
	cfgPath := writeConfig(t, ":::not valid yaml")

	if _, err := LoadOrDefault(cfgPath); err == nil {
		t.Fatal("LoadOrDefault() should only ignore missing files")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad_port", func(c *Config) { c.Server.Port = 70000 }},
		{"bad_kind", func(c *Config) { c.Source.Kind = "netlink" }},
		{"zero_poll", func(c *Config) { c.Source.PollInterval = 0 }},
		{"fast_slower_than_normal", func(c *Config) { c.Source.FastPollInterval = time.Minute }},
		{"bad_ignore", func(c *Config) { c.Source.Ignore = []string{"[eth"} }},
		{"unnamed_mock_iface", func(c *Config) {
			c.Source.Mock.Interfaces = []MockInterfaceConfig{{Pattern: "steady"}}
		}},
		{"bad_mock_pattern", func(c *Config) {
			c.Source.Mock.Interfaces = []MockInterfaceConfig{{Name: "eth0", Pattern: "sometimes"}}
		}},
		{"bad_level", func(c *Config) { c.Log.Level = "loud" }},
		{"bad_format", func(c *Config) { c.Log.Format = "xml" }},
		{"bad_metrics_path", func(c *Config) { c.Metrics.Path = "metrics" }},
		{"history_without_entries", func(c *Config) {
			c.History.Enabled = true
			c.History.MaxEntries = 0
		}},
		{"zero_buffer", func(c *Config) { c.Server.ClientBuffer = 0 }},
		{"negative_max_connections", func(c *Config) { c.Server.MaxConnections = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cfgPath := writeConfig(t, `
source:
  kind: carrier-pigeon
`)
	if _, err := Load(cfgPath); err == nil {
		t.Fatal("Load() should validate the parsed config")
	}
}

func TestLoadExampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config.example.yaml"))
	if err != nil {
		t.Fatalf("Load(config.example.yaml) error: %v", err)
	}
	if cfg.Source.Kind != SourcePoll {
		t.Errorf("Source.Kind = %q, want %q", cfg.Source.Kind, SourcePoll)
	}
	if len(cfg.Source.Mock.Interfaces) != 3 {
		t.Errorf("Source.Mock.Interfaces = %d entries, want 3", len(cfg.Source.Mock.Interfaces))
	}
}

func TestValidateAcceptsEveryMockPattern(t *testing.T) {
	for _, p := range mock.Patterns {
		cfg := defaultConfig()
		cfg.Source.Mock.Interfaces = []MockInterfaceConfig{{Name: "eth0", Pattern: p}}
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() with pattern %q: %v", p, err)
		}
	}
}
