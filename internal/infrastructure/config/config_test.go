package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "/tmp/aliases.db"
resolver:
  reopen_policy: reuse
  blacklist: ["cameras.*"]
  default_server: "bench-2:28265"
servers:
  lab: "10.0.0.5:28265"
instruments:
  scope:
    visa_address: "TCPIP::10.0.0.9::5025::SOCKET"
  meter:
    module: powermeters.thorlabs
    serial: "P0012345"
visa:
  timeout_ms: 500
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Path != "/tmp/aliases.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/aliases.db")
	}
	if cfg.Resolver.ReopenPolicy != "reuse" {
		t.Errorf("Resolver.ReopenPolicy = %q, want reuse", cfg.Resolver.ReopenPolicy)
	}
	if len(cfg.Resolver.Blacklist) != 1 || cfg.Resolver.Blacklist[0] != "cameras.*" {
		t.Errorf("Resolver.Blacklist = %v", cfg.Resolver.Blacklist)
	}
	if cfg.Servers["lab"] != "10.0.0.5:28265" {
		t.Errorf("Servers[lab] = %q", cfg.Servers["lab"])
	}
	if got := cfg.Instruments["meter"]["serial"]; got != "P0012345" {
		t.Errorf("Instruments[meter][serial] = %v", got)
	}
	if cfg.VISATimeout() != 500*time.Millisecond {
		t.Errorf("VISATimeout() = %v, want 500ms", cfg.VISATimeout())
	}
	// Untouched sections keep their defaults.
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT.Broker.Port = %d, want default 1883", cfg.MQTT.Broker.Port)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.Resolver.ReopenPolicy != "strict" {
		t.Errorf("ReopenPolicy = %q, want strict", cfg.Resolver.ReopenPolicy)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid: [yaml: content")
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "resolver:\n  reopen_policy: strict\n")
	t.Setenv("INSTRUMENTAL_REOPEN_POLICY", "new")
	t.Setenv("INSTRUMENTAL_DATABASE_PATH", "/var/lib/instrumental/aliases.db")
	t.Setenv("INSTRUMENTAL_VISA_TIMEOUT_MS", "750")
	t.Setenv("INSTRUMENTAL_API_TOKEN_SECRET", "s3cret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Resolver.ReopenPolicy != "new" {
		t.Errorf("ReopenPolicy = %q, want new", cfg.Resolver.ReopenPolicy)
	}
	if cfg.Database.Path != "/var/lib/instrumental/aliases.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.VISA.TimeoutMS != 750 {
		t.Errorf("VISA.TimeoutMS = %d, want 750", cfg.VISA.TimeoutMS)
	}
	if cfg.API.TokenSecret != "s3cret" {
		t.Errorf("API.TokenSecret = %q, want s3cret", cfg.API.TokenSecret)
	}
}

func TestDefaultPath(t *testing.T) {
	t.Setenv(EnvConfigPath, "/etc/instrumental.yaml")
	if got := DefaultPath(); got != "/etc/instrumental.yaml" {
		t.Errorf("DefaultPath() = %q, want env value", got)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"empty database path", func(c *Config) { c.Database.Path = "" }, true},
		{"unknown policy", func(c *Config) { c.Resolver.ReopenPolicy = "sometimes" }, true},
		{"policy case", func(c *Config) { c.Resolver.ReopenPolicy = " Reuse " }, false},
		{"bad glob", func(c *Config) { c.Resolver.Blacklist = []string{"cameras.["} }, true},
		{"empty server address", func(c *Config) { c.Servers = map[string]string{"lab": ""} }, true},
		{"empty instrument", func(c *Config) { c.Instruments = map[string]map[string]any{"x": {}} }, true},
		{"negative timeout", func(c *Config) { c.VISA.TimeoutMS = -1 }, true},
		{"qos too high", func(c *Config) { c.MQTT.QoS = 3 }, true},
		{"mqtt port ignored when disabled", func(c *Config) { c.MQTT.Broker.Port = 0 }, false},
		{"mqtt port", func(c *Config) { c.MQTT.Enabled = true; c.MQTT.Broker.Port = 0 }, true},
		{"influx without url", func(c *Config) { c.InfluxDB.Enabled = true }, true},
		{"api enabled", func(c *Config) { c.API.Enabled = true }, false},
		{"api without listen", func(c *Config) { c.API.Enabled = true; c.API.Listen = "" }, true},
		{"api zero ping", func(c *Config) { c.API.Enabled = true; c.API.WebSocket.PingInterval = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
