package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// =============================================================================
// Default Config Tests
// =============================================================================

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.DataDir == "" {
		t.Error("DataDir should not be empty")
	}
	if filepath.Base(cfg.DataDir) != ".civicpulse" {
		t.Errorf("DataDir should end with .civicpulse, got %q", cfg.DataDir)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.Host != "localhost" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "localhost")
	}
	if !cfg.Sweep.Enabled {
		t.Error("Sweep.Enabled should be true by default")
	}
	if cfg.Sweep.Interval != 15*time.Minute {
		t.Errorf("Sweep.Interval = %s, want 15m", cfg.Sweep.Interval)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}
}

func TestConfig_Paths(t *testing.T) {
	cfg := &Config{DataDir: "/var/lib/civicpulse", Server: ServerConfig{Host: "0.0.0.0", Port: 9000}}

	if got := cfg.DBPath(); got != "/var/lib/civicpulse/civicpulse.db" {
		t.Errorf("DBPath() = %q", got)
	}
	if got := cfg.Addr(); got != "0.0.0.0:9000" {
		t.Errorf("Addr() = %q", got)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"no data dir", func(c *Config) { c.DataDir = "" }, true},
		{"port zero", func(c *Config) { c.Server.Port = 0 }, true},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }, true},
		{"zero interval", func(c *Config) { c.Sweep.Interval = 0 }, true},
		{"zero interval disabled", func(c *Config) { c.Sweep.Interval = 0; c.Sweep.Enabled = false }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// =============================================================================
// Load Config Tests
// =============================================================================

func TestLoad_NonExistentFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing", "config.json"))
	if err != nil {
		t.Fatalf("Load() error = %v, want nil for non-existent file", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080 (default)", cfg.Server.Port)
	}
}

func TestLoad_EmptyPath(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Sweep.Interval != 15*time.Minute {
		t.Errorf("Sweep.Interval = %s, want default", cfg.Sweep.Interval)
	}
}

func TestLoad_ValidJSONFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	data := `{
		"data_dir": "` + tmpDir + `",
		"server": {"port": 9090, "host": "0.0.0.0"},
		"sweep": {"enabled": false, "interval": "1h"},
		"log": {"level": "debug"}
	}`
	if err := os.WriteFile(configPath, []byte(data), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.DataDir != tmpDir {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, tmpDir)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Sweep.Enabled {
		t.Error("Sweep.Enabled should be false")
	}
	if cfg.Sweep.Interval != time.Hour {
		t.Errorf("Sweep.Interval = %s, want 1h", cfg.Sweep.Interval)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
}

func TestLoad_PartialYAMLFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	data := "server:\n  port: 7000\n"
	if err := os.WriteFile(configPath, []byte(data), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 7000 {
		t.Errorf("Server.Port = %d, want 7000", cfg.Server.Port)
	}
	// Keys absent from the file keep their defaults
	if cfg.Server.Host != "localhost" {
		t.Errorf("Server.Host = %q, want localhost", cfg.Server.Host)
	}
	if !cfg.Sweep.Enabled {
		t.Error("Sweep.Enabled should keep its default")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(configPath, []byte("{not json"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Error("Load() should fail on malformed JSON")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CIVICPULSE_SERVER_PORT", "9191")
	t.Setenv("CIVICPULSE_SWEEP_INTERVAL", "30s")
	t.Setenv("CIVICPULSE_LOG_LEVEL", "warn")

	configPath := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(configPath, []byte(`{"server": {"port": 9090}}`), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9191 {
		t.Errorf("Server.Port = %d, env should win over file", cfg.Server.Port)
	}
	if cfg.Sweep.Interval != 30*time.Second {
		t.Errorf("Sweep.Interval = %s, want 30s", cfg.Sweep.Interval)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want warn", cfg.Log.Level)
	}
}

// =============================================================================
// Save Config Tests
// =============================================================================

func TestSave_RoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "nested", "config.json")

	cfg := &Config{
		DataDir: tmpDir,
		Server:  ServerConfig{Port: 8181, Host: "127.0.0.1"},
		Sweep:   SweepConfig{Enabled: true, Interval: 90 * time.Second},
		Log:     LogConfig{Level: "error"},
	}

	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := os.Stat(configPath); err != nil {
		t.Fatalf("config file not created: %v", err)
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if *loaded != *cfg {
		t.Errorf("round trip mismatch:\n got  %+v\n want %+v", *loaded, *cfg)
	}
}

func TestSave_EmptyPathUsesDataDir(t *testing.T) {
	cfg := Default()
	cfg.DataDir = t.TempDir()

	if err := cfg.Save(""); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.DataDir, "config.json")); err != nil {
		t.Errorf("expected config.json in DataDir: %v", err)
	}
}

func TestConfig_Values(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 9090
	cfg.Sweep.Interval = 5 * time.Minute

	v := cfg.Values()
	if v["data_dir"] != cfg.DataDir {
		t.Errorf("data_dir = %v", v["data_dir"])
	}
	server := v["server"].(map[string]any)
	if server["port"] != 9090 {
		t.Errorf("server.port = %v, want 9090", server["port"])
	}
	sweep := v["sweep"].(map[string]any)
	if sweep["interval"] != "5m0s" {
		t.Errorf("sweep.interval = %v, want 5m0s", sweep["interval"])
	}
}
