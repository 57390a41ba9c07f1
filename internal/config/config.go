// Package config handles CivicPulse configuration.
//
// Values come from built-in defaults, an optional JSON or YAML config file,
// and CIVICPULSE_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. CIVICPULSE_SERVER_PORT.
const EnvPrefix = "CIVICPULSE"

// Config holds all configuration
type Config struct {
	// Paths
	DataDir string `mapstructure:"data_dir"`

	// Server
	Server ServerConfig `mapstructure:"server"`

	// Background lifecycle sweep
	Sweep SweepConfig `mapstructure:"sweep"`

	Log LogConfig `mapstructure:"log"`
}

// ServerConfig for HTTP server
type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
}

// SweepConfig controls the periodic re-evaluation of unsettled reports.
type SweepConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// LogConfig for the logging package
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Default returns default configuration
func Default() *Config {
	home, _ := os.UserHomeDir()

	return &Config{
		DataDir: filepath.Join(home, ".civicpulse"),
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Sweep: SweepConfig{
			Enabled:  true,
			Interval: 15 * time.Minute,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// DBPath is the SQLite database location inside DataDir.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "civicpulse.db")
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Sweep.Enabled && c.Sweep.Interval <= 0 {
		return fmt.Errorf("sweep.interval must be positive, got %s", c.Sweep.Interval)
	}
	return nil
}

func (c *Config) settings() map[string]any {
	return map[string]any{
		"data_dir":       c.DataDir,
		"server.port":    c.Server.Port,
		"server.host":    c.Server.Host,
		"sweep.enabled":  c.Sweep.Enabled,
		"sweep.interval": c.Sweep.Interval.String(),
		"log.level":      c.Log.Level,
	}
}

// Values returns the configuration as nested sections keyed the way the
// config file spells them.
func (c *Config) Values() map[string]any {
	return map[string]any{
		"data_dir": c.DataDir,
		"server": map[string]any{
			"host": c.Server.Host,
			"port": c.Server.Port,
		},
		"sweep": map[string]any{
			"enabled":  c.Sweep.Enabled,
			"interval": c.Sweep.Interval.String(),
		},
		"log": map[string]any{
			"level": c.Log.Level,
		},
	}
}

func newViper() *viper.Viper {
	v := viper.New()
	for key, value := range Default().settings() {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load loads config from file, falling back to defaults
func Load(path string) (*Config, error) {
	v := newViper()

	if path == "" {
		path = filepath.Join(v.GetString("data_dir"), "config.json")
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Save saves config to file. The format follows the file extension.
func (c *Config) Save(path string) error {
	if path == "" {
		path = filepath.Join(c.DataDir, "config.json")
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	v := viper.New()
	for key, value := range c.settings() {
		v.Set(key, value)
	}
	return v.WriteConfigAs(path)
}
