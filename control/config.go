// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Startup configuration: a key=value text file with # comments, unknown
// keys ignored, plus positional command-line overrides.

package control

import (
	"fmt"
	"strconv"

	"github.com/spf13/viper"
)

// Config is the startup configuration.
type Config struct {
	Port           int
	MaxConnections int
	ThreadCount    int
	LogLevel       string
	MetricsAddr    string
}

// Default returns the documented defaults.
func Default() Config {
	return Config{
		Port:           8080,
		MaxConnections: 1000,
		ThreadCount:    4,
		LogLevel:       "info",
	}
}

// Load reads path as a properties file (key=value, # comments) over the
// defaults. An empty path returns the defaults. Unknown keys are ignored.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("properties")
	v.SetDefault("port", cfg.Port)
	v.SetDefault("max_connections", cfg.MaxConnections)
	v.SetDefault("thread_count", cfg.ThreadCount)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("metrics_addr", cfg.MetricsAddr)

	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg.Port = v.GetInt("port")
	cfg.MaxConnections = v.GetInt("max_connections")
	cfg.ThreadCount = v.GetInt("thread_count")
	cfg.LogLevel = v.GetString("log_level")
	cfg.MetricsAddr = v.GetString("metrics_addr")
	return cfg, cfg.Validate()
}

// ApplyArgs overrides port, max_connections and thread_count from up to
// three positional arguments, in that order.
func (c *Config) ApplyArgs(args []string) error {
	fields := []struct {
		name string
		dst  *int
	}{
		{"port", &c.Port},
		{"max_connections", &c.MaxConnections},
		{"thread_count", &c.ThreadCount},
	}
	for i, arg := range args {
		if i >= len(fields) {
			break
		}
		n, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("invalid %s: %q", fields[i].name, arg)
		}
		*fields[i].dst = n
	}
	return c.Validate()
}

// Validate rejects values the server cannot start with.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Port)
	}
	if c.MaxConnections <= 0 {
		return fmt.Errorf("max_connections must be positive: %d", c.MaxConnections)
	}
	if c.ThreadCount <= 0 {
		return fmt.Errorf("thread_count must be positive: %d", c.ThreadCount)
	}
	return nil
}
