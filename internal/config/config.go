// Package config handles reading and writing .qascout/config.yaml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level structure for .qascout/config.yaml.
type Config struct {
	Version int           `yaml:"version"`
	Backend BackendConfig `yaml:"backend"`
	Stream  StreamConfig  `yaml:"stream"`
	Export  ExportConfig  `yaml:"export"`
}

// BackendConfig holds connection settings for the QA backend.
type BackendConfig struct {
	BaseURL        string `yaml:"base_url"`
	RequestTimeout int    `yaml:"request_timeout"` // seconds, per request/response call
	HealthTimeout  int    `yaml:"health_timeout"`  // seconds, health check only
}

// StreamConfig controls verification stream behaviour.
type StreamConfig struct {
	// IdleTimeout is the number of seconds the verification stream may go
	// without delivering a record before the run is aborted. Guards against
	// a backend that dies mid-stream and never closes the connection.
	IdleTimeout int `yaml:"idle_timeout"`
}

// ExportConfig controls how generated test code is written to disk.
type ExportConfig struct {
	Filename string `yaml:"filename"`
}

// configFileName is the path relative to the working directory.
const configDir = ".qascout"
const configFile = "config.yaml"

// ReadConfig reads .qascout/config.yaml from the given directory.
// dir is the working directory (not .qascout/ itself).
// Returns an error if the file is not found or YAML is malformed.
func ReadConfig(dir string) (*Config, error) {
	path := filepath.Join(dir, configDir, configFile)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return &cfg, nil
}

// WriteConfig writes cfg to .qascout/config.yaml in the given directory.
// Creates the .qascout/ directory if it does not exist.
func WriteConfig(dir string, cfg *Config) error {
	dirPath := filepath.Join(dir, configDir)
	if err := os.MkdirAll(dirPath, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}

	path := filepath.Join(dirPath, configFile)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: 1,
		Backend: BackendConfig{
			BaseURL:        "http://localhost:5000",
			RequestTimeout: 180,
			HealthTimeout:  10,
		},
		Stream: StreamConfig{
			IdleTimeout: 300,
		},
		Export: ExportConfig{
			Filename: "generated_test.py",
		},
	}
}

// RequestTimeout returns the per-request timeout as a duration,
// falling back to the default when unset or invalid.
func (c *Config) RequestTimeout() time.Duration {
	if c.Backend.RequestTimeout <= 0 {
		return 180 * time.Second
	}
	return time.Duration(c.Backend.RequestTimeout) * time.Second
}

// HealthTimeout returns the health check timeout as a duration,
// falling back to the default when unset or invalid.
func (c *Config) HealthTimeout() time.Duration {
	if c.Backend.HealthTimeout <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Backend.HealthTimeout) * time.Second
}

// StreamIdleTimeout returns the stream idle timeout as a duration,
// falling back to the default when unset or invalid.
func (c *Config) StreamIdleTimeout() time.Duration {
	if c.Stream.IdleTimeout <= 0 {
		return 300 * time.Second
	}
	return time.Duration(c.Stream.IdleTimeout) * time.Second
}
