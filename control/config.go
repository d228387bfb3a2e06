// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Session configuration: defaults, YAML file loading and validation.

package control

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds parameters immutable per run.
type Config struct {
	Display     string            `yaml:"display"`      // Socket name or path; empty uses WAYLAND_DISPLAY
	Required    []string          `yaml:"required"`     // Interfaces that must be bound after the first round-trip
	PollTimeout time.Duration     `yaml:"poll_timeout"` // Reactor wait timeout; negative blocks
	MaxEvents   int               `yaml:"max_events"`   // Ready events collected per reactor wait
	Debug       bool              `yaml:"debug"`        // Emit debug: log lines
	Versions    map[string]uint32 `yaml:"versions"`     // Per-interface version pin overrides
}

// DefaultConfig returns default configuration values.
func DefaultConfig() *Config {
	return &Config{
		Required:    []string{"wl_compositor"},
		PollTimeout: -1,
		MaxEvents:   32,
	}
}

// DefaultConfigPath returns $XDG_CONFIG_HOME/hioload-wl/config.yaml,
// falling back to ~/.config.
func DefaultConfigPath() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "hioload-wl", "config.yaml"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "hioload-wl", "config.yaml"), nil
}

// LoadConfig reads path over the defaults. An empty path or a missing file
// yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read: %w", path, err)
	}
	if err := cfg.decode(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig decodes YAML over the defaults and validates the result.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := cfg.decode(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// Validate checks field ranges.
func (c *Config) Validate() error {
	if c.MaxEvents <= 0 {
		return fmt.Errorf("max_events must be positive, got %d", c.MaxEvents)
	}
	seen := make(map[string]struct{}, len(c.Required))
	for i, iface := range c.Required {
		if strings.TrimSpace(iface) == "" {
			return fmt.Errorf("required[%d]: empty interface name", i)
		}
		if _, dup := seen[iface]; dup {
			return fmt.Errorf("required[%d]: duplicate interface %q", i, iface)
		}
		seen[iface] = struct{}{}
	}
	for iface, v := range c.Versions {
		if v == 0 {
			return fmt.Errorf("versions.%s: version must be at least 1", iface)
		}
	}
	return nil
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
