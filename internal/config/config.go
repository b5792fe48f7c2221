// Package config loads the Reactor's startup configuration from a
// key=value text file (# comments, unknown keys ignored) per spec.md
// §6, with defaults and a positional-CLI override layered on top.
// Structurally grounded on the teacher's internal/config/config.go
// Load/validate/applyDefaults three-step shape; the decode step is
// swapped from gopkg.in/yaml.v3 (the teacher's format) to
// github.com/joho/godotenv, which parses exactly the KEY=VALUE +
// #-comment grammar spec.md mandates (see DESIGN.md and SPEC_FULL.md
// §6.1).
package config

import (
	"fmt"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds the Reactor's startup parameters.
type Config struct {
	Port           int
	MaxConnections int
	ThreadCount    int
}

// Defaults mirror spec.md §6.
const (
	DefaultPort           = 8080
	DefaultMaxConnections = 1000
	DefaultThreadCount    = 4
)

// Load reads path as a key=value file (# comments, blank lines and
// unknown keys ignored) and applies defaults for any key not present.
// A missing path ("") is not an error: defaults apply in full.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Port:           DefaultPort,
		MaxConnections: DefaultMaxConnections,
		ThreadCount:    DefaultThreadCount,
	}

	if path == "" {
		return cfg, nil
	}

	values, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := applyOverrides(cfg, values); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// applyOverrides parses the recognized keys out of values, ignoring
// any key not named by spec.md §6. A malformed numeric value for a
// recognized key is an error.
func applyOverrides(cfg *Config, values map[string]string) error {
	if v, ok := values["port"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: invalid port %q: %w", v, err)
		}
		cfg.Port = n
	}
	if v, ok := values["max_connections"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: invalid max_connections %q: %w", v, err)
		}
		cfg.MaxConnections = n
	}
	if v, ok := values["thread_count"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: invalid thread_count %q: %w", v, err)
		}
		cfg.ThreadCount = n
	}
	return nil
}

// validate rejects configurations that cannot start the Reactor.
func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.MaxConnections <= 0 {
		return fmt.Errorf("max_connections must be positive, got %d", c.MaxConnections)
	}
	if c.ThreadCount <= 0 {
		return fmt.Errorf("thread_count must be positive, got %d", c.ThreadCount)
	}
	return nil
}

// ApplyPositionalOverride applies the CLI collaborator's
// `port max_connections thread_count` positional arguments on top of
// an already-loaded Config, per spec.md §6. A zero value for any of
// the three leaves the corresponding field untouched.
func ApplyPositionalOverride(cfg *Config, port, maxConnections, threadCount int) error {
	if port != 0 {
		cfg.Port = port
	}
	if maxConnections != 0 {
		cfg.MaxConnections = maxConnections
	}
	if threadCount != 0 {
		cfg.ThreadCount = threadCount
	}
	return cfg.validate()
}
