// Package config loads dwarf-rewrite configuration files.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	dwarfrewrite "github.com/blacktop/go-dwarfrewrite"
)

var validLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "error": true, "disabled": true,
}

// Load reads the YAML file at path over the default configuration. An empty
// path or a missing file yields the defaults.
func Load(path string) (dwarfrewrite.Config, error) {
	cfg := dwarfrewrite.DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration over the defaults.
func Parse(data []byte) (dwarfrewrite.Config, error) {
	cfg := dwarfrewrite.DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, Validate(cfg)
}

// Validate checks the values a file or the command line may get wrong.
func Validate(cfg dwarfrewrite.Config) error {
	if cfg.Jobs < 0 {
		return fmt.Errorf("invalid jobs %d: must not be negative", cfg.Jobs)
	}
	if cfg.Verbosity < 0 {
		return fmt.Errorf("invalid verbosity %d: must not be negative", cfg.Verbosity)
	}
	if cfg.Output == "" && cfg.WriteDWP {
		return fmt.Errorf("write_dwp needs an output name")
	}
	if cfg.Log.Level != "" && !validLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level %q", cfg.Log.Level)
	}
	return nil
}
