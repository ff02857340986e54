package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// fileName is the single configuration file a deployment supplies.
// Unlike the multi-file layout of larger systems, mcpcored has one
// shallow key space and no per-entity registries, so one file suffices.
const fileName = "mcpcore.yaml"

// Load reads fileName from configDir, expands environment variables,
// merges it onto DefaultConfig, and validates the result. It is the
// primary entry point for configuration loading.
func Load(configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("loading configuration")

	cfg, err := load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := NewValidator(cfg).ValidateAll(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("configuration loaded",
		"storage_backend", cfg.Storage.Backend,
		"auth_mode", cfg.Auth.Mode,
		"audit_enabled", cfg.Audit.Enabled)

	return cfg, nil
}

func load(configDir string) (*Config, error) {
	path := filepath.Join(configDir, fileName)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, err
	}

	data = ExpandEnv(data)

	var override Config
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, NewLoadError(fileName, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}

	cfg := DefaultConfig()
	if err := mergo.Merge(cfg, override, mergo.WithOverride); err != nil {
		return nil, NewLoadError(fileName, fmt.Errorf("failed to merge configuration: %w", err))
	}

	return cfg, nil
}
