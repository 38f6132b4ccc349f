package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	ErrFileNotFound = errors.New("configuration file not found")
	ErrEmptyFile    = errors.New("configuration file is empty")
)

// Load reads a configuration file, layers it over Default and applies
// SANDBOXD_* environment overrides. An empty path loads defaults plus
// environment only. Callers layer their own overrides on top and then
// call Validate.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
			}
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if len(data) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrEmptyFile, path)
		}
		if err := decode(data, filepath.Ext(path), cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg, os.Getenv)
	return cfg, nil
}

func decode(data []byte, ext string, cfg *Config) error {
	switch strings.ToLower(ext) {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("config: parse JSON: %w", err)
		}
	default:
		dec := yaml.NewDecoder(strings.NewReader(string(data)))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return fmt.Errorf("config: parse YAML: %w", err)
		}
	}
	return nil
}

// applyEnv overrides file values from the process environment. Only
// commonly overridden knobs are exposed; everything else stays in the
// file.
func applyEnv(cfg *Config, getenv func(string) string) {
	if v := getenv("SANDBOXD_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := getenv("SANDBOXD_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := getenv("SANDBOXD_OAS"); v != "" {
		cfg.OAS = v
	}
	if v := getenv("SANDBOXD_SCENARIOS"); v != "" {
		cfg.Scenarios = v
	}
	if v := getenv("SANDBOXD_SEED"); v != "" {
		cfg.Seed = v
	}
	if v := getenv("SANDBOXD_STORE"); v != "" {
		cfg.Store.Type = v
	}
	if v := getenv("SANDBOXD_STORE_PASSWORD"); v != "" {
		cfg.Store.Network.Password = v
	}
	if v := getenv("SANDBOXD_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := getenv("SANDBOXD_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}
