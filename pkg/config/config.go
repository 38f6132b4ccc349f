// Package config defines the server configuration surface: spec and
// scenario locations, store backend selection, validation modes, the
// determinism seed, and chaos injection. Files are YAML or JSON;
// SANDBOXD_* environment variables override file values.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sandboxhq/sandboxd/pkg/chaos"
	"github.com/sandboxhq/sandboxd/pkg/state"
)

// ResponseMode controls response validation: off, warn (log and send
// as-is), or strict (replace with a 500 problem).
type ResponseMode string

const (
	ResponseOff    ResponseMode = "off"
	ResponseWarn   ResponseMode = "warn"
	ResponseStrict ResponseMode = "strict"
)

// UnmarshalYAML accepts the literal false alongside the mode strings.
func (m *ResponseMode) UnmarshalYAML(node *yaml.Node) error {
	var b bool
	if err := node.Decode(&b); err == nil {
		if b {
			return fmt.Errorf("config: validate.responses accepts \"strict\", \"warn\" or false")
		}
		*m = ResponseOff
		return nil
	}
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	switch ResponseMode(s) {
	case ResponseOff, ResponseWarn, ResponseStrict:
		*m = ResponseMode(s)
		return nil
	}
	return fmt.Errorf("config: unknown validate.responses mode %q", s)
}

// Config is the full server configuration.
type Config struct {
	Server    ServerConfig   `yaml:"server" json:"server"`
	OAS       string         `yaml:"oas" json:"oas"`
	Scenarios string         `yaml:"scenarios,omitempty" json:"scenarios,omitempty"`
	Store     StoreConfig    `yaml:"store" json:"store"`
	Validation ValidateConfig `yaml:"validate" json:"validate"`
	Seed      string         `yaml:"seed,omitempty" json:"seed,omitempty"`
	Chaos     chaos.Config   `yaml:"chaos,omitempty" json:"chaos,omitempty"`
	Log       LogConfig      `yaml:"log" json:"log"`

	// Proxy is reserved for the record/replay front-end.
	Proxy map[string]any `yaml:"proxy,omitempty" json:"proxy,omitempty"`
}

type ServerConfig struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`

	// ShutdownTimeout bounds graceful drain on SIGINT/SIGTERM.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout,omitempty" json:"shutdownTimeout,omitempty"`
}

// StoreConfig selects exactly one backend by Type.
type StoreConfig struct {
	Type    string             `yaml:"type" json:"type"`
	Memory  MemoryStoreConfig  `yaml:"memory,omitempty" json:"memory,omitempty"`
	File    FileStoreConfig    `yaml:"file,omitempty" json:"file,omitempty"`
	Network NetworkStoreConfig `yaml:"network,omitempty" json:"network,omitempty"`
}

type MemoryStoreConfig struct {
	MaxSize    int     `yaml:"maxSize,omitempty" json:"maxSize,omitempty"`
	DefaultTTL float64 `yaml:"defaultTtl,omitempty" json:"defaultTtl,omitempty"` // seconds
}

type FileStoreConfig struct {
	Path               string        `yaml:"path" json:"path"`
	CompactionInterval time.Duration `yaml:"compactionInterval,omitempty" json:"compactionInterval,omitempty"`
	SnapshotOnShutdown bool          `yaml:"snapshotOnShutdown,omitempty" json:"snapshotOnShutdown,omitempty"`
}

type NetworkStoreConfig struct {
	Host      string `yaml:"host" json:"host"`
	Port      int    `yaml:"port" json:"port"`
	Password  string `yaml:"password,omitempty" json:"password,omitempty"`
	DB        int    `yaml:"db,omitempty" json:"db,omitempty"`
	KeyPrefix string `yaml:"keyPrefix,omitempty" json:"keyPrefix,omitempty"`
}

type ValidateConfig struct {
	Requests  bool         `yaml:"requests" json:"requests"`
	Responses ResponseMode `yaml:"responses" json:"responses"`
}

type LogConfig struct {
	Level  string `yaml:"level,omitempty" json:"level,omitempty"`
	Format string `yaml:"format,omitempty" json:"format,omitempty"`
}

// Default returns the baseline configuration: in-memory store, request
// validation on, response validation in warn mode.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{Type: "memory"},
		Validation: ValidateConfig{
			Requests:  true,
			Responses: ResponseWarn,
		},
	}
}

// Validate rejects contradictory or incomplete settings. Called once
// at startup; failures are fatal.
func (c *Config) Validate() error {
	if c.OAS == "" {
		return fmt.Errorf("config: oas document path is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	}

	switch c.Store.Type {
	case "", "memory":
		if c.Store.Memory.MaxSize < 0 {
			return fmt.Errorf("config: store.memory.maxSize must be >= 0")
		}
		if c.Store.Memory.DefaultTTL < 0 {
			return fmt.Errorf("config: store.memory.defaultTtl must be >= 0")
		}
	case "file":
		if c.Store.File.Path == "" {
			return fmt.Errorf("config: store.file.path is required")
		}
	case "network":
		if c.Store.Network.Host == "" {
			return fmt.Errorf("config: store.network.host is required")
		}
	default:
		return fmt.Errorf("config: unknown store type %q (want memory, file or network)", c.Store.Type)
	}

	switch c.Validation.Responses {
	case "", ResponseOff, ResponseWarn, ResponseStrict:
	default:
		return fmt.Errorf("config: unknown validate.responses mode %q", c.Validation.Responses)
	}

	if err := c.Chaos.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// BuildStore constructs the configured backend. The caller owns the
// returned store and must Close it on shutdown.
func (c *StoreConfig) BuildStore(lg *slog.Logger) (state.Store, error) {
	switch c.Type {
	case "", "memory":
		return state.NewMemory(state.MemoryConfig{
			MaxSize:    c.Memory.MaxSize,
			DefaultTTL: time.Duration(c.Memory.DefaultTTL * float64(time.Second)),
		}), nil
	case "file":
		return state.NewFile(state.FileConfig{
			Path:               c.File.Path,
			CompactionInterval: c.File.CompactionInterval,
			SnapshotOnShutdown: c.File.SnapshotOnShutdown,
			Logger:             lg,
		})
	case "network":
		return state.NewValkey(state.ValkeyConfig{
			Host:      c.Network.Host,
			Port:      c.Network.Port,
			Password:  c.Network.Password,
			DB:        c.Network.DB,
			KeyPrefix: c.Network.KeyPrefix,
			Logger:    lg,
		})
	default:
		return nil, fmt.Errorf("config: unknown store type %q", c.Type)
	}
}
