package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/thyrook/shogisolver/internal/usi"
	"github.com/thyrook/shogisolver/internal/vision"
)

const (
	// EngineEnv overrides the configured engine path
	EngineEnv = "SHOGI_ENGINE"

	// DefaultEnginePath is used when neither a flag, EngineEnv nor the
	// config file names an engine
	DefaultEnginePath = "./YaneuraOu-mate"
)

// Config represents the application configuration
type Config struct {
	AppName   string          `json:"app_name"`
	Vision    *vision.Config  `json:"vision"`
	Engine    EngineConfig    `json:"engine"`
	Storage   StorageConfig   `json:"storage"`
	Interface InterfaceConfig `json:"interface"`
}

// EngineConfig contains USI engine settings
type EngineConfig struct {
	Path          string       `json:"path"`
	Args          []string     `json:"args,omitempty"`
	Options       []usi.Option `json:"options,omitempty"`
	MateTimeoutMs int          `json:"mate_timeout_ms"`
	HintTimeMs    int          `json:"hint_time_ms"` // next-move search when there is no mate; 0 disables
}

// MateTimeout returns the mate search limit
func (e EngineConfig) MateTimeout() time.Duration {
	return time.Duration(e.MateTimeoutMs) * time.Millisecond
}

// HintTime returns the next-move search time
func (e EngineConfig) HintTime() time.Duration {
	return time.Duration(e.HintTimeMs) * time.Millisecond
}

// StorageConfig contains result cache settings
type StorageConfig struct {
	DBPath         string `json:"db_path"` // empty disables the cache
	ExportParallel int    `json:"export_parallel"`
}

// InterfaceConfig contains output and logging settings
type InterfaceConfig struct {
	LogLevel  string `json:"log_level"`
	LogPath   string `json:"log_path"` // empty logs to stdout only
	OutputDir string `json:"output_dir"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		AppName: "shogi-solver",
		Vision:  vision.DefaultConfig(),
		Engine: EngineConfig{
			Path:          DefaultEnginePath,
			MateTimeoutMs: 5000,
		},
		Storage: StorageConfig{
			DBPath:         "data/results.db",
			ExportParallel: 4,
		},
		Interface: InterfaceConfig{
			LogLevel:  "info",
			LogPath:   "",
			OutputDir: "out",
		},
	}
}

// Load reads and parses the configuration file. Missing fields keep their
// default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Vision == nil {
		cfg.Vision = vision.DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads path, falling back to the defaults when the file
// cannot be read or is invalid
func LoadOrDefault(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		return DefaultConfig()
	}
	return cfg
}

// Save writes the configuration to a file
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Vision == nil {
		return fmt.Errorf("missing vision config")
	}
	if err := c.Vision.Validate(); err != nil {
		return fmt.Errorf("vision: %w", err)
	}

	if c.Engine.MateTimeoutMs < 0 {
		return fmt.Errorf("invalid mate timeout: %dms", c.Engine.MateTimeoutMs)
	}
	if c.Engine.HintTimeMs < 0 {
		return fmt.Errorf("invalid hint time: %dms", c.Engine.HintTimeMs)
	}
	for _, opt := range c.Engine.Options {
		if strings.TrimSpace(opt.Name) == "" {
			return fmt.Errorf("engine option without a name")
		}
	}

	if c.Storage.ExportParallel < 0 {
		return fmt.Errorf("invalid export parallelism: %d", c.Storage.ExportParallel)
	}

	switch strings.ToLower(c.Interface.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level: %s", c.Interface.LogLevel)
	}

	return nil
}

// EnginePath resolves the engine binary: an explicit value wins, then the
// SHOGI_ENGINE environment variable, then the configured path, then
// DefaultEnginePath
func (c *Config) EnginePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if env := os.Getenv(EngineEnv); env != "" {
		return env
	}
	if c.Engine.Path != "" {
		return c.Engine.Path
	}
	return DefaultEnginePath
}

// EnsureDirectories creates the parent directories of every configured path
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Interface.OutputDir}
	if c.Interface.LogPath != "" {
		dirs = append(dirs, filepath.Dir(c.Interface.LogPath))
	}
	if c.Storage.DBPath != "" {
		dirs = append(dirs, filepath.Dir(c.Storage.DBPath))
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
