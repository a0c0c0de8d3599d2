package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/thyrook/shogisolver/internal/shogi"
	"github.com/thyrook/shogisolver/internal/usi"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.AppName != "shogi-solver" {
		t.Errorf("Expected AppName 'shogi-solver', got %s", cfg.AppName)
	}

	if cfg.Engine.MateTimeout().Seconds() != 5 {
		t.Errorf("Expected 5s mate timeout, got %v", cfg.Engine.MateTimeout())
	}

	if cfg.Engine.HintTime() != 0 {
		t.Errorf("Expected next-move hints off by default, got %v", cfg.Engine.HintTime())
	}

	if cfg.Vision.Thresholds.LineCoverage != 1.0 {
		t.Errorf("Expected full band agreement by default, got %f", cfg.Vision.Thresholds.LineCoverage)
	}

	if cfg.Engine.Path != DefaultEnginePath {
		t.Errorf("Expected engine path %s, got %s", DefaultEnginePath, cfg.Engine.Path)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config failed validation: %v", err)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name      string
		modifyFn  func(*Config)
		expectErr bool
	}{
		{"Valid config", func(c *Config) {}, false},
		{"Missing vision", func(c *Config) { c.Vision = nil }, true},
		{"Bad vision", func(c *Config) { c.Vision.FPS = 0 }, true},
		{"Negative mate timeout", func(c *Config) { c.Engine.MateTimeoutMs = -1 }, true},
		{"Negative hint time", func(c *Config) { c.Engine.HintTimeMs = -1 }, true},
		{"Hint enabled", func(c *Config) { c.Engine.HintTimeMs = 1000 }, false},
		{"Unnamed option", func(c *Config) { c.Engine.Options = []usi.Option{{Name: " ", Value: "1"}} }, true},
		{"Named option", func(c *Config) { c.Engine.Options = []usi.Option{{Name: "USI_Hash", Value: "256"}} }, false},
		{"Negative parallelism", func(c *Config) { c.Storage.ExportParallel = -2 }, true},
		{"Unknown log level", func(c *Config) { c.Interface.LogLevel = "verbose" }, true},
		{"Upper case log level", func(c *Config) { c.Interface.LogLevel = "DEBUG" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modifyFn(cfg)

			err := cfg.Validate()
			if tt.expectErr && err == nil {
				t.Error("Expected validation error, got nil")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("Expected no error, got: %v", err)
			}
		})
	}
}

func TestConfigSaveLoad(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.json")

	cfg := DefaultConfig()
	cfg.AppName = "TestApp"
	cfg.Engine.Options = []usi.Option{{Name: "Threads", Value: "2"}}
	cfg.Vision.DirectTray = shogi.Gote

	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if loaded.AppName != "TestApp" {
		t.Errorf("Expected AppName 'TestApp', got %s", loaded.AppName)
	}
	if len(loaded.Engine.Options) != 1 || loaded.Engine.Options[0].Name != "Threads" {
		t.Errorf("Expected Threads option, got %v", loaded.Engine.Options)
	}
	if loaded.Vision.DirectTray != shogi.Gote {
		t.Errorf("Expected gote tray, got %s", loaded.Vision.DirectTray)
	}
}

func TestLoadPartial(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(configPath, []byte(`{"engine": {"path": "/opt/engine"}}`), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Engine.Path != "/opt/engine" {
		t.Errorf("Expected /opt/engine, got %s", cfg.Engine.Path)
	}
	// sibling fields of a partially given section keep their defaults
	if cfg.Engine.MateTimeoutMs != 5000 {
		t.Errorf("Expected default mate timeout, got %d", cfg.Engine.MateTimeoutMs)
	}
	if cfg.Vision == nil || cfg.Vision.PieceSize.Width != 100 {
		t.Errorf("Expected default vision config, got %v", cfg.Vision)
	}
}

func TestLoadOrDefault(t *testing.T) {
	cfg := LoadOrDefault("nonexistent.json")
	if cfg == nil {
		t.Fatal("LoadOrDefault returned nil")
	}
	if cfg.AppName != "shogi-solver" {
		t.Error("LoadOrDefault did not return default config")
	}

	configPath := filepath.Join(t.TempDir(), "config.json")
	testCfg := DefaultConfig()
	testCfg.AppName = "CustomName"
	if err := testCfg.Save(configPath); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	loaded := LoadOrDefault(configPath)
	if loaded.AppName != "CustomName" {
		t.Error("LoadOrDefault did not load existing config")
	}
}

func TestEnginePath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine.Path = "/configured/engine"

	t.Setenv(EngineEnv, "")
	if got := cfg.EnginePath("/flag/engine"); got != "/flag/engine" {
		t.Errorf("Expected flag path, got %s", got)
	}
	if got := cfg.EnginePath(""); got != "/configured/engine" {
		t.Errorf("Expected configured path, got %s", got)
	}

	t.Setenv(EngineEnv, "/env/engine")
	if got := cfg.EnginePath(""); got != "/env/engine" {
		t.Errorf("Expected env path, got %s", got)
	}
	if got := cfg.EnginePath("/flag/engine"); got != "/flag/engine" {
		t.Errorf("Expected flag to beat env, got %s", got)
	}

	t.Setenv(EngineEnv, "")
	cfg.Engine.Path = ""
	if got := cfg.EnginePath(""); got != DefaultEnginePath {
		t.Errorf("Expected default path, got %s", got)
	}
}

func TestEnsureDirectories(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := DefaultConfig()
	cfg.Interface.LogPath = filepath.Join(tmpDir, "logs", "test.log")
	cfg.Interface.OutputDir = filepath.Join(tmpDir, "out")
	cfg.Storage.DBPath = filepath.Join(tmpDir, "data", "results.db")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("Failed to ensure directories: %v", err)
	}

	dirs := []string{
		filepath.Join(tmpDir, "logs"),
		filepath.Join(tmpDir, "out"),
		filepath.Join(tmpDir, "data"),
	}
	for _, dir := range dirs {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			t.Errorf("Directory was not created: %s", dir)
		}
	}
}
