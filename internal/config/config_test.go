package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestLoad(t *testing.T) {
	// Create a temporary config file
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "test_config.yaml")

	configContent := `
server:
  port: 9999
origin: "https://totp.example.com"
cache:
  version: "cache-v2"
  backend: "sqlite"
  folder: "./test_cache"
manifest:
  - "/"
  - "/index.html"
`

	err := os.WriteFile(configFile, []byte(configContent), 0644)
	if err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	config, err := Load(configFile)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if config.Server.Port != 9999 {
		t.Errorf("Expected port 9999, got %d", config.Server.Port)
	}

	if config.Cache.Version != "cache-v2" {
		t.Errorf("Expected version 'cache-v2', got '%s'", config.Cache.Version)
	}

	if config.Cache.Backend != BackendSQLite {
		t.Errorf("Expected backend 'sqlite', got '%s'", config.Cache.Backend)
	}

	if len(config.Manifest) != 2 {
		t.Errorf("Expected 2 manifest entries, got %d", len(config.Manifest))
	}

	// Absent keys keep their defaults
	if config.Cache.MaxSizeMB != 64 {
		t.Errorf("Expected default max_size_mb 64, got %d", config.Cache.MaxSizeMB)
	}
	if config.LogLevel != "info" {
		t.Errorf("Expected default log level 'info', got '%s'", config.LogLevel)
	}

	if err := config.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Expected error for missing config file")
	}
}

func TestDefaultIsValid(t *testing.T) {
	config := Default()
	if err := config.Validate(); err != nil {
		t.Fatalf("Default config should be valid: %v", err)
	}
	if len(config.Manifest) != 4 {
		t.Errorf("Expected 4 default manifest entries, got %d", len(config.Manifest))
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.Server.Port = -1 },
			wantErr: true,
		},
		{
			name:    "relative origin",
			mutate:  func(c *Config) { c.Origin = "/app" },
			wantErr: true,
		},
		{
			name:    "empty version",
			mutate:  func(c *Config) { c.Cache.Version = "" },
			wantErr: true,
		},
		{
			name:    "version with path separator",
			mutate:  func(c *Config) { c.Cache.Version = "../v1" },
			wantErr: true,
		},
		{
			name:    "invalid backend",
			mutate:  func(c *Config) { c.Cache.Backend = "redis" },
			wantErr: true,
		},
		{
			name:    "memory backend without size",
			mutate:  func(c *Config) { c.Cache.Backend = BackendMemory; c.Cache.MaxSizeMB = 0 },
			wantErr: true,
		},
		{
			name:    "empty manifest",
			mutate:  func(c *Config) { c.Manifest = nil },
			wantErr: true,
		},
		{
			name:    "CA cert without key",
			mutate:  func(c *Config) { c.Server.HTTPS.CACertFile = "ca.pem" },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.LogLevel = "loud" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.mutate(&config)
			err := config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetLogLevel(t *testing.T) {
	config := Config{LogLevel: "debug"}

	level, err := config.GetLogLevel()
	if err != nil {
		t.Fatalf("GetLogLevel() error = %v", err)
	}

	if level != logrus.DebugLevel {
		t.Errorf("GetLogLevel() = %v, want %v", level, logrus.DebugLevel)
	}
}

func TestDump(t *testing.T) {
	config := Default()

	out, err := config.Dump()
	if err != nil {
		t.Fatalf("Dump() error = %v", err)
	}

	// A dumped config must load back to the same values
	configFile := filepath.Join(t.TempDir(), "dumped.yaml")
	if err := os.WriteFile(configFile, []byte(out), 0644); err != nil {
		t.Fatalf("Failed to write dumped config: %v", err)
	}
	loaded, err := Load(configFile)
	if err != nil {
		t.Fatalf("Failed to load dumped config: %v", err)
	}
	if loaded.Cache.Version != config.Cache.Version || loaded.Origin != config.Origin {
		t.Errorf("Dumped config did not load back: %+v", loaded)
	}
}
