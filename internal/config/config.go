package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/sirupsen/logrus"
	yamlv3 "gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig `yaml:"server"`
	Origin   string       `yaml:"origin"`
	Cache    CacheConfig  `yaml:"cache"`
	Manifest []string     `yaml:"manifest"`
	LogLevel string       `yaml:"log_level"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Port        int         `yaml:"port"`
	MetricsPort int         `yaml:"metrics_port"`
	HTTPS       HTTPSConfig `yaml:"https"`
}

// HTTPSConfig contains TLS interception configuration
type HTTPSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	CACertFile string `yaml:"ca_cert_file"`
	CAKeyFile  string `yaml:"ca_key_file"`
}

// CacheConfig contains cache-related configuration
type CacheConfig struct {
	// Version names the current cache generation. Bump it whenever the manifest changes.
	Version     string `yaml:"version"`
	Backend     string `yaml:"backend"` // "disk", "memory" or "sqlite"
	Folder      string `yaml:"folder"`
	MaxSizeMB   int    `yaml:"max_size_mb"`
	Concurrency int    `yaml:"concurrency"`
}

const (
	BackendDisk   = "disk"
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Default returns the configuration used when a key is absent from the file
func Default() Config {
	return Config{
		Server: ServerConfig{Port: 8080},
		Origin: "http://localhost:3000",
		Cache: CacheConfig{
			Version:   "totp-manager-cache-v1",
			Backend:   BackendDisk,
			Folder:    "./cache",
			MaxSizeMB: 64,
		},
		Manifest: []string{
			"/",
			"/index.html",
			"/manifest.json",
			"https://cdnjs.cloudflare.com/ajax/libs/jsOTP/2.0.0/jsOTP.min.js",
		},
		LogLevel: "info",
	}
}

// Load loads configuration from a YAML file on top of the defaults
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "yaml"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := k.UnmarshalWithConf("", &config, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	return &config, nil
}

// Dump renders the effective configuration as YAML
func (c *Config) Dump() (string, error) {
	b, err := yamlv3.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("rendering config: %w", err)
	}
	return string(b), nil
}

// GetOrigin parses the origin used to resolve relative manifest entries
func (c *Config) GetOrigin() (*url.URL, error) {
	u, err := url.Parse(c.Origin)
	if err != nil {
		return nil, err
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("origin must be an absolute URL, got: %q", c.Origin)
	}
	return u, nil
}

// GetLogLevel parses the configured log level
func (c *Config) GetLogLevel() (logrus.Level, error) {
	return logrus.ParseLevel(c.LogLevel)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.Server.MetricsPort)
	}

	if (c.Server.HTTPS.CACertFile == "") != (c.Server.HTTPS.CAKeyFile == "") {
		return fmt.Errorf("https CA certificate and key must be set together")
	}

	if _, err := c.GetOrigin(); err != nil {
		return fmt.Errorf("invalid origin: %w", err)
	}

	if c.Cache.Version == "" {
		return fmt.Errorf("cache version is required")
	}
	if strings.ContainsAny(c.Cache.Version, `/\`) || strings.Contains(c.Cache.Version, "..") {
		return fmt.Errorf("cache version must not contain path elements, got: %s", c.Cache.Version)
	}

	switch c.Cache.Backend {
	case BackendDisk:
		if c.Cache.Folder == "" {
			return fmt.Errorf("cache folder is required")
		}
	case BackendSQLite:
		if c.Cache.Folder == "" {
			return fmt.Errorf("cache folder is required")
		}
	case BackendMemory:
		if c.Cache.MaxSizeMB <= 0 {
			return fmt.Errorf("cache max_size_mb must be positive, got: %d", c.Cache.MaxSizeMB)
		}
	default:
		return fmt.Errorf("cache backend must be 'disk', 'memory' or 'sqlite', got: %s", c.Cache.Backend)
	}

	if c.Cache.Concurrency < 0 {
		return fmt.Errorf("invalid cache concurrency: %d", c.Cache.Concurrency)
	}

	if len(c.Manifest) == 0 {
		return fmt.Errorf("manifest must list at least one URL")
	}
	for _, entry := range c.Manifest {
		if _, err := url.Parse(entry); err != nil || entry == "" {
			return fmt.Errorf("invalid manifest entry %q", entry)
		}
	}

	if _, err := c.GetLogLevel(); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	return nil
}
