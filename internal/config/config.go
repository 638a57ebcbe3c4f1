// Package config loads spindle configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all subsystem configuration.
type Config struct {
	Storage     StorageConfig
	Shell       ShellConfig
	Browser     BrowserConfig
	Credentials CredentialsConfig
	Logging     LogConfig
}

// StorageConfig holds the on-disk layout configuration.
type StorageConfig struct {
	// Root is the directory under which sandbox homes live.
	Root string `envconfig:"SPINDLE_ROOT" default:""`
}

// ShellConfig holds shell session configuration.
type ShellConfig struct {
	// Shell is the program spawned for interactive sessions. Empty means
	// $SHELL, falling back to /bin/bash.
	Shell string `envconfig:"SPINDLE_SHELL" default:""`
	// CommandTimeout bounds ExecuteCommand's wait for the completion sentinel.
	CommandTimeout time.Duration `envconfig:"SPINDLE_COMMAND_TIMEOUT" default:"30s"`
	// BufferSize caps each session's accumulated output buffer.
	BufferSize int `envconfig:"SPINDLE_SHELL_BUFFER" default:"1048576"`
}

// BrowserConfig holds HTTP client configuration.
type BrowserConfig struct {
	Timeout      time.Duration `envconfig:"SPINDLE_HTTP_TIMEOUT" default:"30s"`
	MaxRedirects int           `envconfig:"SPINDLE_MAX_REDIRECTS" default:"10"`
	UserAgent    string        `envconfig:"SPINDLE_USER_AGENT" default:"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"`
}

// CredentialsConfig holds the encrypted credential store configuration.
type CredentialsConfig struct {
	// Key is the passphrase the AES key is derived from. The default is a
	// crash-avoidance placeholder, not a security boundary; New logs a
	// warning when it is used.
	Key string `envconfig:"SPINDLE_CREDENTIALS_KEY" default:"spindle-insecure-default-key"`
	// File is the encrypted store path. Empty means <root>/credentials.enc.
	File string `envconfig:"SPINDLE_CREDENTIALS_FILE" default:""`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"SPINDLE_LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"SPINDLE_LOG_DEV" default:"false"`
}

// InsecureDefaultKey reports whether the credential passphrase is still
// the built-in placeholder.
func (c CredentialsConfig) InsecureDefaultKey() bool {
	return c.Key == "spindle-insecure-default-key"
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.applyDerived()
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns defaults.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	cfg := &Config{
		Shell: ShellConfig{
			CommandTimeout: 30 * time.Second,
			BufferSize:     1024 * 1024,
		},
		Browser: BrowserConfig{
			Timeout:      30 * time.Second,
			MaxRedirects: 10,
			UserAgent:    "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		},
		Credentials: CredentialsConfig{
			Key: "spindle-insecure-default-key",
		},
		Logging: LogConfig{
			Level: "info",
		},
	}
	cfg.applyDerived()
	return cfg
}

func (c *Config) applyDerived() {
	if c.Storage.Root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = os.TempDir()
		}
		c.Storage.Root = filepath.Join(home, ".spindle")
	}
	if c.Credentials.File == "" {
		c.Credentials.File = filepath.Join(c.Storage.Root, "credentials.enc")
	}
	if c.Shell.Shell == "" {
		c.Shell.Shell = os.Getenv("SHELL")
		if c.Shell.Shell == "" {
			c.Shell.Shell = "/bin/bash"
		}
	}
}
