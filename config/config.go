// Package config reads process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"typeless/log"
)

// Prefix is prepended to every variable name, e.g. TYPELESS_MODELS_DIR.
const Prefix = "typeless"

// Config holds all application configuration.
type Config struct {
	LogPath string `envconfig:"LOG_PATH"`

	// Storage
	ModelsDir        string `envconfig:"MODELS_DIR" default:"~/.typelessOS/models"`
	BundledModelsDir string `envconfig:"BUNDLED_MODELS_DIR"`
	RecordingsDir    string `envconfig:"RECORDINGS_DIR"`
	SettingsPath     string `envconfig:"SETTINGS_PATH" default:"~/.typelessOS/settings.yaml"`

	// Capture
	Device string `envconfig:"DEVICE"`
	Hotkey string `envconfig:"HOTKEY" default:"ctrl+shift+space"`

	// Engine
	Language string `envconfig:"LANGUAGE" default:"en"`
	Threads  uint   `envconfig:"THREADS"`

	// Zero means no limit.
	DownloadTimeout time.Duration `envconfig:"DOWNLOAD_TIMEOUT"`
}

// Load reads an optional .env file, then the environment.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !os.IsNotExist(err) {
		log.Warnf("loading .env file: %v", err)
	}

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	if err := cfg.expand(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) expand() error {
	if c.RecordingsDir == "" {
		c.RecordingsDir = filepath.Join(os.TempDir(), "typeless")
	}
	for _, p := range []*string{&c.ModelsDir, &c.BundledModelsDir, &c.RecordingsDir, &c.SettingsPath, &c.LogPath} {
		v, err := ExpandHome(*p)
		if err != nil {
			return err
		}
		*p = v
	}
	return nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
}

// Usage prints every variable Load understands.
func Usage() error {
	return envconfig.Usage(Prefix, &Config{})
}
