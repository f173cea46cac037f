package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/Faultbox/scenekit/internal/logger"
)

// Load loads configuration with priority: defaults < file < flags.
func Load() (*Config, error) {
	cfg := Default()

	path := ConfigPath()
	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", path, err)
		}
	}

	applyFlags(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// findConfigFile returns the first existing config in the search path:
// the working directory, then ConfigDir.
func findConfigFile() string {
	for _, path := range []string{fileName, filepath.Join(ConfigDir(), fileName)} {
		if st, err := os.Stat(path); err == nil && !st.IsDir() {
			return path
		}
	}
	return ""
}

// ConfigDir returns the OS-appropriate config directory.
func ConfigDir() string {
	switch runtime.GOOS {
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "scenekit")
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "scenekit")
	default: // Linux and others
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "scenekit")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "scenekit")
	}
}

// loadFromFile merges the YAML file at path into cfg. Unknown keys are
// rejected so a misspelt setting does not silently fall back to its
// default. An empty file leaves cfg unchanged.
func loadFromFile(cfg *Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate reports settings no tool can run with.
func (c *Config) Validate() error {
	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if c.Import.MaxSourceMB < 0 {
		return fmt.Errorf("import.max_source_mb: must not be negative")
	}
	if c.PostProcess.Epsilon < 0 {
		return fmt.Errorf("post_process.epsilon: must not be negative")
	}
	if c.Harness.Workers < 1 {
		return fmt.Errorf("harness.workers: need at least one worker")
	}
	if _, err := c.PostProcess.ParsedFlags(); err != nil {
		return fmt.Errorf("post_process.flags: %w", err)
	}
	return nil
}
