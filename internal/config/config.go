// Package config loads poptoggle server configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Config holds the server configuration.
type Config struct {
	// Port is the HTTP listen port.
	Port int `json:"port" yaml:"port"`
	// Hostname is the HTTP listen address.
	Hostname string `json:"hostname" yaml:"hostname"`
	// SurfaceDir is the directory holding surface backing content and uploads.
	SurfaceDir string `json:"surfaceDir" yaml:"surfaceDir"`
	// BridgeTimeoutMS bounds a single live-bridge call, in milliseconds.
	BridgeTimeoutMS int `json:"bridgeTimeoutMs" yaml:"bridgeTimeoutMs"`
	// OpenBrowser launches a local browser window on show.
	OpenBrowser bool `json:"openBrowser" yaml:"openBrowser"`
	// EnableCORS enables permissive CORS on all routes.
	EnableCORS bool `json:"enableCors" yaml:"enableCors"`
	// LogLevel is one of DEBUG, INFO, WARN, ERROR, FATAL.
	LogLevel string `json:"logLevel" yaml:"logLevel"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Port:            8642,
		Hostname:        "127.0.0.1",
		SurfaceDir:      defaultSurfaceDir(),
		BridgeTimeoutMS: 3000,
		OpenBrowser:     true,
		EnableCORS:      true,
		LogLevel:        "INFO",
	}
}

// BridgeTimeout returns the bridge call bound as a duration.
func (c *Config) BridgeTimeout() time.Duration {
	return time.Duration(c.BridgeTimeoutMS) * time.Millisecond
}

func defaultSurfaceDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".poptoggle"
	}
	return filepath.Join(home, ".poptoggle", "surfaces")
}

// Load builds the configuration from defaults, config files in the given
// directory (and the user config directory), and environment variables, in
// that priority order.
//
// Recognized files: poptoggle.json, poptoggle.jsonc, poptoggle.yaml.
func Load(directory string) (*Config, error) {
	cfg := Default()

	dirs := []string{}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".config", "poptoggle"))
	}
	if directory != "" {
		dirs = append(dirs, directory)
	}

	for _, dir := range dirs {
		for _, name := range []string{"poptoggle.json", "poptoggle.jsonc", "poptoggle.yaml"} {
			path := filepath.Join(dir, name)
			if err := loadFile(path, cfg); err != nil && !os.IsNotExist(err) {
				return nil, fmt.Errorf("load %s: %w", path, err)
			}
		}
	}

	applyEnv(cfg)

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", cfg.Port)
	}

	return cfg, nil
}

// loadFile merges one config file into cfg. Missing files return the
// underlying os.IsNotExist error.
func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		// Strip JSONC comments before decoding.
		return json.Unmarshal(jsonc.ToJSON(data), cfg)
	}
}

// applyEnv overrides config fields from POPTOGGLE_* environment variables.
func applyEnv(cfg *Config) {
	if v := os.Getenv("POPTOGGLE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := os.Getenv("POPTOGGLE_HOSTNAME"); v != "" {
		cfg.Hostname = v
	}
	if v := os.Getenv("POPTOGGLE_SURFACE_DIR"); v != "" {
		cfg.SurfaceDir = v
	}
	if v := os.Getenv("POPTOGGLE_BRIDGE_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.BridgeTimeoutMS = ms
		}
	}
	if v := os.Getenv("POPTOGGLE_OPEN_BROWSER"); v != "" {
		cfg.OpenBrowser = isTruthy(v)
	}
	if v := os.Getenv("POPTOGGLE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
