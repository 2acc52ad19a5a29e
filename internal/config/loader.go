package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	envPrefix = "PTW_"
)

// Load loads configuration from a YAML file, then overrides with environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (PTW_TRACKER_SWEEP_INTERVAL, PTW_BRIDGE_URL, etc.)
//  2. YAML config file (~/.config/ptw/config.yaml)
//  3. Hardcoded defaults
//
// The configPath parameter specifies the YAML file to load. If empty, uses the
// default path. A missing file is not an error.
//
// # Security Considerations
//
// The configuration file MUST have 0600 or 0400 permissions and must live in
// ~/.config/ptw/ or /etc/ptw/. Files larger than 1MB are rejected.
//
// # Environment Variable Mapping
//
// The PTW_ prefix is stripped and the first underscore separates the section:
//
//	PTW_SERVER_HTTP_PORT       -> server.http_port
//	PTW_TRACKER_SWEEP_INTERVAL -> tracker.sweep_interval
//	PTW_BRIDGE_URL             -> bridge.url
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		dir, err := Dir()
		if err != nil {
			return nil, err
		}
		configPath = filepath.Join(dir, "config.yaml")
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		// Open once and validate through the descriptor to avoid a TOCTOU race
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if err := validateConfigFileProperties(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// envKey maps PTW_SECTION_FIELD_NAME to section.field_name.
// Only the first underscore after the prefix separates the section.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// Dir returns the ptw configuration directory (~/.config/ptw).
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "ptw"), nil
}

// EnsureDir creates the ptw config directory with 0700 permissions.
func EnsureDir() error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	return nil
}

// validateConfigPath checks if path is in allowed directories.
// This validation runs even if the file doesn't exist yet.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		// Path may not exist yet
		resolvedPath = absPath
	}

	dir, err := Dir()
	if err != nil {
		return err
	}

	allowedDirs := []string{dir, "/etc/ptw"}
	for _, allowed := range allowedDirs {
		if strings.HasPrefix(resolvedPath, allowed) {
			return nil
		}
	}

	return fmt.Errorf("config file must be in ~/.config/ptw/ or /etc/ptw/")
}

// validateConfigFileProperties checks file permissions and size.
func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}

	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9190
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	// Tracker defaults mirror the trade site markup
	if cfg.Tracker.Origin == "" {
		cfg.Tracker.Origin = "https://poe.trade"
	}
	if cfg.Tracker.CookieName == "" {
		cfg.Tracker.CookieName = "ptw:data"
	}
	if cfg.Tracker.SweepInterval == 0 {
		cfg.Tracker.SweepInterval = 10 * time.Second
	}
	if cfg.Tracker.SaveDebounce == 0 {
		cfg.Tracker.SaveDebounce = time.Second
	}
	if cfg.Tracker.ItemSelector == "" {
		cfg.Tracker.ItemSelector = ".item"
	}
	if cfg.Tracker.CounterSelector == "" {
		cfg.Tracker.CounterSelector = "ul.proplist .whisper-btn"
	}
	if cfg.Tracker.IDMarker == "" {
		cfg.Tracker.IDMarker = "item-live"
	}
	if cfg.Tracker.LabelAttr == "" {
		cfg.Tracker.LabelAttr = "ign"
	}
	if cfg.Tracker.WritesPerMinute == 0 {
		cfg.Tracker.WritesPerMinute = 120
	}

	// Bridge defaults
	if cfg.Bridge.Subject == "" {
		cfg.Bridge.Subject = "ptw.bridge"
	}
	if cfg.Bridge.Timeout == 0 {
		cfg.Bridge.Timeout = 10 * time.Second
	}
	if cfg.Bridge.Host == "" {
		cfg.Bridge.Host = "127.0.0.1"
	}
	if cfg.Bridge.Port == 0 {
		cfg.Bridge.Port = 4250
	}
	if cfg.Bridge.URL == "" {
		cfg.Bridge.URL = fmt.Sprintf("nats://%s:%d", cfg.Bridge.Host, cfg.Bridge.Port)
	}

	dir, err := Dir()
	if err != nil {
		dir = "."
	}

	if cfg.Cookies.Path == "" {
		cfg.Cookies.Path = filepath.Join(dir, "cookies.db")
	}

	if cfg.Settings.Path == "" {
		cfg.Settings.Path = filepath.Join(dir, "settings.yaml")
	}
	if cfg.Settings.DefaultTimeout == 0 {
		cfg.Settings.DefaultTimeout = 5
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}
