// Package config provides configuration loading for ptw.
//
// Configuration is loaded from a YAML file, overridden by PTW_* environment
// variables, and completed with defaults. It covers the HTTP server, the
// message bridge, the cookie jar, the settings channel and the tracker itself.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Config holds the complete ptw configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Tracker  TrackerConfig  `koanf:"tracker"`
	Bridge   BridgeConfig   `koanf:"bridge"`
	Cookies  CookiesConfig  `koanf:"cookies"`
	Settings SettingsConfig `koanf:"settings"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP server configuration for `ptw serve`.
type ServerConfig struct {
	Host            string        `koanf:"http_host"`
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// TrackerConfig holds the page-side tracker configuration.
type TrackerConfig struct {
	Origin          string        `koanf:"origin"`
	CookieName      string        `koanf:"cookie_name"`
	SweepInterval   time.Duration `koanf:"sweep_interval"`
	SaveDebounce    time.Duration `koanf:"save_debounce"`
	ItemSelector    string        `koanf:"item_selector"`
	CounterSelector string        `koanf:"counter_selector"`
	IDMarker        string        `koanf:"id_marker"`
	LabelAttr       string        `koanf:"label_attr"`

	// RefreshOnActivate stamps a record's timestamp when its count goes 0 -> 1.
	RefreshOnActivate bool `koanf:"refresh_on_activate"`

	// WritesPerMinute caps blob writes to the synced store.
	WritesPerMinute int `koanf:"writes_per_minute"`
}

// BridgeConfig holds message bridge configuration.
type BridgeConfig struct {
	URL      string        `koanf:"url"`
	Subject  string        `koanf:"subject"`
	Timeout  time.Duration `koanf:"timeout"`
	Embedded bool          `koanf:"embedded"`
	Host     string        `koanf:"host"`
	Port     int           `koanf:"port"`
}

// CookiesConfig holds the background cookie jar configuration.
// An empty path or ":memory:" selects the in-memory jar.
type CookiesConfig struct {
	Path string `koanf:"path"`
}

// SettingsConfig holds the synced settings file configuration.
type SettingsConfig struct {
	Path           string `koanf:"path"`
	DefaultTimeout int    `koanf:"default_timeout"`
}

// LoggingConfig selects log level and encoding.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Default returns a configuration populated only with defaults.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Validate validates the configuration.
//
// Returns an error if:
//   - Server port is not between 1 and 65535
//   - Shutdown timeout is not positive
//   - Tracker origin is not an absolute URL
//   - Sweep interval or save debounce is not positive
//   - Default timeout is not a positive number of minutes
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	u, err := url.Parse(c.Tracker.Origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid tracker origin: %q", c.Tracker.Origin)
	}
	if c.Tracker.CookieName == "" {
		return errors.New("tracker cookie name is required")
	}
	if c.Tracker.SweepInterval <= 0 {
		return errors.New("sweep interval must be positive")
	}
	if c.Tracker.SaveDebounce <= 0 {
		return errors.New("save debounce must be positive")
	}
	if c.Tracker.WritesPerMinute < 0 {
		return fmt.Errorf("writes per minute must be >= 0, got %d", c.Tracker.WritesPerMinute)
	}

	if c.Bridge.Timeout <= 0 {
		return errors.New("bridge timeout must be positive")
	}
	if c.Bridge.Subject == "" {
		return errors.New("bridge subject is required")
	}

	if c.Settings.DefaultTimeout < 1 {
		return fmt.Errorf("default timeout must be >= 1 minute, got %d", c.Settings.DefaultTimeout)
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging format must be 'json' or 'console', got %q", c.Logging.Format)
	}

	return nil
}
