// Package settings is the synced settings channel shared by every tracker.
//
// Settings live in a small YAML file. The only key is "timeout", the number
// of minutes after which a whisper count resets. Writers replace the file
// atomically; readers see either the old or the new document.
package settings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/fyrsmithlabs/ptw/internal/logging"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"go.uber.org/zap"
)

// KeyTimeout is the settings key for the expiry timeout in minutes.
const KeyTimeout = "timeout"

// DefaultTimeout applies when no positive timeout is stored.
const DefaultTimeout = 5

// ErrInvalidTimeout is returned for timeouts that are not positive integers.
var ErrInvalidTimeout = errors.New("timeout must be a positive whole number of minutes")

// Store reads and writes the settings file.
type Store struct {
	path           string
	defaultTimeout int
	logger         *logging.Logger

	mu sync.Mutex
}

// New creates a store for the file at path. defaultTimeout < 1 means DefaultTimeout.
func New(path string, defaultTimeout int, logger *logging.Logger) *Store {
	if defaultTimeout < 1 {
		defaultTimeout = DefaultTimeout
	}
	return &Store{
		path:           path,
		defaultTimeout: defaultTimeout,
		logger:         logger.Component("settings"),
	}
}

// Path returns the settings file path.
func (s *Store) Path() string {
	return s.path
}

// Timeout returns the stored timeout, or the default when the file or key
// is missing or holds a non-positive value.
func (s *Store) Timeout(ctx context.Context) (int, error) {
	k, err := s.read()
	if err != nil {
		return 0, err
	}
	return s.timeoutFrom(ctx, k), nil
}

// SetTimeout stores minutes as the timeout.
func (s *Store) SetTimeout(ctx context.Context, minutes int) error {
	if minutes < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidTimeout, minutes)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k, err := s.read()
	if err != nil {
		return err
	}
	if err := k.Set(KeyTimeout, minutes); err != nil {
		return fmt.Errorf("set %s: %w", KeyTimeout, err)
	}
	if err := s.write(k); err != nil {
		return err
	}

	s.logger.Info(ctx, "timeout updated", zap.Int("minutes", minutes))
	return nil
}

// Install seeds the settings with the default timeout.
// It runs when the extension is installed or updated.
func (s *Store) Install(ctx context.Context) error {
	return s.SetTimeout(ctx, s.defaultTimeout)
}

// ParseTimeoutInput validates a timeout typed by the user.
func ParseTimeoutInput(input string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeout, input)
	}
	if n < 1 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidTimeout, n)
	}
	return n, nil
}

func (s *Store) timeoutFrom(ctx context.Context, k *koanf.Koanf) int {
	if !k.Exists(KeyTimeout) {
		return s.defaultTimeout
	}
	n := k.Int(KeyTimeout)
	if n < 1 {
		s.logger.Warn(ctx, "ignoring invalid stored timeout",
			zap.String("value", k.String(KeyTimeout)), zap.Int("default", s.defaultTimeout))
		return s.defaultTimeout
	}
	return n
}

func (s *Store) read() (*koanf.Koanf, error) {
	k := koanf.New(".")
	content, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return k, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to parse settings %s: %w", s.path, err)
	}
	return k, nil
}

func (s *Store) write(k *koanf.Koanf) error {
	out, err := k.Marshal(yaml.Parser())
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".settings-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp settings: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close settings: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace settings: %w", err)
	}
	return nil
}
