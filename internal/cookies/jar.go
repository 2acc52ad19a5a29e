// Package cookies implements the privileged cookie jar behind the bridge.
//
// Cookies are scoped to the origin (scheme and host) of the URL they are set
// for. A cookie whose expiration date has passed reads as absent. An
// expiration date of zero marks a session cookie that never expires here.
package cookies

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/facebookgo/clock"
)

// Errors for jar operations.
var (
	ErrInvalidURL  = errors.New("cookie url must be absolute")
	ErrInvalidName = errors.New("cookie name is required")
)

// Cookie is one stored value.
type Cookie struct {
	URL   string `json:"url"`
	Name  string `json:"name"`
	Value string `json:"value"`
	// ExpirationDate is in epoch seconds; 0 never expires.
	ExpirationDate int64 `json:"expirationDate,omitempty"`
}

// Jar stores cookies by origin and name.
type Jar interface {
	// Get returns the value of a live cookie and whether it was found.
	Get(ctx context.Context, rawURL, name string) (string, bool, error)
	// Set creates or overwrites a cookie.
	Set(ctx context.Context, c Cookie) error
	Close() error
}

// Origin reduces rawURL to its lowercase scheme://host[:port].
func Origin(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), nil
}

func expired(expiresAt int64, clk clock.Clock) bool {
	return expiresAt > 0 && expiresAt <= clk.Now().Unix()
}

func validate(c Cookie) (string, error) {
	if c.Name == "" {
		return "", ErrInvalidName
	}
	return Origin(c.URL)
}

// MemoryJar keeps cookies in process memory.
type MemoryJar struct {
	mu      sync.RWMutex
	clock   clock.Clock
	cookies map[string]map[string]Cookie // origin -> name -> cookie
}

// NewMemoryJar creates an empty in-memory jar.
func NewMemoryJar(clk clock.Clock) *MemoryJar {
	if clk == nil {
		clk = clock.New()
	}
	return &MemoryJar{clock: clk, cookies: make(map[string]map[string]Cookie)}
}

// Get implements Jar.
func (j *MemoryJar) Get(_ context.Context, rawURL, name string) (string, bool, error) {
	origin, err := Origin(rawURL)
	if err != nil {
		return "", false, err
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	c, ok := j.cookies[origin][name]
	if !ok || expired(c.ExpirationDate, j.clock) {
		return "", false, nil
	}
	return c.Value, true, nil
}

// Set implements Jar.
func (j *MemoryJar) Set(_ context.Context, c Cookie) error {
	origin, err := validate(c)
	if err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	byName, ok := j.cookies[origin]
	if !ok {
		byName = make(map[string]Cookie)
		j.cookies[origin] = byName
	}
	byName[c.Name] = c
	return nil
}

// Close implements Jar.
func (j *MemoryJar) Close() error { return nil }

// Open returns a SQLite jar at path, or a memory jar for "" and ":memory:".
func Open(path string, clk clock.Clock) (Jar, error) {
	if path == "" || path == ":memory:" {
		return NewMemoryJar(clk), nil
	}
	return OpenSQLite(path, clk)
}
