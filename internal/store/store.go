// Package store persists the active-item snapshot as a single cookie.
//
// The blob lives under one cookie name scoped to the tracked page's origin
// and is written with a far-future expiry; the registry handles expiry on
// its own. Reads and writes go through a cookies.Jar, normally a
// cookies.Remote that crosses the bridge to the background process.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/ptw/internal/codec"
	"github.com/fyrsmithlabs/ptw/internal/cookies"
	"github.com/fyrsmithlabs/ptw/internal/registry"
	"golang.org/x/time/rate"
)

const (
	// DefaultCookieName is the cookie holding the blob.
	DefaultCookieName = "ptw:data"
	// FarFutureExpiry is the cookie expiration date in epoch seconds.
	FarFutureExpiry int64 = 9000000000
)

// ErrDecode is returned when the stored blob cannot be decoded.
var ErrDecode = errors.New("stored snapshot is corrupt")

// Persister loads and saves snapshots.
type Persister interface {
	Load(ctx context.Context) (registry.State, error)
	Save(ctx context.Context, snapshot registry.State) error
}

// Option configures a Store.
type Option func(*Store)

// WithCookieName overrides DefaultCookieName.
func WithCookieName(name string) Option {
	return func(s *Store) {
		s.name = name
	}
}

// WithWriteLimit caps writes to perMinute with the given burst.
// perMinute <= 0 disables limiting.
func WithWriteLimit(perMinute, burst int) Option {
	return func(s *Store) {
		if perMinute <= 0 {
			s.limiter = nil
			return
		}
		s.limiter = rate.NewLimiter(rate.Limit(float64(perMinute)/60), burst)
	}
}

// Store is a Persister backed by a cookie jar.
type Store struct {
	jar     cookies.Jar
	url     string
	name    string
	limiter *rate.Limiter
}

// New creates a store for the page at url.
func New(jar cookies.Jar, url string, opts ...Option) *Store {
	s := &Store{
		jar:     jar,
		url:     url,
		name:    DefaultCookieName,
		limiter: rate.NewLimiter(rate.Limit(2), 10),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load returns the stored snapshot, or an empty one when nothing is stored.
func (s *Store) Load(ctx context.Context) (registry.State, error) {
	blob, ok, err := s.jar.Get(ctx, s.url, s.name)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.name, err)
	}
	if !ok || blob == "" {
		return registry.State{}, nil
	}

	snapshot, err := codec.Decode(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return snapshot, nil
}

// Save encodes snapshot and overwrites the stored blob.
func (s *Store) Save(ctx context.Context, snapshot registry.State) error {
	blob, err := codec.Encode(snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("write quota: %w", err)
		}
	}

	err = s.jar.Set(ctx, cookies.Cookie{
		URL:            s.url,
		Name:           s.name,
		Value:          blob,
		ExpirationDate: FarFutureExpiry,
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", s.name, err)
	}
	return nil
}
