// Package registry tracks whisper counts per listed item.
//
// The registry is an in-memory map from item id to Record. Records are
// created the first time an item is seen, incremented on whisper clicks and
// reset to zero by the expiry sweep. They are never deleted in normal
// operation; the whole map is replaced only when state is hydrated from the
// persistent store.
//
// Time is read from an injected clock so sweeps can be driven by a mock.
package registry

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/facebookgo/clock"
)

// Errors for registry operations.
var (
	ErrEmptyID = errors.New("item id is empty")
)

// Record is the tracking state of one listing.
type Record struct {
	// Whispers is the number of whispers sent since the last reset.
	Whispers int `json:"w"`
	// Updated is epoch milliseconds, set at creation.
	Updated int64 `json:"d"`
}

// Active reports whether the record has a nonzero whisper count.
func (r Record) Active() bool {
	return r.Whispers > 0
}

// UpdatedAt returns Updated as a time.Time.
func (r Record) UpdatedAt() time.Time {
	return time.UnixMilli(r.Updated)
}

// State maps item ids to records.
type State map[string]Record

// Clone returns a copy of s. A nil state clones to an empty one.
func (s State) Clone() State {
	out := make(State, len(s))
	for id, rec := range s {
		out[id] = rec
	}
	return out
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock sets the clock used for timestamps and expiry.
func WithClock(c clock.Clock) Option {
	return func(r *Registry) {
		r.clock = c
	}
}

// WithRefreshOnActivate stamps Updated when a record's count goes from 0 to 1.
func WithRefreshOnActivate(enabled bool) Option {
	return func(r *Registry) {
		r.refreshOnActivate = enabled
	}
}

// Registry holds item records keyed by id.
type Registry struct {
	mu                sync.RWMutex
	items             State
	clock             clock.Clock
	refreshOnActivate bool
}

// New creates a registry hydrated with initial. A nil initial yields an empty registry.
func New(initial State, opts ...Option) *Registry {
	r := &Registry{clock: clock.New()}
	for _, opt := range opts {
		opt(r)
	}
	r.ReplaceState(initial)
	return r
}

// AddItem creates a record for id with the given whisper count if id is not
// already tracked. It reports whether a record was created; an existing record
// is left untouched.
func (r *Registry) AddItem(id string, whispers int) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.items[id]; ok {
		return rec, false
	}
	if whispers < 0 {
		whispers = 0
	}
	rec := Record{Whispers: whispers, Updated: r.nowMillis()}
	r.items[id] = rec
	return rec, true
}

// HasItem reports whether id is tracked.
func (r *Registry) HasItem(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.items[id]
	return ok
}

// Item returns the record for id.
func (r *Registry) Item(id string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.items[id]
	return rec, ok
}

// AddWhisper increments the whisper count of id by one and returns the
// updated record. Updated is not touched unless refresh-on-activate is set
// and the record was inactive. An absent id returns false and changes nothing.
func (r *Registry) AddWhisper(id string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.items[id]
	if !ok {
		return Record{}, false
	}
	if r.refreshOnActivate && rec.Whispers == 0 {
		rec.Updated = r.nowMillis()
	}
	rec.Whispers++
	r.items[id] = rec
	return rec, true
}

// UniqueItems returns a copy of the records with a nonzero whisper count.
func (r *Registry) UniqueItems() State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(State)
	for id, rec := range r.items {
		if rec.Active() {
			out[id] = rec
		}
	}
	return out
}

// ResetExpiredItems zeroes every active record whose Updated plus timeout
// minutes lies strictly before now. Inactive records are skipped. The ids
// that were reset are returned in sorted order.
func (r *Registry) ResetExpiredItems(timeoutMinutes int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	timeout := time.Duration(timeoutMinutes) * time.Minute

	var expired []string
	for id, rec := range r.items {
		if !rec.Active() {
			continue
		}
		if now.After(rec.UpdatedAt().Add(timeout)) {
			rec.Whispers = 0
			r.items[id] = rec
			expired = append(expired, id)
		}
	}
	sort.Strings(expired)
	return expired
}

// ReplaceState swaps the whole map for a copy of data. Nil resets to empty.
func (r *Registry) ReplaceState(data State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = data.Clone()
}

// Len returns the number of tracked items.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// ValidateID rejects ids that cannot key a record.
func ValidateID(id string) error {
	if id == "" {
		return ErrEmptyID
	}
	return nil
}

func (r *Registry) nowMillis() int64 {
	return r.clock.Now().UnixMilli()
}
