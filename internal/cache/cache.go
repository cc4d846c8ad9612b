// Package cache provides the shared in-process key-value store backing
// engagement counters and hot upstream query results. It is the only state
// intentionally shared across requests.
package cache

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

// Key is an ordered sequence of segments joined deterministically, so the
// same logical key always maps to the same entry regardless of caller.
type Key []string

// NewKey builds a hierarchical key from string and integer segments.
func NewKey(segments ...any) Key {
	key := make(Key, 0, len(segments))
	for _, segment := range segments {
		switch value := segment.(type) {
		case string:
			key = append(key, value)
		case int:
			key = append(key, strconv.Itoa(value))
		case int64:
			key = append(key, strconv.FormatInt(value, 10))
		default:
			key = append(key, "")
		}
	}
	return key
}

func (k Key) String() string {
	return strings.Join(k, ":")
}

type entry struct {
	value     any
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Store is a thread-safe in-memory cache with advisory TTL expiry.
type Store struct {
	mu      sync.Mutex
	entries map[string]entry
	clock   func() time.Time
}

// Option customizes store construction.
type Option func(*Store)

// WithClock overrides the time source, used by tests to exercise expiry.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

// NewStore constructs an empty cache store.
func NewStore(opts ...Option) *Store {
	store := &Store{
		entries: make(map[string]entry),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Get returns the cached value, or nil when the key is absent or expired.
// Absence and expiry are indistinguishable to callers.
func (s *Store) Get(key Key) any {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.entries[key.String()]
	if !ok {
		return nil
	}
	if stored.expired(s.clock()) {
		delete(s.entries, key.String())
		return nil
	}
	return stored.value
}

// Set stores a value. A zero ttl means the entry never expires.
func (s *Store) Set(key Key, value any, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key.String()] = entry{value: value, expiresAt: s.expiry(ttl)}
}

// Increment adds delta to the counter at key and returns the new value.
// A missing or expired counter initializes at zero before the delta applies.
func (s *Store) Increment(key Key, delta int64) int64 {
	return s.applyDelta(key, delta)
}

// Decrement subtracts delta from the counter at key and returns the new value.
func (s *Store) Decrement(key Key, delta int64) int64 {
	return s.applyDelta(key, -delta)
}

// Delete removes an entry, if present.
func (s *Store) Delete(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key.String())
}

func (s *Store) applyDelta(key Key, delta int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	stored, ok := s.entries[key.String()]
	var current int64
	if ok && !stored.expired(now) {
		if counter, isCounter := stored.value.(int64); isCounter {
			current = counter
		}
	}
	next := current + delta
	expiresAt := time.Time{}
	if ok && !stored.expired(now) {
		expiresAt = stored.expiresAt
	}
	s.entries[key.String()] = entry{value: next, expiresAt: expiresAt}
	return next
}

func (s *Store) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.clock().Add(ttl)
}
