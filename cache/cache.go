// Package cache holds recent completions keyed by a fingerprint of the
// completion context. Entries expire a fixed time after insertion and the
// least recently used entry is evicted when the store is full.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/Paranoid-AF/ghostline"
	"github.com/jellydator/ttlcache/v3"
)

const (
	DefaultCapacity = 100
	DefaultTTL      = 30 * time.Second

	// Only the text nearest the cursor takes part in the key.
	prefixWindow = 500
	suffixWindow = 200
)

// Stats is a snapshot of the store's counters.
type Stats struct {
	Entries   int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Store is a bounded LRU cache whose entries expire after a fixed TTL.
// Reads do not extend an entry's lifetime. It is safe for concurrent use.
type Store struct {
	items    *ttlcache.Cache[string, string]
	capacity int
	ttl      time.Duration

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// New creates a store. Non-positive arguments select the defaults.
func New(capacity int, ttl time.Duration) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &Store{capacity: capacity, ttl: ttl}
	s.items = ttlcache.New[string, string](
		ttlcache.WithCapacity[string, string](uint64(capacity)),
		ttlcache.WithTTL[string, string](ttl),
		ttlcache.WithDisableTouchOnHit[string, string](),
	)
	s.items.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, _ *ttlcache.Item[string, string]) {
		if reason == ttlcache.EvictionReasonCapacityReached {
			s.evictions.Add(1)
		}
	})
	return s
}

// Key fingerprints the parts of cc that determine a completion: language,
// model, the last 500 runes of the prefix and the first 200 runes of the
// suffix. Contexts that only differ outside those windows share a key.
func Key(cc ghostline.CompletionContext) string {
	h := sha256.New()
	for i, part := range []string{
		cc.Language,
		cc.Model,
		tail(cc.Prefix, prefixWindow),
		head(cc.Suffix, suffixWindow),
	} {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached completion for cc. A hit marks the entry most
// recently used. An expired entry is removed and reported as a miss.
func (s *Store) Get(cc ghostline.CompletionContext) (string, bool) {
	key := Key(cc)
	item := s.items.Get(key)
	if item == nil {
		// Reclaim the slot of an expired entry, if any.
		s.items.Delete(key)
		s.misses.Add(1)
		return "", false
	}
	s.hits.Add(1)
	return item.Value(), true
}

// Set stores value for cc with a fresh timestamp, evicting the least
// recently used entry when a new key arrives at capacity.
func (s *Store) Set(cc ghostline.CompletionContext, value string) {
	s.items.Set(Key(cc), value, ttlcache.DefaultTTL)
}

// Clear removes all entries.
func (s *Store) Clear() {
	s.items.DeleteAll()
}

// Len returns the number of stored entries, including expired ones not yet
// reclaimed.
func (s *Store) Len() int {
	return s.items.Len()
}

// Capacity returns the maximum number of entries.
func (s *Store) Capacity() int {
	return s.capacity
}

// TTL returns the entry lifetime.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Stats returns the store's counters.
func (s *Store) Stats() Stats {
	return Stats{
		Entries:   s.items.Len(),
		Hits:      s.hits.Load(),
		Misses:    s.misses.Load(),
		Evictions: s.evictions.Load(),
	}
}

func tail(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[len(r)-n:])
}

func head(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
