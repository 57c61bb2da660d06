// Package store implements the TTL-aware string key/value table: a lazily
// expiring map from byte-string keys to (value, optional absolute expiry)
// pairs, plus the export/import hooks the dump codec snapshots through.
package store

import (
	"github.com/cespare/xxhash/v2"
)

// shardCount is the number of internal buckets keys are routed across.
// Nothing in this server runs the store concurrently today (the reactor
// is single-threaded and cooperative), but sharding by key hash means a
// future move to per-shard locking/goroutines only has to add
// synchronization, not restructure the map.
const shardCount = 16

// entry is a stored value together with its optional absolute expiry, in
// host wall-clock milliseconds.
type entry struct {
	value     []byte
	expiresAt int64 // wall-clock ms; meaningful only if hasExpiry
	hasExpiry bool
}

func (e entry) liveAt(nowMs int64) bool {
	return !e.hasExpiry || e.expiresAt > nowMs
}

// Store is a TTL-aware, sharded key/value table. The zero value is not
// usable; construct with New.
type Store struct {
	shards [shardCount]map[string]entry
	now    func() int64 // injected for deterministic TTL tests
}

// New returns an empty Store using wall-clock milliseconds for TTLs.
func New() *Store {
	return newWithClock(nowMs)
}

func newWithClock(now func() int64) *Store {
	s := &Store{now: now}
	for i := range s.shards {
		s.shards[i] = make(map[string]entry)
	}
	return s
}

func (s *Store) shardFor(key string) map[string]entry {
	return s.shards[xxhash.Sum64String(key)%shardCount]
}

// Get returns the live value for key, or (nil, false) if the key is
// absent or expired. A found-but-expired entry is removed as a side
// effect (lazy expiration: observers never see an expired value).
func (s *Store) Get(key string) ([]byte, bool) {
	shard := s.shardFor(key)
	e, ok := shard[key]
	if !ok {
		return nil, false
	}
	if !e.liveAt(s.now()) {
		delete(shard, key)
		return nil, false
	}
	return e.value, true
}

// Set inserts or overwrites key with value. If ttlMs is non-nil it must be
// positive; the stored expiry becomes wall-clock-now + *ttlMs.
func (s *Store) Set(key string, value []byte, ttlMs *int64) {
	e := entry{value: value}
	if ttlMs != nil {
		e.hasExpiry = true
		e.expiresAt = s.now() + *ttlMs
	}
	s.shardFor(key)[key] = e
}

// Keys performs a full sweep removing every expired entry across all
// shards, then returns the remaining keys in unspecified order.
func (s *Store) Keys() []string {
	now := s.now()
	var keys []string
	for _, shard := range s.shards {
		for k, e := range shard {
			if !e.liveAt(now) {
				delete(shard, k)
				continue
			}
			keys = append(keys, k)
		}
	}
	return keys
}

// Entry is one exported (key, value, expiry) triple. ExpiresAtMs is an
// absolute wall-clock epoch-millisecond instant, or nil if the key has no
// TTL. Absolute time, rather than a relative remaining-ttl, is what the
// dump format actually persists, so Export/Import exchange the same
// shape the dump codec reads and writes.
type Entry struct {
	Key         string
	Value       []byte
	ExpiresAtMs *int64
}

// Export yields every live entry across all shards without mutating the
// store (expired entries already present are simply skipped, not swept).
func (s *Store) Export() []Entry {
	now := s.now()
	var out []Entry
	for _, shard := range s.shards {
		for k, e := range shard {
			if !e.liveAt(now) {
				continue
			}
			var exp *int64
			if e.hasExpiry {
				v := e.expiresAt
				exp = &v
			}
			out = append(out, Entry{Key: k, Value: e.value, ExpiresAtMs: exp})
		}
	}
	return out
}

// Import replaces the store's contents with entries, dropping any whose
// absolute expiry is already in the past.
func (s *Store) Import(entries []Entry) {
	now := s.now()
	for i := range s.shards {
		s.shards[i] = make(map[string]entry)
	}
	for _, en := range entries {
		e := entry{value: en.Value}
		if en.ExpiresAtMs != nil {
			if *en.ExpiresAtMs <= now {
				continue
			}
			e.hasExpiry = true
			e.expiresAt = *en.ExpiresAtMs
		}
		s.shardFor(en.Key)[en.Key] = e
	}
}
