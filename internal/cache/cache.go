// Package cache is an in-memory TTL cache of compile results. Keys are
// content hashes of the normalized request, so resubmitting the same sketch
// for the same board skips the toolchain entirely.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	"git.home.luguber.info/inful/fwbuilder/internal/scheduler"
)

// Key derives the cache key for a request: a sha256 over the
// whitespace-normalized sources plus board, flags and library specs.
// Formatting-only edits to a sketch hit the same entry.
func Key(boardID string, files map[string][]byte, flags, libraries []string) string {
	h := sha256.New()
	h.Write([]byte(boardID))
	h.Write([]byte{0})

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		h.Write([]byte(name))
		h.Write([]byte{0})
		h.Write([]byte(normalize(string(files[name]))))
		h.Write([]byte{0})
	}

	for _, f := range flags {
		h.Write([]byte(f))
		h.Write([]byte{0})
	}
	for _, l := range libraries {
		h.Write([]byte(l))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// normalize strips all whitespace so formatting changes do not bust the
// cache. Collisions between genuinely different programs are the hash's
// problem, same as the original service.
func normalize(code string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r':
			return -1
		}
		return r
	}, code)
}

type entry struct {
	result   scheduler.Result
	storedAt time.Time
}

// Cache holds up to maxEntries results for ttl each. Safe for concurrent
// use. A zero maxEntries means unbounded.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]entry
	ttl        time.Duration
	maxEntries int

	now func() time.Time // test hook
}

// New creates a cache with the given capacity and entry lifetime.
func New(maxEntries int, ttl time.Duration) *Cache {
	return &Cache{
		entries:    make(map[string]entry),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get returns the cached result for key if present and not expired.
func (c *Cache) Get(key string) (scheduler.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return scheduler.Result{}, false
	}
	if c.now().Sub(e.storedAt) > c.ttl {
		delete(c.entries, key)
		return scheduler.Result{}, false
	}
	return e.result, true
}

// Put stores a result under key, evicting expired entries and then the
// oldest entry when the cache is full. Only successful and compile-error
// results are worth caching; callers filter.
func (c *Cache) Put(key string, result scheduler.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		for k, e := range c.entries {
			if now.Sub(e.storedAt) > c.ttl {
				delete(c.entries, k)
			}
		}
		if len(c.entries) >= c.maxEntries {
			var oldestKey string
			var oldest time.Time
			for k, e := range c.entries {
				if oldestKey == "" || e.storedAt.Before(oldest) {
					oldestKey, oldest = k, e.storedAt
				}
			}
			delete(c.entries, oldestKey)
		}
	}

	c.entries[key] = entry{result: result, storedAt: now}
}

// Len returns the current number of entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
