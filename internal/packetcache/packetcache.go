// Package packetcache implements the process-wide packet-deduplication
// cache: a map from the SHA3-256 of a frame's wire bytes to when it was
// last seen, governed by a TTL and swept periodically. This is how
// flooding terminates: the router and the uplink dispatcher both insert
// every frame they touch, and a frame seen again within the TTL is a
// duplicate to be dropped silently.
package packetcache

import (
	"encoding/hex"
	"sync"
	"time"

	"golang.org/x/crypto/sha3"
)

// ErrNotTimedOut signals that bytes were already inserted within the TTL:
// a duplicate to drop silently.
var ErrNotTimedOut = &notTimedOutError{}

type notTimedOutError struct{}

func (*notTimedOutError) Error() string { return "packetcache: not timed out" }

// Key returns the cache key for bytes: hex(SHA3-256(bytes)).
func Key(wireBytes []byte) string {
	sum := sha3.Sum256(wireBytes)
	return hex.EncodeToString(sum[:])
}

// Cache is a SHA3-256(wire bytes) -> last-seen map protected by a single
// mutex, with a configurable TTL and a background sweep.
type Cache struct {
	mu            sync.Mutex
	entries       map[string]time.Time
	ttl           time.Duration
	resetTimeout  bool
}

// New returns an empty cache. If resetTimeout is true, a duplicate insert
// within the TTL refreshes the stored timestamp instead of leaving it
// untouched.
func New(ttl time.Duration, resetTimeout bool) *Cache {
	return &Cache{entries: make(map[string]time.Time), ttl: ttl, resetTimeout: resetTimeout}
}

// Insert records wireBytes as seen now. If the key is absent, it is
// inserted and Insert returns nil. If present and still within the TTL, it
// returns ErrNotTimedOut (refreshing the timestamp first if resetTimeout is
// set). If present but expired, the entry is overwritten and Insert returns
// nil.
func (c *Cache) Insert(wireBytes []byte) error {
	key := Key(wireBytes)
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	seen, ok := c.entries[key]
	if ok && now.Sub(seen) < c.ttl {
		if c.resetTimeout {
			c.entries[key] = now
		}
		return ErrNotTimedOut
	}
	c.entries[key] = now
	return nil
}

// Contents returns a snapshot clone of the cache, for persistence and API
// reads.
func (c *Cache) Contents() map[string]time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]time.Time, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out
}

// Restore replaces the cache's contents with a previously captured
// snapshot, discarding anything already present.
func (c *Cache) Restore(snapshot map[string]time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]time.Time, len(snapshot))
	for k, v := range snapshot {
		c.entries[k] = v
	}
}

// Sweep removes every entry older than the TTL, returning the number
// removed. It is meant to be called periodically from a ticker loop
// alongside Insert's incidental lazy-expiry-on-overwrite behavior.
func (c *Cache) Sweep() int {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, seen := range c.entries {
		if now.Sub(seen) >= c.ttl {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Run drives the periodic sweep on interval until done closes. Callers pass
// the shutdown agent's AwaitShutdown() channel.
func (c *Cache) Run(interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-done:
			return
		}
	}
}
