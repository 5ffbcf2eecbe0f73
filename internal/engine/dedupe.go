package engine

import (
	"sync"
	"time"
)

// DedupeCache remembers keys for a TTL so repeated captures of the same
// frame within the window count once.
type DedupeCache struct {
	mu        sync.Mutex
	items     map[string]time.Time
	compacted time.Time
}

const dedupeCompactSize = 10000

func NewDedupeCache() *DedupeCache {
	return &DedupeCache{items: make(map[string]time.Time)}
}

// Seen reports whether key was recorded within ttl of now, and records it
// otherwise.
func (d *DedupeCache) Seen(key string, now time.Time, ttl time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ts, ok := d.items[key]; ok && now.Sub(ts) <= ttl {
		return true
	}
	d.items[key] = now
	if len(d.items) > dedupeCompactSize && now.Sub(d.compacted) > ttl {
		d.compact(now, ttl)
	}
	return false
}

func (d *DedupeCache) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}

func (d *DedupeCache) Reset() {
	d.mu.Lock()
	d.items = make(map[string]time.Time)
	d.compacted = time.Time{}
	d.mu.Unlock()
}

// compact drops expired keys. Seen calls it at most once per ttl.
func (d *DedupeCache) compact(now time.Time, ttl time.Duration) {
	d.compacted = now
	for k, ts := range d.items {
		if now.Sub(ts) > ttl {
			delete(d.items, k)
		}
	}
}
