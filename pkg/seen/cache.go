// Package seen implements the Mesh's two-generation sliding-window dedup
// cache, adapted from the teacher's round-keyed cuckoo filter cache
// (pkg/p2p/peer/dupemap in the dusk-blockchain source) generalized from
// "round" buckets to a fixed pair of generations that rotate on a timer.
package seen

import (
	"sync"
	"time"

	cuckoo "github.com/seiflotfy/cuckoofilter"
)

// Cache is a two-generation membership cache. A key inserted into the
// current generation is considered "seen" until it ages out of both
// generations, roughly one to two Expiry periods later.
//
// Membership is backed by a cuckoo filter per generation rather than an
// exact set. This bounds memory at a fixed capacity regardless of traffic,
// at the cost of a small, bounded false-positive rate: a never-before-seen
// key can, rarely, be reported as already seen. That trade-off mirrors the
// teacher's own dupemap design and is consistent with this system's
// explicitly best-effort, non-exactly-once delivery model.
type Cache struct {
	mu           sync.Mutex
	capacity     uint
	expiry       time.Duration
	current      *cuckoo.Filter
	previous     *cuckoo.Filter
	lastRotation time.Time
}

// New creates a Cache whose generations each hold up to capacity entries
// before their false-positive rate starts to climb, rotating every expiry.
func New(capacity uint, expiry time.Duration) *Cache {
	return &Cache{
		capacity:     capacity,
		expiry:       expiry,
		current:      cuckoo.NewFilter(capacity),
		previous:     cuckoo.NewFilter(capacity),
		lastRotation: time.Now(),
	}
}

// Has reports whether key is present in either generation.
func (c *Cache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.has(key)
}

func (c *Cache) has(key string) bool {
	b := []byte(key)
	return c.current.Lookup(b) || c.previous.Lookup(b)
}

// Add inserts key into the current generation. It reports whether the key
// was already present (in either generation) prior to insertion.
func (c *Cache) Add(key string) (alreadySeen bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.has(key) {
		return true
	}
	c.current.InsertUnique([]byte(key))
	return false
}

// Rotate discards the previous generation and makes the current generation
// the new previous, starting a fresh current generation, if at least expiry
// has elapsed since the last rotation. It is safe, and expected, to call
// this frequently (e.g. after every received frame); it is a no-op between
// expiry boundaries.
func (c *Cache) Rotate(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if now.Sub(c.lastRotation) < c.expiry {
		return
	}

	c.previous = c.current
	c.current = cuckoo.NewFilter(c.capacity)
	c.lastRotation = now
}
