// Package vaultcache provides the three bounded, TTL-based caches the
// vault engine's metadata, path-resolution, and decrypted-read paths
// consult: a size-bounded LRU with per-entry expiration, the "moka-style"
// primitive spec.md §4.9 calls for. It has no dependency on the rest of
// the vault package and is independently testable.
package vaultcache

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// Stats counts a cache's hits, misses, insertions, and evictions since
// creation. Every field is updated atomically, matching the rest of the
// vault engine's "atomics, no lock-step consistency" stance (spec.md §5).
type Stats struct {
	Hits       uint64
	Misses     uint64
	Insertions uint64
	Evictions  uint64
}

// Thresholds configures when Health reports a warning.
type Thresholds struct {
	// MinHitRate below which Health.LowHitRate is set. 0 disables the check.
	MinHitRate float64
	// MaxEvictionRate (evictions / insertions) above which
	// Health.HighEvictionRate is set. 0 disables the check.
	MaxEvictionRate float64
}

// DefaultThresholds are tuned for interactive workloads: a cache that's
// missing more than half its lookups, or evicting nearly as fast as it's
// filling, is undersized for its traffic.
func DefaultThresholds() Thresholds {
	return Thresholds{MinHitRate: 0.5, MaxEvictionRate: 0.8}
}

// Health is a point-in-time verdict over a Stats snapshot.
type Health struct {
	HitRate         float64
	EvictionRate    float64
	LowHitRate      bool
	HighEvictionRate bool
}

func evaluate(s Stats, t Thresholds) Health {
	h := Health{}
	total := s.Hits + s.Misses
	if total > 0 {
		h.HitRate = float64(s.Hits) / float64(total)
	}
	if s.Insertions > 0 {
		h.EvictionRate = float64(s.Evictions) / float64(s.Insertions)
	}
	if t.MinHitRate > 0 && total > 0 && h.HitRate < t.MinHitRate {
		h.LowHitRate = true
	}
	if t.MaxEvictionRate > 0 && s.Insertions > 0 && h.EvictionRate > t.MaxEvictionRate {
		h.HighEvictionRate = true
	}
	return h
}

type counters struct {
	hits, misses, insertions, evictions atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		Insertions: c.insertions.Load(),
		Evictions:  c.evictions.Load(),
	}
}

// MetadataCache maps a logical path to a caller-defined entry value
// (typically the vault's DirEntry view of that path), TTL ~1s (spec.md
// §4.9). The value type is left as `any` so this package never needs to
// import the vault package's entry types.
type MetadataCache struct {
	lru *lru.LRU[string, any]
	c   counters
}

// NewMetadataCache builds a metadata cache holding at most size entries,
// each valid for ttl.
func NewMetadataCache(size int, ttl time.Duration) *MetadataCache {
	m := &MetadataCache{}
	m.lru = lru.NewLRU[string, any](size, func(string, any) { m.c.evictions.Add(1) }, ttl)
	return m
}

// Get returns the cached value for path, if present and unexpired.
func (m *MetadataCache) Get(path string) (any, bool) {
	v, ok := m.lru.Get(path)
	if ok {
		m.c.hits.Add(1)
	} else {
		m.c.misses.Add(1)
	}
	return v, ok
}

// Put caches value for path.
func (m *MetadataCache) Put(path string, value any) {
	m.lru.Add(path, value)
	m.c.insertions.Add(1)
}

// Invalidate drops path's cached entry, if any.
func (m *MetadataCache) Invalidate(path string) { m.lru.Remove(path) }

// InvalidatePrefix drops every cached entry whose path is prefix or a
// child of it. The vault package's delete and rename operations do not
// call it.
func (m *MetadataCache) InvalidatePrefix(prefix string) {
	for _, key := range m.lru.Keys() {
		if isPrefixOrSelf(key, prefix) {
			m.lru.Remove(key)
		}
	}
}

// Len reports the current number of cached entries.
func (m *MetadataCache) Len() int { return m.lru.Len() }

// Stats returns a snapshot of this cache's counters.
func (m *MetadataCache) Stats() Stats { return m.c.snapshot() }

// Health evaluates this cache's current Stats against t.
func (m *MetadataCache) Health(t Thresholds) Health { return evaluate(m.Stats(), t) }

// PathCache maps a logical path to the opaque storage identifier
// (the vault's DirId, kept as a plain string here) it resolved to, TTL
// ~5s (spec.md §4.9). Its methods take and return string, not DirId, so
// the vault package wraps it in an adapter (lruPathCache) to use it as its
// PathCache.
type PathCache struct {
	lru *lru.LRU[string, string]
	c   counters
}

// NewPathCache builds a path-resolution cache holding at most size
// entries, each valid for ttl.
func NewPathCache(size int, ttl time.Duration) *PathCache {
	p := &PathCache{}
	p.lru = lru.NewLRU[string, string](size, func(string, string) { p.c.evictions.Add(1) }, ttl)
	return p
}

// Get returns the cached DirId string for path, if present and unexpired.
func (p *PathCache) Get(path string) (string, bool) {
	v, ok := p.lru.Get(path)
	if ok {
		p.c.hits.Add(1)
	} else {
		p.c.misses.Add(1)
	}
	return v, ok
}

// Put caches id for path.
func (p *PathCache) Put(path string, id string) {
	p.lru.Add(path, id)
	p.c.insertions.Add(1)
}

// InvalidatePrefix drops every cached mapping at or below prefix. The
// vault package's rename and delete operations do not call it; their
// stale mappings last until the TTL expires.
func (p *PathCache) InvalidatePrefix(prefix string) {
	for _, key := range p.lru.Keys() {
		if isPrefixOrSelf(key, prefix) {
			p.lru.Remove(key)
		}
	}
}

// Len reports the current number of cached entries.
func (p *PathCache) Len() int { return p.lru.Len() }

// Stats returns a snapshot of this cache's counters.
func (p *PathCache) Stats() Stats { return p.c.snapshot() }

// Health evaluates this cache's current Stats against t.
func (p *PathCache) Health(t Thresholds) Health { return evaluate(p.Stats(), t) }

// ReadCache maps an open handle ID to its decrypted read result, TTL ~5s
// (spec.md §4.9). The vault drops a handle's entry when the handle is
// released (ReleaseHandle); writes to the underlying file do not drop it,
// so an entry cached before a write stays until release or TTL expiry.
type ReadCache struct {
	mu  sync.Mutex
	lru *lru.LRU[uint64, []byte]
	c   counters
}

// NewReadCache builds a decrypted-read cache holding at most size
// entries, each valid for ttl.
func NewReadCache(size int, ttl time.Duration) *ReadCache {
	r := &ReadCache{}
	r.lru = lru.NewLRU[uint64, []byte](size, func(uint64, []byte) { r.c.evictions.Add(1) }, ttl)
	return r
}

// Get returns the cached bytes for handleID, if present and unexpired.
func (r *ReadCache) Get(handleID uint64) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.lru.Get(handleID)
	if ok {
		r.c.hits.Add(1)
	} else {
		r.c.misses.Add(1)
	}
	return v, ok
}

// Put caches data for handleID.
func (r *ReadCache) Put(handleID uint64, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lru.Add(handleID, data)
	r.c.insertions.Add(1)
}

// Invalidate drops handleID's cached bytes, if any — called when the handle is released.
func (r *ReadCache) Invalidate(handleID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lru.Remove(handleID)
}

// Len reports the current number of cached entries.
func (r *ReadCache) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lru.Len()
}

// Stats returns a snapshot of this cache's counters.
func (r *ReadCache) Stats() Stats { return r.c.snapshot() }

// Health evaluates this cache's current Stats against t.
func (r *ReadCache) Health(t Thresholds) Health { return evaluate(r.Stats(), t) }

// isPrefixOrSelf reports whether key is prefix itself or one of its
// "/"-delimited descendants.
func isPrefixOrSelf(key, prefix string) bool {
	if key == prefix {
		return true
	}
	return strings.HasPrefix(key, prefix+"/")
}
