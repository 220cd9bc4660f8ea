package portal

import (
	"sync"
	"sync/atomic"
	"time"

	"NormScanner/internal/domain"
)

// TTLs by observed status. Revocations are effectively permanent, so they
// live much longer than in-force verdicts.
const (
	ttlInForce = 24 * time.Hour
	ttlRevoked = 30 * 24 * time.Hour
	ttlOther   = time.Hour
)

type cacheEntry struct {
	result    domain.ProbeResult
	expiresAt time.Time
}

// probeCache memoizes probe results per (kind, canonical number). Readers
// take a lock-free snapshot of the map; the single writer swaps in a copy.
type probeCache struct {
	snapshot atomic.Pointer[map[string]cacheEntry]
	writeMu  sync.Mutex
	now      func() time.Time
}

func newProbeCache(now func() time.Time) *probeCache {
	if now == nil {
		now = time.Now
	}
	c := &probeCache{now: now}
	empty := map[string]cacheEntry{}
	c.snapshot.Store(&empty)
	return c
}

func cacheKey(kind domain.NormKind, number string) string {
	return string(kind) + "|" + number
}

func (c *probeCache) get(kind domain.NormKind, number string) (domain.ProbeResult, bool) {
	entries := *c.snapshot.Load()
	entry, ok := entries[cacheKey(kind, number)]
	if !ok || c.now().After(entry.expiresAt) {
		return domain.ProbeResult{}, false
	}
	return entry.result, true
}

func (c *probeCache) put(kind domain.NormKind, number string, result domain.ProbeResult) {
	ttl := ttlOther
	switch result.Status {
	case domain.ProbeInForce:
		ttl = ttlInForce
	case domain.ProbeRevoked:
		ttl = ttlRevoked
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	old := *c.snapshot.Load()
	next := make(map[string]cacheEntry, len(old)+1)
	now := c.now()
	for k, e := range old {
		if now.After(e.expiresAt) {
			continue
		}
		next[k] = e
	}
	next[cacheKey(kind, number)] = cacheEntry{result: result, expiresAt: now.Add(ttl)}
	c.snapshot.Store(&next)
}
