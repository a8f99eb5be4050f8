// Package metadata caches per-instrument trading constraints so the engine
// never blocks on the venue for precision or leverage limits.
package metadata

import (
	"context"
	"log"
	"sync"
	"time"

	"execution-core/pkg/exchange"
)

// DefaultTTL is how long a metadata snapshot stays fresh.
const DefaultTTL = 300 * time.Second

// Fetcher supplies the remote metadata snapshot. exchange.Gateway satisfies it.
type Fetcher interface {
	FetchInstruments(ctx context.Context) (map[string]exchange.Instrument, error)
}

// Cache holds the instrument snapshot with TTL-based refresh and
// stale-on-error fallback. The snapshot is replaced whole, never merged, since
// the remote view is self-consistent.
type Cache struct {
	fetcher Fetcher
	ttl     time.Duration

	mu        sync.RWMutex
	snapshot  map[string]exchange.Instrument
	fetchedAt time.Time

	// refreshMu serializes refreshes so concurrent force-refresh calls
	// coalesce into one outstanding fetch. Readers of the previous snapshot
	// only contend on mu, never on refreshMu.
	refreshMu sync.Mutex

	now func() time.Time
}

// New creates a metadata cache around a fetcher.
func New(fetcher Fetcher, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		fetcher: fetcher,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Metadata returns the instrument map, refreshing from the venue when the
// snapshot is missing, expired, or forceRefresh is set. On fetch failure the
// previous snapshot is served with a logged warning; with no prior snapshot an
// empty map is returned and callers must reject trades for unknown symbols.
func (c *Cache) Metadata(ctx context.Context, forceRefresh bool) map[string]exchange.Instrument {
	entered := c.now()
	if snap, ok := c.fresh(forceRefresh); ok {
		return snap
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	// Another caller may have refreshed while we waited on refreshMu; a
	// snapshot fetched after we entered satisfies even a force-refresh.
	if snap, ok := c.fresh(forceRefresh); ok {
		return snap
	}
	c.mu.RLock()
	if c.snapshot != nil && !c.fetchedAt.Before(entered) {
		snap := c.snapshot
		c.mu.RUnlock()
		return snap
	}
	c.mu.RUnlock()

	fresh, err := c.fetcher.FetchInstruments(ctx)
	if err != nil {
		c.mu.RLock()
		prev := c.snapshot
		c.mu.RUnlock()
		if prev != nil {
			log.Printf("metadata: refresh failed, serving stale snapshot (%d instruments): %v", len(prev), err)
			return prev
		}
		log.Printf("metadata: refresh failed with no cached snapshot: %v", err)
		return map[string]exchange.Instrument{}
	}

	c.mu.Lock()
	c.snapshot = fresh
	c.fetchedAt = c.now()
	c.mu.Unlock()

	return fresh
}

// Instrument returns one symbol's metadata from the cached snapshot.
func (c *Cache) Instrument(ctx context.Context, symbol string) (exchange.Instrument, bool) {
	inst, ok := c.Metadata(ctx, false)[symbol]
	return inst, ok
}

func (c *Cache) fresh(forceRefresh bool) (map[string]exchange.Instrument, bool) {
	if forceRefresh {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snapshot == nil || c.now().Sub(c.fetchedAt) >= c.ttl {
		return nil, false
	}
	return c.snapshot, true
}
