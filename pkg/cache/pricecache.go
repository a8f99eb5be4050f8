package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

const numShards = 16

// PriceSource records which path produced a cached price.
type PriceSource string

const (
	SourceStream PriceSource = "stream"
	SourcePoll   PriceSource = "poll"
)

// PriceCache is a sharded in-memory price cache. The stream listener and the
// poller write into it concurrently; request goroutines only ever read.
type PriceCache struct {
	shards [numShards]*priceShard
}

type priceShard struct {
	mu    sync.RWMutex
	items map[string]priceEntry
}

type priceEntry struct {
	price     float64
	updatedAt time.Time
	source    PriceSource
}

// NewPriceCache creates a new sharded cache.
func NewPriceCache() *PriceCache {
	c := &PriceCache{}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &priceShard{
			items: make(map[string]priceEntry),
		}
	}
	return c
}

func (c *PriceCache) getShard(key string) *priceShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%numShards]
}

// Set stores a price for a symbol.
func (c *PriceCache) Set(symbol string, price float64, source PriceSource, at time.Time) {
	shard := c.getShard(symbol)
	shard.mu.Lock()
	shard.items[symbol] = priceEntry{
		price:     price,
		updatedAt: at,
		source:    source,
	}
	shard.mu.Unlock()
}

// SetBatch stores a batch of prices with one timestamp, taking each shard
// lock once. Stream updates arrive batched, so this is the hot write path.
func (c *PriceCache) SetBatch(prices map[string]float64, source PriceSource, at time.Time) {
	grouped := make(map[*priceShard]map[string]float64, numShards)
	for sym, p := range prices {
		shard := c.getShard(sym)
		if grouped[shard] == nil {
			grouped[shard] = make(map[string]float64)
		}
		grouped[shard][sym] = p
	}
	for shard, items := range grouped {
		shard.mu.Lock()
		for sym, p := range items {
			shard.items[sym] = priceEntry{price: p, updatedAt: at, source: source}
		}
		shard.mu.Unlock()
	}
}

// Get retrieves a price for a symbol.
func (c *PriceCache) Get(symbol string) (float64, bool) {
	shard := c.getShard(symbol)
	shard.mu.RLock()
	entry, ok := shard.items[symbol]
	shard.mu.RUnlock()
	return entry.price, ok
}

// GetWithMeta retrieves a price along with its update time and source.
func (c *PriceCache) GetWithMeta(symbol string) (price float64, updatedAt time.Time, source PriceSource, ok bool) {
	shard := c.getShard(symbol)
	shard.mu.RLock()
	entry, ok := shard.items[symbol]
	shard.mu.RUnlock()
	return entry.price, entry.updatedAt, entry.source, ok
}

// Snapshot returns all cached prices.
func (c *PriceCache) Snapshot() map[string]float64 {
	result := make(map[string]float64)
	for _, shard := range c.shards {
		shard.mu.RLock()
		for sym, entry := range shard.items {
			result[sym] = entry.price
		}
		shard.mu.RUnlock()
	}
	return result
}

// Len returns total items across all shards.
func (c *PriceCache) Len() int {
	total := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		total += len(shard.items)
		shard.mu.RUnlock()
	}
	return total
}

// Cleanup removes entries older than maxAge and returns how many were dropped.
func (c *PriceCache) Cleanup(maxAge time.Duration) int {
	removed := 0
	cutoff := time.Now().Add(-maxAge)

	for _, shard := range c.shards {
		shard.mu.Lock()
		for sym, entry := range shard.items {
			if entry.updatedAt.Before(cutoff) {
				delete(shard.items, sym)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}
