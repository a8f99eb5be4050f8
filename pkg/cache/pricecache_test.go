package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestPriceCacheSetGet(t *testing.T) {
	c := NewPriceCache()
	now := time.Now()

	c.Set("BTCUSDT", 50000, SourceStream, now)

	price, ok := c.Get("BTCUSDT")
	if !ok || price != 50000 {
		t.Fatalf("Get = %v, %v; want 50000, true", price, ok)
	}

	if _, ok := c.Get("MISSING"); ok {
		t.Fatal("missing symbol must not resolve")
	}

	p, at, src, ok := c.GetWithMeta("BTCUSDT")
	if !ok || p != 50000 || !at.Equal(now) || src != SourceStream {
		t.Fatalf("GetWithMeta = %v %v %v %v", p, at, src, ok)
	}
}

func TestPriceCacheSetBatchOverwrites(t *testing.T) {
	c := NewPriceCache()
	t0 := time.Now()

	c.SetBatch(map[string]float64{"BTCUSDT": 50000, "ETHUSDT": 3000}, SourcePoll, t0)
	c.SetBatch(map[string]float64{"BTCUSDT": 50100}, SourceStream, t0.Add(time.Second))

	snap := c.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(snap))
	}
	if snap["BTCUSDT"] != 50100 || snap["ETHUSDT"] != 3000 {
		t.Fatalf("unexpected snapshot %v", snap)
	}

	_, _, src, _ := c.GetWithMeta("BTCUSDT")
	if src != SourceStream {
		t.Fatalf("expected stream source after overwrite, got %s", src)
	}
}

func TestPriceCacheCleanup(t *testing.T) {
	c := NewPriceCache()

	c.Set("OLDUSDT", 1, SourcePoll, time.Now().Add(-time.Hour))
	c.Set("NEWUSDT", 2, SourceStream, time.Now())

	removed := c.Cleanup(time.Minute)
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if c.Len() != 1 {
		t.Fatalf("expected 1 remaining, got %d", c.Len())
	}
	if _, ok := c.Get("NEWUSDT"); !ok {
		t.Fatal("fresh entry must survive cleanup")
	}
}

func TestPriceCacheConcurrentAccess(t *testing.T) {
	c := NewPriceCache()
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			sym := fmt.Sprintf("SYM%dUSDT", n)
			for j := 0; j < 100; j++ {
				c.Set(sym, float64(j), SourceStream, time.Now())
				c.Get(sym)
				c.Snapshot()
			}
		}(i)
	}
	wg.Wait()

	if c.Len() != 8 {
		t.Fatalf("expected 8 symbols, got %d", c.Len())
	}
}
