package metadata

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"execution-core/pkg/exchange"
)

type fakeFetcher struct {
	mu       sync.Mutex
	calls    int32
	err      error
	delay    time.Duration
	snapshot map[string]exchange.Instrument
}

func (f *fakeFetcher) FetchInstruments(ctx context.Context) (map[string]exchange.Instrument, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]exchange.Instrument, len(f.snapshot))
	for k, v := range f.snapshot {
		out[k] = v
	}
	return out, nil
}

func (f *fakeFetcher) callCount() int { return int(atomic.LoadInt32(&f.calls)) }

func btcSnapshot() map[string]exchange.Instrument {
	return map[string]exchange.Instrument{
		"BTCUSDT": {Symbol: "BTCUSDT", SizeDecimals: 3, MaxLeverage: 125},
	}
}

func TestMetadataCacheHitWithinTTL(t *testing.T) {
	fetcher := &fakeFetcher{snapshot: btcSnapshot()}
	c := New(fetcher, 300*time.Second)

	now := time.Now()
	c.now = func() time.Time { return now }

	first := c.Metadata(context.Background(), false)
	if len(first) != 1 {
		t.Fatalf("expected 1 instrument, got %d", len(first))
	}

	// Within TTL: served from cache, no second fetch.
	now = now.Add(299 * time.Second)
	c.Metadata(context.Background(), false)
	if fetcher.callCount() != 1 {
		t.Fatalf("expected 1 fetch, got %d", fetcher.callCount())
	}

	// Past TTL: refetch.
	now = now.Add(2 * time.Second)
	c.Metadata(context.Background(), false)
	if fetcher.callCount() != 2 {
		t.Fatalf("expected 2 fetches after TTL expiry, got %d", fetcher.callCount())
	}
}

func TestMetadataForceRefreshBypassesTTL(t *testing.T) {
	fetcher := &fakeFetcher{snapshot: btcSnapshot()}
	c := New(fetcher, 300*time.Second)

	c.Metadata(context.Background(), false)
	c.Metadata(context.Background(), true)
	if fetcher.callCount() != 2 {
		t.Fatalf("expected force refresh to fetch, got %d fetches", fetcher.callCount())
	}
}

func TestMetadataStaleServeOnFetchFailure(t *testing.T) {
	fetcher := &fakeFetcher{snapshot: btcSnapshot()}
	c := New(fetcher, 300*time.Second)

	good := c.Metadata(context.Background(), false)
	if _, ok := good["BTCUSDT"]; !ok {
		t.Fatal("expected BTCUSDT in snapshot")
	}

	fetcher.mu.Lock()
	fetcher.err = errors.New("venue down")
	fetcher.mu.Unlock()

	stale := c.Metadata(context.Background(), true)
	if _, ok := stale["BTCUSDT"]; !ok {
		t.Fatal("expected stale snapshot served on fetch failure")
	}
}

func TestMetadataEmptyMapWhenNothingCached(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("venue down")}
	c := New(fetcher, 300*time.Second)

	got := c.Metadata(context.Background(), false)
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty map with no cached snapshot, got %v", got)
	}

	if _, ok := c.Instrument(context.Background(), "BTCUSDT"); ok {
		t.Fatal("unknown instrument must not resolve")
	}
}

func TestMetadataConcurrentRefreshesCoalesce(t *testing.T) {
	fetcher := &fakeFetcher{snapshot: btcSnapshot(), delay: 20 * time.Millisecond}
	c := New(fetcher, 300*time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got := c.Metadata(context.Background(), true)
			if len(got) != 1 {
				t.Errorf("expected snapshot, got %v", got)
			}
		}()
	}
	wg.Wait()

	// Refreshes entering together must share one outstanding fetch; allow one
	// straggler that started after the first fetch stored its snapshot.
	if fetcher.callCount() > 2 {
		t.Fatalf("expected coalesced refreshes, got %d fetches", fetcher.callCount())
	}
}
