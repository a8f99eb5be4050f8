package pricefeed

import (
	"context"
	"errors"
	"testing"
	"time"

	"execution-core/pkg/cache"
	"execution-core/pkg/exchange"
)

type fakePoller struct {
	calls  int
	err    error
	prices []exchange.MidPrice
}

func (f *fakePoller) FetchMidPrices(ctx context.Context) ([]exchange.MidPrice, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.prices, nil
}

func newTestFeed(poller *fakePoller) (*Feed, *time.Time) {
	f := New(poller, nil, nil)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	f.now = func() time.Time { return now }
	return f, &now
}

func TestPricesServedFromLiveStream(t *testing.T) {
	poller := &fakePoller{}
	f, now := newTestFeed(poller)

	f.applyBatch([]exchange.MidPrice{{Symbol: "BTCUSDT", Price: 50000}}, cache.SourceStream)

	*now = now.Add(5 * time.Second)
	prices, err := f.Prices(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if prices["BTCUSDT"] != 50000 {
		t.Fatalf("expected 50000, got %v", prices["BTCUSDT"])
	}
	if poller.calls != 0 {
		t.Fatalf("live stream must not trigger a poll, got %d polls", poller.calls)
	}
}

func TestPricesPollWhenStreamNotLive(t *testing.T) {
	poller := &fakePoller{prices: []exchange.MidPrice{{Symbol: "ETHUSDT", Price: 3000}}}
	f, now := newTestFeed(poller)

	f.applyBatch([]exchange.MidPrice{{Symbol: "ETHUSDT", Price: 2900}}, cache.SourceStream)

	// Stream went quiet past the liveness window; read falls back to polling.
	*now = now.Add(11 * time.Second)
	prices, err := f.Prices(context.Background(), "ETHUSDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if poller.calls != 1 {
		t.Fatalf("expected 1 poll, got %d", poller.calls)
	}
	if prices["ETHUSDT"] != 3000 {
		t.Fatalf("expected polled price 3000, got %v", prices["ETHUSDT"])
	}
}

func TestPollResultsCachedWithinTTL(t *testing.T) {
	poller := &fakePoller{prices: []exchange.MidPrice{{Symbol: "BTCUSDT", Price: 50000}}}
	f, now := newTestFeed(poller)

	if _, err := f.Prices(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Burst of reads inside the poll TTL reuses the cached result.
	*now = now.Add(time.Second)
	if _, err := f.Prices(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if poller.calls != 1 {
		t.Fatalf("expected 1 poll within TTL, got %d", poller.calls)
	}

	*now = now.Add(2 * time.Second)
	if _, err := f.Prices(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if poller.calls != 2 {
		t.Fatalf("expected second poll after TTL, got %d", poller.calls)
	}
}

func TestSetPollTTLExtendsFreshness(t *testing.T) {
	poller := &fakePoller{prices: []exchange.MidPrice{{Symbol: "BTCUSDT", Price: 50000}}}
	f, now := newTestFeed(poller)
	f.SetPollTTL(5 * time.Second)

	if _, err := f.Prices(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Past the default TTL but inside the configured one: cache still fresh.
	*now = now.Add(3 * time.Second)
	if _, err := f.Prices(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if poller.calls != 1 {
		t.Fatalf("expected 1 poll inside configured TTL, got %d", poller.calls)
	}

	*now = now.Add(3 * time.Second)
	if _, err := f.Prices(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if poller.calls != 2 {
		t.Fatalf("expected second poll after configured TTL, got %d", poller.calls)
	}
}

func TestPollFailureServesLastGoodValue(t *testing.T) {
	poller := &fakePoller{prices: []exchange.MidPrice{{Symbol: "BTCUSDT", Price: 50000}}}
	f, now := newTestFeed(poller)

	if _, err := f.Prices(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	poller.err = errors.New("venue down")
	*now = now.Add(time.Minute)

	prices, err := f.Prices(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("expected stale-serve, got error: %v", err)
	}
	if prices["BTCUSDT"] != 50000 {
		t.Fatalf("expected last good price 50000, got %v", prices["BTCUSDT"])
	}
}

func TestPricesHardErrorOnlyWhenNothingCached(t *testing.T) {
	poller := &fakePoller{err: errors.New("venue down")}
	f, _ := newTestFeed(poller)

	if _, err := f.Prices(context.Background()); !errors.Is(err, ErrNoPrices) {
		t.Fatalf("expected ErrNoPrices, got %v", err)
	}
}

func TestFeedStateMachine(t *testing.T) {
	poller := &fakePoller{prices: []exchange.MidPrice{{Symbol: "BTCUSDT", Price: 50000}}}
	f, now := newTestFeed(poller)

	if got := f.CurrentState(); got != StateDisconnected {
		t.Fatalf("expected DISCONNECTED before any update, got %s", got)
	}

	f.applyBatch([]exchange.MidPrice{{Symbol: "BTCUSDT", Price: 50000}}, cache.SourceStream)
	if got := f.CurrentState(); got != StateLive {
		t.Fatalf("expected LIVE after stream update, got %s", got)
	}

	*now = now.Add(StreamLiveWindow + time.Second)
	if got := f.CurrentState(); got != StateStale {
		t.Fatalf("expected STALE after liveness window, got %s", got)
	}

	*now = now.Add(DisconnectedAfter)
	if got := f.CurrentState(); got != StateDisconnected {
		t.Fatalf("expected DISCONNECTED after silence, got %s", got)
	}

	// A poll update brings the feed back to STALE, not LIVE.
	if _, err := f.Prices(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := f.CurrentState(); got != StateStale {
		t.Fatalf("expected STALE on poll-only updates, got %s", got)
	}
}
