// Package pricefeed maintains current mid prices from a streaming listener
// with a polling fallback, serving readers from an in-memory cache so no
// caller ever blocks on the venue for longer than one poll round-trip.
package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"execution-core/internal/events"
	"execution-core/pkg/cache"
	"execution-core/pkg/exchange"
)

const (
	// StreamLiveWindow is how recent the last stream update must be for the
	// feed to trust the stream path and skip polling.
	StreamLiveWindow = 10 * time.Second

	// PollTTL is the default freshness window bounding poll request rate
	// under bursts of reads.
	PollTTL = 2 * time.Second

	// DisconnectedAfter marks the feed disconnected when no update from any
	// source has arrived within this window.
	DisconnectedAfter = 30 * time.Second

	reconnectDelay = 5 * time.Second
)

// State is the feed liveness state.
type State string

const (
	StateLive         State = "LIVE"
	StateStale        State = "STALE"
	StateDisconnected State = "DISCONNECTED"
)

// ErrNoPrices is returned when both sources failed and nothing is cached.
var ErrNoPrices = errors.New("pricefeed: no cached prices and poll failed")

// Poller supplies the snapshot price endpoint. exchange.Gateway satisfies it.
type Poller interface {
	FetchMidPrices(ctx context.Context) ([]exchange.MidPrice, error)
}

// Streamer supplies the push price stream.
type Streamer interface {
	SubscribeMiniTickers(ctx context.Context) (<-chan []exchange.MidPrice, func(), error)
}

// Feed composes the two price sources over a shared cache.
type Feed struct {
	poller Poller
	stream Streamer
	cache  *cache.PriceCache
	bus    *events.Bus

	mu           sync.RWMutex
	lastStreamAt time.Time
	lastUpdateAt time.Time
	lastPollAt   time.Time

	// pollMu serializes the poll path so a burst of readers produces at most
	// one outstanding snapshot request.
	pollMu  sync.Mutex
	pollTTL time.Duration

	now func() time.Time
}

// New creates a price feed. stream may be nil (poll-only mode).
func New(poller Poller, stream Streamer, bus *events.Bus) *Feed {
	return &Feed{
		poller:  poller,
		stream:  stream,
		cache:   cache.NewPriceCache(),
		bus:     bus,
		pollTTL: PollTTL,
		now:     time.Now,
	}
}

// SetPollTTL overrides how long a poll-path snapshot stays fresh.
func (f *Feed) SetPollTTL(d time.Duration) {
	if d > 0 {
		f.pollTTL = d
	}
}

// Start launches the background stream listener. It reconnects with a fixed
// delay until ctx is cancelled.
func (f *Feed) Start(ctx context.Context) {
	if f.stream == nil {
		log.Println("pricefeed: no stream configured, poll-only mode")
		return
	}
	go f.runStream(ctx)
}

func (f *Feed) runStream(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ch, stop, err := f.stream.SubscribeMiniTickers(ctx)
		if err != nil {
			log.Printf("pricefeed: stream connect failed, retrying in %s: %v", reconnectDelay, err)
			if sleepErr := sleepCtx(ctx, reconnectDelay); sleepErr != nil {
				return
			}
			continue
		}

		log.Println("pricefeed: stream connected")
		for batch := range ch {
			f.applyBatch(batch, cache.SourceStream)
		}
		stop()

		log.Printf("pricefeed: stream closed, reconnecting in %s", reconnectDelay)
		if sleepErr := sleepCtx(ctx, reconnectDelay); sleepErr != nil {
			return
		}
	}
}

func (f *Feed) applyBatch(batch []exchange.MidPrice, source cache.PriceSource) {
	if len(batch) == 0 {
		return
	}
	at := f.now()
	prices := make(map[string]float64, len(batch))
	for _, p := range batch {
		prices[p.Symbol] = p.Price
	}
	f.cache.SetBatch(prices, source, at)

	f.mu.Lock()
	if source == cache.SourceStream {
		f.lastStreamAt = at
	} else {
		f.lastPollAt = at
	}
	f.lastUpdateAt = at
	f.mu.Unlock()

	if f.bus != nil {
		f.bus.Publish(events.EventPriceTick, prices)
	}
}

// Prices returns current mid prices. With a live stream or a fresh poll it is
// served from cache without I/O; otherwise one synchronous poll is attempted,
// falling back to the last good values on failure. Passing no symbols returns
// everything cached.
func (f *Feed) Prices(ctx context.Context, symbols ...string) (map[string]float64, error) {
	if !f.streamLive() && !f.pollFresh() {
		f.poll(ctx)
	}

	snap := f.cache.Snapshot()
	if len(snap) == 0 {
		return nil, ErrNoPrices
	}
	if len(symbols) == 0 {
		return snap, nil
	}
	out := make(map[string]float64, len(symbols))
	for _, sym := range symbols {
		if p, ok := snap[sym]; ok {
			out[sym] = p
		}
	}
	return out, nil
}

// Price returns one symbol's current mid price.
func (f *Feed) Price(ctx context.Context, symbol string) (float64, error) {
	prices, err := f.Prices(ctx, symbol)
	if err != nil {
		return 0, err
	}
	p, ok := prices[symbol]
	if !ok {
		return 0, fmt.Errorf("pricefeed: no price for %s", symbol)
	}
	return p, nil
}

func (f *Feed) poll(ctx context.Context) {
	f.pollMu.Lock()
	defer f.pollMu.Unlock()

	// A concurrent reader may have completed the poll while we waited.
	if f.streamLive() || f.pollFresh() {
		return
	}

	batch, err := f.poller.FetchMidPrices(ctx)
	if err != nil {
		log.Printf("pricefeed: poll failed, serving last good prices: %v", err)
		return
	}
	f.applyBatch(batch, cache.SourcePoll)
}

// CurrentState reports the feed liveness state.
func (f *Feed) CurrentState() State {
	f.mu.RLock()
	defer f.mu.RUnlock()

	now := f.now()
	switch {
	case !f.lastStreamAt.IsZero() && now.Sub(f.lastStreamAt) <= StreamLiveWindow:
		return StateLive
	case !f.lastUpdateAt.IsZero() && now.Sub(f.lastUpdateAt) <= DisconnectedAfter:
		return StateStale
	default:
		return StateDisconnected
	}
}

func (f *Feed) streamLive() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return !f.lastStreamAt.IsZero() && f.now().Sub(f.lastStreamAt) <= StreamLiveWindow
}

func (f *Feed) pollFresh() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return !f.lastPollAt.IsZero() && f.now().Sub(f.lastPollAt) <= f.pollTTL
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
