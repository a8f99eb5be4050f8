package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"execution-core/pkg/exchange"
)

// StreamClient manages streaming from the Binance futures public websocket.
type StreamClient struct {
	StreamURL string
	dialer    *websocket.Dialer
}

// NewStreamClient builds a websocket client; testnet toggles the host.
func NewStreamClient(testnet bool) *StreamClient {
	host := "fstream.binance.com"
	if testnet {
		host = "stream.binancefuture.com"
	}
	return &StreamClient{
		StreamURL: (&url.URL{Scheme: "wss", Host: host, Path: "/ws"}).String(),
		dialer:    websocket.DefaultDialer,
	}
}

// SubscribeMiniTickers listens to the combined mini-ticker stream, which
// pushes one batched array of per-symbol updates roughly every second. It
// returns the channel and a stop function.
func (c *StreamClient) SubscribeMiniTickers(ctx context.Context) (<-chan []exchange.MidPrice, func(), error) {
	u := fmt.Sprintf("%s/!miniTicker@arr", c.StreamURL)

	conn, _, err := c.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dial binance ws: %w", err)
	}

	out := make(chan []exchange.MidPrice, 16)
	var once sync.Once
	stop := func() {
		once.Do(func() {
			// Ignore errors; connection may already be closed.
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = conn.Close()
			close(out)
		})
	}

	go func() {
		defer stop()
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			_, msg, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
					strings.Contains(err.Error(), "use of closed network connection") {
					return
				}
				log.Printf("binance ws read error: %v", err)
				return
			}

			batch, err := parseMiniTickerBatch(msg)
			if err != nil {
				log.Printf("binance ws parse error: %v", err)
				continue
			}
			if len(batch) > 0 {
				out <- batch
			}
		}
	}()

	return out, stop, nil
}

// parseMiniTickerBatch decodes only the fields we need.
func parseMiniTickerBatch(msg []byte) ([]exchange.MidPrice, error) {
	var raw []struct {
		Symbol string `json:"s"`
		Close  string `json:"c"`
	}
	if err := json.Unmarshal(msg, &raw); err != nil {
		return nil, err
	}
	out := make([]exchange.MidPrice, 0, len(raw))
	for _, t := range raw {
		p, err := strconv.ParseFloat(t.Close, 64)
		if err != nil || p <= 0 {
			continue
		}
		out = append(out, exchange.MidPrice{Symbol: t.Symbol, Price: p})
	}
	return out, nil
}
