package risk

import (
	"strings"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		MaxLeverage:          20,
		MaxPositionValue:     1000,
		MaxTotalExposure:     5000,
		MaxTotalPositions:    5,
		DailyLossLimit:       200,
		MaxDailyTrades:       10,
		ConsecutiveLossLimit: 3,
		PauseDuration:        time.Hour,
	}
}

func newTestManager(cfg Config) (*Manager, *time.Time) {
	m := NewInMemory(cfg)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	return m, &now
}

func TestCheckTradingAllowedOrderedDenials(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(m *Manager)
		symbol     string
		collateral float64
		leverage   int
		wantReason string // empty means allowed
	}{
		{
			name: "instrument disabled",
			setup: func(m *Manager) {
				m.SetInstrumentConfigs([]InstrumentConfig{{Symbol: "BTCUSDT", Enabled: false}})
			},
			symbol: "BTCUSDT", collateral: 100, leverage: 5,
			wantReason: "disabled",
		},
		{
			name:   "leverage exceeds account max",
			symbol: "BTCUSDT", collateral: 100, leverage: 25,
			wantReason: "account max 20x",
		},
		{
			name: "leverage exceeds instrument max",
			setup: func(m *Manager) {
				m.SetInstrumentConfigs([]InstrumentConfig{{Symbol: "DOGEUSDT", Enabled: true, MaxLeverage: 10, MaxOpenPositions: 1}})
			},
			symbol: "DOGEUSDT", collateral: 100, leverage: 15,
			wantReason: "DOGEUSDT max 10x",
		},
		{
			name:   "notional exceeds max position value",
			symbol: "BTCUSDT", collateral: 200, leverage: 10,
			wantReason: "exceeds max 1000.00",
		},
		{
			name: "instrument position cap",
			setup: func(m *Manager) {
				m.OpenPosition(Position{Symbol: "BTCUSDT", Side: "BUY", Collateral: 50, Leverage: 2})
			},
			symbol: "BTCUSDT", collateral: 100, leverage: 5,
			wantReason: "open position(s), max 1",
		},
		{
			name: "total position cap",
			setup: func(m *Manager) {
				for _, sym := range []string{"AUSDT", "BUSDT", "CUSDT", "DUSDT", "EUSDT"} {
					m.OpenPosition(Position{Symbol: sym, Side: "BUY", Collateral: 10, Leverage: 2})
				}
			},
			symbol: "BTCUSDT", collateral: 100, leverage: 5,
			wantReason: "open positions 5 at max 5",
		},
		{
			name: "total exposure cap",
			setup: func(m *Manager) {
				m.OpenPosition(Position{Symbol: "ETHUSDT", Side: "BUY", Collateral: 480, Leverage: 10}) // 4800 exposure
			},
			symbol: "BTCUSDT", collateral: 100, leverage: 3, // +300 notional
			wantReason: "exceed max 5000.00",
		},
		{
			name: "daily loss limit",
			setup: func(m *Manager) {
				m.RecordTradeResult(-250)
			},
			symbol: "BTCUSDT", collateral: 100, leverage: 5,
			wantReason: "daily loss limit",
		},
		{
			name: "daily trade limit",
			setup: func(m *Manager) {
				for i := 0; i < 10; i++ {
					m.OpenPosition(Position{Symbol: "ETHUSDT", Side: "BUY", Collateral: 1, Leverage: 1})
					m.ClosePosition("ETHUSDT")
				}
			},
			symbol: "BTCUSDT", collateral: 100, leverage: 5,
			wantReason: "daily trade limit",
		},
		{
			name:   "allowed",
			symbol: "BTCUSDT", collateral: 100, leverage: 10,
			wantReason: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestManager(testConfig())
			if tt.setup != nil {
				tt.setup(m)
			}
			dec := m.CheckTradingAllowed(tt.symbol, tt.collateral, tt.leverage)
			if tt.wantReason == "" {
				if !dec.Allowed {
					t.Fatalf("expected allowed, denied with %q", dec.Reason)
				}
				return
			}
			if dec.Allowed {
				t.Fatalf("expected denial containing %q, got allowed", tt.wantReason)
			}
			if !strings.Contains(dec.Reason, tt.wantReason) {
				t.Fatalf("reason %q does not contain %q", dec.Reason, tt.wantReason)
			}
		})
	}
}

func TestCircuitBreakerPausesAfterConsecutiveLosses(t *testing.T) {
	m, now := newTestManager(testConfig())

	m.RecordTradeResult(-10)
	m.RecordTradeResult(-10)
	if dec := m.CheckTradingAllowed("BTCUSDT", 100, 5); !dec.Allowed {
		t.Fatalf("two losses must not pause yet: %q", dec.Reason)
	}

	m.RecordTradeResult(-10)
	dec := m.CheckTradingAllowed("BTCUSDT", 100, 5)
	if dec.Allowed {
		t.Fatal("expected pause after third consecutive loss")
	}
	if !strings.Contains(dec.Reason, "paused") {
		t.Fatalf("expected pause-related reason, got %q", dec.Reason)
	}
	if st := m.CurrentStatus(); st.State != StatePaused {
		t.Fatalf("expected PAUSED state, got %s", st.State)
	}

	// The triggering losses are spent; the counter restarted from zero.
	if st := m.CurrentStatus(); st.ConsecutiveLosses != 0 {
		t.Fatalf("expected counter reset on trip, got %d", st.ConsecutiveLosses)
	}

	// Pause expires by time alone.
	*now = now.Add(time.Hour + time.Minute)
	if dec := m.CheckTradingAllowed("BTCUSDT", 100, 5); !dec.Allowed {
		t.Fatalf("expected allowed after pause expiry, denied with %q", dec.Reason)
	}
	if st := m.CurrentStatus(); st.State != StateNormal {
		t.Fatalf("expected NORMAL after expiry, got %s", st.State)
	}
}

func TestNonLosingResultResetsCounter(t *testing.T) {
	m, _ := newTestManager(testConfig())

	m.RecordTradeResult(-10)
	m.RecordTradeResult(-10)
	m.RecordTradeResult(5) // win resets the streak
	m.RecordTradeResult(-10)
	m.RecordTradeResult(-10)

	if dec := m.CheckTradingAllowed("BTCUSDT", 100, 5); !dec.Allowed {
		t.Fatalf("streak was reset, expected allowed: %q", dec.Reason)
	}

	// Break-even also resets.
	m.RecordTradeResult(0)
	if st := m.CurrentStatus(); st.ConsecutiveLosses != 0 {
		t.Fatalf("expected counter 0 after break-even, got %d", st.ConsecutiveLosses)
	}
}

func TestWinDuringPauseDoesNotLiftIt(t *testing.T) {
	m, _ := newTestManager(testConfig())

	m.RecordTradeResult(-10)
	m.RecordTradeResult(-10)
	m.RecordTradeResult(-10)
	m.RecordTradeResult(100)

	if dec := m.CheckTradingAllowed("BTCUSDT", 100, 5); dec.Allowed {
		t.Fatal("a win must not lift an active pause")
	}
}

func TestDailyRolloverResetsCounters(t *testing.T) {
	m, now := newTestManager(testConfig())

	m.RecordTradeResult(-250)
	if dec := m.CheckTradingAllowed("BTCUSDT", 100, 5); dec.Allowed {
		t.Fatal("expected daily loss denial")
	}

	*now = now.Add(24 * time.Hour)
	if dec := m.CheckTradingAllowed("BTCUSDT", 100, 5); !dec.Allowed {
		t.Fatalf("expected fresh day to clear daily limits, denied with %q", dec.Reason)
	}
	if st := m.CurrentStatus(); st.Daily.PnL != 0 || st.Daily.Trades != 0 {
		t.Fatalf("expected zeroed daily stats, got %+v", st.Daily)
	}
}

func TestPositionBookTotals(t *testing.T) {
	m, _ := newTestManager(testConfig())

	m.OpenPosition(Position{Symbol: "BTCUSDT", Side: "BUY", Size: 0.02, Collateral: 100, Leverage: 10})
	m.OpenPosition(Position{Symbol: "ETHUSDT", Side: "SELL", Size: 1, Collateral: 50, Leverage: 4})

	st := m.CurrentStatus()
	if st.OpenPositions != 2 {
		t.Fatalf("expected 2 open positions, got %d", st.OpenPositions)
	}
	if st.TotalExposure != 1200 {
		t.Fatalf("expected exposure 1200, got %.2f", st.TotalExposure)
	}

	pos, ok := m.ClosePosition("BTCUSDT")
	if !ok || pos.Symbol != "BTCUSDT" {
		t.Fatalf("expected BTCUSDT close, got %+v ok=%v", pos, ok)
	}
	if _, ok := m.ClosePosition("BTCUSDT"); ok {
		t.Fatal("second close of same symbol must report no position")
	}

	st = m.CurrentStatus()
	if st.OpenPositions != 1 || st.TotalExposure != 200 {
		t.Fatalf("expected 1 position with exposure 200, got %+v", st)
	}
}

func TestRestorePositionKeepsDailyCountAndOrder(t *testing.T) {
	m, _ := newTestManager(testConfig())

	m.OpenPosition(Position{Symbol: "BTCUSDT", Side: "BUY", Collateral: 50, Leverage: 2})
	m.OpenPosition(Position{Symbol: "BTCUSDT", Side: "BUY", Collateral: 60, Leverage: 2})
	if st := m.CurrentStatus(); st.Daily.Trades != 2 {
		t.Fatalf("expected 2 trades counted, got %d", st.Daily.Trades)
	}

	oldest, ok := m.ClosePosition("BTCUSDT")
	if !ok || oldest.Collateral != 50 {
		t.Fatalf("expected oldest position popped, got %+v ok=%v", oldest, ok)
	}

	// Restore after a failed close: the book is whole again and the trade
	// counter is untouched.
	m.RestorePosition(oldest)
	st := m.CurrentStatus()
	if st.Daily.Trades != 2 {
		t.Fatalf("restore must not count a trade: got %d, want 2", st.Daily.Trades)
	}
	if st.OpenPositions != 2 {
		t.Fatalf("expected 2 open positions after restore, got %d", st.OpenPositions)
	}

	again, ok := m.ClosePosition("BTCUSDT")
	if !ok || again.Collateral != 50 {
		t.Fatalf("restore must preserve oldest-first order, got %+v", again)
	}
}

func TestUpdateConfigAppliesToNextCheck(t *testing.T) {
	m, _ := newTestManager(testConfig())

	if dec := m.CheckTradingAllowed("BTCUSDT", 100, 10); !dec.Allowed {
		t.Fatalf("expected allowed, got %q", dec.Reason)
	}

	cfg := m.Config()
	cfg.MaxLeverage = 5
	if err := m.UpdateConfig(cfg); err != nil {
		t.Fatalf("update config: %v", err)
	}

	if dec := m.CheckTradingAllowed("BTCUSDT", 100, 10); dec.Allowed {
		t.Fatal("tightened leverage limit must apply immediately")
	}
}
