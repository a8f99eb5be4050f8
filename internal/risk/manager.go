// Package risk is the admission controller for the execution core. Every
// trade passes CheckTradingAllowed before any order is sent, and every closed
// trade reports its realized result back through RecordTradeResult so the
// circuit breaker and daily limits see real outcomes.
package risk

import (
	"fmt"
	"log"
	"sync"
	"time"

	"execution-core/internal/events"
)

// Manager evaluates admission checks against live limits, tracks the open
// position book, and runs the consecutive-loss circuit breaker. All state is
// guarded by one mutex; two trades closing at the same instant must not lose
// a counter update.
type Manager struct {
	mu          sync.Mutex
	config      Config
	instruments map[string]InstrumentConfig
	positions   map[string][]Position

	consecutiveLosses int
	pausedUntil       time.Time

	daily DailyStats

	store *Store
	bus   *events.Bus
	now   func() time.Time
}

// NewManager creates a manager persisting config and daily stats through
// store. A previously saved active config overrides cfg; today's stats are
// restored so a restart does not reset daily limits.
func NewManager(cfg Config, store *Store, bus *events.Bus) (*Manager, error) {
	m := NewInMemory(cfg)
	m.store = store
	m.bus = bus

	if store != nil {
		saved, err := store.LoadConfig()
		if err != nil {
			return nil, fmt.Errorf("load risk config: %w", err)
		}
		if saved != nil {
			m.config = *saved
		} else if err := store.SaveConfig(m.config); err != nil {
			return nil, fmt.Errorf("save default risk config: %w", err)
		}

		today := m.now().UTC().Format("2006-01-02")
		stats, err := store.LoadDailyStats(today)
		if err != nil {
			return nil, fmt.Errorf("load daily stats: %w", err)
		}
		if stats != nil {
			m.daily = *stats
		}
	}

	log.Printf("risk: manager initialized: max_leverage=%d max_position_value=%.2f consecutive_loss_limit=%d",
		m.config.MaxLeverage, m.config.MaxPositionValue, m.config.ConsecutiveLossLimit)
	return m, nil
}

// NewInMemory creates a manager without persistence, for tests and dry runs.
func NewInMemory(cfg Config) *Manager {
	return &Manager{
		config:      cfg,
		instruments: make(map[string]InstrumentConfig),
		positions:   make(map[string][]Position),
		now:         time.Now,
	}
}

// SetInstrumentConfigs replaces the per-instrument overrides.
func (m *Manager) SetInstrumentConfigs(configs []InstrumentConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instruments = make(map[string]InstrumentConfig, len(configs))
	for _, ic := range configs {
		m.instruments[ic.Symbol] = ic
	}
}

// InstrumentConfig returns the effective per-instrument settings.
func (m *Manager) InstrumentConfig(symbol string) InstrumentConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.instrumentLocked(symbol)
}

func (m *Manager) instrumentLocked(symbol string) InstrumentConfig {
	if ic, ok := m.instruments[symbol]; ok {
		return ic
	}
	return DefaultInstrumentConfig(symbol)
}

// CheckTradingAllowed runs the admission checks in a fixed order and
// short-circuits on the first failure. Limits are read live so edits apply to
// the very next check.
func (m *Manager) CheckTradingAllowed(symbol string, collateral float64, leverage int) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked()

	cfg := m.config
	inst := m.instrumentLocked(symbol)
	now := m.now()

	// 1. Instrument enabled.
	if !inst.Enabled {
		return deny("trading disabled for %s", symbol)
	}

	// 2. Circuit breaker pause window.
	if now.Before(m.pausedUntil) {
		return deny("trading paused until %s after consecutive losses", m.pausedUntil.UTC().Format(time.RFC3339))
	}

	// 3. Leverage caps, global then instrument.
	if cfg.MaxLeverage > 0 && leverage > cfg.MaxLeverage {
		return deny("leverage %dx exceeds account max %dx", leverage, cfg.MaxLeverage)
	}
	if inst.MaxLeverage > 0 && leverage > inst.MaxLeverage {
		return deny("leverage %dx exceeds %s max %dx", leverage, symbol, inst.MaxLeverage)
	}

	// 4. Single-position notional cap.
	notional := collateral * float64(leverage)
	if cfg.MaxPositionValue > 0 && notional > cfg.MaxPositionValue {
		return deny("position value %.2f exceeds max %.2f", notional, cfg.MaxPositionValue)
	}

	// 5. Per-instrument open position count.
	if inst.MaxOpenPositions > 0 && len(m.positions[symbol]) >= inst.MaxOpenPositions {
		return deny("%s already has %d open position(s), max %d", symbol, len(m.positions[symbol]), inst.MaxOpenPositions)
	}

	// 6. Total open position count.
	total, exposure := m.bookTotalsLocked()
	if cfg.MaxTotalPositions > 0 && total >= cfg.MaxTotalPositions {
		return deny("open positions %d at max %d", total, cfg.MaxTotalPositions)
	}

	// 7. Total exposure including this trade.
	if cfg.MaxTotalExposure > 0 && exposure+notional > cfg.MaxTotalExposure {
		return deny("total exposure %.2f would exceed max %.2f", exposure+notional, cfg.MaxTotalExposure)
	}

	// 8. Daily loss limit on realized PnL.
	if cfg.DailyLossLimit > 0 && m.daily.PnL <= -cfg.DailyLossLimit {
		return deny("daily loss limit reached: %.2f/%.2f", -m.daily.PnL, cfg.DailyLossLimit)
	}

	// 9. Daily trade count.
	if cfg.MaxDailyTrades > 0 && m.daily.Trades >= cfg.MaxDailyTrades {
		return deny("daily trade limit reached: %d/%d", m.daily.Trades, cfg.MaxDailyTrades)
	}

	return Decision{Allowed: true}
}

func deny(format string, args ...any) Decision {
	return Decision{Allowed: false, Reason: fmt.Sprintf(format, args...)}
}

// OpenPosition records a filled entry in the position book and counts it
// toward the daily trade limit.
func (m *Manager) OpenPosition(p Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked()

	if p.OpenedAt.IsZero() {
		p.OpenedAt = m.now()
	}
	m.positions[p.Symbol] = append(m.positions[p.Symbol], p)
	m.daily.Trades++
	m.persistDailyLocked()
}

// RestorePosition puts a position back at the head of the book after a failed
// close. The trade was already counted when it opened, so daily stats are left
// alone.
func (m *Manager) RestorePosition(p Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[p.Symbol] = append([]Position{p}, m.positions[p.Symbol]...)
}

// ClosePosition removes the oldest open position for symbol and returns it.
func (m *Manager) ClosePosition(symbol string) (Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	open := m.positions[symbol]
	if len(open) == 0 {
		return Position{}, false
	}
	p := open[0]
	if len(open) == 1 {
		delete(m.positions, symbol)
	} else {
		m.positions[symbol] = open[1:]
	}
	return p, true
}

// OpenPositions returns a copy of the current position book.
func (m *Manager) OpenPositions() []Position {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Position
	for _, open := range m.positions {
		out = append(out, open...)
	}
	return out
}

// RecordTradeResult feeds one closed trade's realized PnL into the daily
// stats and the circuit breaker. Callers must invoke it exactly once per
// close; results are not deduplicated here.
func (m *Manager) RecordTradeResult(pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked()

	m.daily.PnL += pnl
	if pnl < 0 {
		m.daily.Losses++
		m.consecutiveLosses++
		if m.config.ConsecutiveLossLimit > 0 && m.consecutiveLosses >= m.config.ConsecutiveLossLimit {
			m.pausedUntil = m.now().Add(m.config.PauseDuration)
			m.consecutiveLosses = 0
			log.Printf("risk: %d consecutive losses, trading paused until %s",
				m.config.ConsecutiveLossLimit, m.pausedUntil.UTC().Format(time.RFC3339))
			if m.bus != nil {
				m.bus.Publish(events.EventRiskAlert, fmt.Sprintf("trading paused until %s", m.pausedUntil.UTC().Format(time.RFC3339)))
			}
		}
	} else {
		if pnl > 0 {
			m.daily.Wins++
		}
		m.consecutiveLosses = 0
	}
	m.persistDailyLocked()
}

// Config returns a copy of the current account-level limits.
func (m *Manager) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config
}

// UpdateConfig replaces the account-level limits, taking effect on the next
// admission check.
func (m *Manager) UpdateConfig(cfg Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config = cfg
	if m.store != nil {
		if err := m.store.SaveConfig(cfg); err != nil {
			return fmt.Errorf("save risk config: %w", err)
		}
	}
	return nil
}

// CurrentStatus reports the circuit breaker state and live counters.
func (m *Manager) CurrentStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked()

	total, exposure := m.bookTotalsLocked()
	st := Status{
		State:             StateNormal,
		ConsecutiveLosses: m.consecutiveLosses,
		OpenPositions:     total,
		TotalExposure:     exposure,
		Daily:             m.daily,
	}
	if m.now().Before(m.pausedUntil) {
		st.State = StatePaused
		until := m.pausedUntil
		st.PausedUntil = &until
	}
	return st
}

func (m *Manager) bookTotalsLocked() (count int, exposure float64) {
	for _, open := range m.positions {
		count += len(open)
		for _, p := range open {
			exposure += p.Notional()
		}
	}
	return count, exposure
}

// rolloverLocked resets daily counters when the UTC calendar day changes.
func (m *Manager) rolloverLocked() {
	today := m.now().UTC().Format("2006-01-02")
	if m.daily.Date == today {
		return
	}
	if m.daily.Date != "" {
		log.Printf("risk: daily rollover %s -> %s (pnl=%.2f trades=%d)",
			m.daily.Date, today, m.daily.PnL, m.daily.Trades)
	}
	m.daily = DailyStats{Date: today}
}

func (m *Manager) persistDailyLocked() {
	if m.store == nil {
		return
	}
	if err := m.store.SaveDailyStats(m.daily); err != nil {
		log.Printf("risk: persist daily stats failed: %v", err)
	}
}
