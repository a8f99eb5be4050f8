package risk

import (
	"time"
)

// Circuit breaker states.
const (
	StateNormal = "NORMAL"
	StatePaused = "PAUSED"
)

// Config defines account-level risk limits. A zero limit disables that check.
type Config struct {
	// Leverage & sizing
	MaxLeverage      int     `json:"max_leverage" yaml:"max_leverage"`
	MaxPositionValue float64 `json:"max_position_value" yaml:"max_position_value"` // notional per trade, quote units
	MaxTotalExposure float64 `json:"max_total_exposure" yaml:"max_total_exposure"` // sum of notionals across open positions

	// Position counts
	MaxTotalPositions int `json:"max_total_positions" yaml:"max_total_positions"`

	// Daily limits (UTC calendar day)
	DailyLossLimit float64 `json:"daily_loss_limit" yaml:"daily_loss_limit"` // absolute value of realized losses
	MaxDailyTrades int     `json:"max_daily_trades" yaml:"max_daily_trades"`

	// Circuit breaker
	ConsecutiveLossLimit int           `json:"consecutive_loss_limit" yaml:"consecutive_loss_limit"`
	PauseDuration        time.Duration `json:"pause_duration" yaml:"pause_duration"`
}

// DefaultConfig returns conservative account-level limits.
func DefaultConfig() Config {
	return Config{
		MaxLeverage:          20,
		MaxPositionValue:     1000.0,
		MaxTotalExposure:     5000.0,
		MaxTotalPositions:    5,
		DailyLossLimit:       200.0,
		MaxDailyTrades:       20,
		ConsecutiveLossLimit: 3,
		PauseDuration:        time.Hour,
	}
}

// InstrumentConfig holds per-instrument overrides. A zero override falls back
// to the account-level Config.
type InstrumentConfig struct {
	Symbol           string `json:"symbol" yaml:"symbol"`
	Enabled          bool   `json:"enabled" yaml:"enabled"`
	MaxLeverage      int    `json:"max_leverage" yaml:"max_leverage"`
	MaxOpenPositions int    `json:"max_open_positions" yaml:"max_open_positions"`

	// Default protective levels, percent of entry price (e.g. 10 = 10%).
	StopLossPct        float64 `json:"stop_loss_pct" yaml:"stop_loss_pct"`
	TakeProfit1Pct     float64 `json:"take_profit_1_pct" yaml:"take_profit_1_pct"`
	TakeProfit1SizePct float64 `json:"take_profit_1_size_pct" yaml:"take_profit_1_size_pct"`
	TakeProfit2Pct     float64 `json:"take_profit_2_pct" yaml:"take_profit_2_pct"`
	TakeProfit2SizePct float64 `json:"take_profit_2_size_pct" yaml:"take_profit_2_size_pct"`
}

// DefaultInstrumentConfig returns the settings used when no override exists.
func DefaultInstrumentConfig(symbol string) InstrumentConfig {
	return InstrumentConfig{
		Symbol:             symbol,
		Enabled:            true,
		MaxOpenPositions:   1,
		StopLossPct:        10.0,
		TakeProfit1Pct:     10.0,
		TakeProfit1SizePct: 50.0,
		TakeProfit2Pct:     25.0,
		TakeProfit2SizePct: 50.0,
	}
}

// Decision is the result of an admission check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Position is an open position tracked by the admission controller.
type Position struct {
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"` // BUY opened long, SELL opened short
	Size       float64   `json:"size"`
	Collateral float64   `json:"collateral"`
	Leverage   int       `json:"leverage"`
	EntryPrice float64   `json:"entry_price"`
	OpenedAt   time.Time `json:"opened_at"`
}

// Notional is the position's total exposure in quote units.
func (p Position) Notional() float64 {
	return p.Collateral * float64(p.Leverage)
}

// DailyStats aggregates realized results for one UTC calendar day.
type DailyStats struct {
	Date   string  `json:"date"` // YYYY-MM-DD
	PnL    float64 `json:"pnl"`
	Trades int     `json:"trades"`
	Wins   int     `json:"wins"`
	Losses int     `json:"losses"`
}

// Status is a snapshot of the manager's live state for observability.
type Status struct {
	State             string     `json:"state"` // NORMAL or PAUSED
	PausedUntil       *time.Time `json:"paused_until,omitempty"`
	ConsecutiveLosses int        `json:"consecutive_losses"`
	OpenPositions     int        `json:"open_positions"`
	TotalExposure     float64    `json:"total_exposure"`
	Daily             DailyStats `json:"daily"`
}
