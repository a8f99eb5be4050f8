package engine

import (
	"execution-core/pkg/exchange"
)

// Protective order labels used in TradeResult outcomes.
const (
	LabelStopLoss    = "stop_loss"
	LabelTakeProfit1 = "take_profit_1"
	LabelTakeProfit2 = "take_profit_2"
)

// TradeRequest describes one admitted trade to execute. Percent fields are
// percentages of the entry price (10 = 10%); nil means use the instrument's
// configured default, zero disables that level.
type TradeRequest struct {
	Symbol     string        `json:"symbol"`
	Side       exchange.Side `json:"side"`
	Leverage   int           `json:"leverage"`
	Collateral float64       `json:"collateral"` // quote units backing the position

	StopLossPct        *float64 `json:"stop_loss_pct,omitempty"`
	TakeProfit1Pct     *float64 `json:"take_profit_1_pct,omitempty"`
	TakeProfit1SizePct *float64 `json:"take_profit_1_size_pct,omitempty"` // percent of filled size
	TakeProfit2Pct     *float64 `json:"take_profit_2_pct,omitempty"`
	TakeProfit2SizePct *float64 `json:"take_profit_2_size_pct,omitempty"`

	Slippage float64 `json:"slippage,omitempty"` // fraction, e.g. 0.01 = 1%
}

// OrderOutcome reports one protective order's submission result.
type OrderOutcome struct {
	Label           string  `json:"label"`
	Price           float64 `json:"price"`
	Size            float64 `json:"size"`
	OK              bool    `json:"ok"`
	Error           string  `json:"error,omitempty"`
	ExchangeOrderID string  `json:"exchange_order_id,omitempty"`
}

// TradeResult is the structured outcome of a successful entry. Protective
// order failures do not fail the trade; they appear in Protection with
// OK=false so the caller can retry or alert.
type TradeResult struct {
	Symbol     string        `json:"symbol"`
	Side       exchange.Side `json:"side"`
	Leverage   int           `json:"leverage"`
	Collateral float64       `json:"collateral"`

	Size       float64 `json:"size"`        // filled size, base units
	EntryPrice float64 `json:"entry_price"` // actual average fill price

	StopLossPrice    float64 `json:"stop_loss_price,omitempty"`
	TakeProfit1Price float64 `json:"take_profit_1_price,omitempty"`
	TakeProfit2Price float64 `json:"take_profit_2_price,omitempty"`

	EntryOrderID  string         `json:"entry_order_id"`
	EntryClientID string         `json:"entry_client_id"`
	Protection    []OrderOutcome `json:"protection,omitempty"`
}

// CloseResult is the outcome of a position close.
type CloseResult struct {
	Symbol     string        `json:"symbol"`
	Side       exchange.Side `json:"side"` // side of the closing order
	Size       float64       `json:"size"`
	ClosePrice float64       `json:"close_price"`
	OrderID    string        `json:"order_id"`
}
