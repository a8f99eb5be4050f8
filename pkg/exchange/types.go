package exchange

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the exit side for a position entered on s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType denotes the order types the engine submits.
type OrderType string

const (
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeStopMarket OrderType = "STOP_MARKET"
	OrderTypeTakeProfit OrderType = "TAKE_PROFIT_MARKET"
)

// OrderStatus normalizes exchange status into a small set.
type OrderStatus string

const (
	StatusNew      OrderStatus = "NEW"
	StatusPartial  OrderStatus = "PARTIAL"
	StatusFilled   OrderStatus = "FILLED"
	StatusCanceled OrderStatus = "CANCELED"
	StatusRejected OrderStatus = "REJECTED"
	StatusExpired  OrderStatus = "EXPIRED"
	StatusUnknown  OrderStatus = "UNKNOWN"
)

// MarginMode distinguishes isolated vs cross margin.
type MarginMode string

const (
	MarginIsolated MarginMode = "ISOLATED"
	MarginCross    MarginMode = "CROSSED"
)

// Instrument carries the per-symbol trading constraints the engine needs.
type Instrument struct {
	Symbol       string
	SizeDecimals int
	MaxLeverage  int
	OnlyIsolated bool
	MarginMode   MarginMode
	QuoteAsset   string
}

// MidPrice is one symbol's current mid price.
type MidPrice struct {
	Symbol string
	Price  float64
}

// OrderRequest captures an order intent to be sent to the venue.
type OrderRequest struct {
	Symbol        string
	Side          Side
	Type          OrderType
	Qty           float64
	Price         float64 // reference quote for slippage-capped market orders
	StopPrice     float64 // trigger price for STOP_MARKET / TAKE_PROFIT_MARKET
	ClientID      string
	ReduceOnly    bool
	ClosePosition bool    // full-size close, Qty ignored
	Slippage      float64 // max slippage for market orders, fraction of Price
}

// OrderResult returns the venue ack for a submitted order.
type OrderResult struct {
	ExchangeOrderID string
	ClientID        string
	Status          OrderStatus
	FilledQty       float64
	AvgFillPrice    float64
}

// Filled reports whether the order executed immediately. A market order that
// comes back resting is treated as not filled by the engine.
func (r OrderResult) Filled() bool {
	return r.Status == StatusFilled && r.FilledQty > 0
}
