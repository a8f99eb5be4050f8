package exchange

import "context"

// Gateway abstracts a perpetual-futures venue. The engine only talks to this
// interface so tests can run against a fake.
type Gateway interface {
	// FetchInstruments returns the full instrument metadata snapshot.
	FetchInstruments(ctx context.Context) (map[string]Instrument, error)

	// FetchMidPrices returns current mid prices, all symbols in one call.
	FetchMidPrices(ctx context.Context) ([]MidPrice, error)

	// SetLeverage sets per-symbol leverage. Isolated margin is applied in the
	// same call; the engine never trades cross.
	SetLeverage(ctx context.Context, symbol string, leverage int, isolated bool) error

	// SubmitOrder places an order and returns the venue ack.
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)

	// CancelAllOrders cancels all open orders for a symbol.
	CancelAllOrders(ctx context.Context, symbol string) error
}
