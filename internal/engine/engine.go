// Package engine turns admitted trade requests into exchange orders: leverage
// setup, sizing, market entry, and protective stop/take-profit placement.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"execution-core/internal/events"
	"execution-core/internal/metadata"
	"execution-core/internal/pricefeed"
	"execution-core/internal/risk"
	"execution-core/pkg/exchange"
)

const priceSigFigs = 5

// Engine executes trades against one exchange account. Calls for the same
// symbol are serialized so two near-simultaneous requests cannot both pass
// admission before either position is recorded.
type Engine struct {
	gateway  exchange.Gateway
	metadata *metadata.Cache
	prices   *pricefeed.Feed
	risk     *risk.Manager
	retry    exchange.RetryPolicy
	bus      *events.Bus

	mu    sync.Mutex
	symMu map[string]*sync.Mutex
}

// New creates an execution engine.
func New(gateway exchange.Gateway, md *metadata.Cache, prices *pricefeed.Feed, rm *risk.Manager, bus *events.Bus) *Engine {
	return &Engine{
		gateway:  gateway,
		metadata: md,
		prices:   prices,
		risk:     rm,
		retry:    exchange.DefaultRetryPolicy(),
		bus:      bus,
		symMu:    make(map[string]*sync.Mutex),
	}
}

func (e *Engine) symbolLock(symbol string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	mu, ok := e.symMu[symbol]
	if !ok {
		mu = &sync.Mutex{}
		e.symMu[symbol] = mu
	}
	return mu
}

// ExecuteTrade runs the admit-then-execute sequence for one trade. The steps
// are strictly sequential: leverage must be set before the entry order is
// sent, and the entry must fill before protective orders are derived.
func (e *Engine) ExecuteTrade(ctx context.Context, req TradeRequest) (*TradeResult, error) {
	if req.Side != exchange.SideBuy && req.Side != exchange.SideSell {
		return nil, fmt.Errorf("invalid side %q", req.Side)
	}
	if req.Collateral <= 0 {
		return nil, fmt.Errorf("collateral must be positive, got %.2f", req.Collateral)
	}
	if req.Leverage <= 0 {
		return nil, fmt.Errorf("leverage must be positive, got %d", req.Leverage)
	}

	mu := e.symbolLock(req.Symbol)
	mu.Lock()
	defer mu.Unlock()

	if dec := e.risk.CheckTradingAllowed(req.Symbol, req.Collateral, req.Leverage); !dec.Allowed {
		return nil, fmt.Errorf("trade not allowed: %s", dec.Reason)
	}

	inst, ok := e.metadata.Instrument(ctx, req.Symbol)
	if !ok {
		return nil, fmt.Errorf("unknown instrument %s", req.Symbol)
	}
	if req.Leverage > inst.MaxLeverage {
		return nil, fmt.Errorf("leverage %dx exceeds max %dx for %s", req.Leverage, inst.MaxLeverage, req.Symbol)
	}

	// Isolated margin always, never cross. Instruments restricted to isolated
	// would reject cross, and isolated caps loss to the posted collateral.
	err := e.retry.Retry(ctx, fmt.Sprintf("set leverage %s", req.Symbol), func() error {
		return e.gateway.SetLeverage(ctx, req.Symbol, req.Leverage, true)
	})
	if err != nil {
		return nil, fmt.Errorf("set leverage %dx for %s: %w", req.Leverage, req.Symbol, err)
	}

	price, err := e.prices.Price(ctx, req.Symbol)
	if err != nil {
		return nil, fmt.Errorf("no price for %s: %w", req.Symbol, err)
	}

	notional := req.Collateral * float64(req.Leverage)
	size := roundSize(notional/price, inst.SizeDecimals)

	entry := exchange.OrderRequest{
		Symbol:   req.Symbol,
		Side:     req.Side,
		Type:     exchange.OrderTypeMarket,
		Qty:      size,
		Price:    price, // reference quote for the slippage bound
		ClientID: uuid.NewString(),
		Slippage: req.Slippage,
	}
	e.publish(events.EventOrderSubmitted, entry.ClientID)

	var fill exchange.OrderResult
	err = e.retry.Retry(ctx, fmt.Sprintf("entry order %s", req.Symbol), func() error {
		res, submitErr := e.gateway.SubmitOrder(ctx, entry)
		if submitErr != nil {
			return submitErr
		}
		fill = res
		return nil
	})
	if err != nil {
		e.publish(events.EventOrderRejected, req.Symbol)
		return nil, fmt.Errorf("entry order for %s: %w", req.Symbol, err)
	}
	if !fill.Filled() {
		// A market order resting unfilled is a failure; never attach
		// protective orders to a position that does not exist.
		e.publish(events.EventOrderRejected, req.Symbol)
		return nil, fmt.Errorf("entry order for %s not filled (status %s)", req.Symbol, fill.Status)
	}

	// All protective math uses the actual average fill price; the pre-trade
	// quote may differ and liquidation risk depends on the true entry.
	result := &TradeResult{
		Symbol:        req.Symbol,
		Side:          req.Side,
		Leverage:      req.Leverage,
		Collateral:    req.Collateral,
		Size:          fill.FilledQty,
		EntryPrice:    fill.AvgFillPrice,
		EntryOrderID:  fill.ExchangeOrderID,
		EntryClientID: entry.ClientID,
	}
	log.Printf("engine: %s %s filled size=%v entry=%v order=%s",
		req.Side, req.Symbol, result.Size, result.EntryPrice, result.EntryOrderID)
	e.publish(events.EventOrderFilled, result.EntryOrderID)

	e.placeProtection(ctx, req, inst, result)

	e.risk.OpenPosition(risk.Position{
		Symbol:     req.Symbol,
		Side:       string(req.Side),
		Size:       result.Size,
		Collateral: req.Collateral,
		Leverage:   req.Leverage,
		EntryPrice: result.EntryPrice,
	})
	e.publish(events.EventTradeExecuted, result)

	return result, nil
}

// placeProtection derives and submits the stop-loss and take-profit orders.
// Each failure is non-fatal and recorded on the result.
func (e *Engine) placeProtection(ctx context.Context, req TradeRequest, inst exchange.Instrument, result *TradeResult) {
	cfg := e.risk.InstrumentConfig(req.Symbol)
	slPct := pctOrDefault(req.StopLossPct, cfg.StopLossPct)
	tp1Pct := pctOrDefault(req.TakeProfit1Pct, cfg.TakeProfit1Pct)
	tp1Size := pctOrDefault(req.TakeProfit1SizePct, cfg.TakeProfit1SizePct)
	tp2Pct := pctOrDefault(req.TakeProfit2Pct, cfg.TakeProfit2Pct)
	tp2Size := pctOrDefault(req.TakeProfit2SizePct, cfg.TakeProfit2SizePct)

	if slPct > 0 {
		price := roundSigFigs(protectivePrice(result.EntryPrice, slPct, req.Side, true), priceSigFigs)
		result.StopLossPrice = price
		outcome := e.submitTrigger(ctx, req.Symbol, req.Side.Opposite(), exchange.OrderTypeStopMarket,
			LabelStopLoss, price, result.Size)
		result.Protection = append(result.Protection, outcome)
	}
	if tp1Pct > 0 {
		size := roundDownSize(result.Size*tp1Size/100, inst.SizeDecimals)
		price := roundSigFigs(protectivePrice(result.EntryPrice, tp1Pct, req.Side, false), priceSigFigs)
		result.TakeProfit1Price = price
		if size <= 0 {
			log.Printf("engine: %s take profit 1 size rounds to zero, skipping", req.Symbol)
		} else {
			outcome := e.submitTrigger(ctx, req.Symbol, req.Side.Opposite(), exchange.OrderTypeTakeProfit,
				LabelTakeProfit1, price, size)
			result.Protection = append(result.Protection, outcome)
		}
	}
	if tp2Pct > 0 {
		size := roundDownSize(result.Size*tp2Size/100, inst.SizeDecimals)
		price := roundSigFigs(protectivePrice(result.EntryPrice, tp2Pct, req.Side, false), priceSigFigs)
		result.TakeProfit2Price = price
		if size <= 0 {
			log.Printf("engine: %s take profit 2 size rounds to zero, skipping", req.Symbol)
		} else {
			outcome := e.submitTrigger(ctx, req.Symbol, req.Side.Opposite(), exchange.OrderTypeTakeProfit,
				LabelTakeProfit2, price, size)
			result.Protection = append(result.Protection, outcome)
		}
	}
}

func (e *Engine) submitTrigger(ctx context.Context, symbol string, side exchange.Side, typ exchange.OrderType, label string, price, size float64) OrderOutcome {
	outcome := OrderOutcome{Label: label, Price: price, Size: size}

	order := exchange.OrderRequest{
		Symbol:     symbol,
		Side:       side,
		Type:       typ,
		Qty:        size,
		StopPrice:  price,
		ClientID:   uuid.NewString(),
		ReduceOnly: true,
	}
	e.publish(events.EventOrderSubmitted, order.ClientID)
	var res exchange.OrderResult
	err := e.retry.Retry(ctx, fmt.Sprintf("%s order %s", label, symbol), func() error {
		r, submitErr := e.gateway.SubmitOrder(ctx, order)
		if submitErr != nil {
			return submitErr
		}
		res = r
		return nil
	})
	if err != nil {
		log.Printf("engine: %s for %s failed (entry stands): %v", label, symbol, err)
		outcome.Error = err.Error()
		return outcome
	}

	outcome.OK = true
	outcome.ExchangeOrderID = res.ExchangeOrderID
	log.Printf("engine: %s for %s placed at %v size=%v order=%s", label, symbol, price, size, res.ExchangeOrderID)
	return outcome
}

// ClosePosition market-closes the oldest open position for symbol and cancels
// its remaining protective orders. Feeding realized PnL back into the risk
// manager is the caller's job once the close is reconciled.
func (e *Engine) ClosePosition(ctx context.Context, symbol string) (*CloseResult, error) {
	mu := e.symbolLock(symbol)
	mu.Lock()
	defer mu.Unlock()

	pos, ok := e.risk.ClosePosition(symbol)
	if !ok {
		return nil, fmt.Errorf("no open position for %s", symbol)
	}

	side := exchange.Side(pos.Side).Opposite()
	order := exchange.OrderRequest{
		Symbol:     symbol,
		Side:       side,
		Type:       exchange.OrderTypeMarket,
		Qty:        pos.Size,
		ClientID:   uuid.NewString(),
		ReduceOnly: true,
	}
	e.publish(events.EventOrderSubmitted, order.ClientID)

	var fill exchange.OrderResult
	err := e.retry.Retry(ctx, fmt.Sprintf("close order %s", symbol), func() error {
		res, submitErr := e.gateway.SubmitOrder(ctx, order)
		if submitErr != nil {
			return submitErr
		}
		fill = res
		return nil
	})
	if err != nil {
		// Close failed, put the position back so it is not lost from the book.
		// The restore must not count a trade; that happened when it opened.
		e.risk.RestorePosition(pos)
		return nil, fmt.Errorf("close order for %s: %w", symbol, err)
	}
	if !fill.Filled() {
		e.risk.RestorePosition(pos)
		return nil, fmt.Errorf("close order for %s not filled (status %s)", symbol, fill.Status)
	}

	if cancelErr := e.gateway.CancelAllOrders(ctx, symbol); cancelErr != nil {
		log.Printf("engine: cancel remaining orders for %s failed: %v", symbol, cancelErr)
	}

	result := &CloseResult{
		Symbol:     symbol,
		Side:       side,
		Size:       fill.FilledQty,
		ClosePrice: fill.AvgFillPrice,
		OrderID:    fill.ExchangeOrderID,
	}
	log.Printf("engine: closed %s size=%v at %v", symbol, result.Size, result.ClosePrice)
	e.publish(events.EventTradeClosed, result)
	return result, nil
}

func (e *Engine) publish(event events.Event, payload any) {
	if e.bus != nil {
		e.bus.Publish(event, payload)
	}
}

// protectivePrice derives a trigger price from the entry. Stops sit on the
// losing side of the entry, take-profits on the winning side; shorts mirror
// longs.
func protectivePrice(entry, pct float64, side exchange.Side, isStop bool) float64 {
	frac := pct / 100
	long := side == exchange.SideBuy
	if long == isStop {
		return entry * (1 - frac)
	}
	return entry * (1 + frac)
}

func pctOrDefault(v *float64, def float64) float64 {
	if v != nil {
		return *v
	}
	return def
}
