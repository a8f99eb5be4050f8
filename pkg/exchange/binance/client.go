package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"execution-core/pkg/exchange"
)

// Binance futures error codes the client maps to typed kinds.
const (
	codeTooManyRequests    = -1003
	codeOrderRateLimit     = -1015
	codeMarginInsufficient = -2019
	codeNoNeedChangeMargin = -4046
)

// Config holds Binance USDT-M futures credentials.
type Config struct {
	APIKey     string
	APISecret  string
	Testnet    bool
	RecvWindow int64 // ms
}

// Client handles Binance USDT-M perpetual futures and implements
// exchange.Gateway.
type Client struct {
	cfg         Config
	baseURL     string
	httpClient  *http.Client
	timeSync    *exchange.TimeSync
	rateLimiter *exchange.RateLimiter
}

// NewClient creates a new USDT-M futures client.
func NewClient(cfg Config) *Client {
	base := "https://fapi.binance.com"
	if cfg.Testnet {
		base = "https://testnet.binancefuture.com"
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 5000
	}
	c := &Client{
		cfg:        cfg,
		baseURL:    base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	c.timeSync = exchange.NewTimeSync(func() (int64, error) {
		return c.GetServerTime()
	})
	c.rateLimiter = exchange.NewRateLimiter(2400, time.Minute) // 2400 weight/min for futures
	return c
}

// StartTimeSync begins periodic server-time synchronization.
func (c *Client) StartTimeSync(ctx context.Context) {
	c.timeSync.Start(ctx)
}

func (c *Client) now() int64 {
	if c.timeSync != nil && c.timeSync.Offset() != 0 {
		return c.timeSync.Now()
	}
	return time.Now().UnixMilli()
}

// FetchInstruments returns the instrument metadata snapshot: exchangeInfo for
// precision and quote asset, leverage brackets for the per-symbol leverage cap.
func (c *Client) FetchInstruments(ctx context.Context) (map[string]exchange.Instrument, error) {
	body, err := c.doPublic(ctx, "/fapi/v1/exchangeInfo", nil)
	if err != nil {
		return nil, fmt.Errorf("fetch exchange info: %w", err)
	}
	var info exchangeInfoResp
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decode exchange info: %w", err)
	}

	brackets, err := c.fetchLeverageBrackets(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch leverage brackets: %w", err)
	}

	out := make(map[string]exchange.Instrument, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.ContractType != "PERPETUAL" || s.Status != "TRADING" {
			continue
		}
		maxLev, ok := brackets[s.Symbol]
		if !ok {
			continue
		}
		out[s.Symbol] = exchange.Instrument{
			Symbol:       s.Symbol,
			SizeDecimals: s.QuantityPrecision,
			MaxLeverage:  maxLev,
			MarginMode:   exchange.MarginIsolated,
			QuoteAsset:   s.QuoteAsset,
		}
	}
	return out, nil
}

func (c *Client) fetchLeverageBrackets(ctx context.Context) (map[string]int, error) {
	params := url.Values{}
	params.Set("timestamp", strconv.FormatInt(c.now(), 10))
	params.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))
	body, err := c.doSigned(ctx, http.MethodGet, c.baseURL+"/fapi/v1/leverageBracket", params)
	if err != nil {
		return nil, err
	}
	var resp []struct {
		Symbol   string `json:"symbol"`
		Brackets []struct {
			InitialLeverage int `json:"initialLeverage"`
		} `json:"brackets"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode leverage brackets: %w", err)
	}
	out := make(map[string]int, len(resp))
	for _, entry := range resp {
		max := 0
		for _, b := range entry.Brackets {
			if b.InitialLeverage > max {
				max = b.InitialLeverage
			}
		}
		if max > 0 {
			out[entry.Symbol] = max
		}
	}
	return out, nil
}

// FetchMidPrices returns the current price for every symbol in one call.
func (c *Client) FetchMidPrices(ctx context.Context) ([]exchange.MidPrice, error) {
	body, err := c.doPublic(ctx, "/fapi/v1/ticker/price", nil)
	if err != nil {
		return nil, fmt.Errorf("fetch ticker prices: %w", err)
	}
	var raw []struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode ticker prices: %w", err)
	}
	out := make([]exchange.MidPrice, 0, len(raw))
	for _, t := range raw {
		p, err := strconv.ParseFloat(t.Price, 64)
		if err != nil || p <= 0 {
			continue
		}
		out = append(out, exchange.MidPrice{Symbol: t.Symbol, Price: p})
	}
	return out, nil
}

// SetLeverage sets per-symbol leverage and, when isolated is true, switches the
// symbol to isolated margin. The venue answers -4046 when the margin type is
// already set; that is not an error.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int, isolated bool) error {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return errors.New("binance futures: API key/secret required")
	}
	if isolated {
		params := url.Values{}
		params.Set("symbol", symbol)
		params.Set("marginType", string(exchange.MarginIsolated))
		params.Set("timestamp", strconv.FormatInt(c.now(), 10))
		params.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))
		_, err := c.doSigned(ctx, http.MethodPost, c.baseURL+"/fapi/v1/marginType", params)
		if err != nil && !isNoChangeNeeded(err) {
			return fmt.Errorf("set margin type: %w", err)
		}
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))
	params.Set("timestamp", strconv.FormatInt(c.now(), 10))
	params.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))
	if _, err := c.doSigned(ctx, http.MethodPost, c.baseURL+"/fapi/v1/leverage", params); err != nil {
		return fmt.Errorf("set leverage: %w", err)
	}
	return nil
}

// SubmitOrder places an order. newOrderRespType=RESULT makes the venue wait
// for the match so market fills come back with avgPrice and executedQty.
func (c *Client) SubmitOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return exchange.OrderResult{}, errors.New("binance futures: API key/secret required")
	}
	params := orderParams(req)
	params.Set("timestamp", strconv.FormatInt(c.now(), 10))
	params.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))

	body, err := c.doSigned(ctx, http.MethodPost, c.baseURL+"/fapi/v1/order", params)
	if err != nil {
		return exchange.OrderResult{}, err
	}
	var resp orderResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return exchange.OrderResult{}, fmt.Errorf("decode order: %w", err)
	}
	avg, _ := strconv.ParseFloat(resp.AvgPrice, 64)
	executed, _ := strconv.ParseFloat(resp.ExecutedQty, 64)
	return exchange.OrderResult{
		ExchangeOrderID: strconv.FormatInt(resp.OrderID, 10),
		ClientID:        resp.ClientOrderID,
		Status:          mapStatus(resp.Status),
		FilledQty:       executed,
		AvgFillPrice:    avg,
	}, nil
}

// orderParams builds the venue order parameters. The venue has no slippage
// argument on market orders, so a slippage-capped entry goes out as an
// immediate-or-cancel limit at the bound price: it fills like a market order
// but cannot execute beyond the tolerance.
func orderParams(req exchange.OrderRequest) url.Values {
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", string(req.Side))
	params.Set("newOrderRespType", "RESULT")

	typ := req.Type
	if typ == exchange.OrderTypeMarket && req.Slippage > 0 && req.Price > 0 {
		typ = exchange.OrderTypeLimit
		params.Set("timeInForce", "IOC")
		params.Set("price", formatFloat(slippagePrice(req.Price, req.Slippage, req.Side)))
	}
	params.Set("type", string(typ))

	if req.ClosePosition {
		params.Set("closePosition", "true")
	} else {
		params.Set("quantity", formatFloat(req.Qty))
	}
	if req.Type == exchange.OrderTypeStopMarket || req.Type == exchange.OrderTypeTakeProfit {
		params.Set("stopPrice", formatFloat(req.StopPrice))
		params.Set("workingType", "MARK_PRICE")
	}
	if req.ClientID != "" {
		params.Set("newClientOrderId", req.ClientID)
	}
	if req.ReduceOnly && !req.ClosePosition {
		params.Set("reduceOnly", "true")
	}
	return params
}

// CancelAllOrders cancels all open orders for a symbol.
func (c *Client) CancelAllOrders(ctx context.Context, symbol string) error {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return errors.New("binance futures: API key/secret required")
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("timestamp", strconv.FormatInt(c.now(), 10))
	params.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))
	_, err := c.doSigned(ctx, http.MethodDelete, c.baseURL+"/fapi/v1/allOpenOrders", params)
	return err
}

// GetServerTime fetches futures server time in milliseconds.
func (c *Client) GetServerTime() (int64, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/fapi/v1/time")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("server time status %d: %s", resp.StatusCode, string(b))
	}
	var res struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return 0, err
	}
	return res.ServerTime, nil
}

func (c *Client) doPublic(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

// doSigned handles signing and sending authenticated requests.
func (c *Client) doSigned(ctx context.Context, method, endpoint string, params url.Values) ([]byte, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}
	sig := sign(params.Encode(), c.cfg.APISecret)
	params.Set("signature", sig)

	var (
		req *http.Request
		err error
	)
	encoded := params.Encode()
	switch method {
	case http.MethodGet, http.MethodDelete:
		req, err = http.NewRequestWithContext(ctx, method, endpoint+"?"+encoded, nil)
	default:
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(encoded))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, exchange.NewError(exchange.KindNetwork, 0, err.Error())
	}
	defer res.Body.Close()

	if c.rateLimiter != nil {
		c.rateLimiter.UpdateFromHeader(res.Header.Get("X-MBX-USED-WEIGHT-1M"))
	}

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return nil, classify(res.StatusCode, body)
	}
	return body, nil
}

// classify maps a venue error response to a typed error kind.
func classify(status int, body []byte) error {
	var apiErr struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	_ = json.Unmarshal(body, &apiErr)
	msg := apiErr.Msg
	if msg == "" {
		msg = string(body)
	}

	switch {
	case status == http.StatusTooManyRequests || status == 418:
		return exchange.NewError(exchange.KindRateLimited, apiErr.Code, msg)
	case apiErr.Code == codeTooManyRequests || apiErr.Code == codeOrderRateLimit:
		return exchange.NewError(exchange.KindRateLimited, apiErr.Code, msg)
	case apiErr.Code == codeMarginInsufficient:
		return exchange.NewError(exchange.KindInsufficientMargin, apiErr.Code, msg)
	case status >= 500:
		return exchange.NewError(exchange.KindNetwork, apiErr.Code, msg)
	default:
		return exchange.NewError(exchange.KindRejected, apiErr.Code, msg)
	}
}

func isNoChangeNeeded(err error) bool {
	var e *exchange.Error
	return errors.As(err, &e) && e.Code == codeNoNeedChangeMargin
}

func mapStatus(s string) exchange.OrderStatus {
	switch s {
	case "NEW":
		return exchange.StatusNew
	case "PARTIALLY_FILLED":
		return exchange.StatusPartial
	case "FILLED":
		return exchange.StatusFilled
	case "CANCELED":
		return exchange.StatusCanceled
	case "REJECTED":
		return exchange.StatusRejected
	case "EXPIRED":
		return exchange.StatusExpired
	default:
		return exchange.StatusUnknown
	}
}

type orderResp struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Status        string `json:"status"`
	AvgPrice      string `json:"avgPrice"`
	ExecutedQty   string `json:"executedQty"`
}

type exchangeInfoResp struct {
	Symbols []struct {
		Symbol            string `json:"symbol"`
		Status            string `json:"status"`
		ContractType      string `json:"contractType"`
		QuantityPrecision int    `json:"quantityPrecision"`
		QuoteAsset        string `json:"quoteAsset"`
	} `json:"symbols"`
}
