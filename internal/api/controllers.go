package api

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"execution-core/internal/engine"
	"execution-core/internal/risk"
	"execution-core/pkg/exchange"
)

type executeTradeRequest struct {
	Symbol     string  `json:"symbol" binding:"required,min=1"`
	Side       string  `json:"side" binding:"required,oneof=BUY SELL"`
	Leverage   int     `json:"leverage" binding:"required,min=1"`
	Collateral float64 `json:"collateral" binding:"required,gt=0"`

	StopLossPct        *float64 `json:"stop_loss_pct"`
	TakeProfit1Pct     *float64 `json:"take_profit_1_pct"`
	TakeProfit1SizePct *float64 `json:"take_profit_1_size_pct"`
	TakeProfit2Pct     *float64 `json:"take_profit_2_pct"`
	TakeProfit2SizePct *float64 `json:"take_profit_2_size_pct"`

	Slippage float64 `json:"slippage"`
}

func (r executeTradeRequest) toEngine() engine.TradeRequest {
	return engine.TradeRequest{
		Symbol:             strings.ToUpper(r.Symbol),
		Side:               exchange.Side(r.Side),
		Leverage:           r.Leverage,
		Collateral:         r.Collateral,
		StopLossPct:        r.StopLossPct,
		TakeProfit1Pct:     r.TakeProfit1Pct,
		TakeProfit1SizePct: r.TakeProfit1SizePct,
		TakeProfit2Pct:     r.TakeProfit2Pct,
		TakeProfit2SizePct: r.TakeProfit2SizePct,
		Slippage:           r.Slippage,
	}
}

func (s *Server) executeTrade(c *gin.Context) {
	var req executeTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	er := req.toEngine()
	if er.Slippage == 0 {
		er.Slippage = s.Defaults.Slippage
	}
	result, err := s.Engine.ExecuteTrade(c.Request.Context(), er)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "trade": result})
}

func (s *Server) closePosition(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))

	result, err := s.Engine.ClosePosition(c.Request.Context(), symbol)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "close": result})
}

type tradeResultRequest struct {
	PnL *float64 `json:"pnl" binding:"required"`
}

// recordTradeResult feeds one closed trade's realized PnL into the risk
// manager. Callers must post each close exactly once.
func (s *Server) recordTradeResult(c *gin.Context) {
	var req tradeResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.RiskMgr.RecordTradeResult(*req.PnL)
	c.JSON(http.StatusOK, gin.H{"success": true, "status": s.RiskMgr.CurrentStatus()})
}

func (s *Server) getPositions(c *gin.Context) {
	positions := s.RiskMgr.OpenPositions()
	if positions == nil {
		positions = []risk.Position{}
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions})
}

func (s *Server) getPrices(c *gin.Context) {
	var symbols []string
	if q := c.Query("symbols"); q != "" {
		for _, sym := range strings.Split(q, ",") {
			if t := strings.TrimSpace(sym); t != "" {
				symbols = append(symbols, strings.ToUpper(t))
			}
		}
	}

	prices, err := s.Prices.Prices(c.Request.Context(), symbols...)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"prices": prices, "feed": s.Prices.CurrentState()})
}

func (s *Server) getMetadata(c *gin.Context) {
	force, _ := strconv.ParseBool(c.Query("refresh"))
	meta := s.Meta.Metadata(c.Request.Context(), force)
	c.JSON(http.StatusOK, gin.H{"instruments": meta})
}

func (s *Server) getRiskStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.RiskMgr.CurrentStatus())
}

func (s *Server) checkTradingAllowed(c *gin.Context) {
	symbol := strings.ToUpper(c.Query("symbol"))
	collateral, _ := strconv.ParseFloat(c.Query("collateral"), 64)
	leverage, _ := strconv.Atoi(c.Query("leverage"))
	if symbol == "" || collateral <= 0 || leverage <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol, collateral and leverage are required"})
		return
	}
	c.JSON(http.StatusOK, s.RiskMgr.CheckTradingAllowed(symbol, collateral, leverage))
}

func (s *Server) getRiskConfig(c *gin.Context) {
	c.JSON(http.StatusOK, s.RiskMgr.Config())
}

func (s *Server) updateRiskConfig(c *gin.Context) {
	var cfg risk.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.RiskMgr.UpdateConfig(cfg); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.RiskMgr.Config())
}

type webhookAlert struct {
	Secret     string  `json:"secret" binding:"required"`
	Symbol     string  `json:"symbol" binding:"required,min=1"`
	Side       string  `json:"side" binding:"required,oneof=BUY SELL buy sell"`
	Leverage   int     `json:"leverage"`
	Collateral float64 `json:"collateral" binding:"required,gt=0"`
	Slippage   float64 `json:"slippage"`

	StopLossPct    *float64 `json:"stop_loss_pct"`
	TakeProfit1Pct *float64 `json:"take_profit_1_pct"`
	TakeProfit2Pct *float64 `json:"take_profit_2_pct"`
}

// webhook is the alert-ingestion endpoint: it validates the shared secret and
// forwards the parsed parameters into the engine.
func (s *Server) webhook(c *gin.Context) {
	var alert webhookAlert
	if err := c.ShouldBindJSON(&alert); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if s.WebhookSecret == "" ||
		subtle.ConstantTimeCompare([]byte(alert.Secret), []byte(s.WebhookSecret)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook secret"})
		return
	}

	req := engine.TradeRequest{
		Symbol:         strings.ToUpper(alert.Symbol),
		Side:           exchange.Side(strings.ToUpper(alert.Side)),
		Leverage:       alert.Leverage,
		Collateral:     alert.Collateral,
		Slippage:       alert.Slippage,
		StopLossPct:    alert.StopLossPct,
		TakeProfit1Pct: alert.TakeProfit1Pct,
		TakeProfit2Pct: alert.TakeProfit2Pct,
	}
	if req.Leverage <= 0 {
		req.Leverage = s.Defaults.Leverage
	}
	if req.Leverage <= 0 {
		req.Leverage = 1
	}
	if req.Slippage == 0 {
		req.Slippage = s.Defaults.Slippage
	}

	result, err := s.Engine.ExecuteTrade(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "trade": result})
}
