// Package api exposes the execution core over HTTP: trade submission, position
// close, risk status/config, prices, and metadata, plus the alert webhook.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"execution-core/internal/engine"
	"execution-core/internal/events"
	"execution-core/internal/metadata"
	"execution-core/internal/pricefeed"
	"execution-core/internal/risk"
)

// Defaults fill request fields alert senders usually omit.
type Defaults struct {
	Leverage int
	Slippage float64 // fraction
}

// Server wires HTTP endpoints around the execution core services.
type Server struct {
	Router        *gin.Engine
	Bus           *events.Bus
	Engine        *engine.Engine
	RiskMgr       *risk.Manager
	Prices        *pricefeed.Feed
	Meta          *metadata.Cache
	WebhookSecret string
	Defaults      Defaults
}

// NewServer builds the router with the middleware stack and routes.
func NewServer(eng *engine.Engine, riskMgr *risk.Manager, prices *pricefeed.Feed, meta *metadata.Cache, bus *events.Bus, webhookSecret string, defaults Defaults) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(30 * time.Second))

	s := &Server{
		Router:        r,
		Bus:           bus,
		Engine:        eng,
		RiskMgr:       riskMgr,
		Prices:        prices,
		Meta:          meta,
		WebhookSecret: webhookSecret,
		Defaults:      defaults,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)
	s.Router.POST("/webhook", s.webhook)

	api := s.Router.Group("/api")
	{
		api.GET("/prices", s.getPrices)
		api.GET("/metadata", s.getMetadata)

		api.POST("/trades", s.executeTrade)
		api.POST("/trades/result", s.recordTradeResult)

		api.GET("/positions", s.getPositions)
		api.POST("/positions/:symbol/close", s.closePosition)

		api.GET("/risk/status", s.getRiskStatus)
		api.GET("/risk/check", s.checkTradingAllowed)
		api.GET("/risk/config", s.getRiskConfig)
		api.PUT("/risk/config", s.updateRiskConfig)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"feed":   s.Prices.CurrentState(),
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
