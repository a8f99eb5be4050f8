package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"execution-core/internal/api"
	"execution-core/internal/engine"
	"execution-core/internal/events"
	"execution-core/internal/metadata"
	"execution-core/internal/pricefeed"
	"execution-core/internal/risk"
	"execution-core/pkg/config"
	"execution-core/pkg/exchange/binance"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	log.Printf("starting execution core on :%s (testnet=%v symbols=%v)",
		cfg.Port, cfg.BinanceTestnet, cfg.Symbols)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core services
	bus := events.NewBus()

	gateway := binance.NewClient(binance.Config{
		APIKey:    cfg.BinanceAPIKey,
		APISecret: cfg.BinanceAPISecret,
		Testnet:   cfg.BinanceTestnet,
	})
	gateway.StartTimeSync(ctx)

	stream := binance.NewStreamClient(cfg.BinanceTestnet)

	feed := pricefeed.New(gateway, stream, bus)
	feed.SetPollTTL(time.Duration(cfg.PollInterval * float64(time.Second)))
	feed.Start(ctx)

	meta := metadata.New(gateway, metadata.DefaultTTL)

	// Risk manager, persisted when a DB path is configured.
	var store *risk.Store
	if cfg.DBPath != "" {
		store, err = risk.OpenStore(cfg.DBPath)
		if err != nil {
			log.Fatalf("open risk store failed: %v", err)
		}
		defer store.Close()
	}
	riskMgr, err := risk.NewManager(risk.DefaultConfig(), store, bus)
	if err != nil {
		log.Fatalf("risk manager init failed: %v", err)
	}

	instruments, err := risk.LoadInstrumentConfigs(cfg.InstrumentsPath)
	if err != nil {
		log.Fatalf("load instrument configs failed: %v", err)
	}
	if len(instruments) > 0 {
		riskMgr.SetInstrumentConfigs(instruments)
		log.Printf("loaded %d instrument override(s) from %s", len(instruments), cfg.InstrumentsPath)
	}

	eng := engine.New(gateway, meta, feed, riskMgr, bus)

	// Warm the metadata cache so the first trade does not pay the fetch.
	if warm := meta.Metadata(ctx, false); len(warm) > 0 {
		log.Printf("metadata warmed: %d instruments", len(warm))
	}

	server := api.NewServer(eng, riskMgr, feed, meta, bus, cfg.WebhookSecret, api.Defaults{
		Leverage: cfg.DefaultLeverage,
		Slippage: cfg.DefaultSlippage,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: server.Router,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("api server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("shutting down")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("api shutdown: %v", err)
	}
}
