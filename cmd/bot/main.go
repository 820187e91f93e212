// Hantu Quant — a momentum trading core for the Korea Investment
// Securities (KIS) open API.
//
// Architecture:
//
//	main.go               — entry point: loads config, starts the engine, waits for SIGINT/SIGTERM
//	engine/engine.go      — orchestrator: wires client → cache → selector → sizer → sell engine → monitor
//	kis/client.go         — REST client: quotes, charts, orderbook, balance paging, orders with hashkey
//	kis/token.go          — OAuth token lifecycle with 0600 on-disk persistence
//	kis/ratelimit.go      — sliding-window admission control matching the gateway's per-second quota
//	kis/ws.go             — realtime feed: trades/orderbook/fills with auto-reconnect + resubscribe
//	cache/                — Redis response cache with one-way in-memory LRU fallback
//	market/fetcher.go     — chunked batch price fetcher with per-symbol retry accounting
//	indicator/            — RSI, moving averages, MACD, Bollinger, Stochastic, ATR, OBV divergence
//	selector/selector.go  — liquidity filter → momentum score → percentile → sector-capped top-N
//	sizer/sizer.go        — ATR volatility-parity sizing with portfolio normalization
//	sell/                 — multi-signal exit evaluation and atomic execution on the position book
//	monitor/monitor.go    — tick consumer driving the sell engine, callback fan-out
//
// How it trades:
//
//	The selector ranks a watchlist by momentum (relative return, volume
//	surge, price strength) under the current market regime, the sizer
//	turns scores into volatility-parity weights, and the monitor watches
//	every held position tick-by-tick, exiting on stops, targets, or
//	deteriorating indicators.
package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"hantu-quant/internal/config"
	"hantu-quant/internal/engine"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("HANTU_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		lg := zerolog.New(os.Stderr)
		lg.Error().Err(err).Str("path", cfgPath).Msg("failed to load config")
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		lg := zerolog.New(os.Stderr)
		lg.Error().Err(err).Msg("invalid config")
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)

	eng, err := engine.New(*cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to create engine")
		os.Exit(1)
	}
	if err := eng.Start(); err != nil {
		logger.Error().Err(err).Msg("failed to start engine")
		os.Exit(1)
	}

	logger.Info().
		Str("server", string(cfg.Credentials.Server)).
		Str("account", cfg.Credentials.SafeString()).
		Int("rate_limit", cfg.RateLimitPerSec()).
		Msg("hantu quant started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	eng.Stop()
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if cfg.Format == "json" {
		return zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	}
	writer := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	return zerolog.New(writer).Level(level).With().Timestamp().Logger()
}
