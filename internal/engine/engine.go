// Package engine wires the trading core together: broker client, cache,
// selector, sizer, sell engine, monitor, and the realtime feed. It owns
// the component lifecycle — construction, startup (token refresh, position
// bootstrap from the account balance, realtime subscriptions), and
// shutdown — and exposes the high-level operations an outer CLI or service
// layer drives.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"hantu-quant/internal/alert"
	"hantu-quant/internal/cache"
	"hantu-quant/internal/config"
	"hantu-quant/internal/kis"
	"hantu-quant/internal/market"
	"hantu-quant/internal/monitor"
	"hantu-quant/internal/selector"
	"hantu-quant/internal/sell"
	"hantu-quant/internal/sizer"
	"hantu-quant/pkg/types"
)

// Engine is the assembled trading core.
type Engine struct {
	cfg    config.Config
	logger zerolog.Logger

	tokens   *kis.TokenManager
	client   *kis.Client
	store    *cache.Store
	fetcher  *market.BatchFetcher
	selector *selector.Selector
	seller   *sell.Engine
	monitor  *monitor.Monitor
	realtime *kis.RealtimeClient
	notifier *alert.Notifier

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs every component. Credential problems are fatal here;
// backend degradation (Redis down) is not.
func New(cfg config.Config, logger zerolog.Logger) (*Engine, error) {
	tokens, err := kis.NewTokenManager(cfg.Credentials, cfg.DataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("token manager: %w", err)
	}

	limiter := kis.NewSlidingWindowLimiter(cfg.RateLimitPerSec())
	client := kis.NewClient(&cfg, tokens, limiter, logger)

	store, err := cache.NewStore(cfg.Cache, logger)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}

	sz := sizer.New(cfg.Quant.Sizing, cfg.Quant.Regimes, logger)
	sel := selector.New(client, store, sz, cfg.Quant, cfg.Cache.ChartTTL, logger)

	seller := sell.NewEngine(client, sell.NewEvaluator(cfg.Quant.Sell), logger)
	mon := monitor.New(seller, cfg.Quant.Sizing, logger)

	var sink alert.Sink
	if cfg.Alert.WebhookURL != "" {
		sink = alert.NewWebhookSink(cfg.Alert.WebhookURL)
	}
	notifier := alert.NewNotifier(sink, cfg.Alert.MinInterval, logger)
	mon.OnAlert(func(event sell.ExitEvent) {
		notifier.Notify(context.Background(), "exit:"+event.Code, "info", "position exit",
			fmt.Sprintf("%s %s ×%d at %.0f (%.1f%%)",
				event.Reason, event.Code, event.Quantity, event.Price, event.Return))
	})

	return &Engine{
		cfg:      cfg,
		logger:   logger.With().Str("component", "engine").Logger(),
		tokens:   tokens,
		client:   client,
		store:    store,
		fetcher:  market.NewBatchFetcher(client, cfg.RateLimitPerSec(), logger),
		selector: sel,
		seller:   seller,
		monitor:  mon,
		realtime: kis.NewRealtimeClient(cfg.Credentials.WSBase(), tokens, logger),
		notifier: notifier,
	}, nil
}

// Client exposes the REST client for outer layers.
func (e *Engine) Client() *kis.Client { return e.client }

// Monitor exposes the position monitor for callback registration.
func (e *Engine) Monitor() *monitor.Monitor { return e.monitor }

// Seller exposes the sell engine and position book.
func (e *Engine) Seller() *sell.Engine { return e.seller }

// Start refreshes the token, bootstraps positions from the account
// balance, subscribes the realtime feed to every held symbol, and launches
// the feed and monitor loops.
func (e *Engine) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	if !e.tokens.EnsureValidToken(ctx) {
		cancel()
		return fmt.Errorf("could not obtain access token")
	}

	balance, err := e.client.GetBalance(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Msg("balance bootstrap failed, starting with empty book")
	} else {
		for code, ps := range balance.Positions {
			if ps.Quantity <= 0 {
				continue
			}
			e.seller.AddPosition(types.Position{
				Code:          code,
				Name:          ps.Name,
				EntryPrice:    ps.AvgPrice,
				Quantity:      ps.Quantity,
				CurrentPrice:  ps.CurrentPrice,
				CurrentReturn: ps.ProfitPercent,
				HighestPrice:  ps.CurrentPrice,
				Status:        types.StatusActive,
			})
			if err := e.realtime.Subscribe(ctx, code, nil); err != nil {
				e.logger.Warn().Err(err).Str("code", code).Msg("realtime subscribe failed")
			}
		}
		e.logger.Info().
			Int("positions", len(balance.Positions)).
			Float64("deposit", balance.Deposit).
			Msg("position book bootstrapped")
	}

	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		if err := e.realtime.Run(ctx); err != nil && ctx.Err() == nil {
			e.logger.Error().Err(err).Msg("realtime feed stopped")
		}
	}()
	go func() {
		defer e.wg.Done()
		_ = e.monitor.Run(ctx, e.realtime.Ticks())
	}()

	e.logger.Info().
		Str("server", string(e.cfg.Credentials.Server)).
		Int("rate_limit", e.cfg.RateLimitPerSec()).
		Bool("cache_degraded", e.store.Degraded()).
		Msg("trading core started")
	return nil
}

// Select runs the momentum pipeline over a watchlist.
func (e *Engine) Select(ctx context.Context, watchlist []selector.Candidate, totalCapital, marketReturn20d float64) ([]types.SelectionResult, error) {
	return e.selector.Select(ctx, watchlist, totalCapital, marketReturn20d)
}

// BatchPrices fetches current prices for a symbol list.
func (e *Engine) BatchPrices(ctx context.Context, codes []string) types.BatchResult {
	return e.fetcher.FetchPrices(ctx, codes)
}

// Track adds a new position to the book and subscribes its realtime feed.
func (e *Engine) Track(ctx context.Context, pos types.Position) error {
	e.seller.AddPosition(pos)
	return e.realtime.Subscribe(ctx, pos.Code, nil)
}

// Stop shuts the core down: cancels the loops, closes the realtime socket
// (sending unsubscribes first), and releases the cache backend.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	if err := e.realtime.Close(); err != nil {
		e.logger.Warn().Err(err).Msg("realtime close failed")
	}
	e.wg.Wait()
	if err := e.store.Close(); err != nil {
		e.logger.Warn().Err(err).Msg("cache close failed")
	}
	e.logger.Info().Msg("trading core stopped")
}
