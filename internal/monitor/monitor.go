// Package monitor drives the sell engine from live prices.
//
// It consumes realtime trade frames and raw (code, price) pairs from
// polling fallbacks, applies each tick to the position book, evaluates the
// exit signal set, and executes whatever the action policy selects. Ticks
// for untracked or non-ACTIVE positions are dropped. Per-code ordering is
// inherited from the tick channel; the engine serializes mutations per
// code.
package monitor

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"hantu-quant/internal/config"
	"hantu-quant/internal/sell"
	"hantu-quant/pkg/types"
)

// krxLocation is the exchange timezone for the market-hours check.
var krxLocation = func() *time.Location {
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		return time.FixedZone("KST", 9*60*60)
	}
	return loc
}()

// Monitor watches positions and triggers exits.
type Monitor struct {
	engine *sell.Engine
	sizing config.PositionSizingConfig
	logger zerolog.Logger

	// ContextFor supplies the indicator readings for a symbol at
	// evaluation time. Nil means every reading is unavailable and only
	// price-level signals can fire.
	ContextFor func(code string, now time.Time) sell.MarketContext

	// MarketOpen gates non-urgent executions. Defaults to KRX regular
	// session hours.
	MarketOpen func(now time.Time) bool

	onStop  []func(sell.ExitEvent)
	onTP    []func(sell.ExitEvent)
	onAlert []func(sell.ExitEvent)
}

// New builds a monitor over an engine. The engine's exit events feed the
// monitor's callback sets.
func New(engine *sell.Engine, sizing config.PositionSizingConfig, logger zerolog.Logger) *Monitor {
	m := &Monitor{
		engine:     engine,
		sizing:     sizing,
		logger:     logger.With().Str("component", "monitor").Logger(),
		MarketOpen: krxRegularSession,
	}
	engine.OnExit(m.fanOut)
	return m
}

// OnStopLoss registers a callback for stop-loss and trailing-stop exits.
func (m *Monitor) OnStopLoss(cb func(sell.ExitEvent)) { m.onStop = append(m.onStop, cb) }

// OnTakeProfit registers a callback for take-profit exits.
func (m *Monitor) OnTakeProfit(cb func(sell.ExitEvent)) { m.onTP = append(m.onTP, cb) }

// OnAlert registers a callback for every exit event.
func (m *Monitor) OnAlert(cb func(sell.ExitEvent)) { m.onAlert = append(m.onAlert, cb) }

// Run consumes trade ticks until the channel closes or ctx is cancelled.
func (m *Monitor) Run(ctx context.Context, ticks <-chan types.TradeTick) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tick, ok := <-ticks:
			if !ok {
				return nil
			}
			m.HandlePrice(ctx, tick.Code, tick.Price)
		}
	}
}

// HandlePrice applies one price observation. Untracked codes and positions
// that already left ACTIVE are dropped silently.
func (m *Monitor) HandlePrice(ctx context.Context, code string, price float64) {
	pos, ok := m.engine.UpdatePrice(code, price, m.sizing.TrailingATR, m.sizing.TrailingActivationPct)
	if !ok {
		return
	}

	now := time.Now()
	mctx := sell.NewMarketContext(now)
	if m.ContextFor != nil {
		mctx = m.ContextFor(code, now)
	}

	signals := m.engine.Evaluator().Evaluate(pos, mctx)
	if len(signals) == 0 {
		return
	}

	action, ok := m.engine.Evaluator().DecideAction(signals, m.engine.DailyTrades(now), m.MarketOpen(now))
	if !ok {
		return
	}

	if _, err := m.engine.Execute(ctx, code, action); err != nil {
		m.logger.Warn().Err(err).
			Str("code", code).
			Str("reason", string(action.Signal.Reason)).
			Msg("exit execution failed")
	}
}

// fanOut routes an exit event through the callback sets in registration
// order. A panic in one callback never blocks the rest.
func (m *Monitor) fanOut(event sell.ExitEvent) {
	switch event.Reason {
	case sell.StopLoss, sell.TrailingStop:
		m.invoke(m.onStop, event)
	case sell.TakeProfit:
		m.invoke(m.onTP, event)
	}
	m.invoke(m.onAlert, event)
}

func (m *Monitor) invoke(cbs []func(sell.ExitEvent), event sell.ExitEvent) {
	for _, cb := range cbs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error().
						Str("code", event.Code).
						Interface("panic", r).
						Msg("monitor callback panicked")
				}
			}()
			cb(event)
		}()
	}
}

// krxRegularSession reports whether t falls inside the 09:00–15:30 KST
// weekday session.
func krxRegularSession(t time.Time) bool {
	t = t.In(krxLocation)
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	mins := t.Hour()*60 + t.Minute()
	return mins >= 9*60 && mins <= 15*60+30
}
