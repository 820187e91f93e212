// engine.go owns the position book and executes exit actions.
//
// Positions are serialized per code: every mutation for a given symbol
// goes through that symbol's entry lock, and the lock is never held across
// an order placement. Status transitions are one-way — ACTIVE to a
// triggered state to CLOSED — and a position that has left ACTIVE ignores
// further updates.
package sell

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"hantu-quant/internal/alert"
	"hantu-quant/internal/metrics"
	"hantu-quant/pkg/types"
)

// OrderPlacer is the slice of the REST client the engine needs.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, code string, side types.Side, quantity int64, price float64, division types.OrderDivision) types.OrderResult
}

// ExitEvent is the structured record emitted on every execution.
type ExitEvent struct {
	Code         string    `json:"code"`
	Reason       Reason    `json:"reason"`
	Detail       string    `json:"detail"`
	Quantity     int64     `json:"quantity"`
	Price        float64   `json:"price"`
	Return       float64   `json:"return"` // percent at execution
	Remaining    int64     `json:"remaining"`
	OrderNumber  string    `json:"order_number"`
	Time         time.Time `json:"time"`
}

type entry struct {
	mu  sync.Mutex
	pos types.Position
}

// Engine holds the live position book and executes sell actions.
type Engine struct {
	placer    *placerRef
	evaluator *Evaluator
	logger    zerolog.Logger

	mu        sync.RWMutex
	positions map[string]*entry

	eventMu sync.Mutex
	events  []func(ExitEvent)

	tradeMu     sync.Mutex
	tradeDay    time.Time
	dailyTrades int
}

// placerRef keeps the interface nil-safe for evaluation-only use.
type placerRef struct {
	p OrderPlacer
}

// NewEngine builds the engine. placer may be nil for evaluation-only use;
// Execute then fails with a validation error.
func NewEngine(placer OrderPlacer, evaluator *Evaluator, logger zerolog.Logger) *Engine {
	return &Engine{
		placer:    &placerRef{p: placer},
		evaluator: evaluator,
		logger:    logger.With().Str("component", "sell_engine").Logger(),
		positions: make(map[string]*entry),
	}
}

// Evaluator exposes the signal evaluator for callers that pre-rank.
func (e *Engine) Evaluator() *Evaluator { return e.evaluator }

// OnExit registers a callback invoked after every successful execution, in
// registration order.
func (e *Engine) OnExit(cb func(ExitEvent)) {
	e.eventMu.Lock()
	defer e.eventMu.Unlock()
	e.events = append(e.events, cb)
}

// AddPosition inserts or replaces a tracked position.
func (e *Engine) AddPosition(pos types.Position) {
	if pos.Status == "" {
		pos.Status = types.StatusActive
	}
	if pos.HighestPrice < pos.EntryPrice {
		pos.HighestPrice = pos.EntryPrice
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.positions[pos.Code] = &entry{pos: pos}
}

// RemovePosition drops a position from the book.
func (e *Engine) RemovePosition(code string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.positions, code)
}

// Position returns a copy of the tracked position.
func (e *Engine) Position(code string) (types.Position, bool) {
	ent := e.entry(code)
	if ent == nil {
		return types.Position{}, false
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	return ent.pos, true
}

// Positions returns copies of every tracked position.
func (e *Engine) Positions() []types.Position {
	e.mu.RLock()
	entries := make([]*entry, 0, len(e.positions))
	for _, ent := range e.positions {
		entries = append(entries, ent)
	}
	e.mu.RUnlock()

	out := make([]types.Position, 0, len(entries))
	for _, ent := range entries {
		ent.mu.Lock()
		out = append(out, ent.pos)
		ent.mu.Unlock()
	}
	return out
}

// UpdatePrice applies a tick to the position: current price and return,
// monotone highest price, and the upward-only trailing stop once the
// activation threshold is reached. Returns the updated copy, or false when
// the code is untracked or no longer ACTIVE.
func (e *Engine) UpdatePrice(code string, price float64, trailingATRMult, activationPct float64) (types.Position, bool) {
	ent := e.entry(code)
	if ent == nil {
		return types.Position{}, false
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()

	if ent.pos.Status != types.StatusActive || price <= 0 {
		return types.Position{}, false
	}

	ent.pos.CurrentPrice = price
	ent.pos.CurrentReturn = types.Return(ent.pos.EntryPrice, price)
	if price > ent.pos.HighestPrice {
		ent.pos.HighestPrice = price
	}

	if ent.pos.ATR > 0 && ent.pos.CurrentReturn >= activationPct {
		level := ent.pos.HighestPrice - ent.pos.ATR*trailingATRMult
		if level < ent.pos.StopLossPrice {
			level = ent.pos.StopLossPrice
		}
		if level > ent.pos.TrailingStopPrice {
			ent.pos.TrailingStopPrice = level
		}
	}
	return ent.pos, true
}

// DailyTrades returns today's executed trade count.
func (e *Engine) DailyTrades(now time.Time) int {
	e.tradeMu.Lock()
	defer e.tradeMu.Unlock()
	if !sameDay(e.tradeDay, now) {
		return 0
	}
	return e.dailyTrades
}

// Execute places the sell order for an action and applies the position
// mutation atomically: quantity decremented (or the position removed when
// fully closed), terminal status set, exit recorded, callbacks invoked.
// The entry lock is not held across the order placement.
func (e *Engine) Execute(ctx context.Context, code string, action Action) (ExitEvent, error) {
	if e.placer.p == nil {
		return ExitEvent{}, alert.Validation("sell engine has no order placer")
	}
	ent := e.entry(code)
	if ent == nil {
		return ExitEvent{}, alert.Validation("unknown position " + code)
	}

	ent.mu.Lock()
	if ent.pos.Status.Terminal() && ent.pos.Status != types.StatusTPTriggered {
		ent.mu.Unlock()
		return ExitEvent{}, alert.Validation("position " + code + " is not sellable")
	}
	snapshot := ent.pos
	ent.mu.Unlock()

	qty := sellQuantity(snapshot.Quantity, action.SellRatio)
	if qty <= 0 {
		return ExitEvent{}, alert.Validation("sell quantity rounds to zero")
	}

	result := e.placer.p.PlaceOrder(ctx, code, types.SELL, qty, 0, types.MARKET)
	if !result.Success {
		e.logger.Warn().
			Str("code", code).
			Str("reason", string(action.Signal.Reason)).
			Str("error_code", result.ErrorCode).
			Msg("sell order rejected")
		return ExitEvent{}, alert.NewError(alert.KindBrokerLogic, result.ErrorCode, result.Message, nil)
	}

	ent.mu.Lock()
	ent.pos.Quantity -= qty
	remaining := ent.pos.Quantity
	switch {
	case remaining <= 0:
		ent.pos.Quantity = 0
		ent.pos.Status = types.StatusClosed
	case action.Signal.Reason == TakeProfit:
		ent.pos.Status = types.StatusTPTriggered
	default:
		ent.pos.Status = types.StatusStopTriggered
	}
	event := ExitEvent{
		Code:        code,
		Reason:      action.Signal.Reason,
		Detail:      action.Signal.Detail,
		Quantity:    qty,
		Price:       snapshot.CurrentPrice,
		Return:      snapshot.CurrentReturn,
		Remaining:   ent.pos.Quantity,
		OrderNumber: result.OrderNumber,
		Time:        time.Now(),
	}
	closed := ent.pos.Status == types.StatusClosed
	ent.mu.Unlock()

	if closed {
		e.RemovePosition(code)
	}
	e.recordTrade(event.Time)
	metrics.ExitEvents.WithLabelValues(string(action.Signal.Reason)).Inc()
	e.logger.Info().
		Str("code", code).
		Str("reason", string(event.Reason)).
		Int64("quantity", qty).
		Int64("remaining", event.Remaining).
		Float64("return", event.Return).
		Msg("position exit executed")

	e.emit(event)
	return event, nil
}

// emit runs exit callbacks in registration order; a panic in one callback
// is recovered so the rest still run.
func (e *Engine) emit(event ExitEvent) {
	e.eventMu.Lock()
	cbs := make([]func(ExitEvent), len(e.events))
	copy(cbs, e.events)
	e.eventMu.Unlock()

	for _, cb := range cbs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error().
						Str("code", event.Code).
						Interface("panic", r).
						Msg("exit callback panicked")
				}
			}()
			cb(event)
		}()
	}
}

func (e *Engine) recordTrade(now time.Time) {
	e.tradeMu.Lock()
	defer e.tradeMu.Unlock()
	if !sameDay(e.tradeDay, now) {
		e.tradeDay = now
		e.dailyTrades = 0
	}
	e.dailyTrades++
}

func (e *Engine) entry(code string) *entry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.positions[code]
}

func sellQuantity(held int64, ratio float64) int64 {
	if ratio >= 1 {
		return held
	}
	qty := int64(math.Floor(float64(held) * ratio))
	if qty > held {
		qty = held
	}
	return qty
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
