// Package sell implements the exit side of the strategy: a multi-signal
// evaluator over held positions, an action-selection policy, and atomic
// execution against the position book.
//
// Evaluate is pure: given a position snapshot and the current market
// context it returns every triggered signal, strongest first. The policy
// in DecideAction picks what actually trades; urgent signals (stop loss,
// trailing stop) always execute in full, the rest pass a strength and
// confidence gate plus the daily trade budget.
package sell

import (
	"fmt"
	"math"
	"time"

	"hantu-quant/internal/config"
	"hantu-quant/pkg/types"
)

// Reason identifies an exit signal type.
type Reason string

const (
	StopLoss           Reason = "STOP_LOSS"
	TrailingStop       Reason = "TRAILING_STOP"
	TakeProfit         Reason = "TAKE_PROFIT"
	RSIOverbought      Reason = "RSI_OVERBOUGHT"
	BollingerReversal  Reason = "BOLLINGER_REVERSAL"
	MACDBearish        Reason = "MACD_BEARISH"
	TimeBased          Reason = "TIME_BASED"
	MarketCondition    Reason = "MARKET_CONDITION"
)

// Urgent reports whether the reason bypasses the strength/confidence gate
// and sells the full quantity.
func (r Reason) Urgent() bool {
	return r == StopLoss || r == TrailingStop
}

// Signal is one triggered exit condition.
type Signal struct {
	Reason     Reason
	Strength   float64 // [0, 1]
	Confidence float64 // [0, 1]
	SellRatio  float64 // fraction of the position to sell
	Detail     string
	TPLevel    int // take-profit ladder index, -1 otherwise
}

// MarketContext carries the indicator and flow readings for one symbol.
// NaN means the reading is unavailable; the matching signals then stay
// silent.
type MarketContext struct {
	RSI        float64
	BBPosition float64 // (price − lower) / (upper − lower)
	BBUpper    float64
	MACD       float64
	MACDSignal float64
	MACDHist   float64

	OrderbookImbalance float64 // (ask − bid) / (ask + bid)
	ForeignNetSelling  bool

	Now time.Time
}

// NewMarketContext returns a context with every reading marked
// unavailable.
func NewMarketContext(now time.Time) MarketContext {
	nan := math.NaN()
	return MarketContext{
		RSI: nan, BBPosition: nan, BBUpper: nan,
		MACD: nan, MACDSignal: nan, MACDHist: nan,
		OrderbookImbalance: nan,
		Now:                now,
	}
}

const imbalanceThreshold = 0.2

// Evaluator computes exit signals from position state and market context.
type Evaluator struct {
	cfg config.SellConfig
}

// NewEvaluator builds an evaluator from the sell config block.
func NewEvaluator(cfg config.SellConfig) *Evaluator {
	return &Evaluator{cfg: cfg}
}

// Evaluate returns every triggered signal for the position, sorted by
// strength descending. Ties keep evaluation order, which follows the
// signal table.
func (e *Evaluator) Evaluate(pos types.Position, mctx MarketContext) []Signal {
	ret := types.Return(pos.EntryPrice, pos.CurrentPrice)
	var signals []Signal

	if pos.StopLossPrice > 0 && pos.CurrentPrice <= pos.StopLossPrice {
		signals = append(signals, Signal{
			Reason: StopLoss, Strength: 1.0, Confidence: 0.95, SellRatio: 1.0, TPLevel: -1,
			Detail: fmt.Sprintf("price %.0f ≤ stop %.0f", pos.CurrentPrice, pos.StopLossPrice),
		})
	}

	if pos.TrailingStopPrice > 0 && pos.CurrentPrice <= pos.TrailingStopPrice && ret > 0 {
		signals = append(signals, Signal{
			Reason: TrailingStop, Strength: 0.9, Confidence: 0.9, SellRatio: 1.0, TPLevel: -1,
			Detail: fmt.Sprintf("price %.0f ≤ trailing %.0f", pos.CurrentPrice, pos.TrailingStopPrice),
		})
	}

	for i, level := range e.cfg.TakeProfitLevels {
		if ret >= level {
			signals = append(signals, Signal{
				Reason: TakeProfit, Strength: 0.8, Confidence: 0.85,
				SellRatio: e.cfg.PartialRatios[i], TPLevel: i,
				Detail: fmt.Sprintf("return %.1f%% ≥ level %.0f%%", ret, level),
			})
			break
		}
	}

	if !math.IsNaN(mctx.RSI) && mctx.RSI >= e.cfg.RSIOverbought {
		strength := 0.6 * math.Min(1, (mctx.RSI-e.cfg.RSIOverbought)/30)
		signals = append(signals, Signal{
			Reason: RSIOverbought, Strength: strength, Confidence: 0.7,
			SellRatio: gradedRatio(strength), TPLevel: -1,
			Detail: fmt.Sprintf("rsi %.1f", mctx.RSI),
		})
	}

	if !math.IsNaN(mctx.BBPosition) && !math.IsNaN(mctx.BBUpper) &&
		mctx.BBPosition >= 0.8 && pos.CurrentPrice < mctx.BBUpper {
		strength := 0.7 * mctx.BBPosition
		signals = append(signals, Signal{
			Reason: BollingerReversal, Strength: strength, Confidence: 0.6,
			SellRatio: gradedRatio(strength), TPLevel: -1,
			Detail: fmt.Sprintf("bb position %.2f", mctx.BBPosition),
		})
	}

	if !math.IsNaN(mctx.MACD) && !math.IsNaN(mctx.MACDSignal) && !math.IsNaN(mctx.MACDHist) &&
		mctx.MACD < mctx.MACDSignal && mctx.MACDHist < 0 {
		strength := math.Min(0.8, 0.6*math.Abs(mctx.MACDHist))
		signals = append(signals, Signal{
			Reason: MACDBearish, Strength: strength, Confidence: 0.65,
			SellRatio: gradedRatio(strength), TPLevel: -1,
			Detail: fmt.Sprintf("hist %.3f", mctx.MACDHist),
		})
	}

	if e.cfg.MaxHoldDays > 0 {
		days := pos.HoldDays(mctx.Now)
		if days >= e.cfg.MaxHoldDays {
			strength := 0.5 * math.Min(1, float64(days)/float64(e.cfg.MaxHoldDays))
			signals = append(signals, Signal{
				Reason: TimeBased, Strength: strength, Confidence: 0.5, SellRatio: 0.25, TPLevel: -1,
				Detail: fmt.Sprintf("held %d days", days),
			})
		}
	}

	if (!math.IsNaN(mctx.OrderbookImbalance) && mctx.OrderbookImbalance > imbalanceThreshold) ||
		mctx.ForeignNetSelling {
		signals = append(signals, Signal{
			Reason: MarketCondition, Strength: 0.6, Confidence: 0.6, SellRatio: 0.5, TPLevel: -1,
			Detail: fmt.Sprintf("imbalance %.2f, foreign selling %t", mctx.OrderbookImbalance, mctx.ForeignNetSelling),
		})
	}

	sortSignals(signals)
	return signals
}

// Action is the policy outcome for one signal set.
type Action struct {
	Signal    Signal
	SellRatio float64
	Urgent    bool
}

// DecideAction applies the execution policy to a ranked signal set and
// returns the action to take, if any. dailyTrades is today's executed
// trade count; marketOpen gates non-urgent signals.
func (e *Evaluator) DecideAction(signals []Signal, dailyTrades int, marketOpen bool) (Action, bool) {
	for _, sig := range signals {
		if sig.Reason.Urgent() {
			return Action{Signal: sig, SellRatio: 1.0, Urgent: true}, true
		}
		if sig.Reason == TakeProfit {
			if marketOpen && dailyTrades < e.cfg.MaxDailyTrades {
				return Action{Signal: sig, SellRatio: sig.SellRatio}, true
			}
			continue
		}
		if sig.Strength >= e.cfg.MinStrength && sig.Confidence >= e.cfg.MinConfidence &&
			marketOpen && dailyTrades < e.cfg.MaxDailyTrades {
			return Action{Signal: sig, SellRatio: sig.SellRatio}, true
		}
	}
	return Action{}, false
}

// gradedRatio maps signal strength into the 0.3..0.8 partial-sell band.
func gradedRatio(strength float64) float64 {
	r := 0.3 + 0.5*strength
	if r > 0.8 {
		return 0.8
	}
	return r
}

// sortSignals orders by strength descending, stable within equal strength.
func sortSignals(signals []Signal) {
	for i := 1; i < len(signals); i++ {
		for j := i; j > 0 && signals[j].Strength > signals[j-1].Strength; j-- {
			signals[j], signals[j-1] = signals[j-1], signals[j]
		}
	}
}
