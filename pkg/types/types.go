// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the trading core — price
// snapshots, OHLCV bars, positions, selection results, and order payloads.
// It has no dependencies on internal packages, so it can be imported by
// any layer.
package types

import (
	"math"
	"time"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: BUY or SELL.
// The KIS order body encodes SELL as "01" and BUY as "02".
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// DivisionCode returns the SLL_BUY_DVSN_CD value for the order body.
func (s Side) DivisionCode() string {
	if s == SELL {
		return "01"
	}
	return "02"
}

// OrderDivision selects the execution style of an order.
// KIS encodes LIMIT as ORD_DVSN "00" and MARKET as "01".
type OrderDivision string

const (
	LIMIT  OrderDivision = "LIMIT"
	MARKET OrderDivision = "MARKET"
)

// Code returns the ORD_DVSN value for the order body.
func (d OrderDivision) Code() string {
	if d == MARKET {
		return "01"
	}
	return "00"
}

// Server selects the broker environment. Paper TR-IDs start with V,
// live TR-IDs with T, and the two environments use different hosts.
type Server string

const (
	Paper Server = "paper"
	Live  Server = "live"
)

// Regime classifies the current market for parameter overrides.
type Regime string

const (
	RegimeBull     Regime = "BULL"
	RegimeBear     Regime = "BEAR"
	RegimeSideways Regime = "SIDEWAYS"
	RegimeHighVol  Regime = "HIGH_VOL"
)

// PositionStatus is the lifecycle state of a monitored position.
// Transitions are one-way: ACTIVE → {STOP_TRIGGERED, TP_TRIGGERED} → CLOSED.
type PositionStatus string

const (
	StatusActive        PositionStatus = "ACTIVE"
	StatusStopTriggered PositionStatus = "STOP_TRIGGERED"
	StatusTPTriggered   PositionStatus = "TP_TRIGGERED"
	StatusClosed        PositionStatus = "CLOSED"
)

// Terminal reports whether the position has left the ACTIVE state.
func (s PositionStatus) Terminal() bool {
	return s != StatusActive
}

// ————————————————————————————————————————————————————————————————————————
// Market data
// ————————————————————————————————————————————————————————————————————————

// PriceData is a point-in-time quote for a single symbol.
type PriceData struct {
	Code         string    `json:"code"`
	CurrentPrice float64   `json:"current_price"`
	ChangeRate   float64   `json:"change_rate"` // percent vs previous close
	Volume       int64     `json:"volume"`
	High         float64   `json:"high"`
	Low          float64   `json:"low"`
	Open         float64   `json:"open"`
	PrevClose    float64   `json:"prev_close"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// Bar is a single OHLCV bar. An ordered slice of bars (oldest first) is
// the unit of analysis for every indicator.
type Bar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// OrderbookSnapshot is a 10-level book for one symbol.
// Index 0 is the best level on each side.
type OrderbookSnapshot struct {
	Code        string    `json:"code"`
	AskPrices   []float64 `json:"ask_prices"`
	BidPrices   []float64 `json:"bid_prices"`
	AskVolumes  []int64   `json:"ask_volumes"`
	BidVolumes  []int64   `json:"bid_volumes"`
	TotalAskQty int64     `json:"total_ask_qty"`
	TotalBidQty int64     `json:"total_bid_qty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Imbalance returns (ask − bid) / (ask + bid) total depth in [-1, 1].
// Positive values mean sell pressure outweighs resting bids.
func (o OrderbookSnapshot) Imbalance() float64 {
	total := float64(o.TotalAskQty + o.TotalBidQty)
	if total == 0 {
		return 0
	}
	return float64(o.TotalAskQty-o.TotalBidQty) / total
}

// ————————————————————————————————————————————————————————————————————————
// Batch fetching
// ————————————————————————————————————————————————————————————————————————

// BatchFailure records one symbol the batch fetcher could not retrieve.
type BatchFailure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// BatchResult aggregates a batch price fetch. Every input code appears in
// exactly one of Successful or Failed; partial failure is not an error.
type BatchResult struct {
	Successful map[string]PriceData `json:"successful"`
	Failed     []BatchFailure       `json:"failed"`
	TotalTime  time.Duration        `json:"total_time"`
}

// SuccessCount returns the number of symbols fetched successfully.
func (r BatchResult) SuccessCount() int { return len(r.Successful) }

// FailureCount returns the number of symbols that failed.
func (r BatchResult) FailureCount() int { return len(r.Failed) }

// SuccessRate returns the fraction of input symbols fetched, in [0, 1].
func (r BatchResult) SuccessRate() float64 {
	total := len(r.Successful) + len(r.Failed)
	if total == 0 {
		return 0
	}
	return float64(len(r.Successful)) / float64(total)
}

// ————————————————————————————————————————————————————————————————————————
// Positions
// ————————————————————————————————————————————————————————————————————————

// Position is a held lot tracked by the sell engine and monitor.
//
// Invariants maintained by the monitor:
//   - TrailingStopPrice ≥ StopLossPrice once the trailing stop activates.
//   - HighestPrice is monotonically non-decreasing.
//   - Status transitions are one-way (see PositionStatus).
type Position struct {
	Code       string    `json:"code"`
	Name       string    `json:"name"`
	EntryPrice float64   `json:"entry_price"`
	EntryTime  time.Time `json:"entry_time"`
	Quantity   int64     `json:"quantity"`

	CurrentPrice  float64 `json:"current_price"`
	CurrentReturn float64 `json:"current_return"` // percent

	StopLossPrice     float64 `json:"stop_loss_price"`
	TrailingStopPrice float64 `json:"trailing_stop_price"` // 0 until activated
	TakeProfitPrice   float64 `json:"take_profit_price"`
	HighestPrice      float64 `json:"highest_price"` // highest since entry

	ATR float64 `json:"atr"` // daily ATR at entry, drives trailing math

	Status PositionStatus `json:"status"`
}

// HoldDays returns whole days the position has been open as of now.
func (p Position) HoldDays(now time.Time) int {
	return int(now.Sub(p.EntryTime).Hours() / 24)
}

// PositionSummary is one line of a balance inquiry.
type PositionSummary struct {
	Code          string  `json:"code"`
	Name          string  `json:"name"`
	Quantity      int64   `json:"quantity"`
	AvgPrice      float64 `json:"avg_price"`
	CurrentPrice  float64 `json:"current_price"`
	EvalAmount    float64 `json:"eval_amount"`
	ProfitAmount  float64 `json:"profit_amount"`
	ProfitPercent float64 `json:"profit_percent"`
}

// Balance is the account snapshot returned by the balance endpoint.
type Balance struct {
	Deposit         float64                    `json:"deposit"`
	TotalEvalAmount float64                    `json:"total_eval_amount"`
	Positions       map[string]PositionSummary `json:"positions"`
}

// ————————————————————————————————————————————————————————————————————————
// Selection and sizing
// ————————————————————————————————————————————————————————————————————————

// SelectionResult is one symbol chosen by the momentum selector, carrying
// the sizing outputs for the execution layer.
type SelectionResult struct {
	Code            string    `json:"code"`
	Name            string    `json:"name"`
	SelectionDate   time.Time `json:"selection_date"`
	SelectionReason string    `json:"selection_reason"`

	MomentumScore  float64 `json:"momentum_score"`
	PercentileRank float64 `json:"percentile_rank"` // [0, 100]

	EntryPrice     float64 `json:"entry_price"`
	TargetPrice    float64 `json:"target_price"`
	StopLoss       float64 `json:"stop_loss"`
	ExpectedReturn float64 `json:"expected_return"` // percent

	PositionWeight float64 `json:"position_weight"` // [0, 1]
	PositionAmount float64 `json:"position_amount"`

	Sector    string   `json:"sector"`
	MarketCap float64  `json:"market_cap"`
	Priority  int      `json:"priority"`
	Signals   []string `json:"signals"`

	ATRValue        float64 `json:"atr_value"`
	DailyVolatility float64 `json:"daily_volatility"`
}

// PositionSize is the output of the ATR-based sizer for one candidate.
type PositionSize struct {
	Code   string `json:"code"`
	Shares int64  `json:"shares"`

	Weight       float64 `json:"weight"`        // final clamped weight
	ActualAmount float64 `json:"actual_amount"` // Shares × price
	ActualWeight float64 `json:"actual_weight"` // ActualAmount / capital

	StopLoss    float64 `json:"stop_loss"`
	TargetPrice float64 `json:"target_price"`

	ATR             float64 `json:"atr"`
	DailyVolatility float64 `json:"daily_volatility"`

	RiskAmount float64 `json:"risk_amount"`
	RiskReward float64 `json:"risk_reward"`

	TrailingActivationPct float64 `json:"trailing_activation_pct"`
	TrailingATRMult       float64 `json:"trailing_atr_mult"`

	IsDefault bool `json:"is_default"` // true when ATR was unavailable
}

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

// OrderResult is the outcome of a place-order call. Success=false carries a
// broker or validation error code; the client never raises for these.
type OrderResult struct {
	Success     bool   `json:"success"`
	OrderNumber string `json:"order_number,omitempty"`
	ErrorCode   string `json:"error_code,omitempty"`
	Message     string `json:"message,omitempty"`
}

// ————————————————————————————————————————————————————————————————————————
// Realtime frames
// ————————————————————————————————————————————————————————————————————————

// TradeTick is a parsed H0STCNT0 execution frame.
type TradeTick struct {
	Code       string  `json:"code"`
	Time       string  `json:"time"` // HHMMSS as sent by the broker
	Price      float64 `json:"price"`
	Sign       string  `json:"sign"`
	ChangeAbs  float64 `json:"change_abs"`
	ChangeRate float64 `json:"change_rate"`
	Volume     int64   `json:"volume"`     // this execution
	CumVolume  int64   `json:"cum_volume"` // session cumulative
	Open       float64 `json:"open"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
}

// RawFrame wraps an unrecognized realtime body so callers can still
// observe traffic for TR-IDs the parser does not know.
type RawFrame struct {
	TRID string `json:"tr_id"`
	Body string `json:"raw"`
}

// TickConclusion is one execution row from the tick-conclusion endpoint.
type TickConclusion struct {
	Time       string  `json:"time"` // HHMMSS
	Price      float64 `json:"price"`
	Volume     int64   `json:"volume"`
	ChangeRate float64 `json:"change_rate"`
}

// ————————————————————————————————————————————————————————————————————————
// Helpers
// ————————————————————————————————————————————————————————————————————————

// Closes extracts the close column from a bar series.
func Closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// Return computes the percent return from entry to current, NaN-safe.
func Return(entry, current float64) float64 {
	if entry == 0 || math.IsNaN(entry) || math.IsNaN(current) {
		return 0
	}
	return (current - entry) / entry * 100
}
