// Package sizer implements volatility-parity position sizing.
//
// The weight of a name is target daily volatility divided by its own daily
// volatility (ATR / price), clamped to the configured band and capped by
// the current regime. When the portfolio's weights sum past 1.0, Normalize
// rescales everything to leave a 5% cash buffer and re-quantizes shares.
package sizer

import (
	"math"

	"github.com/rs/zerolog"

	"hantu-quant/internal/config"
	"hantu-quant/internal/indicator"
	"hantu-quant/pkg/types"
)

// Defaults used when ATR cannot be computed for a name.
const (
	defaultWeight    = 0.05
	defaultStopPct   = 0.03 // stop 3% below entry
	defaultTargetPct = 0.05 // target 5% above entry
)

const cashReserveScale = 0.95

// Sizer computes per-name position sizes.
type Sizer struct {
	cfg     config.PositionSizingConfig
	regimes config.RegimeConfig
	logger  zerolog.Logger
}

// New builds a sizer from the sizing and regime config blocks.
func New(cfg config.PositionSizingConfig, regimes config.RegimeConfig, logger zerolog.Logger) *Sizer {
	return &Sizer{
		cfg:     cfg,
		regimes: regimes,
		logger:  logger.With().Str("component", "sizer").Logger(),
	}
}

// Size computes the position for one candidate. bars may be nil or too
// short for ATR; the result then carries conservative defaults and
// IsDefault=true.
func (s *Sizer) Size(code string, currentPrice, totalCapital float64, bars []types.Bar, regime types.Regime) types.PositionSize {
	if currentPrice <= 0 || totalCapital <= 0 {
		return types.PositionSize{Code: code, IsDefault: true}
	}

	atr := latestATR(bars)
	if math.IsNaN(atr) || atr <= 0 {
		return s.defaultSize(code, currentPrice, totalCapital)
	}

	dailyVol := atr / currentPrice
	rawWeight := s.cfg.TargetDailyVol / dailyVol

	weight := clamp(rawWeight, s.cfg.MinPositionPct, s.cfg.MaxPositionPct)
	override := s.regimes.Overrides(regime)
	if override.MaxPositionPct > 0 && weight > override.MaxPositionPct {
		weight = override.MaxPositionPct
	}

	stopMult := s.cfg.StopLossATR
	if override.StopLossATR > 0 {
		stopMult = override.StopLossATR
	}

	ps := types.PositionSize{
		Code:                  code,
		Weight:                weight,
		ATR:                   atr,
		DailyVolatility:       dailyVol,
		StopLoss:              currentPrice - atr*stopMult,
		TargetPrice:           currentPrice + atr*s.cfg.TakeProfitATR,
		RiskReward:            s.cfg.TakeProfitATR / stopMult,
		TrailingActivationPct: s.cfg.TrailingActivationPct,
		TrailingATRMult:       s.cfg.TrailingATR,
	}
	quantize(&ps, currentPrice, totalCapital)
	ps.RiskAmount = (currentPrice - ps.StopLoss) * float64(ps.Shares)
	return ps
}

// Normalize enforces Σ weights ≤ 1 across a sized portfolio. When the sum
// exceeds 1.0, every weight is scaled by 0.95/Σ and shares re-quantized.
// Prices maps code to the entry price used for re-quantization.
func (s *Sizer) Normalize(sizes []types.PositionSize, prices map[string]float64, totalCapital float64) []types.PositionSize {
	sum := 0.0
	for _, ps := range sizes {
		sum += ps.Weight
	}
	if sum <= 1.0 {
		return sizes
	}

	scale := cashReserveScale / sum
	s.logger.Info().
		Float64("weight_sum", sum).
		Float64("scale", scale).
		Msg("portfolio overweight, rescaling")

	out := make([]types.PositionSize, len(sizes))
	for i, ps := range sizes {
		ps.Weight *= scale
		price := prices[ps.Code]
		if price <= 0 {
			price = ps.ActualAmount / float64(max64(ps.Shares, 1))
		}
		quantize(&ps, price, totalCapital)
		ps.RiskAmount = (price - ps.StopLoss) * float64(ps.Shares)
		out[i] = ps
	}
	return out
}

// TrailingStop returns the trailing level for an active position:
// highest-since-entry minus ATR times the trailing multiplier. The caller
// applies the upward-only rule.
func (s *Sizer) TrailingStop(highestPrice, atr float64) float64 {
	return highestPrice - atr*s.cfg.TrailingATR
}

func (s *Sizer) defaultSize(code string, currentPrice, totalCapital float64) types.PositionSize {
	ps := types.PositionSize{
		Code:                  code,
		Weight:                defaultWeight,
		StopLoss:              currentPrice * (1 - defaultStopPct),
		TargetPrice:           currentPrice * (1 + defaultTargetPct),
		RiskReward:            defaultTargetPct / defaultStopPct,
		TrailingActivationPct: s.cfg.TrailingActivationPct,
		TrailingATRMult:       s.cfg.TrailingATR,
		IsDefault:             true,
	}
	quantize(&ps, currentPrice, totalCapital)
	ps.RiskAmount = (currentPrice - ps.StopLoss) * float64(ps.Shares)
	return ps
}

func quantize(ps *types.PositionSize, price, totalCapital float64) {
	shares := int64(math.Floor(totalCapital * ps.Weight / price))
	if shares < 0 {
		shares = 0
	}
	ps.Shares = shares
	ps.ActualAmount = float64(shares) * price
	ps.ActualWeight = ps.ActualAmount / totalCapital
}

func latestATR(bars []types.Bar) float64 {
	if len(bars) <= indicator.ATRPeriod {
		return math.NaN()
	}
	series := indicator.ATR(bars, indicator.ATRPeriod)
	return series[len(series)-1]
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
