// Package selector implements the momentum stock selection pipeline:
// regime detection, a hard liquidity filter, momentum scoring over cached
// daily charts, percentile ranking, a sector-capped top-N sweep, and
// volatility-parity sizing for the accepted names.
//
// The pipeline is deterministic for a given (watchlist snapshot, market
// return, config): ties on momentum score break by ascending code, and the
// chart cache is the only hidden state.
package selector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"hantu-quant/internal/cache"
	"hantu-quant/internal/config"
	"hantu-quant/internal/sizer"
	"hantu-quant/pkg/types"
)

const (
	chartDays       = 60
	returnWindow    = 20
	surgeWindow     = 5
	minBarsForScore = returnWindow + 1

	// Regime thresholds on the market 20-day return, in percent.
	bullThreshold = 5.0
	bearThreshold = -5.0

	// Market caps below this are assumed to be quoted in 100M-KRW units.
	marketCapUnitThreshold = 1e8
	marketCapUnitScale     = 1e8
)

// Candidate is one watchlist entry: the snapshot fields the filter needs
// plus identity. TradingValue and MarketCap may be zero when the upstream
// snapshot lacks them; the filter imputes conservatively.
type Candidate struct {
	Code         string
	Name         string
	Sector       string
	Price        float64
	Volume       int64   // average daily shares
	TradingValue float64 // average daily value, KRW; 0 = impute price×volume
	MarketCap    float64 // KRW, or 100M-KRW units (heuristic)
}

// ChartSource is the slice of the REST client the selector needs.
type ChartSource interface {
	GetDailyChart(ctx context.Context, code string, days int) ([]types.Bar, error)
}

// Selector runs the selection pipeline.
type Selector struct {
	charts ChartSource
	store  *cache.Store
	sizer  *sizer.Sizer
	cfg    config.QuantConfig
	ttl    time.Duration
	logger zerolog.Logger

	// Sector strength map, optional. Sectors not present read as the
	// configured neutral score.
	sectorScores map[string]float64
}

// New builds a selector.
func New(charts ChartSource, store *cache.Store, sz *sizer.Sizer, cfg config.QuantConfig, chartTTL time.Duration, logger zerolog.Logger) *Selector {
	return &Selector{
		charts: charts,
		store:  store,
		sizer:  sz,
		cfg:    cfg,
		ttl:    chartTTL,
		logger: logger.With().Str("component", "selector").Logger(),
	}
}

// SetSectorScores installs the per-sector strength map used for signal
// annotation. Missing sectors fall back to the neutral score.
func (s *Selector) SetSectorScores(scores map[string]float64) {
	s.sectorScores = scores
}

// SectorScore returns the strength score for a sector, or the configured
// neutral value when the sector is unknown.
func (s *Selector) SectorScore(sector string) float64 {
	if v, ok := s.sectorScores[sector]; ok {
		return v
	}
	return s.cfg.Momentum.NeutralSectorScore
}

// DetectRegime classifies the market from its 20-day return (percent).
func DetectRegime(marketReturn20d float64) types.Regime {
	switch {
	case marketReturn20d > bullThreshold:
		return types.RegimeBull
	case marketReturn20d < bearThreshold:
		return types.RegimeBear
	default:
		return types.RegimeSideways
	}
}

type scored struct {
	Candidate
	bars []types.Bar

	return20       float64
	relativeReturn float64
	volumeSurge    float64
	priceStrength  float64
	score          float64
	percentile     float64
}

// Select runs the full pipeline and returns at most the regime's
// max_stocks results. Candidates whose chart cannot be fetched or scored
// are dropped, not fatal.
func (s *Selector) Select(ctx context.Context, watchlist []Candidate, totalCapital, marketReturn20d float64) ([]types.SelectionResult, error) {
	if totalCapital <= 0 {
		return nil, fmt.Errorf("total capital must be positive")
	}

	regime := DetectRegime(marketReturn20d)
	override := s.cfg.Regimes.Overrides(regime)
	maxStocks := override.MaxStocks
	if maxStocks <= 0 {
		maxStocks = len(watchlist)
	}

	passed := s.filterLiquidity(watchlist)
	s.logger.Info().
		Str("regime", string(regime)).
		Int("watchlist", len(watchlist)).
		Int("passed_filter", len(passed)).
		Msg("liquidity filter applied")

	pool := s.score(ctx, passed, marketReturn20d)
	if len(pool) == 0 {
		return nil, nil
	}
	assignPercentiles(pool)

	// Descending score, ties ascending code.
	sort.Slice(pool, func(i, j int) bool {
		if pool[i].score != pool[j].score {
			return pool[i].score > pool[j].score
		}
		return pool[i].Code < pool[j].Code
	})
	poolSize := int(math.Ceil(s.cfg.Momentum.TopPercentile * float64(len(pool))))
	if poolSize > len(pool) {
		poolSize = len(pool)
	}

	accepted := make([]scored, 0, maxStocks)
	sectorCounts := make(map[string]int)
	for _, cand := range pool[:poolSize] {
		if len(accepted) >= maxStocks {
			break
		}
		if sectorCounts[cand.Sector] >= s.cfg.Momentum.SectorLimit {
			continue
		}
		sectorCounts[cand.Sector]++
		accepted = append(accepted, cand)
	}

	return s.buildResults(accepted, totalCapital, regime), nil
}

// filterLiquidity applies the hard tradeability thresholds. Missing
// trading value imputes price×volume; small market caps are assumed to be
// 100M-KRW units.
func (s *Selector) filterLiquidity(watchlist []Candidate) []Candidate {
	lf := s.cfg.Liquidity
	out := make([]Candidate, 0, len(watchlist))
	for _, c := range watchlist {
		tradingValue := c.TradingValue
		if tradingValue == 0 {
			tradingValue = c.Price * float64(c.Volume)
		}
		marketCap := c.MarketCap
		if marketCap > 0 && marketCap < marketCapUnitThreshold {
			marketCap *= marketCapUnitScale
		}
		if tradingValue < lf.MinTradingValue ||
			marketCap < lf.MinMarketCap ||
			c.Price < lf.MinPrice ||
			float64(c.Volume) < lf.MinVolume {
			continue
		}
		out = append(out, c)
	}
	return out
}

// score fetches each candidate's daily chart through the cache and
// computes the momentum attributes. Unscoreable candidates are dropped.
func (s *Selector) score(ctx context.Context, candidates []Candidate, marketReturn float64) []scored {
	out := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		bars, err := cache.ThroughBars(ctx, s.store, "daily_chart", s.ttl,
			[]any{c.Code, chartDays},
			func(ctx context.Context) ([]types.Bar, error) {
				return s.charts.GetDailyChart(ctx, c.Code, chartDays)
			})
		if err != nil {
			s.logger.Debug().Err(err).Str("code", c.Code).Msg("dropping candidate, chart unavailable")
			continue
		}
		sc, ok := scoreCandidate(c, bars, marketReturn)
		if !ok {
			s.logger.Debug().Str("code", c.Code).Int("bars", len(bars)).Msg("dropping candidate, too few bars")
			continue
		}
		out = append(out, sc)
	}
	return out
}

func scoreCandidate(c Candidate, bars []types.Bar, marketReturn float64) (scored, bool) {
	if len(bars) < minBarsForScore {
		return scored{}, false
	}
	last := bars[len(bars)-1]
	base := bars[len(bars)-1-returnWindow]
	if base.Close <= 0 {
		return scored{}, false
	}

	return20 := (last.Close/base.Close - 1) * 100

	recent := bars[len(bars)-returnWindow:]
	vol20 := meanVolume(recent)
	vol5 := meanVolume(bars[len(bars)-surgeWindow:])
	surge := 0.0
	if vol20 > 0 {
		surge = vol5 / vol20
	}

	hi, lo := math.Inf(-1), math.Inf(1)
	for _, b := range recent {
		hi = math.Max(hi, b.High)
		lo = math.Min(lo, b.Low)
	}
	strength := 0.0
	if hi > lo {
		strength = (last.Close - lo) / (hi - lo)
	}

	relative := return20 - marketReturn
	score := 0.5*relative + 0.3*math.Min(20*surge, 40) + 0.2*100*strength

	return scored{
		Candidate:      c,
		bars:           bars,
		return20:       return20,
		relativeReturn: relative,
		volumeSurge:    surge,
		priceStrength:  strength,
		score:          score,
	}, true
}

// assignPercentiles ranks ascending by score, ties by code, and maps the
// rank to [0, 100].
func assignPercentiles(pool []scored) {
	order := make([]int, len(pool))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		ia, ib := order[a], order[b]
		if pool[ia].score != pool[ib].score {
			return pool[ia].score < pool[ib].score
		}
		return pool[ia].Code < pool[ib].Code
	})
	for rank, idx := range order {
		if len(pool) == 1 {
			pool[idx].percentile = 100
			continue
		}
		pool[idx].percentile = 100 * float64(rank) / float64(len(pool)-1)
	}
}

// buildResults sizes the accepted names, normalizes portfolio weights, and
// assembles the final result rows.
func (s *Selector) buildResults(accepted []scored, totalCapital float64, regime types.Regime) []types.SelectionResult {
	sizes := make([]types.PositionSize, len(accepted))
	prices := make(map[string]float64, len(accepted))
	for i, cand := range accepted {
		price := cand.bars[len(cand.bars)-1].Close
		prices[cand.Code] = price
		sizes[i] = s.sizer.Size(cand.Code, price, totalCapital, cand.bars, regime)
	}
	sizes = s.sizer.Normalize(sizes, prices, totalCapital)

	now := time.Now()
	results := make([]types.SelectionResult, len(accepted))
	for i, cand := range accepted {
		ps := sizes[i]
		price := prices[cand.Code]
		expected := 0.0
		if price > 0 {
			expected = (ps.TargetPrice - price) / price * 100
		}

		signals := []string{"MOMENTUM"}
		if cand.volumeSurge >= 1.5 {
			signals = append(signals, "VOLUME_SURGE")
		}
		if cand.priceStrength >= 0.8 {
			signals = append(signals, "PRICE_STRENGTH")
		}
		if s.SectorScore(cand.Sector) > s.cfg.Momentum.NeutralSectorScore {
			signals = append(signals, "SECTOR_STRONG")
		}

		results[i] = types.SelectionResult{
			Code:            cand.Code,
			Name:            cand.Name,
			SelectionDate:   now,
			SelectionReason: selectionReason(cand),
			MomentumScore:   cand.score,
			PercentileRank:  cand.percentile,
			EntryPrice:      price,
			TargetPrice:     ps.TargetPrice,
			StopLoss:        ps.StopLoss,
			ExpectedReturn:  expected,
			PositionWeight:  ps.Weight,
			PositionAmount:  ps.ActualAmount,
			Sector:          cand.Sector,
			MarketCap:       cand.MarketCap,
			Priority:        i + 1,
			Signals:         signals,
			ATRValue:        ps.ATR,
			DailyVolatility: ps.DailyVolatility,
		}
	}
	return results
}

func selectionReason(c scored) string {
	return fmt.Sprintf("relative %+.1f%%, volume ×%.1f, top %.0f%%",
		c.relativeReturn, c.volumeSurge, 100-c.percentile)
}

func meanVolume(bars []types.Bar) float64 {
	vols := make([]float64, len(bars))
	for i, b := range bars {
		vols[i] = float64(b.Volume)
	}
	return stat.Mean(vols, nil)
}
