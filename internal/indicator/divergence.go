// divergence.go flags price/OBV divergence over a trailing window.
package indicator

import "math"

// Divergence classifies the price/indicator relationship.
type Divergence string

const (
	DivergenceNone    Divergence = "NONE"
	DivergenceBullish Divergence = "BULLISH"
	DivergenceBearish Divergence = "BEARISH"
)

// DetectDivergence compares the change in price against the change in the
// indicator over the trailing lookback window. Price up while the
// indicator falls is bearish; price down while the indicator rises is
// bullish. Everything else — the two moving together, a flat window, NaN
// endpoints — is a confirming or neutral reading.
func DetectDivergence(prices, ind []float64, lookback int) Divergence {
	if lookback < 2 || len(prices) < lookback || len(ind) < lookback {
		return DivergenceNone
	}
	dPrice := prices[len(prices)-1] - prices[len(prices)-lookback]
	dInd := ind[len(ind)-1] - ind[len(ind)-lookback]
	if math.IsNaN(dPrice) || math.IsNaN(dInd) {
		return DivergenceNone
	}
	switch {
	case dPrice > 0 && dInd < 0:
		return DivergenceBearish
	case dPrice < 0 && dInd > 0:
		return DivergenceBullish
	default:
		return DivergenceNone
	}
}
