// Package indicator computes technical indicator series over OHLCV bars.
//
// Every function takes an oldest-first series and returns a slice aligned
// to the input, with NaN in the warmup region where the indicator is not
// yet defined. Callers decide how to treat NaN; FillNaN offers the usual
// forward-then-backward fill for pipelines that need dense series.
//
// Formula notes, fixed by the strategy rather than textbook convention:
// RSI uses simple rolling means of gains and losses (not Wilder
// smoothing), ATR is an EMA of true range.
package indicator

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"hantu-quant/pkg/types"
)

// Standard parameterizations used across the strategy.
const (
	RSIPeriod        = 14
	MACDFast         = 12
	MACDSlow         = 26
	MACDSignal       = 9
	BollingerPeriod  = 20
	BollingerStdDevs = 2.0
	StochKPeriod     = 14
	StochKSmooth     = 3
	StochDSmooth     = 3
	ATRPeriod        = 14
)

// ValidateBars checks a series is usable for indicator math: non-empty,
// strictly positive prices, high ≥ low on every bar.
func ValidateBars(bars []types.Bar, minLen int) error {
	if len(bars) < minLen {
		return fmt.Errorf("need at least %d bars, got %d", minLen, len(bars))
	}
	for i, b := range bars {
		if b.Close <= 0 || b.Open <= 0 || b.High <= 0 || b.Low <= 0 {
			return fmt.Errorf("bar %d has non-positive price", i)
		}
		if b.High < b.Low {
			return fmt.Errorf("bar %d has high %.2f below low %.2f", i, b.High, b.Low)
		}
	}
	return nil
}

// FillNaN returns a copy with NaN runs forward-filled, then any leading
// NaNs back-filled from the first real value.
func FillNaN(values []float64) []float64 {
	out := make([]float64, len(values))
	copy(out, values)

	last := math.NaN()
	for i, v := range out {
		if math.IsNaN(v) {
			out[i] = last
		} else {
			last = v
		}
	}
	first := math.NaN()
	for _, v := range out {
		if !math.IsNaN(v) {
			first = v
			break
		}
	}
	for i := range out {
		if math.IsNaN(out[i]) {
			out[i] = first
		} else {
			break
		}
	}
	return out
}

// SMA is the simple moving average.
func SMA(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// EMA is the exponential moving average, seeded with the SMA of the first
// period values.
func EMA(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	seed := stat.Mean(values[:period], nil)
	out[period-1] = seed
	k := 2.0 / float64(period+1)
	for i := period; i < len(values); i++ {
		out[i] = values[i]*k + out[i-1]*(1-k)
	}
	return out
}

// WMA is the linearly weighted moving average, most recent value heaviest.
func WMA(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	denom := float64(period*(period+1)) / 2
	for i := period - 1; i < len(values); i++ {
		sum := 0.0
		for j := 0; j < period; j++ {
			sum += values[i-period+1+j] * float64(j+1)
		}
		out[i] = sum / denom
	}
	return out
}

// RSI computes the relative strength index using simple rolling means of
// gains and losses. A window with zero average loss yields 100.
func RSI(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || len(values) < period+1 {
		return out
	}

	gains := make([]float64, len(values))
	losses := make([]float64, len(values))
	for i := 1; i < len(values); i++ {
		diff := values[i] - values[i-1]
		if diff > 0 {
			gains[i] = diff
		} else {
			losses[i] = -diff
		}
	}

	avgGain := SMA(gains[1:], period)
	avgLoss := SMA(losses[1:], period)
	for i := period - 1; i < len(avgGain); i++ {
		g, l := avgGain[i], avgLoss[i]
		switch {
		case math.IsNaN(g) || math.IsNaN(l):
		case l == 0:
			out[i+1] = 100
		default:
			rs := g / l
			out[i+1] = 100 - 100/(1+rs)
		}
	}
	return out
}

// MACD returns the MACD line, signal line, and histogram.
func MACD(values []float64, fast, slow, signal int) (macd, signalLine, hist []float64) {
	emaFast := EMA(values, fast)
	emaSlow := EMA(values, slow)

	macd = nanSlice(len(values))
	for i := range values {
		if !math.IsNaN(emaFast[i]) && !math.IsNaN(emaSlow[i]) {
			macd[i] = emaFast[i] - emaSlow[i]
		}
	}

	// The signal EMA runs over the defined portion of the MACD line.
	signalLine = nanSlice(len(values))
	hist = nanSlice(len(values))
	start := slow - 1
	if start >= len(values) {
		return macd, signalLine, hist
	}
	sub := EMA(macd[start:], signal)
	for i, v := range sub {
		signalLine[start+i] = v
		if !math.IsNaN(v) {
			hist[start+i] = macd[start+i] - v
		}
	}
	return macd, signalLine, hist
}

// Bollinger returns the middle, upper, and lower bands: SMA ± k sample
// standard deviations.
func Bollinger(values []float64, period int, k float64) (middle, upper, lower []float64) {
	middle = SMA(values, period)
	upper = nanSlice(len(values))
	lower = nanSlice(len(values))
	if period <= 1 || len(values) < period {
		return middle, upper, lower
	}
	for i := period - 1; i < len(values); i++ {
		sd := stat.StdDev(values[i-period+1:i+1], nil)
		upper[i] = middle[i] + k*sd
		lower[i] = middle[i] - k*sd
	}
	return middle, upper, lower
}

// Stochastic returns the smoothed %K and %D oscillator lines.
func Stochastic(bars []types.Bar, kPeriod, kSmooth, dSmooth int) (kLine, dLine []float64) {
	raw := nanSlice(len(bars))
	for i := kPeriod - 1; i < len(bars); i++ {
		hi, lo := math.Inf(-1), math.Inf(1)
		for j := i - kPeriod + 1; j <= i; j++ {
			hi = math.Max(hi, bars[j].High)
			lo = math.Min(lo, bars[j].Low)
		}
		if hi == lo {
			raw[i] = 50
			continue
		}
		raw[i] = (bars[i].Close - lo) / (hi - lo) * 100
	}
	kLine = smaSkipNaN(raw, kSmooth)
	dLine = smaSkipNaN(kLine, dSmooth)
	return kLine, dLine
}

// ATR is the average true range, computed as an EMA of true range.
func ATR(bars []types.Bar, period int) []float64 {
	out := nanSlice(len(bars))
	if len(bars) < period+1 {
		return out
	}
	tr := make([]float64, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		hl := bars[i].High - bars[i].Low
		hc := math.Abs(bars[i].High - bars[i-1].Close)
		lc := math.Abs(bars[i].Low - bars[i-1].Close)
		tr[i-1] = math.Max(hl, math.Max(hc, lc))
	}
	ema := EMA(tr, period)
	for i, v := range ema {
		out[i+1] = v
	}
	return out
}

// OBV is on-balance volume: cumulative volume signed by the close-to-close
// direction. The first value is 0.
func OBV(bars []types.Bar) []float64 {
	out := make([]float64, len(bars))
	for i := 1; i < len(bars); i++ {
		switch {
		case bars[i].Close > bars[i-1].Close:
			out[i] = out[i-1] + float64(bars[i].Volume)
		case bars[i].Close < bars[i-1].Close:
			out[i] = out[i-1] - float64(bars[i].Volume)
		default:
			out[i] = out[i-1]
		}
	}
	return out
}

// DailyVolatility is the sample standard deviation of daily returns over
// the whole series, as a fraction (0.02 = 2%).
func DailyVolatility(closes []float64) float64 {
	if len(closes) < 2 {
		return math.NaN()
	}
	rets := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] != 0 {
			rets = append(rets, closes[i]/closes[i-1]-1)
		}
	}
	if len(rets) < 2 {
		return math.NaN()
	}
	return stat.StdDev(rets, nil)
}

// smaSkipNaN averages the trailing window, producing a value only once the
// window contains no NaN.
func smaSkipNaN(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 {
		return out
	}
	for i := period - 1; i < len(values); i++ {
		sum, ok := 0.0, true
		for j := i - period + 1; j <= i; j++ {
			if math.IsNaN(values[j]) {
				ok = false
				break
			}
			sum += values[j]
		}
		if ok {
			out[i] = sum / float64(period)
		}
	}
	return out
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
