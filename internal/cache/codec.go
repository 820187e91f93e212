// codec.go defines the wire format for cached values.
//
// Scalar payloads are plain JSON. Tabular payloads (bar frames, indicator
// series) are wrapped in a self-describing envelope so a decoder can tell
// them apart without out-of-band type information:
//
//	{"__tabular_type__": "frame",  "index": [...], "columns": [...], "data": [[...], ...]}
//	{"__tabular_type__": "series", "index": [...], "data": [...]}
//
// Index entries are ISO-8601 timestamps. NaN has no JSON representation, so
// NaN cells are encoded as null and decoded back to NaN.
package cache

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"hantu-quant/pkg/types"
)

const (
	tabularTypeKey = "__tabular_type__"
	tabularFrame   = "frame"
	tabularSeries  = "series"
)

var frameColumns = []string{"open", "high", "low", "close", "volume"}

type frameEnvelope struct {
	TabularType string       `json:"__tabular_type__"`
	Index       []string     `json:"index"`
	Columns     []string     `json:"columns"`
	Data        [][]*float64 `json:"data"`
}

type seriesEnvelope struct {
	TabularType string     `json:"__tabular_type__"`
	Index       []string   `json:"index"`
	Data        []*float64 `json:"data"`
}

// EncodeBars serializes an OHLCV frame into the tabular envelope.
func EncodeBars(bars []types.Bar) ([]byte, error) {
	env := frameEnvelope{
		TabularType: tabularFrame,
		Index:       make([]string, len(bars)),
		Columns:     frameColumns,
		Data:        make([][]*float64, len(bars)),
	}
	for i, b := range bars {
		env.Index[i] = b.Date.Format(time.RFC3339)
		env.Data[i] = []*float64{
			cell(b.Open), cell(b.High), cell(b.Low), cell(b.Close), cell(float64(b.Volume)),
		}
	}
	return json.Marshal(env)
}

// DecodeBars restores an OHLCV frame from the tabular envelope.
func DecodeBars(data []byte) ([]types.Bar, error) {
	var env frameEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if env.TabularType != tabularFrame {
		return nil, fmt.Errorf("decode frame: unexpected tabular type %q", env.TabularType)
	}
	bars := make([]types.Bar, len(env.Data))
	for i, row := range env.Data {
		if len(row) < len(frameColumns) {
			return nil, fmt.Errorf("decode frame: row %d has %d cells", i, len(row))
		}
		date, err := time.Parse(time.RFC3339, env.Index[i])
		if err != nil {
			return nil, fmt.Errorf("decode frame: index %d: %w", i, err)
		}
		bars[i] = types.Bar{
			Date:   date,
			Open:   uncell(row[0]),
			High:   uncell(row[1]),
			Low:    uncell(row[2]),
			Close:  uncell(row[3]),
			Volume: int64(uncell(row[4])),
		}
	}
	return bars, nil
}

// EncodeSeries serializes a timestamped value series.
func EncodeSeries(index []time.Time, values []float64) ([]byte, error) {
	if len(index) != len(values) {
		return nil, fmt.Errorf("encode series: index length %d != values length %d", len(index), len(values))
	}
	env := seriesEnvelope{
		TabularType: tabularSeries,
		Index:       make([]string, len(index)),
		Data:        make([]*float64, len(values)),
	}
	for i := range index {
		env.Index[i] = index[i].Format(time.RFC3339)
		env.Data[i] = cell(values[i])
	}
	return json.Marshal(env)
}

// DecodeSeries restores a timestamped value series.
func DecodeSeries(data []byte) ([]time.Time, []float64, error) {
	var env seriesEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, nil, fmt.Errorf("decode series: %w", err)
	}
	if env.TabularType != tabularSeries {
		return nil, nil, fmt.Errorf("decode series: unexpected tabular type %q", env.TabularType)
	}
	index := make([]time.Time, len(env.Index))
	values := make([]float64, len(env.Data))
	for i := range env.Index {
		t, err := time.Parse(time.RFC3339, env.Index[i])
		if err != nil {
			return nil, nil, fmt.Errorf("decode series: index %d: %w", i, err)
		}
		index[i] = t
		values[i] = uncell(env.Data[i])
	}
	return index, values, nil
}

// cell maps NaN to null for JSON transport.
func cell(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}

func uncell(p *float64) float64 {
	if p == nil {
		return math.NaN()
	}
	return *p
}
