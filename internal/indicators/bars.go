// Package indicators provides pure numeric functions over ordered price
// bars: moving averages, oscillators, volume classification, trend
// structure, and candle patterns. Everything here is stateless — each call
// recomputes from its input slice, holding no state across calls.
package indicators

import "github.com/kryptotron/engine/internal/domain"

// OHLCV splits a bar slice into parallel series, the shape go-talib and the
// bespoke functions in this package both expect.
type OHLCV struct {
	Open   []float64
	High   []float64
	Low    []float64
	Close  []float64
	Volume []float64
}

// Split converts ordered price bars (oldest first) into parallel series.
func Split(bars []domain.PriceBar) OHLCV {
	o := OHLCV{
		Open:   make([]float64, len(bars)),
		High:   make([]float64, len(bars)),
		Low:    make([]float64, len(bars)),
		Close:  make([]float64, len(bars)),
		Volume: make([]float64, len(bars)),
	}
	for i, b := range bars {
		o.Open[i] = b.Open
		o.High[i] = b.High
		o.Low[i] = b.Low
		o.Close[i] = b.Close
		o.Volume[i] = b.Volume
	}
	return o
}

func isNaN(f float64) bool {
	return f != f
}

func lastFinite(series []float64) (float64, bool) {
	if len(series) == 0 {
		return 0, false
	}
	v := series[len(series)-1]
	if isNaN(v) {
		return 0, false
	}
	return v, true
}
