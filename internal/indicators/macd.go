package indicators

import (
	"github.com/markcheno/go-talib"

	"github.com/kryptotron/engine/internal/domain"
)

// MACDCross classifies the sign change of (macd - signal) between the last
// two bars.
type MACDCross string

const (
	CrossGolden MACDCross = "golden"
	CrossDeath  MACDCross = "death"
	CrossNone   MACDCross = "none"
)

// MACDResult is the (macd, signal, histogram) triple plus the cross at the
// last bar.
type MACDResult struct {
	MACD      float64
	Signal    float64
	Histogram float64
	Cross     MACDCross
}

// MACD computes the moving average convergence/divergence indicator.
func MACD(closes []float64, fast, slow, signal int) (MACDResult, error) {
	minLen := slow + signal
	if len(closes) < minLen+1 {
		return MACDResult{}, domain.ErrInsufficientData
	}

	macdLine, signalLine, hist := talib.Macd(closes, fast, slow, signal)
	n := len(macdLine)
	if n < 2 {
		return MACDResult{}, domain.ErrInsufficientData
	}

	last, ok1 := lastFinite(macdLine)
	lastSig, ok2 := lastFinite(signalLine)
	lastHist, ok3 := lastFinite(hist)
	if !ok1 || !ok2 || !ok3 || isNaN(macdLine[n-2]) || isNaN(signalLine[n-2]) {
		return MACDResult{}, domain.ErrInsufficientData
	}

	prevDiff := macdLine[n-2] - signalLine[n-2]
	curDiff := last - lastSig

	cross := CrossNone
	if prevDiff <= 0 && curDiff > 0 {
		cross = CrossGolden
	} else if prevDiff >= 0 && curDiff < 0 {
		cross = CrossDeath
	}

	return MACDResult{MACD: last, Signal: lastSig, Histogram: lastHist, Cross: cross}, nil
}

// HistogramGrowing reports whether the histogram's absolute value grew from
// the second-to-last bar to the last, the "histogram growing" signal used
// by the TA evaluator.
func HistogramGrowing(closes []float64, fast, slow, signal int) bool {
	_, _, hist := talib.Macd(closes, fast, slow, signal)
	n := len(hist)
	if n < 2 || isNaN(hist[n-1]) || isNaN(hist[n-2]) {
		return false
	}
	return abs(hist[n-1]) > abs(hist[n-2])
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
