package indicators

import "github.com/kryptotron/engine/internal/domain"

// TrendStructure labels the prevailing structure of recent price action.
type TrendStructure string

const (
	TrendUp      TrendStructure = "UPTREND"
	TrendDown    TrendStructure = "DOWNTREND"
	Consolidation TrendStructure = "CONSOLIDATION"
)

const (
	trendWindow     = 50
	swingHalfWindow = 2 // 5-bar window centered on the candidate swing
)

// Trend labels the last 50 bars UPTREND (higher highs and higher lows),
// DOWNTREND (lower highs and lower lows), or CONSOLIDATION otherwise.
// Swings are local extrema over a 5-bar window.
func Trend(highs, lows []float64) (TrendStructure, error) {
	n := len(highs)
	if n < trendWindow || len(lows) != n {
		return "", domain.ErrInsufficientData
	}

	start := n - trendWindow
	swingHighs := swingExtrema(highs[start:], true)
	swingLows := swingExtrema(lows[start:], false)

	higherHighs := monotonicIncreasing(swingHighs)
	higherLows := monotonicIncreasing(swingLows)
	lowerHighs := monotonicDecreasing(swingHighs)
	lowerLows := monotonicDecreasing(swingLows)

	switch {
	case higherHighs && higherLows:
		return TrendUp, nil
	case lowerHighs && lowerLows:
		return TrendDown, nil
	default:
		return Consolidation, nil
	}
}

// swingExtrema finds local maxima (high=true) or minima (high=false) using
// a window of swingHalfWindow bars on each side.
func swingExtrema(series []float64, high bool) []float64 {
	var out []float64
	for i := swingHalfWindow; i < len(series)-swingHalfWindow; i++ {
		isExtremum := true
		for j := i - swingHalfWindow; j <= i+swingHalfWindow; j++ {
			if j == i {
				continue
			}
			if high && series[j] > series[i] {
				isExtremum = false
				break
			}
			if !high && series[j] < series[i] {
				isExtremum = false
				break
			}
		}
		if isExtremum {
			out = append(out, series[i])
		}
	}
	return out
}

func monotonicIncreasing(series []float64) bool {
	if len(series) < 2 {
		return false
	}
	for i := 1; i < len(series); i++ {
		if series[i] <= series[i-1] {
			return false
		}
	}
	return true
}

func monotonicDecreasing(series []float64) bool {
	if len(series) < 2 {
		return false
	}
	for i := 1; i < len(series); i++ {
		if series[i] >= series[i-1] {
			return false
		}
	}
	return true
}
