package indicators

import (
	"github.com/markcheno/go-talib"

	"github.com/kryptotron/engine/internal/domain"
)

// BollingerResult is the band triple plus %B and the squeeze flag.
type BollingerResult struct {
	Mid, Upper, Lower float64
	PercentB          float64
	Squeeze           bool
}

// Bollinger computes Bollinger Bands. Squeeze is true when the current
// bandwidth is below the rolling 20-bar minimum bandwidth within a 5%
// tolerance.
func Bollinger(closes []float64, period int, k float64) (BollingerResult, error) {
	if len(closes) < period+20 {
		return BollingerResult{}, domain.ErrInsufficientData
	}

	upper, mid, lower := talib.BBands(closes, period, k, k, talib.SMA)
	n := len(mid)
	um, okU := lastFinite(upper)
	mm, okM := lastFinite(mid)
	lm, okL := lastFinite(lower)
	if !okU || !okM || !okL {
		return BollingerResult{}, domain.ErrInsufficientData
	}

	lastClose := closes[len(closes)-1]
	bandwidth := (um - lm) / mm

	minBandwidth := bandwidth
	start := n - 20
	if start < 0 {
		start = 0
	}
	for i := start; i < n; i++ {
		if isNaN(upper[i]) || isNaN(lower[i]) || isNaN(mid[i]) || mid[i] == 0 {
			continue
		}
		bw := (upper[i] - lower[i]) / mid[i]
		if bw < minBandwidth {
			minBandwidth = bw
		}
	}
	squeeze := bandwidth <= minBandwidth*1.05

	var percentB float64
	if um != lm {
		percentB = (lastClose - lm) / (um - lm)
	}

	return BollingerResult{Mid: mm, Upper: um, Lower: lm, PercentB: percentB, Squeeze: squeeze}, nil
}
