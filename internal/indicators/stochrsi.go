package indicators

import (
	"github.com/markcheno/go-talib"

	"github.com/kryptotron/engine/internal/domain"
)

// StochRSIResult is the smoothed %K/%D pair.
type StochRSIResult struct {
	K, D float64
}

// StochRSI normalizes RSI over the lookback period and smooths with k/d.
func StochRSI(closes []float64, period, k, d int) (StochRSIResult, error) {
	if len(closes) < period*2 {
		return StochRSIResult{}, domain.ErrInsufficientData
	}
	fastK, fastD := talib.StochRsi(closes, period, k, d, talib.SMA)
	kv, okK := lastFinite(fastK)
	dv, okD := lastFinite(fastD)
	if !okK || !okD {
		return StochRSIResult{}, domain.ErrInsufficientData
	}
	return StochRSIResult{K: kv, D: dv}, nil
}
