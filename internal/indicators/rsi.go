package indicators

import (
	"github.com/markcheno/go-talib"

	"github.com/kryptotron/engine/internal/domain"
)

// RSI computes the Wilder-smoothed Relative Strength Index, in [0,100].
func RSI(closes []float64, period int) (float64, error) {
	if len(closes) < period+1 {
		return 0, domain.ErrInsufficientData
	}
	series := talib.Rsi(closes, period)
	v, ok := lastFinite(series)
	if !ok {
		return 0, domain.ErrInsufficientData
	}
	return v, nil
}
