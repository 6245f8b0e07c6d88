package indicators

import (
	"github.com/markcheno/go-talib"

	"github.com/kryptotron/engine/internal/domain"
)

// ATR computes the Wilder Average True Range.
func ATR(high, low, close []float64, period int) (float64, error) {
	if len(close) < period+1 {
		return 0, domain.ErrInsufficientData
	}
	series := talib.Atr(high, low, close, period)
	v, ok := lastFinite(series)
	if !ok {
		return 0, domain.ErrInsufficientData
	}
	return v, nil
}
