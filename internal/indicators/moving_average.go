package indicators

import (
	"github.com/markcheno/go-talib"

	"github.com/kryptotron/engine/internal/domain"
)

// EMA returns the last exponential moving average value over the given
// period. The first period-1 outputs of the underlying series are
// undefined, matching the standard recurrence.
func EMA(closes []float64, period int) (float64, error) {
	if len(closes) < period {
		return 0, domain.ErrInsufficientData
	}
	series := talib.Ema(closes, period)
	v, ok := lastFinite(series)
	if !ok {
		return 0, domain.ErrInsufficientData
	}
	return v, nil
}

// SMA returns the last simple moving average value over the given period.
func SMA(closes []float64, period int) (float64, error) {
	if len(closes) < period {
		return 0, domain.ErrInsufficientData
	}
	series := talib.Sma(closes, period)
	v, ok := lastFinite(series)
	if !ok {
		return 0, domain.ErrInsufficientData
	}
	return v, nil
}
