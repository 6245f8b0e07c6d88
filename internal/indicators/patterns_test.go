package indicators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kryptotron/engine/internal/domain"
)

func TestCandles_InsufficientData(t *testing.T) {
	_, err := Candles([]float64{1}, []float64{1}, []float64{1}, []float64{1})
	assert.ErrorIs(t, err, domain.ErrInsufficientData)
}

func TestCandles_Doji(t *testing.T) {
	opens := []float64{100, 100}
	highs := []float64{101, 110}
	lows := []float64{99, 90}
	closes := []float64{100, 100.5}

	p, err := Candles(opens, highs, lows, closes)
	require.NoError(t, err)
	assert.Equal(t, PatternDoji, p)
}

func TestCandles_Hammer(t *testing.T) {
	opens := []float64{100, 100}
	highs := []float64{100, 101.5}
	lows := []float64{100, 95}
	closes := []float64{100, 101}

	p, err := Candles(opens, highs, lows, closes)
	require.NoError(t, err)
	assert.Equal(t, PatternHammer, p)
}

func TestCandles_BullishEngulfing(t *testing.T) {
	opens := []float64{100, 95}
	highs := []float64{101, 110}
	lows := []float64{94, 94}
	closes := []float64{95, 101}

	p, err := Candles(opens, highs, lows, closes)
	require.NoError(t, err)
	assert.Equal(t, PatternBullishEngulfing, p)
}

func TestCandles_FlatRangeIsNone(t *testing.T) {
	opens := []float64{100, 100}
	highs := []float64{100, 100}
	lows := []float64{100, 100}
	closes := []float64{100, 100}

	p, err := Candles(opens, highs, lows, closes)
	require.NoError(t, err)
	assert.Equal(t, PatternNone, p)
}

func TestTrend_InsufficientData(t *testing.T) {
	_, err := Trend([]float64{1, 2, 3}, []float64{1, 2, 3})
	assert.ErrorIs(t, err, domain.ErrInsufficientData)
}

func TestTrend_MismatchedLengthsIsInsufficientData(t *testing.T) {
	highs := constantSeries(50, 110)
	lows := constantSeries(49, 90)
	_, err := Trend(highs, lows)
	assert.ErrorIs(t, err, domain.ErrInsufficientData)
}

func TestTrend_FlatSeriesIsConsolidation(t *testing.T) {
	highs := constantSeries(50, 110)
	lows := constantSeries(50, 90)

	trend, err := Trend(highs, lows)
	require.NoError(t, err)
	assert.Equal(t, Consolidation, trend)
}

func TestVolume_InsufficientData(t *testing.T) {
	_, err := Volume(constantSeries(10, 100))
	assert.ErrorIs(t, err, domain.ErrInsufficientData)
}

func TestVolume_SurgeClassification(t *testing.T) {
	volumes := constantSeries(20, 100)
	volumes[19] = 300

	result, err := Volume(volumes)
	require.NoError(t, err)
	assert.Equal(t, VolumeSurge, result.Class)
	assert.Greater(t, result.Ratio, 2.0)
}

func TestVolume_DryClassification(t *testing.T) {
	volumes := constantSeries(20, 100)
	volumes[19] = 10

	result, err := Volume(volumes)
	require.NoError(t, err)
	assert.Equal(t, VolumeDry, result.Class)
	assert.Less(t, result.Ratio, 0.5)
}

func TestVolume_NormalClassification(t *testing.T) {
	volumes := constantSeries(20, 100)

	result, err := Volume(volumes)
	require.NoError(t, err)
	assert.Equal(t, VolumeNormal, result.Class)
	assert.InDelta(t, 1.0, result.Ratio, 0.001)
}
