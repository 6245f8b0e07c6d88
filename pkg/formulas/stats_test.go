package formulas

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMean_EmptyIsZero(t *testing.T) {
	assert.Equal(t, 0.0, Mean(nil))
}

func TestMean_ArithmeticAverage(t *testing.T) {
	assert.InDelta(t, 5.0, Mean([]float64{2, 4, 4, 4, 5, 5, 7, 9}), 1e-9)
}

func TestStdDev_EmptyIsZero(t *testing.T) {
	assert.Equal(t, 0.0, StdDev(nil))
}

func TestStdDev_KnownSample(t *testing.T) {
	assert.InDelta(t, 2.1381, StdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9}), 1e-3)
}

func TestVariance_KnownSample(t *testing.T) {
	assert.InDelta(t, 4.5714, Variance([]float64{2, 4, 4, 4, 5, 5, 7, 9}), 1e-3)
}

func TestAnnualizedVolatility_EmptyIsZero(t *testing.T) {
	assert.Equal(t, 0.0, AnnualizedVolatility(nil))
}

func TestAnnualizedVolatility_ScalesStdDevBySqrt252(t *testing.T) {
	assert.InDelta(t, StdDev([]float64{0.01, -0.01, 0.02})*15.8745, AnnualizedVolatility([]float64{0.01, -0.01, 0.02}), 1e-3)
}

func TestCalculateReturns_PercentChangeBetweenConsecutivePrices(t *testing.T) {
	returns := CalculateReturns([]float64{100, 110, 121})
	assert.InDelta(t, 0.10, returns[0], 1e-9)
	assert.InDelta(t, 0.10, returns[1], 1e-9)
}

func TestCalculateReturns_TooFewPricesIsEmpty(t *testing.T) {
	assert.Empty(t, CalculateReturns([]float64{100}))
}

func TestCorrelation_PerfectlyCorrelatedSeriesIsOne(t *testing.T) {
	x := []float64{1, 2, 3, 4, 5}
	y := []float64{2, 4, 6, 8, 10}
	assert.InDelta(t, 1.0, Correlation(x, y), 1e-9)
}

func TestCorrelation_InverselyCorrelatedSeriesIsNegativeOne(t *testing.T) {
	x := []float64{1, 2, 3, 4, 5}
	y := []float64{10, 8, 6, 4, 2}
	assert.InDelta(t, -1.0, Correlation(x, y), 1e-9)
}

func TestCorrelation_MismatchedLengthsIsZero(t *testing.T) {
	assert.Equal(t, 0.0, Correlation([]float64{1, 2}, []float64{1}))
}

func TestCovariance_MismatchedLengthsIsZero(t *testing.T) {
	assert.Equal(t, 0.0, Covariance([]float64{1, 2}, []float64{1}))
}
