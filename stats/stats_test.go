package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMean(t *testing.T) {
	assert.Equal(t, 0.0, Mean(nil))
	assert.Equal(t, 3.0, Mean([]float64{1, 2, 3, 4, 5}))
	assert.Equal(t, -2.0, Mean([]float64{-1, -3}))
}

func TestStdDev(t *testing.T) {
	assert.Equal(t, 0.0, StdDev(nil))
	assert.InDelta(t, 2.0, StdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9}), 0.01)
}

func TestDownsideDeviation(t *testing.T) {
	assert.Equal(t, 0.0, DownsideDeviation([]float64{1, 2, 3}, 0))
	got := DownsideDeviation([]float64{-1, 2, -3, 4}, 0)
	assert.InDelta(t, 2.236, got, 0.01)
}

func TestPercentile(t *testing.T) {
	xs := []float64{1, 2, 3, 4, 5}
	assert.Equal(t, 1.0, Percentile(xs, 0))
	assert.Equal(t, 5.0, Percentile(xs, 100))
	assert.Equal(t, 3.0, Percentile(xs, 50))
}

func TestCVaR(t *testing.T) {
	xs := []float64{-10, -5, -1, 0, 1, 5, 10}
	got := CVaR(xs, 0.95)
	assert.InDelta(t, -10.0, got, 1e-9)
}

func TestBeta(t *testing.T) {
	returns := []float64{0.02, 0.04, -0.01, 0.03}
	benchmark := []float64{0.01, 0.02, -0.005, 0.015}
	got := Beta(returns, benchmark)
	assert.InDelta(t, 2.0, got, 0.1)

	assert.Equal(t, 0.0, Beta([]float64{1}, []float64{1, 2}))
}
