package optimizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func identitySigma(n int) [][]float64 {
	sigma := make([][]float64, n)
	for i := range sigma {
		sigma[i] = make([]float64, n)
		sigma[i][i] = 1
	}
	return sigma
}

func TestOptimizeEmptyInputReturnsConvergedEmptyResult(t *testing.T) {
	result := Optimize(Input{}, DefaultConfig())
	assert.True(t, result.Converged)
	assert.Empty(t, result.Positions)
}

func TestOptimizeMovesTowardIdealWhenCostIsZero(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Capital = 1_000_000
	cfg.RiskBuffer = 10 // generous cap so the risk constraint never binds

	in := Input{
		Symbols:    []string{"ES"},
		Ideal:      map[string]float64{"ES": 10},
		Held:       map[string]float64{"ES": 0},
		Cost:       map[string]float64{"ES": 0},
		Weight:     map[string]float64{"ES": 1},
		Covariance: identitySigma(1),
	}
	result := Optimize(in, cfg)
	assert.InDelta(t, 10, result.Positions["ES"], 1e-9)
}

func TestOptimizeNeverReturnsWorseThanIntegerizedIdeal(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Capital = 1_000_000
	cfg.MaxIterations = 1 // force an early, likely-suboptimal stop
	cfg.RiskBuffer = 10

	in := Input{
		Symbols:    []string{"ES", "NQ"},
		Ideal:      map[string]float64{"ES": 37, "NQ": -22},
		Held:       map[string]float64{"ES": 0, "NQ": 0},
		Cost:       map[string]float64{"ES": 0.01, "NQ": 0.01},
		Weight:     map[string]float64{"ES": 1, "NQ": 1},
		Covariance: identitySigma(2),
	}
	result := Optimize(in, cfg)

	idealRounded := []float64{37, -22}
	idealJ := objective(idealRounded, []float64{37, -22}, []float64{0, 0}, []float64{0.01, 0.01}, []float64{1, 1}, identitySigma(2), cfg)
	assert.LessOrEqual(t, result.ObjectiveJ, idealJ+1e-9)
}

func TestOptimizeRespectsRiskCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Capital = 100
	cfg.RiskTarget = 0.01
	cfg.RiskBuffer = 0 // tight cap

	in := Input{
		Symbols:    []string{"ES"},
		Ideal:      map[string]float64{"ES": 1000}, // wildly beyond what the cap allows
		Held:       map[string]float64{"ES": 0},
		Cost:       map[string]float64{"ES": 0},
		Weight:     map[string]float64{"ES": 1},
		Covariance: identitySigma(1),
	}
	result := Optimize(in, cfg)
	assert.True(t, riskCapOK([]float64{result.Positions["ES"]}, []float64{1}, identitySigma(1), cfg))
}

func TestOptimizeConvergesWithinIterationCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Capital = 1_000_000
	cfg.RiskBuffer = 10

	in := Input{
		Symbols:    []string{"ES"},
		Ideal:      map[string]float64{"ES": 5},
		Held:       map[string]float64{"ES": 5},
		Cost:       map[string]float64{"ES": 0},
		Weight:     map[string]float64{"ES": 1},
		Covariance: identitySigma(1),
	}
	result := Optimize(in, cfg)
	require.True(t, result.Converged)
	assert.InDelta(t, 5, result.Positions["ES"], 1e-9)
	assert.Zero(t, result.Iterations)
}
