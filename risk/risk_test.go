package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClampRejectsNonPositiveCapital(t *testing.T) {
	_, err := Clamp(nil, Config{}, 0, 0, nil)
	require.Error(t, err)
}

func TestClampFlattensOnDrawdownBreach(t *testing.T) {
	inputs := []SymbolInput{{Symbol: "ES", Proposed: 10, Price: 100, Multiplier: 1}}
	cfg := Config{MaxDrawdown: 0.1}
	result, err := Clamp(inputs, cfg, 80, 100, nil)
	require.NoError(t, err)
	assert.True(t, result.Flattened)
	assert.Equal(t, 0.0, result.Clamped["ES"])
}

func TestClampScalesGrossLeverageProRata(t *testing.T) {
	inputs := []SymbolInput{
		{Symbol: "ES", Proposed: 10, Price: 100, Multiplier: 1},
		{Symbol: "NQ", Proposed: 10, Price: 100, Multiplier: 1},
	}
	cfg := Config{MaxGrossLeverage: 1.0}
	result, err := Clamp(inputs, cfg, 1000, 0, nil)
	require.NoError(t, err)
	assert.False(t, result.Flattened)
	// gross notional = 2000 against capital 1000 -> scale = 0.5
	assert.InDelta(t, 5.0, result.Clamped["ES"], 1e-9)
	assert.InDelta(t, 5.0, result.Clamped["NQ"], 1e-9)
}

func TestClampAppliesPerSymbolCap(t *testing.T) {
	inputs := []SymbolInput{{Symbol: "ES", Proposed: 20, Price: 10, Multiplier: 1}}
	cfg := Config{MaxPositionSize: map[string]float64{"ES": 5}}
	result, err := Clamp(inputs, cfg, 1000, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 5.0, result.Clamped["ES"])
}

func TestClampLeavesUnconstrainedInputsUntouched(t *testing.T) {
	inputs := []SymbolInput{{Symbol: "ES", Proposed: 3, Price: 50, Multiplier: 1}}
	result, err := Clamp(inputs, Config{}, 1000, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 3.0, result.Clamped["ES"])
	assert.Empty(t, result.Warnings)
}

func TestClampWarnsOnCorrelationBreach(t *testing.T) {
	inputs := []SymbolInput{{Symbol: "ES", Proposed: 1, Price: 10, Multiplier: 1}}
	cfg := Config{MaxCorrelation: 0.5}
	correlations := map[[2]string]float64{{"ES", "NQ"}: 0.9}
	result, err := Clamp(inputs, cfg, 1000, 0, correlations)
	require.NoError(t, err)
	assert.Len(t, result.Warnings, 1)
}
