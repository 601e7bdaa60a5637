package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gaugeValue(t *testing.T, m interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	var metric dto.Metric
	require.NoError(t, m.Write(&metric))
	return metric.GetGauge().GetValue()
}

func TestSetEquityComputesDrawdownFraction(t *testing.T) {
	SetEquity(90, 100)
	assert.InDelta(t, 0.10, gaugeValue(t, PortfolioDrawdown), 1e-9)
	assert.InDelta(t, 90, gaugeValue(t, PortfolioEquity), 1e-9)
}

func TestSetEquitySkipsDrawdownWhenNoPeakYet(t *testing.T) {
	SetEquity(50, 0)
	assert.InDelta(t, 50, gaugeValue(t, PortfolioEquity), 1e-9)
}

func TestClearPositionRemovesLabeledGauge(t *testing.T) {
	SetPosition("s1", "ES", 5)
	ClearPosition("s1", "ES")
	g, err := PositionQuantity.GetMetricWithLabelValues("s1", "ES")
	require.NoError(t, err)
	assert.Zero(t, gaugeValue(t, g))
}
