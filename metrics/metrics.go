// Package metrics exposes the engine's prometheus custom-registry gauges
// and counters: a package-level Registry plus promauto.With(Registry)
// vector metrics and small Update*/Record* setter functions.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Registry is the engine's custom prometheus registry.
	Registry = prometheus.NewRegistry()

	mu sync.RWMutex

	// StrategyState reports the lifecycle state as an integer gauge
	// (0=Created .. 5=Error), matching types.StrategyState's ordering.
	StrategyState = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "quantengine",
			Subsystem: "strategy",
			Name:      "state",
			Help:      "Strategy lifecycle state (0=Created,1=Initialized,2=Running,3=Paused,4=Stopped,5=Error)",
		},
		[]string{"strategy_id"},
	)

	// StrategyPnLTotal tracks realized + unrealized PnL per strategy.
	StrategyPnLTotal = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "quantengine",
			Subsystem: "strategy",
			Name:      "pnl_total",
			Help:      "Total PnL (realized + unrealized) in quote currency",
		},
		[]string{"strategy_id"},
	)

	// PositionQuantity tracks the current signed position per strategy/symbol.
	PositionQuantity = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "quantengine",
			Subsystem: "position",
			Name:      "quantity",
			Help:      "Current signed position quantity",
		},
		[]string{"strategy_id", "symbol"},
	)

	// PortfolioEquity tracks the portfolio-wide equity curve in real time.
	PortfolioEquity = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "quantengine",
			Subsystem: "portfolio",
			Name:      "equity",
			Help:      "Current portfolio equity",
		},
	)

	// PortfolioDrawdown tracks current drawdown-from-peak.
	PortfolioDrawdown = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "quantengine",
			Subsystem: "portfolio",
			Name:      "drawdown",
			Help:      "Current drawdown from equity peak, as a fraction",
		},
	)

	// RiskFlattenEventsTotal counts forced full-flatten events from the
	// risk engine's drawdown check.
	RiskFlattenEventsTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: "quantengine",
			Subsystem: "risk",
			Name:      "flatten_events_total",
			Help:      "Number of times the risk engine forced a full flatten",
		},
	)

	// OptimizerIterations tracks the iteration count the dynamic optimizer
	// consumed per cycle, as a histogram.
	OptimizerIterations = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "quantengine",
			Subsystem: "optimizer",
			Name:      "iterations",
			Help:      "Coordinate-descent iterations consumed per optimization cycle",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000},
		},
	)

	// OptimizerConvergenceFailuresTotal counts cycles that hit the
	// iteration cap without converging.
	OptimizerConvergenceFailuresTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: "quantengine",
			Subsystem: "optimizer",
			Name:      "convergence_failures_total",
			Help:      "Number of optimization cycles that hit the iteration cap",
		},
	)

	// BarBatchDuration tracks how long one portfolio cycle takes.
	BarBatchDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "quantengine",
			Subsystem: "engine",
			Name:      "bar_batch_duration_seconds",
			Help:      "Wall-clock duration of one portfolio bar-batch cycle",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)

	// BrokerRetriesTotal counts retry attempts against the live broker.
	BrokerRetriesTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: "quantengine",
			Subsystem: "broker",
			Name:      "retries_total",
			Help:      "Number of retried broker calls",
		},
	)
)

// SetStrategyState records a strategy's lifecycle state as an integer gauge.
func SetStrategyState(strategyID string, state int) {
	mu.Lock()
	defer mu.Unlock()
	StrategyState.WithLabelValues(strategyID).Set(float64(state))
}

// SetStrategyPnL records a strategy's total PnL.
func SetStrategyPnL(strategyID string, pnl float64) {
	mu.Lock()
	defer mu.Unlock()
	StrategyPnLTotal.WithLabelValues(strategyID).Set(pnl)
}

// SetPosition records a strategy/symbol's current quantity.
func SetPosition(strategyID, symbol string, qty float64) {
	mu.Lock()
	defer mu.Unlock()
	PositionQuantity.WithLabelValues(strategyID, symbol).Set(qty)
}

// ClearPosition removes a strategy/symbol gauge once the position is flat
// and reporting on it is no longer useful.
func ClearPosition(strategyID, symbol string) {
	mu.Lock()
	defer mu.Unlock()
	PositionQuantity.DeleteLabelValues(strategyID, symbol)
}

// SetEquity records the current portfolio equity and derived drawdown.
func SetEquity(equity, peak float64) {
	PortfolioEquity.Set(equity)
	if peak > 0 {
		PortfolioDrawdown.Set((peak - equity) / peak)
	}
}

// Init registers the standard Go process collectors alongside the engine's
// own metrics.
func Init() {
	Registry.MustRegister(prometheus.NewGoCollector())
	Registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
}
