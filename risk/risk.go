// Package risk implements the portfolio-level risk engine: leverage,
// drawdown, correlation, and per-symbol position caps.
package risk

import (
	"math"

	"quantengine/engineerr"
)

// Config parameterizes the risk engine's limits.
type Config struct {
	MaxPositionSize  map[string]float64 // per-symbol absolute contract cap
	MaxGrossLeverage float64
	MaxNetLeverage   float64
	MaxDrawdown      float64
	MaxCorrelation   float64 // diagnostic-only
}

// SymbolInput is the per-symbol data the clamp needs.
type SymbolInput struct {
	Symbol     string
	Proposed   float64 // proposed quantity, pre-clamp
	Price      float64
	Multiplier float64
}

// Result is the clamp's output for one cycle.
type Result struct {
	Clamped   map[string]float64
	Flattened bool // true if a drawdown breach forced a full flatten
	Warnings  []string
}

// Clamp applies pro-rata leverage scaling followed by per-symbol caps,
// and flattens everything if drawdown exceeds the limit.
//
// capital must be the current portfolio equity (> 0); peakEquity is the
// running equity high-water mark used for the drawdown check.
func Clamp(inputs []SymbolInput, cfg Config, capital, peakEquity float64, correlations map[[2]string]float64) (Result, error) {
	if capital <= 0 {
		return Result{}, engineerr.New(engineerr.InvalidArgument, "risk.Engine", "capital must be > 0")
	}

	if peakEquity > 0 {
		drawdown := (peakEquity - capital) / peakEquity
		if drawdown > cfg.MaxDrawdown {
			flat := make(map[string]float64, len(inputs))
			for _, in := range inputs {
				flat[in.Symbol] = 0
			}
			return Result{Clamped: flat, Flattened: true,
				Warnings: []string{"max drawdown exceeded: flattening all positions"}}, nil
		}
	}

	// Pro-rata gross-leverage scale: find the single factor that brings
	// total notional back under the limit, applied uniformly.
	var grossNotional float64
	for _, in := range inputs {
		grossNotional += math.Abs(in.Proposed * in.Price * in.Multiplier)
	}
	scale := 1.0
	if capital > 0 && cfg.MaxGrossLeverage > 0 {
		grossLev := grossNotional / capital
		if grossLev > cfg.MaxGrossLeverage {
			scale = cfg.MaxGrossLeverage / grossLev
		}
	}

	clamped := make(map[string]float64, len(inputs))
	for _, in := range inputs {
		v := in.Proposed * scale
		if cap, ok := cfg.MaxPositionSize[in.Symbol]; ok {
			if v > cap {
				v = cap
			}
			if v < -cap {
				v = -cap
			}
		}
		clamped[in.Symbol] = v
	}

	// Net leverage check applied after gross scaling + per-symbol caps;
	// if still breached, scale again uniformly (net is a weaker constraint
	// in practice but enforced independently).
	var netNotional float64
	for _, in := range inputs {
		netNotional += clamped[in.Symbol] * in.Price * in.Multiplier
	}
	if capital > 0 && cfg.MaxNetLeverage > 0 {
		netLev := math.Abs(netNotional) / capital
		if netLev > cfg.MaxNetLeverage {
			netScale := cfg.MaxNetLeverage / netLev
			for sym := range clamped {
				clamped[sym] *= netScale
			}
		}
	}

	var warnings []string
	for pair, corr := range correlations {
		if math.Abs(corr) > cfg.MaxCorrelation {
			warnings = append(warnings, "pairwise correlation exceeds limit: "+pair[0]+"/"+pair[1])
		}
	}

	return Result{Clamped: clamped, Warnings: warnings}, nil
}
