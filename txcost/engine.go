package txcost

import (
	"math"
	"sync"

	"quantengine/signal"
	"quantengine/stats"
)

// Breakdown is the per-execution cost breakdown.
type Breakdown struct {
	ExplicitFee    float64 // dollars
	SpreadPrice    float64 // price units, per contract
	ImpactPrice    float64 // price units, per contract
	ImplicitCost   float64 // dollars: (SpreadPrice+ImpactPrice)*|qty|*pointValue
	TotalCost      float64 // dollars: ExplicitFee + ImplicitCost
	Participation  float64
	VolMultiplier  float64
}

// symbolState tracks the rolling windows an Engine needs per symbol: price
// history for log returns (vol regime) and volume history for ADV.
type symbolState struct {
	logReturns *signal.PriceHistory
	volume     *signal.PriceHistory
	lastClose  float64
	haveClose  bool
}

// Engine computes per-execution transaction costs against rolling
// per-symbol market state. Safe for concurrent use by
// independent portfolio managers, each normally owning its own Engine;
// the mutex only guards the shared rolling-window maps within one Engine.
type Engine struct {
	mu       sync.Mutex
	states   map[string]*symbolState
	configs  map[string]AssetCostConfig
	volCfg   VolRegimeConfig
	buckets  []ImpactBucket
}

// NewEngine constructs a cost engine with the given per-symbol overrides
// (may be nil) and package defaults.
func NewEngine(configs map[string]AssetCostConfig) *Engine {
	if configs == nil {
		configs = map[string]AssetCostConfig{}
	}
	return &Engine{
		states:  make(map[string]*symbolState),
		configs: configs,
		volCfg:  DefaultVolRegimeConfig,
		buckets: DefaultImpactBuckets,
	}
}

func (e *Engine) stateFor(symbol string) *symbolState {
	st, ok := e.states[symbol]
	if !ok {
		st = &symbolState{
			logReturns: signal.NewPriceHistory(e.volCfg.Lookback),
			volume:     signal.NewPriceHistory(20), // ADV is a rolling 20-day mean
		}
		e.states[symbol] = st
	}
	return st
}

// Observe feeds one bar's close/volume into the symbol's rolling windows.
// Must be called once per bar, in timestamp order, before pricing any
// execution against that bar.
func (e *Engine) Observe(symbol string, close, volume float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.stateFor(symbol)
	if st.haveClose && st.lastClose > 0 && close > 0 {
		st.logReturns.Push(math.Log(close / st.lastClose))
	}
	st.lastClose = close
	st.haveClose = true
	st.volume.Push(volume)
}

func (e *Engine) configFor(symbol string) AssetCostConfig {
	if c, ok := e.configs[symbol]; ok {
		return c
	}
	return DefaultAssetCostConfig
}

// volMultiplier computes the spread-widening factor from the rolling
// log-return stdev.
func volMultiplier(sigma float64, cfg VolRegimeConfig) float64 {
	z := (sigma - cfg.Sigma0) / cfg.SigmaSig
	z = clamp(z, -2, 2)
	mult := 1 + cfg.Lambda*z
	return clamp(mult, 0.8, 1.5)
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// Price computes the full cost breakdown for trading qtyAbs contracts of
// symbol at refPrice, given the instrument's tickSize and pointValue.
// qtyAbs must be the absolute trade quantity; callers pass |qty|.
func (e *Engine) Price(symbol string, qtyAbs, refPrice, tickSize, pointValue float64) Breakdown {
	e.mu.Lock()
	st := e.stateFor(symbol)
	sigma := stats.StdDev(st.logReturns.Slice())
	adv := meanOrZero(st.volume.Slice())
	e.mu.Unlock()

	cfg := e.configFor(symbol)

	volMult := volMultiplier(sigma, e.volCfg)
	spreadTicks := clamp(cfg.BaselineSpreadTicks*volMult, cfg.MinSpreadTicks, cfg.MaxSpreadTicks)
	spreadPrice := 0.5 * spreadTicks * tickSize

	advFloor := cfg.ADVFloor
	if advFloor <= 0 {
		advFloor = DefaultAssetCostConfig.ADVFloor
	}
	participation := clamp(qtyAbs/math.Max(adv, advFloor), 0, 0.10)
	kBps := KBpsFor(adv, e.buckets)
	impactBps := kBps * math.Sqrt(participation)
	maxImpactBps := cfg.MaxImpactBps
	if maxImpactBps <= 0 {
		maxImpactBps = DefaultAssetCostConfig.MaxImpactBps
	}
	impactBps = math.Min(impactBps, maxImpactBps)
	impactPrice := (impactBps / 10000.0) * refPrice

	implicit := (spreadPrice + impactPrice) * qtyAbs * pointValue
	explicit := qtyAbs * cfg.FeePerContract

	return Breakdown{
		ExplicitFee:   explicit,
		SpreadPrice:   spreadPrice,
		ImpactPrice:   impactPrice,
		ImplicitCost:  implicit,
		TotalCost:     explicit + implicit,
		Participation: participation,
		VolMultiplier: volMult,
	}
}

func meanOrZero(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return stats.Mean(xs)
}
