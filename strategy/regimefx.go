package strategy

import (
	"math"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"quantengine/signal"
	"quantengine/stats"
	"quantengine/types"
)

// Regime is the FX dispersion regime classification.
type Regime int

const (
	RegimeUndefined Regime = iota
	RegimeMomentum
	RegimeMeanReversion
)

func (r Regime) String() string {
	switch r {
	case RegimeMomentum:
		return "Momentum"
	case RegimeMeanReversion:
		return "MeanReversion"
	default:
		return "Undefined"
	}
}

// RegimeFXConfig configures the regime-switching FX strategy.
type RegimeFXConfig struct {
	Symbols             []string
	DailyVolWindow      int // 30-day rolling stdev of daily log returns
	DispersionLookback  int // zscore_lookback, default 252
	LowThreshold        float64
	HighThreshold       float64
	PerformanceLookback int // default 5
	TopK                int // K_long = K_short
	DailyTarget         float64
	StopLossPct         float64
}

// DefaultRegimeFXConfig returns the strategy's stated defaults.
func DefaultRegimeFXConfig(symbols []string) RegimeFXConfig {
	return RegimeFXConfig{
		Symbols:             symbols,
		DailyVolWindow:      30,
		DispersionLookback:  252,
		LowThreshold:        -0.5,
		HighThreshold:       0.5,
		PerformanceLookback: 5,
		TopK:                2,
		DailyTarget:         0.01,
		StopLossPct:         0.05,
	}
}

type fxSymbolState struct {
	closeHist  *signal.PriceHistory // trailing daily log returns, for daily vol + performance lookback
	lastClose  float64
	haveClose  bool
	dailyVol   float64
	entryPrice float64
	qty        float64
}

// RegimeFX is the cross-sectional dispersion regime-switching FX strategy.
type RegimeFX struct {
	*Base

	mu            sync.Mutex
	cfg           RegimeFXConfig
	capital       float64
	symbols       map[string]*fxSymbolState
	dispersion    *signal.PriceHistory
	currentRegime Regime
}

// NewRegimeFX constructs a regime-switching FX strategy instance.
func NewRegimeFX(id string, cfg RegimeFXConfig, initialCapital float64) *RegimeFX {
	return &RegimeFX{
		Base:       NewBase(id, types.MarkToMarket),
		cfg:        cfg,
		capital:    initialCapital,
		symbols:    make(map[string]*fxSymbolState),
		dispersion: signal.NewPriceHistory(cfg.DispersionLookback),
	}
}

func (r *RegimeFX) stateFor(symbol string) *fxSymbolState {
	st, ok := r.symbols[symbol]
	if !ok {
		lookback := r.cfg.DailyVolWindow
		if r.cfg.PerformanceLookback+1 > lookback {
			lookback = r.cfg.PerformanceLookback + 1
		}
		st = &fxSymbolState{closeHist: signal.NewPriceHistory(lookback + 1)}
		r.symbols[symbol] = st
	}
	return st
}

// OnData ingests one cross-sectional bar batch (all configured FX symbols
// at one timestamp) and re-evaluates the regime and target book.
func (r *RegimeFX) OnData(bars []types.Bar) error {
	if err := r.RequireRunning(); err != nil {
		return err
	}
	sorted := make([]types.Bar, len(bars))
	copy(sorted, bars)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].Timestamp.Before(sorted[j].Timestamp)
		}
		return sorted[i].Symbol < sorted[j].Symbol
	})

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, bar := range sorted {
		if err := r.ValidateBar(bar); err != nil {
			return err
		}
		r.RecordBarTimestamp(bar.Symbol, bar.Timestamp)
		r.ingest(bar)
	}
	r.rebalance()
	return nil
}

func (r *RegimeFX) ingest(bar types.Bar) {
	st := r.stateFor(bar.Symbol)
	price, _ := bar.Close.Float64()
	if st.haveClose && st.lastClose > 0 && price > 0 {
		logRet := math.Log(price / st.lastClose)
		st.closeHist.Push(logRet)
	}
	st.lastClose = price
	st.haveClose = true

	// Daily sigma over the trailing DailyVolWindow log returns.
	window := st.closeHist.Slice()
	n := len(window)
	if n > r.cfg.DailyVolWindow {
		window = window[n-r.cfg.DailyVolWindow:]
	}
	st.dailyVol = stats.StdDev(window)
}

// rebalance computes cross-sectional dispersion, its z-score, the regime,
// ranks symbols by N-day return, and rebuilds the target book.
func (r *RegimeFX) rebalance() {
	type perf struct {
		symbol string
		ret    float64
	}
	var sigmas []float64
	var perfs []perf

	for _, sym := range r.cfg.Symbols {
		st, ok := r.symbols[sym]
		if !ok {
			continue
		}
		if st.dailyVol > 0 {
			sigmas = append(sigmas, st.dailyVol)
		}
		logs := st.closeHist.Slice()
		if len(logs) >= r.cfg.PerformanceLookback {
			tail := logs[len(logs)-r.cfg.PerformanceLookback:]
			var sum float64
			for _, lr := range tail {
				sum += lr
			}
			perfs = append(perfs, perf{symbol: sym, ret: sum})
		}
	}

	if len(sigmas) < 2 {
		return
	}
	dispersion := stats.StdDev(sigmas)
	r.dispersion.Push(dispersion)

	window := r.dispersion.Slice()
	mean := stats.Mean(window)
	sd := stats.StdDev(window)
	z := 0.0
	if sd > 0 {
		z = (dispersion - mean) / sd
	}

	var regime Regime
	switch {
	case z < r.cfg.LowThreshold:
		regime = RegimeMomentum
	case z > r.cfg.HighThreshold:
		regime = RegimeMeanReversion
	default:
		regime = RegimeUndefined
	}
	r.currentRegime = regime

	longs := map[string]bool{}
	shorts := map[string]bool{}
	if regime != RegimeUndefined && len(perfs) > 0 {
		sort.Slice(perfs, func(i, j int) bool { return perfs[i].ret > perfs[j].ret })
		k := min(r.cfg.TopK, len(perfs))
		top := perfs[:k]
		bottom := perfs[len(perfs)-k:]

		switch regime {
		case RegimeMomentum:
			for _, p := range top {
				longs[p.symbol] = true
			}
			for _, p := range bottom {
				shorts[p.symbol] = true
			}
		case RegimeMeanReversion:
			for _, p := range top {
				shorts[p.symbol] = true
			}
			for _, p := range bottom {
				longs[p.symbol] = true
			}
		}
	}

	picked := len(longs) + len(shorts)
	for sym, st := range r.symbols {
		target := 0.0
		if picked > 0 {
			volScale := clamp(r.cfg.DailyTarget/max(st.dailyVol, 1e-6), 0.5, 2.0)
			notional := (r.capital / float64(picked)) * volScale
			qty := math.Round(notional / max(st.lastClose, 1e-9))
			switch {
			case longs[sym]:
				target = qty
			case shorts[sym]:
				target = -qty
			}
		}

		// Stop-loss: flatten a position that has moved against entry by
		// more than StopLossPct.
		if st.qty != 0 && st.entryPrice > 0 {
			ret := (st.lastClose - st.entryPrice) / st.entryPrice
			if st.qty < 0 {
				ret = -ret
			}
			if ret < -r.cfg.StopLossPct {
				target = 0
			}
		}

		if target != 0 && st.qty == 0 {
			st.entryPrice = st.lastClose
		}
		if target == 0 {
			st.entryPrice = 0
		}
		st.qty = target

		sigVal := 0.0
		switch {
		case target > 0:
			sigVal = 1
		case target < 0:
			sigVal = -1
		}
		r.Base.SetLastSignal(sym, sigVal)
	}
}

// Regime returns the most recently computed dispersion regime.
func (r *RegimeFX) Regime() Regime {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentRegime
}

// TargetPositions returns the current ideal position per symbol.
func (r *RegimeFX) TargetPositions() map[string]decimal.Decimal {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]decimal.Decimal, len(r.symbols))
	for sym, st := range r.symbols {
		out[sym] = decimal.NewFromFloat(st.qty)
	}
	return out
}

// Introspect implements the capability-set reporting abstraction.
func (r *RegimeFX) Introspect() map[string]types.Introspection {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]types.Introspection, len(r.symbols))
	for sym, st := range r.symbols {
		out[sym] = types.Introspection{Volatility: st.dailyVol}
	}
	return out
}
