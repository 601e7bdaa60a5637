package strategy

import (
	"math"
	"sort"
	"strconv"
	"sync"

	"github.com/shopspring/decimal"

	"quantengine/engineerr"
	"quantengine/instrument"
	"quantengine/signal"
	"quantengine/types"
)

// EMAWindow is one (short, long) EMAC span pair.
type EMAWindow struct {
	Short int
	Long  int
}

// DefaultEMAWindows is the canonical six-pair ensemble.
var DefaultEMAWindows = []EMAWindow{
	{2, 8}, {4, 16}, {8, 32}, {16, 64}, {32, 128}, {64, 256},
}

// TrendConfig configures a TrendFollowing strategy instance.
type TrendConfig struct {
	EMAWindows       []EMAWindow
	VolLookbackShort int
	VolLookbackLong  int
	RiskTarget       float64
	IDM              float64
	Weight           float64
	FDM              signal.FDMTable
	BufferFraction   float64
	FX               float64
}

// DefaultTrendConfig returns the strategy's stated defaults.
func DefaultTrendConfig() TrendConfig {
	return TrendConfig{
		EMAWindows:       DefaultEMAWindows,
		VolLookbackShort: 32,
		VolLookbackLong:  252,
		RiskTarget:       0.20,
		IDM:              2.5,
		Weight:           1.0,
		FDM:              signal.DefaultFDMTable,
		BufferFraction:   0.10,
		FX:               1.0,
	}
}

type pairState struct {
	short *signal.EMAState
	long  *signal.EMAState
	norm  *signal.Normalizer
}

type trendSymbolState struct {
	hist         *signal.PriceHistory
	pairs        []*pairState
	lastPosition float64
	ready        bool
	forecast     float64
}

// TrendFollowing is the canonical trend-following strategy: a multi-span
// EMAC forecast ensemble combined with blended-volatility sizing and
// buffered position construction.
type TrendFollowing struct {
	*Base

	mu       sync.Mutex
	cfg      TrendConfig
	registry *instrument.Registry
	capital  float64
	symbols  map[string]*trendSymbolState
	longest  int
}

// NewTrendFollowing constructs a trend-following strategy. registry is
// used to look up each traded symbol's multiplier at signal time.
func NewTrendFollowing(id string, cfg TrendConfig, registry *instrument.Registry, initialCapital float64) *TrendFollowing {
	longest := 0
	for _, w := range cfg.EMAWindows {
		if w.Long > longest {
			longest = w.Long
		}
	}
	if cfg.VolLookbackLong > longest {
		longest = cfg.VolLookbackLong
	}
	return &TrendFollowing{
		Base:     NewBase(id, types.MarkToMarket),
		cfg:      cfg,
		registry: registry,
		capital:  initialCapital,
		symbols:  make(map[string]*trendSymbolState),
		longest:  longest,
	}
}

// SetCapital updates the capital figure sizing is based on. Called by the
// owning portfolio manager as equity evolves.
func (t *TrendFollowing) SetCapital(capital float64) {
	t.mu.Lock()
	t.capital = capital
	t.mu.Unlock()
}

func (t *TrendFollowing) stateFor(symbol string) *trendSymbolState {
	st, ok := t.symbols[symbol]
	if !ok {
		pairs := make([]*pairState, len(t.cfg.EMAWindows))
		for i, w := range t.cfg.EMAWindows {
			pairs[i] = &pairState{
				short: signal.NewEMA(w.Short),
				long:  signal.NewEMA(w.Long),
				norm:  signal.NewNormalizer(),
			}
		}
		st = &trendSymbolState{hist: signal.NewPriceHistory(t.longest), pairs: pairs}
		t.symbols[symbol] = st
	}
	return st
}

// OnData ingests one bar batch, updating EMA/vol state for every symbol
// and (once sufficient history exists) recomputing the target position.
// Bars are sorted by timestamp, ties broken by symbol, before being
// applied.
func (t *TrendFollowing) OnData(bars []types.Bar) error {
	if err := t.RequireRunning(); err != nil {
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

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, bar := range sorted {
		if err := t.ValidateBar(bar); err != nil {
			return err
		}
		if err := t.applyBar(bar); err != nil {
			return err
		}
		t.RecordBarTimestamp(bar.Symbol, bar.Timestamp)
	}
	return nil
}

func (t *TrendFollowing) applyBar(bar types.Bar) error {
	st := t.stateFor(bar.Symbol)
	price, _ := bar.Close.Float64()
	st.hist.Push(price)
	for _, p := range st.pairs {
		p.short.Update(price)
		p.long.Update(price)
	}

	if st.hist.Len() < t.longest {
		st.ready = false
		return nil
	}
	st.ready = true

	sigmaP := signal.BlendedVol(st.hist.Slice(), t.cfg.VolLookbackShort, t.cfg.VolLookbackLong)
	if sigmaP <= 0 {
		return nil
	}

	raws := make([]float64, 0, len(st.pairs))
	for _, p := range st.pairs {
		emac := signal.EMAC(p.short, p.long)
		raw, ok := signal.RawForecast(emac, price, sigmaP)
		if ok {
			raws = append(raws, p.norm.Normalize(raw))
		}
	}
	if len(raws) == 0 {
		return nil
	}
	forecast := signal.Combine(raws, t.cfg.FDM)
	st.forecast = forecast

	ins, err := t.registry.Lookup(bar.Symbol)
	if err != nil {
		return err
	}

	notionalTarget := (forecast / 10.0) * t.capital * t.cfg.IDM * t.cfg.Weight * t.cfg.RiskTarget /
		(ins.Multiplier * t.cfg.FX * sigmaP)
	idealQty := notionalTarget / price

	buffer := 0.1 * t.capital * t.cfg.IDM * t.cfg.Weight * t.cfg.RiskTarget /
		(ins.Multiplier * price * t.cfg.FX * sigmaP)

	lo := math.Round(idealQty - buffer)
	hi := math.Round(idealQty + buffer)
	if lo > hi {
		lo, hi = hi, lo
	}
	cur := st.lastPosition
	var newPos float64
	switch {
	case cur >= lo && cur <= hi:
		newPos = cur
	default:
		if math.Abs(lo-cur) <= math.Abs(hi-cur) {
			newPos = lo
		} else {
			newPos = hi
		}
	}
	st.lastPosition = newPos

	t.Base.SetLastSignal(bar.Symbol, clamp(forecast/20.0, -1, 1))
	return nil
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

// TargetPositions returns the current ideal (pre-optimization,
// pre-risk-clamp) position for every symbol that has produced at least
// one signal.
func (t *TrendFollowing) TargetPositions() map[string]decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]decimal.Decimal, len(t.symbols))
	for sym, st := range t.symbols {
		if !st.ready {
			continue
		}
		out[sym] = decimal.NewFromFloat(st.lastPosition)
	}
	return out
}

// Introspect implements the capability-set reporting abstraction in
// place of down-casting to *TrendFollowing.
func (t *TrendFollowing) Introspect() map[string]types.Introspection {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]types.Introspection, len(t.symbols))
	for sym, st := range t.symbols {
		emaValues := make(map[string]float64, len(st.pairs)*2)
		for i, p := range st.pairs {
			emaValues[spanKey(i, "short")] = p.short.Value()
			emaValues[spanKey(i, "long")] = p.long.Value()
		}
		out[sym] = types.Introspection{
			Forecast:   st.forecast,
			Volatility: signal.BlendedVol(st.hist.Slice(), t.cfg.VolLookbackShort, t.cfg.VolLookbackLong),
			EMAValues:  emaValues,
		}
	}
	return out
}

func spanKey(pairIdx int, which string) string {
	return which + "_" + strconv.Itoa(pairIdx)
}

// ErrNoRegistry is the NotInitialized error for a nil instrument registry.
// NewTrendFollowing does not return it.
var ErrNoRegistry = engineerr.New(engineerr.NotInitialized, "strategy.TrendFollowing", "instrument registry is nil")
