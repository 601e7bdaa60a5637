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

// MeanReversionConfig configures the z-score mean reversion strategy.
type MeanReversionConfig struct {
	Window          int
	EntryThreshold  float64
	ExitThreshold   float64
	StopLossEnabled bool
	StopLossPct     float64
	PositionSize    float64 // fraction of capital
	RiskTarget      float64
}

// DefaultMeanReversionConfig returns the canonical scenario parameters
// (window 20, entry 2.0).
func DefaultMeanReversionConfig() MeanReversionConfig {
	return MeanReversionConfig{
		Window:          20,
		EntryThreshold:  2.0,
		ExitThreshold:   0.5,
		StopLossEnabled: true,
		StopLossPct:     0.05,
		PositionSize:    0.1,
		RiskTarget:      0.20,
	}
}

type mrPosState int

const (
	mrFlat mrPosState = iota
	mrLong
	mrShort
)

type mrSymbolState struct {
	hist       *signal.PriceHistory
	posState   mrPosState
	entryPrice float64
	qty        float64
	lastZ      float64
}

// MeanReversion is the per-symbol z-score mean-reversion strategy.
type MeanReversion struct {
	*Base

	mu      sync.Mutex
	cfg     MeanReversionConfig
	capital float64
	symbols map[string]*mrSymbolState
}

// NewMeanReversion constructs a mean-reversion strategy instance.
func NewMeanReversion(id string, cfg MeanReversionConfig, initialCapital float64) *MeanReversion {
	return &MeanReversion{
		Base:    NewBase(id, types.RealizedOnly),
		cfg:     cfg,
		capital: initialCapital,
		symbols: make(map[string]*mrSymbolState),
	}
}

func (m *MeanReversion) stateFor(symbol string) *mrSymbolState {
	st, ok := m.symbols[symbol]
	if !ok {
		st = &mrSymbolState{hist: signal.NewPriceHistory(m.cfg.Window)}
		m.symbols[symbol] = st
	}
	return st
}

// OnData ingests a bar batch and updates each symbol's position:
// entry/exit on z-score thresholds, optional stop-loss, sizing by
// clamp(risk_target/max(vol,0.01), 0.25, 2.0).
func (m *MeanReversion) OnData(bars []types.Bar) error {
	if err := m.RequireRunning(); err != nil {
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

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, bar := range sorted {
		if err := m.ValidateBar(bar); err != nil {
			return err
		}
		m.applyBar(bar)
		m.RecordBarTimestamp(bar.Symbol, bar.Timestamp)
	}
	return nil
}

func (m *MeanReversion) applyBar(bar types.Bar) {
	st := m.stateFor(bar.Symbol)
	price, _ := bar.Close.Float64()
	st.hist.Push(price)

	if st.hist.Len() < m.cfg.Window {
		return
	}
	window := st.hist.Slice()
	mean := stats.Mean(window)
	vol := stats.StdDev(window)
	if vol == 0 {
		return
	}
	z := (price - mean) / vol
	st.lastZ = z

	// Stop-loss check takes priority over the regular exit rule.
	if m.cfg.StopLossEnabled && st.posState != mrFlat && st.entryPrice > 0 {
		ret := (price - st.entryPrice) / st.entryPrice
		if st.posState == mrShort {
			ret = -ret
		}
		if ret < -m.cfg.StopLossPct {
			st.posState = mrFlat
			st.qty = 0
			m.Base.SetLastSignal(bar.Symbol, 0)
			return
		}
	}

	switch st.posState {
	case mrFlat:
		switch {
		case z > m.cfg.EntryThreshold:
			st.posState = mrShort
			st.entryPrice = price
			st.qty = -m.sizePosition(vol, price)
		case z < -m.cfg.EntryThreshold:
			st.posState = mrLong
			st.entryPrice = price
			st.qty = m.sizePosition(vol, price)
		}
	case mrLong:
		if z > -m.cfg.ExitThreshold {
			st.posState = mrFlat
			st.qty = 0
		}
	case mrShort:
		if z < m.cfg.ExitThreshold {
			st.posState = mrFlat
			st.qty = 0
		}
	}

	signalValue := 0.0
	switch st.posState {
	case mrLong:
		signalValue = 1
	case mrShort:
		signalValue = -1
	}
	m.Base.SetLastSignal(bar.Symbol, signalValue)
}

// sizePosition computes the target share count:
// floor(capital * position_size * clamp(risk_target/max(vol,0.01), 0.25, 2.0) / price).
func (m *MeanReversion) sizePosition(vol, price float64) float64 {
	scale := clamp(m.cfg.RiskTarget/math.Max(vol, 0.01), 0.25, 2.0)
	raw := m.capital * m.cfg.PositionSize * scale / price
	return math.Floor(raw)
}

// TargetPositions returns the current ideal position per symbol.
func (m *MeanReversion) TargetPositions() map[string]decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]decimal.Decimal, len(m.symbols))
	for sym, st := range m.symbols {
		out[sym] = decimal.NewFromFloat(st.qty)
	}
	return out
}

// Introspect implements the capability-set reporting abstraction.
func (m *MeanReversion) Introspect() map[string]types.Introspection {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]types.Introspection, len(m.symbols))
	for sym, st := range m.symbols {
		out[sym] = types.Introspection{Forecast: st.lastZ}
	}
	return out
}
