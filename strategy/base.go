// Package strategy implements the strategy lifecycle state machine and
// the three concrete strategies built on top of it: trend following,
// mean reversion, and regime-switching FX.
package strategy

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"quantengine/engineerr"
	"quantengine/metrics"
	"quantengine/types"
)

// Strategy is the capability set the portfolio manager drives: bar
// ingestion, target-position reporting, and the read-only lifecycle/
// introspection accessors every concrete strategy shares via Base.
type Strategy interface {
	ID() string
	State() types.StrategyState
	Init() error
	Start() error
	Pause() error
	Stop() error
	OnData(bars []types.Bar) error
	TargetPositions() map[string]decimal.Decimal
	Introspect() map[string]types.Introspection
	Positions() map[string]types.Position
	UpdatePosition(exec types.ExecutionReport)
	MarkToMarket(closePrices map[string]decimal.Decimal)
}

// RiskLimits bounds a strategy's own position sizing, independent of the
// portfolio-level risk engine layered on top.
type RiskLimits struct {
	MaxPositionPerSymbol map[string]decimal.Decimal
	MaxGrossNotional     decimal.Decimal
}

// Metrics is the small per-strategy metrics bundle.
type Metrics struct {
	TotalPnL   decimal.Decimal
	Volatility float64
	WinRate    float64
}

// Base implements the state machine, position bookkeeping, and bar
// validation common to every concrete strategy.
//
// Concurrency: a strategy's own state is mutated exclusively from within
// OnData/UpdatePosition. The mutex here guards only external readers
// (reporting via Positions()/Introspect()) against a concurrently running
// OnData — it is not used to make OnData itself safe to call concurrently
// from two goroutines, which is explicitly disallowed (strategies are
// non-clonable, single-owner).
type Base struct {
	mu sync.RWMutex

	id               string
	state            types.StrategyState
	accounting       types.PnLAccountingMethod
	positions        map[string]*types.Position
	lastSignal       map[string]float64
	risk             RiskLimits
	metrics          Metrics
	lastBarTimestamp map[string]time.Time
}

// NewBase constructs a strategy in the Created state.
func NewBase(id string, accounting types.PnLAccountingMethod) *Base {
	return &Base{
		id:               id,
		state:            types.StateCreated,
		accounting:       accounting,
		positions:        make(map[string]*types.Position),
		lastSignal:       make(map[string]float64),
		lastBarTimestamp: make(map[string]time.Time),
	}
}

// ID returns the strategy identifier.
func (b *Base) ID() string { return b.id }

// State returns the current lifecycle state.
func (b *Base) State() types.StrategyState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// legalTransitions encodes the state machine diagram.
var legalTransitions = map[types.StrategyState]map[types.StrategyState]bool{
	types.StateCreated:     {types.StateInitialized: true, types.StateError: true},
	types.StateInitialized: {types.StateRunning: true, types.StateError: true},
	types.StateRunning:     {types.StatePaused: true, types.StateStopped: true, types.StateError: true},
	types.StatePaused:      {types.StateRunning: true, types.StateStopped: true, types.StateError: true},
	types.StateStopped:     {types.StateError: true},
	types.StateError:       {},
}

// transition applies a state-machine edge, failing with
// InvalidStateTransition (state left unchanged) on an illegal edge.
func (b *Base) transition(to types.StrategyState) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if to == types.StateError {
		b.state = types.StateError
		metrics.SetStrategyState(b.id, int(types.StateError))
		return nil
	}
	allowed := legalTransitions[b.state]
	if !allowed[to] {
		return engineerr.New(engineerr.InvalidStateTransition, "strategy."+b.id,
			"illegal transition "+b.state.String()+" -> "+to.String())
	}
	b.state = to
	metrics.SetStrategyState(b.id, int(to))
	return nil
}

// Init transitions Created -> Initialized.
func (b *Base) Init() error { return b.transition(types.StateInitialized) }

// Start transitions Initialized/Paused -> Running.
func (b *Base) Start() error { return b.transition(types.StateRunning) }

// Pause transitions Running -> Paused.
func (b *Base) Pause() error { return b.transition(types.StatePaused) }

// Stop transitions Running/Paused -> Stopped. There is no mid-bar
// cancellation: callers must not invoke Stop concurrently with an
// in-flight OnData on the same strategy; the single-owner model means
// OnData always runs to completion before the next call (Stop included)
// is observed.
func (b *Base) Stop() error { return b.transition(types.StateStopped) }

// Fail forces the Error state from any state.
func (b *Base) Fail() { _ = b.transition(types.StateError) }

// requireRunning returns StrategyNotRunning unless the strategy is
// currently Running.
func (b *Base) requireRunning() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.state != types.StateRunning {
		return engineerr.New(engineerr.InvalidStateTransition, "strategy."+b.id, "StrategyNotRunning")
	}
	return nil
}

// ValidateBar checks the per-bar invariants before any mutation.
// Timestamp monotonicity is checked per-symbol against the
// strategy's own last-seen timestamp for that symbol.
func (b *Base) ValidateBar(bar types.Bar) error {
	if bar.Symbol == "" {
		return engineerr.New(engineerr.InvalidData, "strategy."+b.id, "empty symbol")
	}
	if bar.Timestamp.IsZero() {
		return engineerr.New(engineerr.InvalidData, "strategy."+b.id, "zero timestamp")
	}
	if bar.Open.IsNegative() || bar.Open.IsZero() ||
		bar.High.IsNegative() || bar.High.IsZero() ||
		bar.Low.IsNegative() || bar.Low.IsZero() ||
		bar.Close.IsNegative() || bar.Close.IsZero() {
		return engineerr.New(engineerr.InvalidData, "strategy."+b.id, "OHLC must be > 0")
	}
	maxOC := decimal.Max(bar.Open, bar.Close)
	minOC := decimal.Min(bar.Open, bar.Close)
	if bar.High.LessThan(maxOC) {
		return engineerr.New(engineerr.InvalidData, "strategy."+b.id, "high < max(open,close)")
	}
	if bar.Low.GreaterThan(minOC) {
		return engineerr.New(engineerr.InvalidData, "strategy."+b.id, "low > min(open,close)")
	}
	if bar.Volume.IsNegative() {
		return engineerr.New(engineerr.InvalidData, "strategy."+b.id, "negative volume")
	}

	b.mu.RLock()
	last, seen := b.lastBarTimestamp[bar.Symbol]
	b.mu.RUnlock()
	if seen && !bar.Timestamp.After(last) {
		return engineerr.New(engineerr.InvalidData, "strategy."+b.id, "timestamp not strictly increasing for "+bar.Symbol)
	}
	return nil
}

// recordBarTimestamp must be called only after ValidateBar succeeded and
// the bar has been applied.
func (b *Base) recordBarTimestamp(symbol string, ts time.Time) {
	b.mu.Lock()
	b.lastBarTimestamp[symbol] = ts
	b.mu.Unlock()
}

// UpdatePosition applies one fill to the strategy's position book,
// enforcing the close/flip invariants and the realized-PnL law: on close,
// realized PnL is frozen and unrealized becomes 0; on a direction flip,
// the remaining quantity's average price resets to the fill price;
// crossing zero always passes through zero in a single execution.
func (b *Base) UpdatePosition(exec types.ExecutionReport) {
	b.mu.Lock()
	defer b.mu.Unlock()

	signedFill := exec.FilledQty
	if exec.Side == types.SideSell {
		signedFill = exec.FilledQty.Neg()
	}

	pos, ok := b.positions[exec.Symbol]
	if !ok {
		pos = &types.Position{Symbol: exec.Symbol}
		b.positions[exec.Symbol] = pos
	}

	prevQty := pos.Quantity
	prevAvg := pos.AveragePrice
	newQty := prevQty.Add(signedFill)

	switch {
	case prevQty.IsZero():
		// Opening from flat.
		pos.AveragePrice = exec.FillPrice
	case sameSign(prevQty, newQty) || newQty.IsZero():
		if sameSign(prevQty, signedFill) {
			// Adding to an existing position: weighted-average entry price.
			prevAbs := prevQty.Abs()
			addAbs := signedFill.Abs()
			totalAbs := prevAbs.Add(addAbs)
			if !totalAbs.IsZero() {
				pos.AveragePrice = prevAvg.Mul(prevAbs).Add(exec.FillPrice.Mul(addAbs)).Div(totalAbs)
			}
		} else {
			// Reducing (or closing) toward flat: realize PnL on the closed
			// portion, average price unchanged on any remaining portion.
			closedQty := decimal.Min(prevQty.Abs(), signedFill.Abs())
			realized := realizedPnL(prevQty, prevAvg, exec.FillPrice, closedQty)
			pos.RealizedPnL = pos.RealizedPnL.Add(realized).Sub(exec.Commission)
			if newQty.IsZero() {
				pos.UnrealizedPnL = decimal.Zero
			}
		}
	default:
		// Direction flip: the closed portion (all of prevQty) realizes PnL;
		// the remaining quantity carries AveragePrice = fill price.
		realized := realizedPnL(prevQty, prevAvg, exec.FillPrice, prevQty.Abs())
		pos.RealizedPnL = pos.RealizedPnL.Add(realized).Sub(exec.Commission)
		pos.AveragePrice = exec.FillPrice
	}

	pos.Quantity = newQty
	pos.LastUpdate = exec.FillTime
}

func sameSign(a, b decimal.Decimal) bool {
	if a.IsZero() || b.IsZero() {
		return true
	}
	return a.IsPositive() == b.IsPositive()
}

// realizedPnL computes the PnL realized on closedQty units of a position
// that was prevQty @ prevAvg, closed at fillPrice. No contract multiplier
// is applied, here or in UpdatePosition: Position PnL stays in price units
// times contracts (the backtest keeps its own multiplier-scaled trade
// ledger). This helper
// returns the price-unit PnL only: (fill_price - avg_price) * closed_qty
// with sign following the position's direction.
func realizedPnL(prevQty, prevAvg, fillPrice, closedQtyAbs decimal.Decimal) decimal.Decimal {
	diff := fillPrice.Sub(prevAvg)
	signed := closedQtyAbs
	if prevQty.IsNegative() {
		signed = closedQtyAbs.Neg()
	}
	return diff.Mul(signed)
}

// MarkToMarket updates UnrealizedPnL for every open position against the
// supplied close-price map (symbol -> price). Strategies using
// RealizedOnly accounting skip this (cash-equity convention).
func (b *Base) MarkToMarket(closePrices map[string]decimal.Decimal) {
	if b.accounting == types.RealizedOnly {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	var totalPnL decimal.Decimal
	for symbol, pos := range b.positions {
		if pos.IsFlat() {
			metrics.ClearPosition(b.id, symbol)
			continue
		}
		if price, ok := closePrices[symbol]; ok {
			pos.UnrealizedPnL = price.Sub(pos.AveragePrice).Mul(pos.Quantity)
		}
		qty, _ := pos.Quantity.Float64()
		metrics.SetPosition(b.id, symbol, qty)
		totalPnL = totalPnL.Add(pos.RealizedPnL).Add(pos.UnrealizedPnL)
	}
	pnl, _ := totalPnL.Float64()
	metrics.SetStrategyPnL(b.id, pnl)
}

// Positions returns a snapshot copy of all known positions: the caller
// never receives a mutable alias into the strategy's internal map.
func (b *Base) Positions() map[string]types.Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]types.Position, len(b.positions))
	for sym, p := range b.positions {
		out[sym] = *p
	}
	return out
}

// SetLastSignal records the most recent scalar signal for a symbol.
func (b *Base) SetLastSignal(symbol string, value float64) {
	b.mu.Lock()
	b.lastSignal[symbol] = value
	b.mu.Unlock()
}

// LastSignal returns the most recent scalar signal for a symbol.
func (b *Base) LastSignal(symbol string) (float64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.lastSignal[symbol]
	return v, ok
}

// UpdateRiskLimits tightens (or keeps the same) the strategy's own risk
// limits. Tightening to a limit already violated by current positions
// fails with RiskLimitExceeded and leaves limits unchanged.
func (b *Base) UpdateRiskLimits(newLimits RiskLimits) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for symbol, newMax := range newLimits.MaxPositionPerSymbol {
		if oldMax, ok := b.risk.MaxPositionPerSymbol[symbol]; ok && newMax.GreaterThan(oldMax) {
			return engineerr.New(engineerr.InvalidArgument, "strategy."+b.id, "risk limits must only tighten or stay the same for "+symbol)
		}
		if pos, ok := b.positions[symbol]; ok && pos.Quantity.Abs().GreaterThan(newMax) {
			return engineerr.New(engineerr.RiskLimitExceeded, "strategy."+b.id, "new limit violated by current position in "+symbol)
		}
	}
	if !newLimits.MaxGrossNotional.IsZero() && !b.risk.MaxGrossNotional.IsZero() &&
		newLimits.MaxGrossNotional.GreaterThan(b.risk.MaxGrossNotional) {
		return engineerr.New(engineerr.InvalidArgument, "strategy."+b.id, "gross notional limit must only tighten or stay the same")
	}
	b.risk = newLimits
	return nil
}

// Metrics returns a copy of the strategy's summary metrics.
func (b *Base) Metrics() Metrics {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.metrics
}

// SetMetrics updates the summary metrics (called by the owning strategy
// after each bar batch).
func (b *Base) SetMetrics(m Metrics) {
	b.mu.Lock()
	b.metrics = m
	b.mu.Unlock()
}

// RequireRunning exposes the Running-state guard to embedding strategies.
func (b *Base) RequireRunning() error { return b.requireRunning() }

// RecordBarTimestamp exposes timestamp bookkeeping to embedding strategies.
func (b *Base) RecordBarTimestamp(symbol string, ts time.Time) { b.recordBarTimestamp(symbol, ts) }
