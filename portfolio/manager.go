// Package portfolio implements the portfolio manager: it owns an ordered
// set of strategies, aggregates their target positions, optionally runs
// the dynamic optimizer and risk engine, and turns the result into a
// delta order list against the last known book.
package portfolio

import (
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"quantengine/engineerr"
	"quantengine/instrument"
	"quantengine/metrics"
	"quantengine/optimizer"
	"quantengine/risk"
	"quantengine/signal"
	"quantengine/strategy"
	"quantengine/txcost"
	"quantengine/types"
)

// CapitalSetter is implemented by strategies whose position sizing scales
// with an externally managed capital figure (e.g. TrendFollowing).
type CapitalSetter interface {
	SetCapital(capital float64)
}

// Registration is one entry in the portfolio's ordered strategy set.
type Registration struct {
	Strategy        strategy.Strategy
	Weight          float64
	UseOptimization bool
	UseRisk         bool
	Symbols         []string // symbols this strategy is allowed to trade
}

// Config bounds portfolio-level allocation and sizing.
type Config struct {
	TotalCapital       float64
	ReserveFraction    float64
	MinStrategyAlloc   float64
	MaxStrategyAlloc   float64
	OptConfig          optimizer.Config
	RiskConfig         risk.Config
	CovarianceLookback int     // bars of log-return history for EWMA covariance
	CovarianceDecay    float64 // EWMA lambda, in (0,1)
}

// DefaultConfig returns reasonable portfolio-level defaults.
func DefaultConfig() Config {
	return Config{
		ReserveFraction:    0.05,
		MinStrategyAlloc:   0.0,
		MaxStrategyAlloc:   1.0,
		OptConfig:          optimizer.DefaultConfig(),
		CovarianceLookback: 60,
		CovarianceDecay:    0.94,
	}
}

type symbolReturnState struct {
	lastClose float64
	haveClose bool
	returns   *signal.PriceHistory
}

// Manager is the portfolio manager.
type Manager struct {
	mu sync.Mutex

	cfg      Config
	registry *instrument.Registry
	txEngine *txcost.Engine

	registrations []*Registration

	lastPositions map[string]float64 // last known book, by symbol
	returnState   map[string]*symbolReturnState
	peakEquity    float64
	capital       float64
}

// NewManager constructs an empty portfolio manager.
func NewManager(cfg Config, registry *instrument.Registry, txEngine *txcost.Engine) *Manager {
	return &Manager{
		cfg:           cfg,
		registry:      registry,
		txEngine:      txEngine,
		lastPositions: make(map[string]float64),
		returnState:   make(map[string]*symbolReturnState),
		capital:       cfg.TotalCapital,
		peakEquity:    cfg.TotalCapital,
	}
}

func (m *Manager) totalWeight() float64 {
	var sum float64
	for _, r := range m.registrations {
		sum += r.Weight
	}
	return sum
}

// AddStrategy registers a strategy, enforcing the allocation invariant:
// the sum of weights across all registrations must not exceed
// 1 - ReserveFraction. Fails, does not silently clip.
func (m *Manager) AddStrategy(reg Registration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if reg.Weight < m.cfg.MinStrategyAlloc || reg.Weight > m.cfg.MaxStrategyAlloc {
		return engineerr.New(engineerr.InvalidArgument, "portfolio.Manager",
			"strategy weight out of configured [min,max] allocation range")
	}
	if m.totalWeight()+reg.Weight > 1.0-m.cfg.ReserveFraction+1e-9 {
		return engineerr.New(engineerr.InvalidArgument, "portfolio.Manager",
			"adding this strategy would exceed 1 - reserve_fraction total allocation")
	}

	r := reg
	m.registrations = append(m.registrations, &r)
	if setter, ok := reg.Strategy.(CapitalSetter); ok {
		setter.SetCapital(m.capital * reg.Weight)
	}
	return nil
}

// UpdateAllocations rewrites the weight of every named strategy, validating
// the new total before applying any of them.
func (m *Manager) UpdateAllocations(weights map[string]float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var newTotal float64
	for _, r := range m.registrations {
		w := r.Weight
		if nw, ok := weights[r.Strategy.ID()]; ok {
			w = nw
		}
		if w < m.cfg.MinStrategyAlloc || w > m.cfg.MaxStrategyAlloc {
			return engineerr.New(engineerr.InvalidArgument, "portfolio.Manager",
				"updated weight out of configured [min,max] allocation range for "+r.Strategy.ID())
		}
		newTotal += w
	}
	if newTotal > 1.0-m.cfg.ReserveFraction+1e-9 {
		return engineerr.New(engineerr.InvalidArgument, "portfolio.Manager",
			"updated allocations would exceed 1 - reserve_fraction total allocation")
	}

	for _, r := range m.registrations {
		if nw, ok := weights[r.Strategy.ID()]; ok {
			r.Weight = nw
			if setter, ok := r.Strategy.(CapitalSetter); ok {
				setter.SetCapital(m.capital * nw)
			}
		}
	}
	return nil
}

// SetEquity updates the capital figure driving position sizing and the
// drawdown-from-peak check, propagating the new per-strategy capital
// allocation to every CapitalSetter strategy.
func (m *Manager) SetEquity(equity float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.capital = equity
	if equity > m.peakEquity {
		m.peakEquity = equity
	}
	for _, r := range m.registrations {
		if setter, ok := r.Strategy.(CapitalSetter); ok {
			setter.SetCapital(equity * r.Weight)
		}
	}
}

// Registrations returns a snapshot of the portfolio's registered strategies,
// for introspection by an admin control plane.
func (m *Manager) Registrations() []Registration {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Registration, len(m.registrations))
	for i, r := range m.registrations {
		out[i] = *r
	}
	return out
}

// Strategy looks up a registered strategy by ID, returning the live
// Registration (not a copy) so an admin control plane can drive its
// lifecycle directly.
func (m *Manager) Strategy(id string) (*Registration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.registrations {
		if r.Strategy.ID() == id {
			return r, true
		}
	}
	return nil, false
}

// Capital returns the capital figure currently driving position sizing.
func (m *Manager) Capital() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.capital
}

// PeakEquity returns the highest capital figure observed so far, the
// reference point for drawdown-from-peak.
func (m *Manager) PeakEquity() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peakEquity
}

// Book returns a snapshot of the portfolio's last known position per symbol.
func (m *Manager) Book() map[string]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]float64, len(m.lastPositions))
	for sym, qty := range m.lastPositions {
		out[sym] = qty
	}
	return out
}

// ForceFlatten pauses every registered strategy and zeroes the last known
// book, mirroring the risk engine's automatic drawdown-breach flatten but
// triggered manually through the admin control plane. Strategies already
// outside the Running state are left as-is; their Pause errors are
// collected, not treated as fatal.
func (m *Manager) ForceFlatten() []error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for _, r := range m.registrations {
		if r.Strategy.State() != types.StateRunning {
			continue
		}
		if err := r.Strategy.Pause(); err != nil {
			errs = append(errs, err)
		}
	}
	for sym := range m.lastPositions {
		m.lastPositions[sym] = 0
	}
	metrics.RiskFlattenEventsTotal.Inc()
	return errs
}

func (m *Manager) symbolState(symbol string) *symbolReturnState {
	st, ok := m.returnState[symbol]
	if !ok {
		st = &symbolReturnState{returns: signal.NewPriceHistory(m.cfg.CovarianceLookback)}
		m.returnState[symbol] = st
	}
	return st
}

func (m *Manager) observeReturns(bars []types.Bar) {
	for _, bar := range bars {
		st := m.symbolState(bar.Symbol)
		price, _ := bar.Close.Float64()
		if st.haveClose && st.lastClose > 0 && price > 0 {
			st.returns.Push(math.Log(price / st.lastClose))
		}
		st.lastClose = price
		st.haveClose = true
	}
}

// filterSymbols returns the subset of bars whose symbol is in the allowed
// set. A nil/empty allowed set means "all symbols".
func filterSymbols(bars []types.Bar, allowed []string) []types.Bar {
	if len(allowed) == 0 {
		return bars
	}
	set := make(map[string]bool, len(allowed))
	for _, s := range allowed {
		set[s] = true
	}
	out := make([]types.Bar, 0, len(bars))
	for _, b := range bars {
		if set[b.Symbol] {
			out = append(out, b)
		}
	}
	return out
}

// ewmaCovariance builds a symbol x symbol covariance matrix from each
// symbol's log-return history using exponential weighting (most recent
// observation weighted highest). Falls back to a diagonal matrix of each
// symbol's simple variance when any symbol has fewer than 2 observations.
func ewmaCovariance(symbols []string, state map[string]*symbolReturnState, lambda float64) [][]float64 {
	n := len(symbols)
	sigma := make([][]float64, n)
	for i := range sigma {
		sigma[i] = make([]float64, n)
	}

	series := make([][]float64, n)
	minLen := -1
	for i, sym := range symbols {
		st, ok := state[sym]
		if !ok {
			series[i] = nil
			minLen = 0
			continue
		}
		series[i] = st.returns.Slice()
		if minLen == -1 || len(series[i]) < minLen {
			minLen = len(series[i])
		}
	}

	if minLen < 2 {
		for i, sym := range symbols {
			st, ok := state[sym]
			if !ok || len(st.returns.Slice()) < 2 {
				sigma[i][i] = 0.04 * 0.04 // conservative fallback variance
				continue
			}
			r := st.returns.Slice()
			var mean float64
			for _, v := range r {
				mean += v
			}
			mean /= float64(len(r))
			var variance float64
			for _, v := range r {
				variance += (v - mean) * (v - mean)
			}
			variance /= float64(len(r))
			sigma[i][i] = variance
		}
		return sigma
	}

	for i := range series {
		series[i] = series[i][len(series[i])-minLen:]
	}

	weights := make([]float64, minLen)
	var wsum float64
	w := 1.0
	for t := minLen - 1; t >= 0; t-- {
		weights[t] = w
		wsum += w
		w *= lambda
	}

	means := make([]float64, n)
	for i := 0; i < n; i++ {
		var acc float64
		for t := 0; t < minLen; t++ {
			acc += weights[t] * series[i][t]
		}
		means[i] = acc / wsum
	}

	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			var acc float64
			for t := 0; t < minLen; t++ {
				acc += weights[t] * (series[i][t] - means[i]) * (series[j][t] - means[j])
			}
			cov := acc / wsum
			sigma[i][j] = cov
			sigma[j][i] = cov
		}
	}
	return sigma
}

// CycleResult is the output of one OnBarBatch call.
type CycleResult struct {
	Orders    []types.Order
	Positions map[string]float64 // resulting book after this cycle
	Warnings  []string
	Flattened bool
}

// OnBarBatch drives one portfolio cycle: feed every registered strategy
// its filtered slice of the batch, aggregate weighted target positions,
// optionally optimize and risk-clamp, and emit the delta as Orders.
// Strategies run sequentially in registration order.
func (m *Manager) OnBarBatch(bars []types.Bar) (CycleResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.observeReturns(bars)

	aggregated := make(map[string]float64)
	var useOpt, useRisk bool
	for _, r := range m.registrations {
		filtered := filterSymbols(bars, r.Symbols)
		if len(filtered) == 0 {
			continue
		}
		if err := r.Strategy.OnData(filtered); err != nil {
			return CycleResult{}, err
		}
		for sym, qty := range r.Strategy.TargetPositions() {
			q, _ := qty.Float64()
			aggregated[sym] += r.Weight * q
		}
		useOpt = useOpt || r.UseOptimization
		useRisk = useRisk || r.UseRisk
	}

	symbols := make([]string, 0, len(aggregated))
	for sym := range aggregated {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	prices := make(map[string]float64, len(symbols))
	multipliers := make(map[string]float64, len(symbols))
	for _, bar := range bars {
		p, _ := bar.Close.Float64()
		prices[bar.Symbol] = p
	}
	for _, sym := range symbols {
		ins, err := m.registry.Lookup(sym)
		if err != nil {
			return CycleResult{}, err
		}
		multipliers[sym] = ins.Multiplier
	}

	final := make(map[string]float64, len(symbols))
	for _, sym := range symbols {
		final[sym] = aggregated[sym]
	}

	if useOpt && len(symbols) > 0 {
		weight := make(map[string]float64, len(symbols))
		cost := make(map[string]float64, len(symbols))
		held := make(map[string]float64, len(symbols))
		for _, sym := range symbols {
			price := prices[sym]
			mult := multipliers[sym]
			weight[sym] = price * mult
			held[sym] = m.lastPositions[sym]
			if m.txEngine != nil && price > 0 {
				ins, _ := m.registry.Lookup(sym)
				breakdown := m.txEngine.Price(sym, 1, price, ins.TickSize, mult)
				cost[sym] = breakdown.TotalCost
			}
		}
		sigma := ewmaCovariance(symbols, m.returnState, m.cfg.CovarianceDecay)
		cfg := m.cfg.OptConfig
		cfg.Capital = m.capital
		result := optimizer.Optimize(optimizer.Input{
			Symbols:    symbols,
			Ideal:      final,
			Held:       held,
			Cost:       cost,
			Weight:     weight,
			Covariance: sigma,
		}, cfg)
		final = result.Positions
		metrics.OptimizerIterations.Observe(float64(result.Iterations))
		if !result.Converged {
			metrics.OptimizerConvergenceFailuresTotal.Inc()
		}
	}

	var warnings []string
	var flattened bool
	if useRisk && len(symbols) > 0 {
		inputs := make([]risk.SymbolInput, 0, len(symbols))
		for _, sym := range symbols {
			inputs = append(inputs, risk.SymbolInput{
				Symbol:     sym,
				Proposed:   final[sym],
				Price:      prices[sym],
				Multiplier: multipliers[sym],
			})
		}
		rr, err := risk.Clamp(inputs, m.cfg.RiskConfig, m.capital, m.peakEquity, nil)
		if err != nil {
			return CycleResult{}, err
		}
		for sym, v := range rr.Clamped {
			final[sym] = v
		}
		warnings = rr.Warnings
		flattened = rr.Flattened
	}

	orders := make([]types.Order, 0)
	for _, sym := range symbols {
		delta := final[sym] - m.lastPositions[sym]
		if math.Abs(delta) < 1e-9 {
			continue
		}
		qty := decimal.NewFromFloat(math.Abs(delta))
		orders = append(orders, types.Order{
			OrderID:  uuid.NewString(),
			Symbol:   sym,
			Side:     types.SideFromSign(decimal.NewFromFloat(delta)),
			Type:     types.OrderMarket,
			Quantity: qty,
			TIF:      types.TIFDay,
		})
	}

	for sym, v := range final {
		m.lastPositions[sym] = v
	}

	positions := make(map[string]float64, len(m.lastPositions))
	for sym, v := range m.lastPositions {
		positions[sym] = v
	}

	return CycleResult{Orders: orders, Positions: positions, Warnings: warnings, Flattened: flattened}, nil
}
