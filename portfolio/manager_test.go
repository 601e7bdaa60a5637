package portfolio

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantengine/instrument"
	"quantengine/types"
)

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func bar(symbol string, ts time.Time, close float64) types.Bar {
	return types.Bar{Symbol: symbol, Timestamp: ts, Open: dec(close), High: dec(close), Low: dec(close), Close: dec(close), Volume: dec(1)}
}

// fakeStrategy is a minimal strategy.Strategy fixture whose target
// position is fixed at construction, so portfolio aggregation/risk/
// optimizer wiring can be tested without depending on any one concrete
// strategy's signal logic.
type fakeStrategy struct {
	id     string
	state  types.StrategyState
	target map[string]decimal.Decimal
}

func newFakeStrategy(id string, target map[string]decimal.Decimal) *fakeStrategy {
	return &fakeStrategy{id: id, state: types.StateCreated, target: target}
}

func (f *fakeStrategy) ID() string                   { return f.id }
func (f *fakeStrategy) State() types.StrategyState    { return f.state }
func (f *fakeStrategy) Init() error                   { f.state = types.StateInitialized; return nil }
func (f *fakeStrategy) Start() error                  { f.state = types.StateRunning; return nil }
func (f *fakeStrategy) Pause() error                  { f.state = types.StatePaused; return nil }
func (f *fakeStrategy) Stop() error                   { f.state = types.StateStopped; return nil }
func (f *fakeStrategy) OnData(bars []types.Bar) error { return nil }
func (f *fakeStrategy) TargetPositions() map[string]decimal.Decimal {
	return f.target
}
func (f *fakeStrategy) Introspect() map[string]types.Introspection         { return nil }
func (f *fakeStrategy) Positions() map[string]types.Position               { return nil }
func (f *fakeStrategy) UpdatePosition(exec types.ExecutionReport)          {}
func (f *fakeStrategy) MarkToMarket(closePrices map[string]decimal.Decimal) {}

func newTestRegistry(t *testing.T) *instrument.Registry {
	t.Helper()
	reg := instrument.New()
	require.NoError(t, reg.Load([]instrument.Instrument{
		{Symbol: "ES", AssetClass: instrument.AssetFuture, Multiplier: 50, TickSize: 0.25, PointValue: 50},
	}))
	return reg
}

func TestAddStrategyRejectsOverAllocation(t *testing.T) {
	mgr := NewManager(DefaultConfig(), newTestRegistry(t), nil)
	strat := newFakeStrategy("s1", nil)
	require.NoError(t, strat.Init())
	require.NoError(t, strat.Start())

	err := mgr.AddStrategy(Registration{Strategy: strat, Weight: 2.0, Symbols: []string{"ES"}})
	assert.Error(t, err)
}

func TestAddStrategyRejectsExceedingReserveFraction(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReserveFraction = 0.5
	cfg.MaxStrategyAlloc = 1.0
	mgr := NewManager(cfg, newTestRegistry(t), nil)

	s1 := newFakeStrategy("s1", nil)
	require.NoError(t, mgr.AddStrategy(Registration{Strategy: s1, Weight: 0.4, Symbols: []string{"ES"}}))

	s2 := newFakeStrategy("s2", nil)
	err := mgr.AddStrategy(Registration{Strategy: s2, Weight: 0.2, Symbols: []string{"ES"}})
	assert.Error(t, err)
}

func TestOnBarBatchAggregatesWeightedTargetsIntoOrders(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TotalCapital = 100000
	mgr := NewManager(cfg, newTestRegistry(t), nil)

	strat := newFakeStrategy("s1", map[string]decimal.Decimal{"ES": dec(10)})
	require.NoError(t, strat.Init())
	require.NoError(t, strat.Start())
	require.NoError(t, mgr.AddStrategy(Registration{Strategy: strat, Weight: 0.5, Symbols: []string{"ES"}}))

	result, err := mgr.OnBarBatch([]types.Bar{bar("ES", time.Now(), 100)})
	require.NoError(t, err)
	require.Len(t, result.Orders, 1)
	assert.Equal(t, "ES", result.Orders[0].Symbol)
	assert.InDelta(t, 5.0, result.Positions["ES"], 1e-6) // 0.5 weight * 10 target
	assert.Equal(t, 5.0, mgr.Book()["ES"])
}

func TestOnBarBatchFiltersStrategyToItsOwnSymbols(t *testing.T) {
	mgr := NewManager(DefaultConfig(), newTestRegistry(t), nil)
	strat := newFakeStrategy("s1", map[string]decimal.Decimal{"ES": dec(10)})
	require.NoError(t, strat.Init())
	require.NoError(t, strat.Start())
	require.NoError(t, mgr.AddStrategy(Registration{Strategy: strat, Weight: 0.9, Symbols: []string{"NQ"}}))

	result, err := mgr.OnBarBatch([]types.Bar{bar("ES", time.Now(), 100)})
	require.NoError(t, err)
	assert.Empty(t, result.Orders)
}

func TestRegistrationsReturnsSnapshotNotLive(t *testing.T) {
	mgr := NewManager(DefaultConfig(), newTestRegistry(t), nil)
	strat := newFakeStrategy("s1", nil)
	require.NoError(t, mgr.AddStrategy(Registration{Strategy: strat, Weight: 0.3, Symbols: []string{"ES"}}))

	snap := mgr.Registrations()
	require.Len(t, snap, 1)
	snap[0].Weight = 0.9

	live, ok := mgr.Strategy("s1")
	require.True(t, ok)
	assert.Equal(t, 0.3, live.Weight)
}

func TestStrategyLookupMissingReturnsFalse(t *testing.T) {
	mgr := NewManager(DefaultConfig(), newTestRegistry(t), nil)
	_, ok := mgr.Strategy("nope")
	assert.False(t, ok)
}

func TestSetEquityUpdatesCapitalAndPeak(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TotalCapital = 1000
	mgr := NewManager(cfg, newTestRegistry(t), nil)

	mgr.SetEquity(1500)
	assert.Equal(t, 1500.0, mgr.Capital())
	assert.Equal(t, 1500.0, mgr.PeakEquity())

	mgr.SetEquity(1200)
	assert.Equal(t, 1200.0, mgr.Capital())
	assert.Equal(t, 1500.0, mgr.PeakEquity()) // peak doesn't fall with equity
}

func TestForceFlattenPausesRunningStrategiesAndZeroesBook(t *testing.T) {
	mgr := NewManager(DefaultConfig(), newTestRegistry(t), nil)
	strat := newFakeStrategy("s1", map[string]decimal.Decimal{"ES": dec(10)})
	require.NoError(t, strat.Init())
	require.NoError(t, strat.Start())
	require.NoError(t, mgr.AddStrategy(Registration{Strategy: strat, Weight: 0.9, Symbols: []string{"ES"}}))

	_, err := mgr.OnBarBatch([]types.Bar{bar("ES", time.Now(), 100)})
	require.NoError(t, err)
	require.NotZero(t, mgr.Book()["ES"])

	errs := mgr.ForceFlatten()
	assert.Empty(t, errs)
	assert.Equal(t, types.StatePaused, strat.State())
	assert.Zero(t, mgr.Book()["ES"])
}

func TestForceFlattenLeavesNonRunningStrategiesAlone(t *testing.T) {
	mgr := NewManager(DefaultConfig(), newTestRegistry(t), nil)
	strat := newFakeStrategy("s1", nil)
	strat.state = types.StateStopped
	require.NoError(t, mgr.AddStrategy(Registration{Strategy: strat, Weight: 0.9, Symbols: []string{"ES"}}))

	errs := mgr.ForceFlatten()
	assert.Empty(t, errs)
	assert.Equal(t, types.StateStopped, strat.State())
}
