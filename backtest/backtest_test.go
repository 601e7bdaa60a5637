package backtest

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantengine/instrument"
	"quantengine/portfolio"
	"quantengine/types"
)

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func bar(symbol string, ts time.Time, close float64) types.Bar {
	return types.Bar{Symbol: symbol, Timestamp: ts, Open: dec(close), High: dec(close), Low: dec(close), Close: dec(close), Volume: dec(1)}
}

func order(symbol string, side types.Side, qty float64) types.Order {
	return types.Order{OrderID: "o1", Symbol: symbol, Side: side, Quantity: dec(qty)}
}

// testRegistry loads an ES future with a real 50x point multiplier, so
// applyFills/markToMarket tests exercise multiplier-scaled money math
// rather than an implicit multiplier of 1.
func testRegistry(t *testing.T) *instrument.Registry {
	t.Helper()
	reg := instrument.New()
	require.NoError(t, reg.Load([]instrument.Instrument{
		{Symbol: "ES", AssetClass: instrument.AssetFuture, Multiplier: 50, TickSize: 0.25, PointValue: 50},
	}))
	return reg
}

func TestGroupByTimestamp(t *testing.T) {
	t0 := time.Unix(1000, 0)
	t1 := time.Unix(2000, 0)
	bars := []types.Bar{
		bar("ES", t1, 100),
		bar("NQ", t0, 200),
		bar("ES", t0, 100),
	}
	groups := groupByTimestamp(bars)
	require.Len(t, groups, 2)
	assert.True(t, groups[0][0].Timestamp.Equal(t0))
	assert.Len(t, groups[0], 2)
	assert.True(t, groups[1][0].Timestamp.Equal(t1))
	assert.Len(t, groups[1], 1)
}

func TestGroupByTimestampEmpty(t *testing.T) {
	assert.Nil(t, groupByTimestamp(nil))
}

func TestApplyFillsAndMarkToMarketOpenLong(t *testing.T) {
	e := New(Config{InitialCapital: 1_000_000}, (*portfolio.Manager)(nil), testRegistry(t), nil)
	group := []types.Bar{bar("ES", time.Now(), 100)}
	result := portfolio.CycleResult{Orders: []types.Order{order("ES", types.SideBuy, 10)}}

	_, err := e.applyFills(group, result)
	require.NoError(t, err)
	equity, err := e.markToMarket()
	require.NoError(t, err)

	// 10 units bought at 100 with a 50x multiplier: cash down by 50000,
	// offset by 50000 of position market value (unrealized 0 at cost basis).
	assert.InDelta(t, 950_000, e.cash, 1e-6)
	assert.InDelta(t, 1_000_000, equity, 1e-6)
}

func TestApplyFillsRealizesOnClose(t *testing.T) {
	e := New(Config{InitialCapital: 1_000_000}, (*portfolio.Manager)(nil), testRegistry(t), nil)
	group1 := []types.Bar{bar("ES", time.Now(), 100)}
	_, err := e.applyFills(group1, portfolio.CycleResult{Orders: []types.Order{order("ES", types.SideBuy, 10)}})
	require.NoError(t, err)

	group2 := []types.Bar{bar("ES", time.Now(), 110)}
	_, err = e.applyFills(group2, portfolio.CycleResult{Orders: []types.Order{order("ES", types.SideSell, 10)}})
	require.NoError(t, err)

	require.Len(t, e.trades, 1)
	assert.InDelta(t, 5000.0, e.trades[0].pnl, 1e-6) // (110-100)*10*50
	equity, err := e.markToMarket()
	require.NoError(t, err)
	assert.InDelta(t, 1_005_000, equity, 1e-6)
}

func TestApplyFillsUnknownSymbolErrors(t *testing.T) {
	e := New(Config{InitialCapital: 1_000_000}, (*portfolio.Manager)(nil), testRegistry(t), nil)
	group := []types.Bar{bar("ZZ", time.Now(), 100)}
	result := portfolio.CycleResult{Orders: []types.Order{order("ZZ", types.SideBuy, 10)}}

	_, err := e.applyFills(group, result)
	assert.Error(t, err)
}

func TestTradeBlotterAndEquityCurveExports(t *testing.T) {
	e := New(Config{InitialCapital: 1_000_000}, (*portfolio.Manager)(nil), testRegistry(t), nil)
	t0 := time.Now()
	group1 := []types.Bar{bar("ES", t0, 100)}
	_, err := e.applyFills(group1, portfolio.CycleResult{Orders: []types.Order{order("ES", types.SideBuy, 10)}})
	require.NoError(t, err)
	e.equityCurve = append(e.equityCurve, types.EquityPoint{Timestamp: t0, Equity: dec(950_000)})

	t1 := t0.Add(time.Minute)
	group2 := []types.Bar{bar("ES", t1, 110)}
	_, err = e.applyFills(group2, portfolio.CycleResult{Orders: []types.Order{order("ES", types.SideSell, 10)}})
	require.NoError(t, err)

	rows := e.TradeBlotter()
	require.Len(t, rows, 1)
	assert.Equal(t, "ES", rows[0].Symbol)
	assert.InDelta(t, 5000.0, rows[0].PnL, 1e-6)
	assert.InDelta(t, 100.0, rows[0].EntryPrice, 1e-6)
	assert.InDelta(t, 110.0, rows[0].ExitPrice, 1e-6)

	points := e.EquityCurve()
	require.Len(t, points, 1)
	assert.InDelta(t, 950_000, points[0].Equity, 1e-6)
}

func TestComputeSummaryWinRateAndProfitFactor(t *testing.T) {
	e := New(Config{InitialCapital: 1000}, (*portfolio.Manager)(nil), testRegistry(t), nil)
	e.trades = []tradeResult{{symbol: "ES", pnl: 100}, {symbol: "ES", pnl: -50}, {symbol: "NQ", pnl: 25}}
	e.lastEquity = 1075
	e.dailyReturns = []float64{0.01, -0.005, 0.02}

	summary := e.computeSummary("run1")
	assert.Equal(t, 3, summary.NumTrades)
	assert.InDelta(t, 2.0/3.0, summary.WinRate, 1e-9)
	assert.InDelta(t, 125.0/50.0, summary.ProfitFactor, 1e-9)
	assert.InDelta(t, 0.075, summary.TotalReturn, 1e-9)
}
