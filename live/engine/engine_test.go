package engine

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantengine/broker"
	"quantengine/instrument"
	"quantengine/portfolio"
	"quantengine/types"
)

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

type fakeBroker struct {
	subscribed []string
	onBar      broker.MarketDataCallback
	orders     []types.Order
	closed     bool
}

func (f *fakeBroker) SubmitOrder(order types.Order) (types.ExecutionReport, error) {
	f.orders = append(f.orders, order)
	return types.ExecutionReport{OrderID: order.OrderID, Symbol: order.Symbol, Side: order.Side, FilledQty: order.Quantity}, nil
}
func (f *fakeBroker) Cancel(orderID string) error { return nil }
func (f *fakeBroker) SubscribeMarketData(symbols []string, onBar broker.MarketDataCallback) error {
	f.subscribed = symbols
	f.onBar = onBar
	return nil
}
func (f *fakeBroker) GetPositions() (map[string]types.Position, error) { return nil, nil }
func (f *fakeBroker) OnOrderStatus(cb broker.OrderStatusCallback)      {}
func (f *fakeBroker) Close() error                                     { f.closed = true; return nil }

func newTestManager() *portfolio.Manager {
	return portfolio.NewManager(portfolio.DefaultConfig(), instrument.New(), nil)
}

func TestOnBarAccumulatesLatestPerSymbol(t *testing.T) {
	e := New(DefaultConfig(), newTestManager(), &fakeBroker{}, nil)
	t0 := time.Now()
	e.onBar(types.Bar{Symbol: "ES", Timestamp: t0, Close: dec(100)})
	e.onBar(types.Bar{Symbol: "ES", Timestamp: t0.Add(time.Second), Close: dec(101)})
	e.onBar(types.Bar{Symbol: "NQ", Timestamp: t0, Close: dec(200)})

	assert.Len(t, e.pending, 2)
	assert.True(t, e.pending["ES"].Close.Equal(dec(101)))
}

func TestFlushClearsPendingAndRunsCycle(t *testing.T) {
	e := New(DefaultConfig(), newTestManager(), &fakeBroker{}, nil)
	e.onBar(types.Bar{Symbol: "ES", Timestamp: time.Now(), Close: dec(100)})

	err := e.flush()
	require.NoError(t, err)
	assert.Empty(t, e.pending)
}

func TestFlushNoopWhenNothingPending(t *testing.T) {
	e := New(DefaultConfig(), newTestManager(), &fakeBroker{}, nil)
	err := e.flush()
	require.NoError(t, err)
}

func TestStartRejectsDoubleStart(t *testing.T) {
	fb := &fakeBroker{}
	e := New(DefaultConfig(), newTestManager(), fb, nil)
	require.NoError(t, e.Start())
	err := e.Start()
	require.Error(t, err)
	require.NoError(t, e.Stop())
	assert.True(t, fb.closed)
}
