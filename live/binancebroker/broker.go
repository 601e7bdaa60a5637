// Package binancebroker is the reference live Broker adapter, backed by
// github.com/adshao/go-binance/v2's futures client — the one concrete
// exchange binding the engine's otherwise-abstract broker.Broker
// interface carries.
package binancebroker

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"quantengine/broker"
	"quantengine/engineerr"
	"quantengine/logging"
	"quantengine/metrics"
	"quantengine/types"
)

// withRetry implements the live-transport retry contract: initial 100ms,
// doubling per attempt, capped at 5s, up to 3 attempts.
func withRetry(fn func() error) error {
	delay := 100 * time.Millisecond
	const maxDelay = 5 * time.Second
	const maxAttempts = 3

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == maxAttempts {
			break
		}
		metrics.BrokerRetriesTotal.Inc()
		time.Sleep(delay)
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
	return err
}

// Broker adapts a go-binance/v2 futures client to broker.Broker.
type Broker struct {
	client *futures.Client

	mu       sync.Mutex
	onStatus broker.OrderStatusCallback
	stopC    map[string]chan struct{}
}

// New constructs a Broker from API credentials.
func New(apiKey, apiSecret string) *Broker {
	return &Broker{
		client: futures.NewClient(apiKey, apiSecret),
		stopC:  make(map[string]chan struct{}),
	}
}

// SubmitOrder places a market order and returns its immediate fill report.
// Transient transport failures are retried via withRetry.
func (b *Broker) SubmitOrder(order types.Order) (types.ExecutionReport, error) {
	var resp *futures.CreateOrderResponse
	side := futures.SideTypeBuy
	if order.Side == types.SideSell {
		side = futures.SideTypeSell
	}
	qty := order.Quantity.String()

	err := withRetry(func() error {
		var innerErr error
		resp, innerErr = b.client.NewCreateOrderService().
			Symbol(order.Symbol).
			Side(side).
			Type(futures.OrderTypeMarket).
			Quantity(qty).
			Do(context.Background())
		return innerErr
	})
	if err != nil {
		return types.ExecutionReport{}, engineerr.Wrap(engineerr.Network, "binancebroker.Broker", "submit_order failed", err)
	}

	fillPrice, _ := decimal.NewFromString(resp.AvgPrice)
	filledQty, _ := decimal.NewFromString(resp.ExecutedQuantity)
	return types.ExecutionReport{
		OrderID:   strconv.FormatInt(resp.OrderID, 10),
		ExecID:    uuid.NewString(),
		Symbol:    resp.Symbol,
		Side:      order.Side,
		FilledQty: filledQty,
		FillPrice: fillPrice,
		FillTime:  time.Now(),
	}, nil
}

// Cancel cancels an open order by ID.
func (b *Broker) Cancel(orderID string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return engineerr.Wrap(engineerr.InvalidArgument, "binancebroker.Broker", "order id must be numeric", err)
	}
	return withRetry(func() error {
		_, innerErr := b.client.NewCancelOrderService().OrderID(id).Do(context.Background())
		if innerErr != nil {
			return engineerr.Wrap(engineerr.Network, "binancebroker.Broker", "cancel failed", innerErr)
		}
		return nil
	})
}

// SubscribeMarketData starts a kline stream per symbol via go-binance's own
// websocket client and forwards each closed candle as a Bar; go-binance
// owns reconnect here, not live/wsfeed (that package is the venue-agnostic
// feed for brokers without a bundled streaming client).
func (b *Broker) SubscribeMarketData(symbols []string, onBar broker.MarketDataCallback) error {
	for _, symbol := range symbols {
		handler := func(event *futures.WsKlineEvent) {
			if !event.Kline.IsFinal {
				return
			}
			open, _ := decimal.NewFromString(event.Kline.Open)
			high, _ := decimal.NewFromString(event.Kline.High)
			low, _ := decimal.NewFromString(event.Kline.Low)
			close_, _ := decimal.NewFromString(event.Kline.Close)
			volume, _ := decimal.NewFromString(event.Kline.Volume)
			onBar(types.Bar{
				Symbol:    event.Symbol,
				Timestamp: time.UnixMilli(event.Kline.EndTime),
				Open:      open, High: high, Low: low, Close: close_, Volume: volume,
			})
		}
		errHandler := func(err error) {
			logging.Component("binancebroker").Error().Err(err).Str("symbol", symbol).Msg("kline stream error")
		}
		doneC, stopC, err := futures.WsKlineServe(symbol, "1m", handler, errHandler)
		if err != nil {
			return engineerr.Wrap(engineerr.Network, "binancebroker.Broker", "subscribing to "+symbol, err)
		}
		b.mu.Lock()
		b.stopC[symbol] = stopC
		b.mu.Unlock()
		go func() { <-doneC }()
	}
	return nil
}

// GetPositions reads the current futures position risk for every open
// symbol.
func (b *Broker) GetPositions() (map[string]types.Position, error) {
	var risks []*futures.PositionRisk
	err := withRetry(func() error {
		var innerErr error
		risks, innerErr = b.client.NewGetPositionRiskService().Do(context.Background())
		return innerErr
	})
	if err != nil {
		return nil, engineerr.Wrap(engineerr.Network, "binancebroker.Broker", "get_positions failed", err)
	}

	out := make(map[string]types.Position, len(risks))
	for _, r := range risks {
		qty, _ := decimal.NewFromString(r.PositionAmt)
		if qty.IsZero() {
			continue
		}
		entry, _ := decimal.NewFromString(r.EntryPrice)
		unrealized, _ := decimal.NewFromString(r.UnRealizedProfit)
		out[r.Symbol] = types.Position{
			Symbol:        r.Symbol,
			Quantity:      qty,
			AveragePrice:  entry,
			UnrealizedPnL: unrealized,
		}
	}
	return out, nil
}

// OnOrderStatus registers the callback invoked for out-of-band execution
// reports (not currently wired to a user-data stream; reserved for the
// adapter's future account-update listener).
func (b *Broker) OnOrderStatus(cb broker.OrderStatusCallback) {
	b.mu.Lock()
	b.onStatus = cb
	b.mu.Unlock()
}

// Close stops every open kline stream.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, stop := range b.stopC {
		close(stop)
	}
	b.stopC = make(map[string]chan struct{})
	return nil
}

var _ broker.Broker = (*Broker)(nil)
