// Package broker defines the abstract live-execution boundary. Only the
// interface lives here; concrete adapters (one reference implementation
// lives in live/binancebroker) bind it to a real exchange.
package broker

import "quantengine/types"

// MarketDataCallback is invoked for every inbound bar on a subscribed feed.
type MarketDataCallback func(types.Bar)

// OrderStatusCallback is invoked for every execution report the broker
// reports out of band (fills that arrive asynchronously from submission).
type OrderStatusCallback func(types.ExecutionReport)

// Broker is the live execution boundary: submit an order, cancel one,
// subscribe to market data, and read back current positions, plus the
// two callback hooks for asynchronous fills and status changes.
type Broker interface {
	SubmitOrder(order types.Order) (types.ExecutionReport, error)
	Cancel(orderID string) error
	SubscribeMarketData(symbols []string, onBar MarketDataCallback) error
	GetPositions() (map[string]types.Position, error)
	OnOrderStatus(cb OrderStatusCallback)
	Close() error
}
