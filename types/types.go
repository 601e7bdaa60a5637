// Package types defines the core trading entities and their invariants:
// decimal-backed price/quantity, bars, orders, executions, positions, and
// the strategy state machine's shared vocabulary.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Price is a fixed-point decimal price. All PnL-affecting arithmetic uses
// Price/Qty (decimal.Decimal), never float64 — statistics (EMAs, z-scores)
// use float64, money never does.
type Price = decimal.Decimal

// Qty is a fixed-point decimal quantity, same rationale as Price.
type Qty = decimal.Decimal

// DecimalPlaces is the internal fixed-point precision used for rounding.
const DecimalPlaces = 8

// Side is a three-valued trade-direction tag.
type Side int

const (
	SideNone Side = iota
	SideBuy
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return "none"
	}
}

// SideFromSign maps a signed quantity delta to a Side; zero is SideNone.
func SideFromSign(qty decimal.Decimal) Side {
	switch {
	case qty.IsPositive():
		return SideBuy
	case qty.IsNegative():
		return SideSell
	default:
		return SideNone
	}
}

// OrderType enumerates the supported order types.
type OrderType int

const (
	OrderMarket OrderType = iota
	OrderLimit
	OrderStop
	OrderStopLimit
)

// TimeInForce enumerates standard order lifetimes.
type TimeInForce int

const (
	TIFDay TimeInForce = iota
	TIFGTC
	TIFIOC
	TIFFOK
)

// Bar is one OHLCV observation for a symbol at a timestamp.
//
// Invariant (validated by strategy.ValidateBar before any mutation):
// low <= min(open,close) <= max(open,close) <= high; close > 0; volume >= 0;
// strictly monotonic timestamp per symbol within a stream.
type Bar struct {
	Symbol    string
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
}

// Order is immutable once constructed.
type Order struct {
	OrderID     string
	Symbol      string
	Side        Side
	Type        OrderType
	Quantity    decimal.Decimal
	Price       decimal.Decimal // zero value for market orders
	TIF         TimeInForce
	StrategyID  string
	Timestamp   time.Time
}

// ExecutionReport is a single fill against an Order.
type ExecutionReport struct {
	OrderID    string
	ExecID     string // unique, generated via google/uuid by the execution adapter
	Symbol     string
	Side       Side
	FilledQty  decimal.Decimal
	FillPrice  decimal.Decimal
	FillTime   time.Time
	Commission decimal.Decimal
	IsPartial  bool
}

// Position tracks a single (strategy, symbol) holding.
//
// Invariants: on close (Quantity -> 0) RealizedPnL is frozen and
// UnrealizedPnL becomes 0; on a direction flip the remaining quantity's
// AveragePrice is reset to the fill price.
type Position struct {
	Symbol        string
	Quantity      decimal.Decimal
	AveragePrice  decimal.Decimal
	UnrealizedPnL decimal.Decimal
	RealizedPnL   decimal.Decimal
	LastUpdate    time.Time
}

// IsFlat reports whether the position currently carries no quantity.
func (p Position) IsFlat() bool { return p.Quantity.IsZero() }

// StrategyState is the lifecycle state machine's vocabulary.
type StrategyState int

const (
	StateCreated StrategyState = iota
	StateInitialized
	StateRunning
	StatePaused
	StateStopped
	StateError
)

func (s StrategyState) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateInitialized:
		return "Initialized"
	case StateRunning:
		return "Running"
	case StatePaused:
		return "Paused"
	case StateStopped:
		return "Stopped"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// PnLAccountingMethod distinguishes cash-equity (realized only) from
// futures-style mark-to-market accounting.
type PnLAccountingMethod int

const (
	RealizedOnly PnLAccountingMethod = iota
	MarkToMarket
)

// EquityPoint is one append-only sample of the equity curve.
type EquityPoint struct {
	Timestamp time.Time
	Equity    decimal.Decimal
}

// StrategyAllocation is a single strategy's capital weight within a
// portfolio. Weight must fall within [MinAlloc, MaxAlloc] and the sum
// across all allocations in a portfolio must be <= 1-reserve.
type StrategyAllocation struct {
	StrategyID string
	Weight     float64
}

// Introspection is a capability-set abstraction used in place of runtime
// down-casting to concrete strategy types: reporting reads forecasts/vol/
// EMA state through this interface, never by asserting a concrete
// *strategy.TrendFollowing type.
type Introspection struct {
	Forecast   float64
	Volatility float64
	EMAValues  map[string]float64 // keyed "short_<i>"/"long_<i>" by span-pair index -> latest EMA value
}
