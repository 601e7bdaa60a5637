// Package engine implements the live trading control loop: the same
// bar-batch-through-portfolio control flow the backtest engine drives, fed
// by a broker.Broker's asynchronous market-data callback instead of a
// pre-sorted bar slice, and submitting the resulting deltas as live orders
// instead of simulating fills.
package engine

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"quantengine/broker"
	"quantengine/engineerr"
	"quantengine/logging"
	"quantengine/metrics"
	"quantengine/portfolio"
	"quantengine/store"
	"quantengine/types"
)

// Config controls one live engine run.
type Config struct {
	Symbols        []string
	FlushInterval  time.Duration // window over which arriving bars are coalesced into one batch
	PositionTable  string
	ExecutionTable string
}

// DefaultConfig returns sane defaults.
func DefaultConfig() Config {
	return Config{
		FlushInterval:  2 * time.Second,
		PositionTable:  "positions",
		ExecutionTable: "executions",
	}
}

// Engine drives the portfolio from a live broker's market-data stream.
type Engine struct {
	cfg Config
	mgr *portfolio.Manager
	brk broker.Broker
	db  store.Database

	mu      sync.Mutex
	pending map[string]types.Bar // latest unflushed bar per symbol this window
	stopC   chan struct{}
	started bool
}

// New constructs a live Engine. db may be nil to disable persistence.
func New(cfg Config, mgr *portfolio.Manager, brk broker.Broker, db store.Database) *Engine {
	return &Engine{
		cfg:     cfg,
		mgr:     mgr,
		brk:     brk,
		db:      db,
		pending: make(map[string]types.Bar),
	}
}

// Start subscribes to the broker's market data and begins the
// flush-on-interval batching loop. Non-blocking; call Stop to shut down.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return engineerr.New(engineerr.InvalidStateTransition, "live/engine.Engine", "already started")
	}
	e.started = true
	e.stopC = make(chan struct{})
	e.mu.Unlock()

	if err := e.brk.SubscribeMarketData(e.cfg.Symbols, e.onBar); err != nil {
		return engineerr.Wrap(engineerr.Network, "live/engine.Engine", "subscribe_market_data failed", err)
	}

	go e.flushLoop()
	return nil
}

func (e *Engine) onBar(bar types.Bar) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending[bar.Symbol] = bar
}

func (e *Engine) flushLoop() {
	log := logging.Component("live/engine")
	ticker := time.NewTicker(e.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopC:
			return
		case <-ticker.C:
			if err := e.flush(); err != nil {
				log.Error().Err(err).Msg("live flush cycle failed")
			}
		}
	}
}

// flush snapshots the accumulated per-symbol bars into one batch, drives
// the portfolio cycle, and submits the resulting order deltas to the
// broker.
func (e *Engine) flush() error {
	e.mu.Lock()
	if len(e.pending) == 0 {
		e.mu.Unlock()
		return nil
	}
	group := make([]types.Bar, 0, len(e.pending))
	for _, bar := range e.pending {
		group = append(group, bar)
	}
	e.pending = make(map[string]types.Bar)
	e.mu.Unlock()

	start := time.Now()
	result, err := e.mgr.OnBarBatch(group)
	if err != nil {
		return engineerr.Wrap(engineerr.StrategyError, "live/engine.Engine", "portfolio cycle failed", err)
	}
	metrics.BarBatchDuration.Observe(time.Since(start).Seconds())
	if result.Flattened {
		metrics.RiskFlattenEventsTotal.Inc()
	}
	metrics.SetEquity(e.mgr.Capital(), e.mgr.PeakEquity())

	log := logging.Component("live/engine")
	var executions []types.ExecutionReport
	for _, order := range result.Orders {
		report, err := e.brk.SubmitOrder(order)
		if err != nil {
			log.Error().Err(err).Str("symbol", order.Symbol).Msg("submit_order failed")
			continue
		}
		executions = append(executions, report)
	}

	if e.db != nil {
		if len(executions) > 0 {
			if err := e.db.StoreExecutions(executions, e.cfg.ExecutionTable); err != nil {
				log.Error().Err(err).Msg("store_executions failed")
			}
		}
		if len(result.Positions) > 0 {
			positions := make(map[string]types.Position, len(result.Positions))
			now := time.Now()
			for symbol, qty := range result.Positions {
				positions[symbol] = types.Position{Symbol: symbol, Quantity: decimal.NewFromFloat(qty), LastUpdate: now}
			}
			if err := e.db.StorePositions(positions, "portfolio", e.cfg.PositionTable); err != nil {
				log.Error().Err(err).Msg("store_positions failed")
			}
		}
	}

	return nil
}

// Stop stops the flush loop and closes the broker connection.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = false
	close(e.stopC)
	e.mu.Unlock()

	return e.brk.Close()
}
