// Package backtest implements the deterministic bar-group replay engine:
// feed bars to the portfolio in timestamp-ordered groups, apply fills and
// mark to market after each group, persist signals/executions/positions
// per group and the equity curve in batches keyed by a run_id, and compute
// the final summary statistics. The replay loop feeds bars through the
// same strategy/portfolio path live trading uses, with stats supplying the
// summary math.
package backtest

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"quantengine/engineerr"
	"quantengine/instrument"
	"quantengine/logging"
	"quantengine/metrics"
	"quantengine/portfolio"
	"quantengine/stats"
	"quantengine/store"
	"quantengine/types"
)

// Config controls one backtest run.
type Config struct {
	StrategyID       string
	Start, End       time.Time
	InitialCapital   float64
	CommissionRate   float64
	BenchmarkSymbol  string
	StoreTradeDetail bool
	SaveSignals      bool
	SavePositions    bool
	PersistBatchSize int
}

// DefaultConfig returns sane defaults; PersistBatchSize flushes every N
// rows rather than issuing one insert per row.
func DefaultConfig() Config {
	return Config{
		InitialCapital:   100_000,
		PersistBatchSize: 500,
	}
}

// Summary is the backtest's final computed result.
type Summary struct {
	RunID        string
	Start, End   time.Time
	TotalReturn  float64
	Sharpe       float64
	Sortino      float64
	MaxDrawdown  float64
	Calmar       float64
	WinRate      float64
	ProfitFactor float64
	AvgWin       float64
	AvgLoss      float64
	CVaR95       float64
	Beta         float64
	NumTrades    int
	FinalEquity  float64
}

// Engine replays a bar stream through a portfolio.Manager and accumulates
// the equity curve, trade ledger, and summary statistics.
type Engine struct {
	cfg      Config
	mgr      *portfolio.Manager
	db       store.Database
	registry *instrument.Registry

	cash         float64
	peakEquity   float64
	maxDrawdown  float64
	equityCurve  []types.EquityPoint
	dailyReturns []float64
	lastEquity   float64

	closePrices map[string]decimal.Decimal
	lastQty     map[string]decimal.Decimal
	entryPrice  map[string]decimal.Decimal
	entryTime   map[string]time.Time
	realizedPnL map[string]float64

	trades []tradeResult

	benchmarkReturns []float64
}

type tradeResult struct {
	symbol     string
	side       types.Side
	quantity   float64
	entryPrice float64
	exitPrice  float64
	entryTime  time.Time
	exitTime   time.Time
	pnl        float64
}

// EquityCurvePoint is the plain export shape for one equity-curve sample —
// the data a CSV/chart exporter would serialize, without prescribing the
// exporter itself.
type EquityCurvePoint struct {
	Timestamp time.Time
	Equity    float64
}

// TradeRow is the plain export shape for one closed trade — a blotter row
// a CSV/chart exporter would serialize.
type TradeRow struct {
	Symbol     string
	Side       types.Side
	Quantity   float64
	EntryTime  time.Time
	ExitTime   time.Time
	EntryPrice float64
	ExitPrice  float64
	PnL        float64
}

// New constructs a backtest Engine bound to a portfolio manager, the
// instrument registry used to resolve each symbol's contract multiplier,
// and an (optional, may be nil) persistence backend.
func New(cfg Config, mgr *portfolio.Manager, registry *instrument.Registry, db store.Database) *Engine {
	return &Engine{
		cfg:         cfg,
		mgr:         mgr,
		db:          db,
		registry:    registry,
		cash:        cfg.InitialCapital,
		peakEquity:  cfg.InitialCapital,
		closePrices: make(map[string]decimal.Decimal),
		lastQty:     make(map[string]decimal.Decimal),
		entryPrice:  make(map[string]decimal.Decimal),
		entryTime:   make(map[string]time.Time),
		realizedPnL: make(map[string]float64),
	}
}

// multiplierFor resolves a symbol's contract multiplier. Defaults to 1
// (e.g. cash equities) only when no registry was wired at all; an unknown
// symbol against a wired registry is an error, never a silent multiplier-1
// fallback, matching instrument.Registry.Lookup's own stated contract.
func (e *Engine) multiplierFor(symbol string) (decimal.Decimal, error) {
	if e.registry == nil {
		return decimal.NewFromInt(1), nil
	}
	ins, err := e.registry.Lookup(symbol)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromFloat(ins.Multiplier), nil
}

// groupByTimestamp partitions a chronologically-sorted bar slice into
// per-timestamp groups: same-timestamp bars across symbols form one
// replay step.
func groupByTimestamp(bars []types.Bar) [][]types.Bar {
	if len(bars) == 0 {
		return nil
	}
	sorted := make([]types.Bar, len(bars))
	copy(sorted, bars)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	var groups [][]types.Bar
	start := 0
	for i := 1; i <= len(sorted); i++ {
		if i == len(sorted) || !sorted[i].Timestamp.Equal(sorted[start].Timestamp) {
			groups = append(groups, sorted[start:i])
			start = i
		}
	}
	return groups
}

// Run replays bars against the portfolio, group by group, marking to
// market and appending the equity curve after each one. benchmarkCloses (may
// be nil) supplies a parallel benchmark close series for the summary's
// beta calculation.
func (e *Engine) Run(bars []types.Bar, benchmarkCloses []float64) (Summary, error) {
	log := logging.Component("backtest")
	runID := store.RunID(e.cfg.StrategyID, e.cfg.Start)

	groups := groupByTimestamp(bars)
	if len(groups) == 0 {
		return Summary{}, engineerr.New(engineerr.InvalidArgument, "backtest.Engine", "no bars to replay")
	}

	for i, group := range groups {
		start := time.Now()
		result, err := e.mgr.OnBarBatch(group)
		if err != nil {
			return Summary{}, engineerr.Wrap(engineerr.StrategyError, "backtest.Engine", "portfolio cycle failed", err)
		}
		metrics.BarBatchDuration.Observe(time.Since(start).Seconds())
		if result.Flattened {
			metrics.RiskFlattenEventsTotal.Inc()
		}

		execs, err := e.applyFills(group, result)
		if err != nil {
			return Summary{}, err
		}
		e.applyExecutionsToStrategies(group, execs)
		equity, err := e.markToMarket()
		if err != nil {
			return Summary{}, err
		}

		if e.db != nil {
			groupTime := group[0].Timestamp
			if e.cfg.StoreTradeDetail && len(execs) > 0 {
				if err := e.db.StoreExecutions(execs, ""); err != nil {
					log.Error().Err(err).Msg("failed storing executions")
				}
			}
			if e.cfg.SaveSignals && len(result.Positions) > 0 {
				if err := e.db.StoreSignals(result.Positions, e.cfg.StrategyID, groupTime, ""); err != nil {
					log.Error().Err(err).Msg("failed storing signals")
				}
			}
			if e.cfg.SavePositions {
				positions, err := e.currentPositions()
				if err != nil {
					return Summary{}, err
				}
				if err := e.db.StoreBacktestPositions(positions, runID, ""); err != nil {
					log.Error().Err(err).Msg("failed storing positions")
				}
			}
		}

		point := types.EquityPoint{Timestamp: group[0].Timestamp, Equity: decimal.NewFromFloat(equity)}
		e.equityCurve = append(e.equityCurve, point)
		if equity > e.peakEquity {
			e.peakEquity = equity
		}
		if e.peakEquity > 0 {
			if dd := (e.peakEquity - equity) / e.peakEquity; dd > e.maxDrawdown {
				e.maxDrawdown = dd
			}
		}
		if e.lastEquity > 0 {
			e.dailyReturns = append(e.dailyReturns, (equity-e.lastEquity)/e.lastEquity)
		}
		e.lastEquity = equity
		metrics.SetEquity(equity, e.peakEquity)

		if i < len(benchmarkCloses) && i > 0 && benchmarkCloses[i-1] != 0 {
			e.benchmarkReturns = append(e.benchmarkReturns, (benchmarkCloses[i]-benchmarkCloses[i-1])/benchmarkCloses[i-1])
		}

		if e.db != nil && len(e.equityCurve)%e.cfg.PersistBatchSize == 0 {
			if err := e.flushEquityCurve(runID); err != nil {
				log.Error().Err(err).Msg("failed flushing equity curve batch")
			}
		}
	}

	if e.db != nil {
		if err := e.flushEquityCurve(runID); err != nil {
			log.Error().Err(err).Msg("failed flushing final equity curve batch")
		}
	}

	summary := e.computeSummary(runID)

	if e.db != nil {
		metricsMap := map[string]float64{
			"total_return":  summary.TotalReturn,
			"sharpe":        summary.Sharpe,
			"sortino":       summary.Sortino,
			"max_drawdown":  summary.MaxDrawdown,
			"calmar":        summary.Calmar,
			"win_rate":      summary.WinRate,
			"profit_factor": summary.ProfitFactor,
			"cvar_95":       summary.CVaR95,
			"beta":          summary.Beta,
		}
		if err := e.db.StoreBacktestSummary(runID, e.cfg.Start, e.cfg.End, metricsMap, "backtest_summary"); err != nil {
			log.Error().Err(err).Msg("failed storing backtest summary")
		}
	}

	return summary, nil
}

// applyFills turns the cycle's orders into simulated executions at the
// group's close price, tracking per-symbol realized PnL for the trade
// ledger used by win_rate/profit_factor, and returns the execution reports
// generated so the caller can persist them.
func (e *Engine) applyFills(group []types.Bar, result portfolio.CycleResult) ([]types.ExecutionReport, error) {
	closeBySymbol := make(map[string]decimal.Decimal, len(group))
	groupTime := group[0].Timestamp
	for _, bar := range group {
		closeBySymbol[bar.Symbol] = bar.Close
		e.closePrices[bar.Symbol] = bar.Close
	}

	var execs []types.ExecutionReport
	for _, order := range result.Orders {
		price, ok := closeBySymbol[order.Symbol]
		if !ok {
			continue
		}
		signedFill := order.Quantity
		if order.Side == types.SideSell {
			signedFill = order.Quantity.Neg()
		}

		prevQty := e.lastQty[order.Symbol]
		newQty := prevQty.Add(signedFill)
		multiplier, err := e.multiplierFor(order.Symbol)
		if err != nil {
			return nil, engineerr.Wrap(engineerr.UnknownInstrument, "backtest.Engine", "resolving multiplier for "+order.Symbol, err)
		}

		notional := signedFill.Mul(price).Mul(multiplier).InexactFloat64()
		commission := decimal.NewFromFloat(e.cfg.CommissionRate).Mul(order.Quantity).Mul(price).Mul(multiplier).InexactFloat64()
		e.cash -= notional + commission

		// Record a closed trade for the win-rate/profit-factor ledger when
		// the position shrinks toward/through zero. Cash already reflects
		// this fill's full proceeds via notional above; pnl here is for the
		// trade ledger only, not a second cash adjustment.
		if !prevQty.IsZero() && (prevQty.Sign() != newQty.Sign() || newQty.Abs().LessThan(prevQty.Abs())) {
			entry := e.entryPrice[order.Symbol]
			closedQty := decimal.Min(prevQty.Abs(), signedFill.Abs())
			var pnl decimal.Decimal
			side := types.SideFromSign(prevQty)
			if prevQty.IsPositive() {
				pnl = price.Sub(entry).Mul(closedQty).Mul(multiplier)
			} else {
				pnl = entry.Sub(price).Mul(closedQty).Mul(multiplier)
			}
			e.trades = append(e.trades, tradeResult{
				symbol:     order.Symbol,
				side:       side,
				quantity:   closedQty.InexactFloat64(),
				entryPrice: entry.InexactFloat64(),
				exitPrice:  price.InexactFloat64(),
				entryTime:  e.entryTime[order.Symbol],
				exitTime:   groupTime,
				pnl:        pnl.InexactFloat64(),
			})
			e.realizedPnL[order.Symbol] += pnl.InexactFloat64()
		}
		if prevQty.IsZero() || prevQty.Sign() != newQty.Sign() {
			e.entryPrice[order.Symbol] = price
			e.entryTime[order.Symbol] = groupTime
		}
		e.lastQty[order.Symbol] = newQty

		execs = append(execs, types.ExecutionReport{
			OrderID:    order.OrderID,
			ExecID:     order.OrderID,
			Symbol:     order.Symbol,
			Side:       order.Side,
			FilledQty:  order.Quantity,
			FillPrice:  price,
			FillTime:   groupTime,
			Commission: decimal.NewFromFloat(commission),
		})
	}
	return execs, nil
}

// applyExecutionsToStrategies feeds each simulated fill back to the
// strategy that owns its symbol, so the spec's Position-map invariants
// (realized PnL frozen on close, average price reset on flip) are
// enforced against real executed fills rather than left unexercised, then
// marks every registered strategy's book to the group's close prices.
func (e *Engine) applyExecutionsToStrategies(group []types.Bar, execs []types.ExecutionReport) {
	if e.mgr == nil {
		return
	}
	regs := e.mgr.Registrations()
	closeBySymbol := make(map[string]decimal.Decimal, len(group))
	for _, bar := range group {
		closeBySymbol[bar.Symbol] = bar.Close
	}
	for _, exec := range execs {
		for _, r := range regs {
			if ownsSymbol(r, exec.Symbol) {
				r.Strategy.UpdatePosition(exec)
			}
		}
	}
	for _, r := range regs {
		r.Strategy.MarkToMarket(closeBySymbol)
	}
}

// ownsSymbol reports whether a registration's trading universe covers
// symbol; an empty Symbols list means the strategy trades everything.
func ownsSymbol(r portfolio.Registration, symbol string) bool {
	if len(r.Symbols) == 0 {
		return true
	}
	for _, s := range r.Symbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// markToMarket returns cash plus the market value of every open position
// at the group's closing prices. Since applyFills debits/credits cash by
// each fill's full notional, this equals initial capital plus realized and
// unrealized PnL, less commissions.
func (e *Engine) markToMarket() (float64, error) {
	equity := e.cash
	for symbol, qty := range e.lastQty {
		if qty.IsZero() {
			continue
		}
		price, ok := e.closePrices[symbol]
		if !ok {
			continue
		}
		multiplier, err := e.multiplierFor(symbol)
		if err != nil {
			return 0, engineerr.Wrap(engineerr.UnknownInstrument, "backtest.Engine", "resolving multiplier for "+symbol, err)
		}
		equity += qty.Mul(price).Mul(multiplier).InexactFloat64()
	}
	return equity, nil
}

// currentPositions snapshots the open book as types.Position, for the
// per-group position persistence path.
func (e *Engine) currentPositions() (map[string]types.Position, error) {
	out := make(map[string]types.Position, len(e.lastQty))
	for symbol, qty := range e.lastQty {
		if qty.IsZero() {
			continue
		}
		price := e.closePrices[symbol]
		entry := e.entryPrice[symbol]
		multiplier, err := e.multiplierFor(symbol)
		if err != nil {
			return nil, engineerr.Wrap(engineerr.UnknownInstrument, "backtest.Engine", "resolving multiplier for "+symbol, err)
		}
		unrealized := qty.Mul(price.Sub(entry)).Mul(multiplier)
		out[symbol] = types.Position{
			Symbol:        symbol,
			Quantity:      qty,
			AveragePrice:  entry,
			UnrealizedPnL: unrealized,
			RealizedPnL:   decimal.NewFromFloat(e.realizedPnL[symbol]),
		}
	}
	return out, nil
}

func (e *Engine) flushEquityCurve(runID string) error {
	if len(e.equityCurve) == 0 {
		return nil
	}
	err := e.db.StoreBacktestEquityCurveBatch(runID, e.equityCurve, "backtest_equity_curve")
	e.equityCurve = e.equityCurve[:0]
	return err
}

// EquityCurve exports the in-memory equity curve in the plain shape a CSV
// or chart exporter would serialize. Points already flushed to a Database
// (see flushEquityCurve) are not retained here; this only returns points
// accumulated since the last flush, or the full run when db is nil.
func (e *Engine) EquityCurve() []EquityCurvePoint {
	points := make([]EquityCurvePoint, len(e.equityCurve))
	for i, p := range e.equityCurve {
		points[i] = EquityCurvePoint{Timestamp: p.Timestamp, Equity: p.Equity.InexactFloat64()}
	}
	return points
}

// TradeBlotter exports the closed-trade ledger in the plain shape a CSV or
// chart exporter would serialize (no exporter is implemented here).
func (e *Engine) TradeBlotter() []TradeRow {
	rows := make([]TradeRow, len(e.trades))
	for i, t := range e.trades {
		rows[i] = TradeRow{
			Symbol:     t.symbol,
			Side:       t.side,
			Quantity:   t.quantity,
			EntryTime:  t.entryTime,
			ExitTime:   t.exitTime,
			EntryPrice: t.entryPrice,
			ExitPrice:  t.exitPrice,
			PnL:        t.pnl,
		}
	}
	return rows
}

func (e *Engine) computeSummary(runID string) Summary {
	wins, losses := 0, 0
	var winSum, lossSum, grossWin, grossLoss float64
	for _, t := range e.trades {
		if t.pnl >= 0 {
			wins++
			winSum += t.pnl
			grossWin += t.pnl
		} else {
			losses++
			lossSum += t.pnl
			grossLoss += -t.pnl
		}
	}

	winRate := 0.0
	if total := wins + losses; total > 0 {
		winRate = float64(wins) / float64(total)
	}
	profitFactor := 0.0
	if grossLoss > 0 {
		profitFactor = grossWin / grossLoss
	}
	avgWin, avgLoss := 0.0, 0.0
	if wins > 0 {
		avgWin = winSum / float64(wins)
	}
	if losses > 0 {
		avgLoss = lossSum / float64(losses)
	}

	meanReturn := stats.Mean(e.dailyReturns)
	vol := stats.StdDev(e.dailyReturns)
	sharpe := 0.0
	if vol > 0 {
		sharpe = meanReturn / vol
	}
	downside := stats.DownsideDeviation(e.dailyReturns, 0)
	sortino := 0.0
	if downside > 0 {
		sortino = meanReturn / downside
	}

	maxDD := e.maxDrawdown
	totalReturn := 0.0
	if e.cfg.InitialCapital > 0 {
		totalReturn = (e.lastEquity - e.cfg.InitialCapital) / e.cfg.InitialCapital
	}
	calmar := 0.0
	if maxDD > 0 {
		calmar = totalReturn / maxDD
	}

	beta := 0.0
	if len(e.benchmarkReturns) > 0 {
		beta = stats.Beta(e.dailyReturns, e.benchmarkReturns)
	}

	return Summary{
		RunID:        runID,
		Start:        e.cfg.Start,
		End:          e.cfg.End,
		TotalReturn:  totalReturn,
		Sharpe:       sharpe,
		Sortino:      sortino,
		MaxDrawdown:  maxDD,
		Calmar:       calmar,
		WinRate:      winRate,
		ProfitFactor: profitFactor,
		AvgWin:       avgWin,
		AvgLoss:      avgLoss,
		CVaR95:       -stats.CVaR(e.dailyReturns, 0.95),
		Beta:         beta,
		NumTrades:    len(e.trades),
		FinalEquity:  e.lastEquity,
	}
}

