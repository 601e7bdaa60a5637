package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"quantengine/engineerr"
	"quantengine/types"
)

// SQLiteStore is the reference Database implementation, grounded on the
// teacher's store.StrategyStore/TacticStore: plain SQL via database/sql,
// schema created at construction with CREATE TABLE IF NOT EXISTS.
type SQLiteStore struct {
	db *sql.DB
}

// Open creates (or opens) a sqlite database file and initializes the
// engine's schema.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.DatabaseError, "store.SQLiteStore", "opening database", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.initTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS positions (
			strategy_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			quantity REAL NOT NULL,
			average_price REAL NOT NULL,
			unrealized_pnl REAL NOT NULL,
			realized_pnl REAL NOT NULL,
			last_update DATETIME NOT NULL,
			PRIMARY KEY (strategy_id, symbol)
		)`,
		`CREATE TABLE IF NOT EXISTS executions (
			order_id TEXT NOT NULL,
			exec_id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			side INTEGER NOT NULL,
			filled_qty REAL NOT NULL,
			fill_price REAL NOT NULL,
			fill_time DATETIME NOT NULL,
			commission REAL NOT NULL,
			is_partial BOOLEAN NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS signals (
			strategy_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			value REAL NOT NULL,
			ts DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_strategy_ts ON signals(strategy_id, ts)`,
		`CREATE TABLE IF NOT EXISTS backtest_summary (
			run_id TEXT PRIMARY KEY,
			start_ts DATETIME NOT NULL,
			end_ts DATETIME NOT NULL,
			metrics TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS backtest_equity_curve (
			run_id TEXT NOT NULL,
			ts DATETIME NOT NULL,
			equity REAL NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_equity_run_ts ON backtest_equity_curve(run_id, ts)`,
		`CREATE TABLE IF NOT EXISTS backtest_positions (
			run_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			quantity REAL NOT NULL,
			average_price REAL NOT NULL,
			realized_pnl REAL NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS backtest_metadata (
			run_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT DEFAULT '',
			start_ts DATETIME NOT NULL,
			end_ts DATETIME NOT NULL,
			hyperparams TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE TABLE IF NOT EXISTS market_data (
			symbol TEXT NOT NULL,
			asset_class TEXT NOT NULL,
			freq TEXT NOT NULL,
			ts DATETIME NOT NULL,
			open REAL NOT NULL,
			high REAL NOT NULL,
			low REAL NOT NULL,
			close REAL NOT NULL,
			volume REAL NOT NULL,
			PRIMARY KEY (symbol, freq, ts)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return engineerr.Wrap(engineerr.DatabaseError, "store.SQLiteStore", "creating schema", err)
		}
	}
	return nil
}

// StorePositions upserts the current book for a strategy.
func (s *SQLiteStore) StorePositions(positions map[string]types.Position, strategyID, table string) error {
	if table == "" {
		table = "positions"
	}
	tx, err := s.db.Begin()
	if err != nil {
		return engineerr.Wrap(engineerr.DatabaseError, "store.SQLiteStore", "beginning transaction", err)
	}
	defer tx.Rollback()

	stmt := fmt.Sprintf(`INSERT INTO %s (strategy_id, symbol, quantity, average_price, unrealized_pnl, realized_pnl, last_update)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(strategy_id, symbol) DO UPDATE SET
			quantity=excluded.quantity, average_price=excluded.average_price,
			unrealized_pnl=excluded.unrealized_pnl, realized_pnl=excluded.realized_pnl,
			last_update=excluded.last_update`, table)

	for symbol, pos := range positions {
		qty, _ := pos.Quantity.Float64()
		avg, _ := pos.AveragePrice.Float64()
		upnl, _ := pos.UnrealizedPnL.Float64()
		rpnl, _ := pos.RealizedPnL.Float64()
		if _, err := tx.Exec(stmt, strategyID, symbol, qty, avg, upnl, rpnl, pos.LastUpdate); err != nil {
			return engineerr.Wrap(engineerr.DatabaseError, "store.SQLiteStore", "storing positions", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return engineerr.Wrap(engineerr.DatabaseError, "store.SQLiteStore", "committing positions", err)
	}
	return nil
}

// StoreExecutions appends a batch of execution reports.
func (s *SQLiteStore) StoreExecutions(execs []types.ExecutionReport, table string) error {
	if table == "" {
		table = "executions"
	}
	tx, err := s.db.Begin()
	if err != nil {
		return engineerr.Wrap(engineerr.DatabaseError, "store.SQLiteStore", "beginning transaction", err)
	}
	defer tx.Rollback()

	stmt := fmt.Sprintf(`INSERT OR REPLACE INTO %s
		(order_id, exec_id, symbol, side, filled_qty, fill_price, fill_time, commission, is_partial)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, table)

	for _, e := range execs {
		qty, _ := e.FilledQty.Float64()
		price, _ := e.FillPrice.Float64()
		commission, _ := e.Commission.Float64()
		if _, err := tx.Exec(stmt, e.OrderID, e.ExecID, e.Symbol, int(e.Side), qty, price, e.FillTime, commission, e.IsPartial); err != nil {
			return engineerr.Wrap(engineerr.DatabaseError, "store.SQLiteStore", "storing executions", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return engineerr.Wrap(engineerr.DatabaseError, "store.SQLiteStore", "committing executions", err)
	}
	return nil
}

// StoreSignals appends one bar batch's per-symbol scalar signal values.
func (s *SQLiteStore) StoreSignals(signals map[string]float64, strategyID string, ts time.Time, table string) error {
	if table == "" {
		table = "signals"
	}
	tx, err := s.db.Begin()
	if err != nil {
		return engineerr.Wrap(engineerr.DatabaseError, "store.SQLiteStore", "beginning transaction", err)
	}
	defer tx.Rollback()

	stmt := fmt.Sprintf(`INSERT INTO %s (strategy_id, symbol, value, ts) VALUES (?, ?, ?, ?)`, table)
	for symbol, v := range signals {
		if _, err := tx.Exec(stmt, strategyID, symbol, v, ts); err != nil {
			return engineerr.Wrap(engineerr.DatabaseError, "store.SQLiteStore", "storing signals", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return engineerr.Wrap(engineerr.DatabaseError, "store.SQLiteStore", "committing signals", err)
	}
	return nil
}

// StoreBacktestSummary persists the final metrics bundle for a run.
func (s *SQLiteStore) StoreBacktestSummary(runID string, start, end time.Time, metrics map[string]float64, table string) error {
	if table == "" {
		table = "backtest_summary"
	}
	hp, err := marshalHyperparams(toAnyMap(metrics))
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf(`INSERT OR REPLACE INTO %s (run_id, start_ts, end_ts, metrics) VALUES (?, ?, ?, ?)`, table)
	if _, err := s.db.Exec(stmt, runID, start, end, hp); err != nil {
		return engineerr.Wrap(engineerr.DatabaseError, "store.SQLiteStore", "storing backtest summary", err)
	}
	return nil
}

// StoreBacktestEquityCurveBatch appends a batch of equity-curve points for
// a run in the order given, in one transaction. Timestamp ordering is not
// checked here.
func (s *SQLiteStore) StoreBacktestEquityCurveBatch(runID string, points []types.EquityPoint, table string) error {
	if table == "" {
		table = "backtest_equity_curve"
	}
	tx, err := s.db.Begin()
	if err != nil {
		return engineerr.Wrap(engineerr.DatabaseError, "store.SQLiteStore", "beginning transaction", err)
	}
	defer tx.Rollback()

	stmt := fmt.Sprintf(`INSERT INTO %s (run_id, ts, equity) VALUES (?, ?, ?)`, table)
	for _, p := range points {
		equity, _ := p.Equity.Float64()
		if _, err := tx.Exec(stmt, runID, p.Timestamp, equity); err != nil {
			return engineerr.Wrap(engineerr.DatabaseError, "store.SQLiteStore", "storing equity curve batch", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return engineerr.Wrap(engineerr.DatabaseError, "store.SQLiteStore", "committing equity curve batch", err)
	}
	return nil
}

// StoreBacktestPositions persists a snapshot of a run's open book (the
// backtest calls it after each bar group).
func (s *SQLiteStore) StoreBacktestPositions(positions map[string]types.Position, runID, table string) error {
	if table == "" {
		table = "backtest_positions"
	}
	tx, err := s.db.Begin()
	if err != nil {
		return engineerr.Wrap(engineerr.DatabaseError, "store.SQLiteStore", "beginning transaction", err)
	}
	defer tx.Rollback()

	stmt := fmt.Sprintf(`INSERT INTO %s (run_id, symbol, quantity, average_price, realized_pnl) VALUES (?, ?, ?, ?, ?)`, table)
	for symbol, pos := range positions {
		qty, _ := pos.Quantity.Float64()
		avg, _ := pos.AveragePrice.Float64()
		rpnl, _ := pos.RealizedPnL.Float64()
		if _, err := tx.Exec(stmt, runID, symbol, qty, avg, rpnl); err != nil {
			return engineerr.Wrap(engineerr.DatabaseError, "store.SQLiteStore", "storing backtest positions", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return engineerr.Wrap(engineerr.DatabaseError, "store.SQLiteStore", "committing backtest positions", err)
	}
	return nil
}

// StoreBacktestMetadata records the descriptive metadata for a run.
func (s *SQLiteStore) StoreBacktestMetadata(runID, name, description string, start, end time.Time, hyperparams map[string]any, table string) error {
	if table == "" {
		table = "backtest_metadata"
	}
	hp, err := marshalHyperparams(hyperparams)
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf(`INSERT OR REPLACE INTO %s (run_id, name, description, start_ts, end_ts, hyperparams) VALUES (?, ?, ?, ?, ?, ?)`, table)
	if _, err := s.db.Exec(stmt, runID, name, description, start, end, hp); err != nil {
		return engineerr.Wrap(engineerr.DatabaseError, "store.SQLiteStore", "storing backtest metadata", err)
	}
	return nil
}

// GetMarketData reads OHLCV bars for the given symbols/window into a
// columnar table.
func (s *SQLiteStore) GetMarketData(symbols []string, start, end time.Time, assetClass, freq string) (ColumnarTable, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(symbols)), ",")
	query := fmt.Sprintf(`SELECT symbol, ts, open, high, low, close, volume FROM market_data
		WHERE symbol IN (%s) AND freq = ? AND ts >= ? AND ts <= ? ORDER BY ts ASC`, placeholders)

	args := make([]any, 0, len(symbols)+3)
	for _, sym := range symbols {
		args = append(args, sym)
	}
	args = append(args, freq, start, end)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return ColumnarTable{}, engineerr.Wrap(engineerr.DatabaseError, "store.SQLiteStore", "querying market data", err)
	}
	defer rows.Close()

	cols := []string{"symbol", "ts", "open", "high", "low", "close", "volume"}
	table := ColumnarTable{Columns: cols}
	for rows.Next() {
		var symbol string
		var ts time.Time
		var o, h, l, c, v float64
		if err := rows.Scan(&symbol, &ts, &o, &h, &l, &c, &v); err != nil {
			return ColumnarTable{}, engineerr.Wrap(engineerr.DatabaseError, "store.SQLiteStore", "scanning market data row", err)
		}
		table.Rows = append(table.Rows, []any{symbol, ts, o, h, l, c, v})
	}
	return table, nil
}

// GetSymbols lists distinct symbols recorded for an asset class/frequency.
func (s *SQLiteStore) GetSymbols(assetClass, freq string) ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT symbol FROM market_data WHERE asset_class = ? AND freq = ?`, assetClass, freq)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.DatabaseError, "store.SQLiteStore", "querying symbols", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, engineerr.Wrap(engineerr.DatabaseError, "store.SQLiteStore", "scanning symbol row", err)
		}
		out = append(out, sym)
	}
	return out, nil
}

// ExecuteQuery runs a diagnostic read-only query and returns its result as
// a columnar table.
func (s *SQLiteStore) ExecuteQuery(query string) (ColumnarTable, error) {
	rows, err := s.db.Query(query)
	if err != nil {
		return ColumnarTable{}, engineerr.Wrap(engineerr.DatabaseError, "store.SQLiteStore", "executing diagnostic query", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return ColumnarTable{}, engineerr.Wrap(engineerr.DatabaseError, "store.SQLiteStore", "reading columns", err)
	}

	table := ColumnarTable{Columns: cols}
	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return ColumnarTable{}, engineerr.Wrap(engineerr.DatabaseError, "store.SQLiteStore", "scanning diagnostic row", err)
		}
		table.Rows = append(table.Rows, raw)
	}
	return table, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return engineerr.Wrap(engineerr.DatabaseError, "store.SQLiteStore", "closing database", err)
	}
	return nil
}

func toAnyMap(m map[string]float64) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

var _ Database = (*SQLiteStore)(nil)
