// Package store defines the abstract persistence boundary and a concrete
// modernc.org/sqlite-backed reference implementation: plain SQL over
// database/sql, CREATE TABLE IF NOT EXISTS at construction, timestamps
// scanned by the driver directly into time.Time.
package store

import (
	"encoding/json"
	"time"

	"quantengine/engineerr"
	"quantengine/types"
)

// ColumnarTable is the engine's generic query result shape: the column
// names plus row-major values. Every query returns this typed result
// rather than a driver-specific rows cursor, so errors never cross the
// boundary as a native driver panic.
type ColumnarTable struct {
	Columns []string
	Rows    [][]any
}

// Database is the abstract persistence boundary the engine is coded
// against. Implementations never panic or return a native driver error
// across this boundary; every failure is an *engineerr.Error with Kind
// DatabaseError or NotConnected.
type Database interface {
	StorePositions(positions map[string]types.Position, strategyID, table string) error
	StoreExecutions(execs []types.ExecutionReport, table string) error
	StoreSignals(signals map[string]float64, strategyID string, ts time.Time, table string) error
	StoreBacktestSummary(runID string, start, end time.Time, metrics map[string]float64, table string) error
	StoreBacktestEquityCurveBatch(runID string, points []types.EquityPoint, table string) error
	StoreBacktestPositions(positions map[string]types.Position, runID, table string) error
	StoreBacktestMetadata(runID, name, description string, start, end time.Time, hyperparams map[string]any, table string) error
	GetMarketData(symbols []string, start, end time.Time, assetClass, freq string) (ColumnarTable, error)
	GetSymbols(assetClass, freq string) ([]string, error)
	ExecuteQuery(sql string) (ColumnarTable, error)
	Close() error
}

// RunID builds the run identifier: "<strategy_id>_YYYYMMDD_HHMMSS_mmm"
// in UTC.
func RunID(strategyID string, at time.Time) string {
	u := at.UTC()
	return strategyID + "_" + u.Format("20060102_150405") + "_" +
		padMillis(u.Nanosecond()/1_000_000)
}

func padMillis(ms int) string {
	s := itoa3(ms)
	return s
}

func itoa3(n int) string {
	digits := [3]byte{'0', '0', '0'}
	for i := 2; i >= 0 && n > 0; i-- {
		digits[i] = byte('0' + n%10)
		n /= 10
	}
	return string(digits[:])
}

func marshalHyperparams(hp map[string]any) (string, error) {
	data, err := json.Marshal(hp)
	if err != nil {
		return "", engineerr.Wrap(engineerr.DatabaseError, "store", "marshaling hyperparams", err)
	}
	return string(data), nil
}
