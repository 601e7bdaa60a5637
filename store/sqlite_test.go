package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantengine/types"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStorePositionsUpsertsOnConflict(t *testing.T) {
	s := openTestStore(t)
	pos := map[string]types.Position{
		"ES": {Symbol: "ES", Quantity: decimal.NewFromInt(10), AveragePrice: decimal.NewFromInt(100), LastUpdate: time.Now()},
	}
	require.NoError(t, s.StorePositions(pos, "strat1", ""))

	pos["ES"] = types.Position{Symbol: "ES", Quantity: decimal.NewFromInt(20), AveragePrice: decimal.NewFromInt(110), LastUpdate: time.Now()}
	require.NoError(t, s.StorePositions(pos, "strat1", ""))

	table, err := s.ExecuteQuery("SELECT quantity FROM positions WHERE strategy_id='strat1' AND symbol='ES'")
	require.NoError(t, err)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, 20.0, table.Rows[0][0])
}

func TestStoreExecutionsAppendsRows(t *testing.T) {
	s := openTestStore(t)
	execs := []types.ExecutionReport{
		{OrderID: "o1", ExecID: "e1", Symbol: "ES", Side: types.SideBuy, FilledQty: decimal.NewFromInt(10), FillPrice: decimal.NewFromInt(100), FillTime: time.Now()},
	}
	require.NoError(t, s.StoreExecutions(execs, ""))

	table, err := s.ExecuteQuery("SELECT exec_id FROM executions")
	require.NoError(t, err)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, "e1", table.Rows[0][0])
}

func TestStoreAndGetMarketDataRoundTrips(t *testing.T) {
	s := openTestStore(t)
	_, err := s.db.Exec(`INSERT INTO market_data (symbol, asset_class, freq, ts, open, high, low, close, volume)
		VALUES ('ES', 'future', '1d', '2024-01-01 00:00:00', 100, 105, 95, 102, 1000)`)
	require.NoError(t, err)

	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	table, err := s.GetMarketData([]string{"ES"}, start, end, "future", "1d")
	require.NoError(t, err)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, "ES", table.Rows[0][0])
}

func TestGetSymbolsReturnsDistinctSymbols(t *testing.T) {
	s := openTestStore(t)
	_, err := s.db.Exec(`INSERT INTO market_data (symbol, asset_class, freq, ts, open, high, low, close, volume)
		VALUES ('ES', 'future', '1d', '2024-01-01 00:00:00', 1,1,1,1,1)`)
	require.NoError(t, err)
	_, err = s.db.Exec(`INSERT INTO market_data (symbol, asset_class, freq, ts, open, high, low, close, volume)
		VALUES ('ES', 'future', '1d', '2024-01-02 00:00:00', 1,1,1,1,1)`)
	require.NoError(t, err)

	symbols, err := s.GetSymbols("future", "1d")
	require.NoError(t, err)
	assert.Equal(t, []string{"ES"}, symbols)
}

func TestStoreBacktestSummaryAndMetadataRoundTrip(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()
	require.NoError(t, s.StoreBacktestSummary("run1", now, now, map[string]float64{"sharpe": 1.5}, ""))
	require.NoError(t, s.StoreBacktestMetadata("run1", "trend-v1", "", now, now, map[string]any{"window": 20}, ""))

	table, err := s.ExecuteQuery("SELECT run_id FROM backtest_summary")
	require.NoError(t, err)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, "run1", table.Rows[0][0])
}

func TestStoreBacktestEquityCurveBatchAppendsAllPoints(t *testing.T) {
	s := openTestStore(t)
	points := []types.EquityPoint{
		{Timestamp: time.Now(), Equity: decimal.NewFromInt(1000)},
		{Timestamp: time.Now().Add(time.Minute), Equity: decimal.NewFromInt(1010)},
	}
	require.NoError(t, s.StoreBacktestEquityCurveBatch("run1", points, ""))

	table, err := s.ExecuteQuery("SELECT COUNT(*) FROM backtest_equity_curve WHERE run_id='run1'")
	require.NoError(t, err)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, int64(2), table.Rows[0][0])
}

func TestRunIDFormatsStrategyAndTimestamp(t *testing.T) {
	at := time.Date(2024, 3, 5, 9, 30, 1, 123_000_000, time.UTC)
	id := RunID("trend1", at)
	assert.Equal(t, "trend1_20240305_093001_123", id)
}
