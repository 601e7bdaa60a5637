package store

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantengine/types"
)

// fakeConn is a minimal Database fixture for exercising Pool's acquire/
// release/close semantics without a real backing store.
type fakeConn struct {
	closed int32
}

func (f *fakeConn) StorePositions(map[string]types.Position, string, string) error { return nil }
func (f *fakeConn) StoreExecutions([]types.ExecutionReport, string) error          { return nil }
func (f *fakeConn) StoreSignals(map[string]float64, string, time.Time, string) error {
	return nil
}
func (f *fakeConn) StoreBacktestSummary(string, time.Time, time.Time, map[string]float64, string) error {
	return nil
}
func (f *fakeConn) StoreBacktestEquityCurveBatch(string, []types.EquityPoint, string) error {
	return nil
}
func (f *fakeConn) StoreBacktestPositions(map[string]types.Position, string, string) error {
	return nil
}
func (f *fakeConn) StoreBacktestMetadata(string, string, string, time.Time, time.Time, map[string]any, string) error {
	return nil
}
func (f *fakeConn) GetMarketData([]string, time.Time, time.Time, string, string) (ColumnarTable, error) {
	return ColumnarTable{}, nil
}
func (f *fakeConn) GetSymbols(string, string) ([]string, error)      { return nil, nil }
func (f *fakeConn) ExecuteQuery(string) (ColumnarTable, error)        { return ColumnarTable{}, nil }
func (f *fakeConn) Close() error                                      { atomic.StoreInt32(&f.closed, 1); return nil }

func TestPoolAcquireReleaseRoundTrips(t *testing.T) {
	p := NewPool([]Database{&fakeConn{}, &fakeConn{}})
	assert.Equal(t, 2, p.Size())

	conn, err := p.Acquire()
	require.NoError(t, err)
	p.Release(conn)

	conn2, err := p.Acquire()
	require.NoError(t, err)
	assert.NotNil(t, conn2)
}

func TestPoolAcquireBlocksUntilRelease(t *testing.T) {
	p := NewPool([]Database{&fakeConn{}})
	conn, err := p.Acquire()
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	acquired := make(chan struct{})
	go func() {
		defer wg.Done()
		_, err := p.Acquire()
		assert.NoError(t, err)
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second Acquire should have blocked while the only connection is held")
	case <-time.After(50 * time.Millisecond):
	}

	p.Release(conn)
	wg.Wait()
}

func TestPoolWithGuaranteesRelease(t *testing.T) {
	p := NewPool([]Database{&fakeConn{}})
	err := p.With(func(Database) error { return nil })
	require.NoError(t, err)

	// Released back, so a second acquire must not block.
	conn, err := p.Acquire()
	require.NoError(t, err)
	p.Release(conn)
}

func TestPoolCloseWakesBlockedAcquireWithError(t *testing.T) {
	p := NewPool([]Database{&fakeConn{}})
	conn, err := p.Acquire()
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := p.Acquire()
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, p.Close())
	p.Release(conn) // dropped silently since the pool is closed

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("blocked Acquire was not woken by Close")
	}
}
