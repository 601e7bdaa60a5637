package store

import (
	"sync"

	"quantengine/engineerr"
)

// Pool is a fixed-size connection pool over a Database: its size is the
// number of handles given to NewPool (there is no built-in default size),
// handles acquired per operation, released on scope exit with guaranteed
// release on all exit paths.
type Pool struct {
	mu        sync.Mutex
	available []Database
	size      int
	cond      *sync.Cond
	closed    bool
}

// NewPool wraps an already-open set of Database handles (typically all
// pointing at the same backing store) into a fixed-size pool.
func NewPool(conns []Database) *Pool {
	p := &Pool{available: conns, size: len(conns)}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Acquire blocks until a connection is available or the pool is closed.
func (p *Pool) Acquire() (Database, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.available) == 0 && !p.closed {
		p.cond.Wait()
	}
	if p.closed {
		return nil, engineerr.New(engineerr.NotConnected, "store.Pool", "pool is closed")
	}
	n := len(p.available)
	conn := p.available[n-1]
	p.available = p.available[:n-1]
	return conn, nil
}

// Release returns a connection to the pool. Safe to call even if the pool
// has since been closed (the connection is simply dropped).
func (p *Pool) Release(conn Database) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.available = append(p.available, conn)
	p.cond.Signal()
}

// With acquires a connection, runs fn, and guarantees release on every
// exit path (including a panic unwinding through fn).
func (p *Pool) With(fn func(Database) error) error {
	conn, err := p.Acquire()
	if err != nil {
		return err
	}
	defer p.Release(conn)
	return fn(conn)
}

// Close closes every pooled connection and wakes any blocked Acquire
// callers, which then observe the pool as closed.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	var firstErr error
	for _, conn := range p.available {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.available = nil
	p.cond.Broadcast()
	return firstErr
}

// Size returns the pool's fixed capacity.
func (p *Pool) Size() int { return p.size }
