package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	_ "github.com/lib/pq" // postgres driver
)

// PoolConfig bounds the connection pool.
type PoolConfig struct {
	DSN            string
	MaxConns       int
	MinConns       int
	AcquireTimeout time.Duration
	ConnLifetime   time.Duration
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.MaxConns <= 0 {
		c.MaxConns = 20
	}
	if c.MinConns <= 0 {
		c.MinConns = 1
	}
	if c.MinConns > c.MaxConns {
		c.MinConns = c.MaxConns
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 5 * time.Second
	}
	if c.ConnLifetime <= 0 {
		c.ConnLifetime = 30 * time.Minute
	}
	return c
}

// Pool hands out connections from a bounded set of Postgres connections.
// Every Acquire must be paired with a Release; WithConn and WithTx do that.
type Pool struct {
	db             *sql.DB
	acquireTimeout time.Duration
	closed         atomic.Bool
}

// OpenPool connects to Postgres, bounds the pool and warms MinConns connections.
// A failed connection is returned as an error and must be treated as fatal.
func OpenPool(ctx context.Context, cfg PoolConfig) (*Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("open pool: %w: empty DSN", ErrNotConfigured)
	}
	cfg = cfg.withDefaults()

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	p := newPool(db, cfg)
	if err := p.warm(ctx, cfg.MinConns); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return p, nil
}

// NewPoolFromDB wraps an already opened handle. Used by tests and tools that
// own the *sql.DB themselves.
func NewPoolFromDB(db *sql.DB, cfg PoolConfig) *Pool {
	return newPool(db, cfg.withDefaults())
}

func newPool(db *sql.DB, cfg PoolConfig) *Pool {
	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MaxConns)
	db.SetConnMaxLifetime(cfg.ConnLifetime)
	return &Pool{db: db, acquireTimeout: cfg.AcquireTimeout}
}

// warm opens n connections up front so the first requests do not pay for the dial.
func (p *Pool) warm(ctx context.Context, n int) error {
	conns := make([]*sql.Conn, 0, n)
	defer func() {
		for _, c := range conns {
			p.Release(c)
		}
	}()
	for i := 0; i < n; i++ {
		c, err := p.Acquire(ctx)
		if err != nil {
			return err
		}
		conns = append(conns, c)
		if err := c.PingContext(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Acquire blocks until a connection is free. It fails with ErrPoolExhausted
// when every connection stays in use for the acquire timeout, and with
// ErrTransient when the timeout was spent dialing.
func (p *Pool) Acquire(ctx context.Context) (*sql.Conn, error) {
	if p == nil || p.db == nil || p.closed.Load() {
		return nil, ErrNotConfigured
	}

	acquireCtx, cancel := context.WithTimeout(ctx, p.acquireTimeout)
	defer cancel()

	conn, err := p.db.Conn(acquireCtx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, p.acquireTimeoutError()
		}
		if p.closed.Load() {
			return nil, ErrNotConfigured
		}
		return nil, classify("acquire connection", err)
	}
	return conn, nil
}

// acquireTimeoutError tells a saturated pool apart from a server that could
// not be reached in time.
func (p *Pool) acquireTimeoutError() error {
	stats := p.db.Stats()
	if stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections {
		return fmt.Errorf("%w: no connection within %s", ErrPoolExhausted, p.acquireTimeout)
	}
	return fmt.Errorf("%w: could not connect within %s (%d open)", ErrTransient, p.acquireTimeout, stats.OpenConnections)
}

// Release returns conn to the pool.
func (p *Pool) Release(conn *sql.Conn) {
	if conn == nil {
		return
	}
	if err := conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		slog.Warn("failed to release connection", "error", err)
	}
}

// WithConn runs fn on one pooled connection and always releases it.
func (p *Pool) WithConn(ctx context.Context, fn func(conn *sql.Conn) error) error {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(conn)
	return fn(conn)
}

// WithTx runs fn inside a transaction on one pooled connection. The
// transaction is committed when fn returns nil and rolled back otherwise.
func (p *Pool) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return p.WithConn(ctx, func(conn *sql.Conn) error {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		if err := fn(tx); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				slog.Warn("failed to roll back transaction", "error", rbErr)
			}
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit transaction: %w", err)
		}
		return nil
	})
}

// Ping verifies database connectivity.
func (p *Pool) Ping(ctx context.Context) error {
	return p.WithConn(ctx, func(conn *sql.Conn) error {
		return conn.PingContext(ctx)
	})
}

// Stats returns pool statistics.
func (p *Pool) Stats() sql.DBStats {
	if p == nil || p.db == nil {
		return sql.DBStats{}
	}
	return p.db.Stats()
}

// Close drains the pool. Later calls to Acquire fail with ErrNotConfigured.
func (p *Pool) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := p.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
