package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func newMockPool(t *testing.T, cfg PoolConfig) (*Pool, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewPoolFromDB(db, cfg), mock
}

func TestPoolAcquireTimesOutWhenExhausted(t *testing.T) {
	pool, _ := newMockPool(t, PoolConfig{MaxConns: 1, AcquireTimeout: 50 * time.Millisecond})

	held, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}

	_, err = pool.Acquire(context.Background())
	if !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("expected ErrPoolExhausted, got %v", err)
	}
	if !IsRetryable(err) {
		t.Fatal("pool exhaustion should be retryable")
	}

	pool.Release(held)

	again, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire after release failed: %v", err)
	}
	pool.Release(again)
}

func TestPoolWithConnReleasesOnError(t *testing.T) {
	pool, _ := newMockPool(t, PoolConfig{MaxConns: 1, AcquireTimeout: 50 * time.Millisecond})
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		err := pool.WithConn(context.Background(), func(*sql.Conn) error { return boom })
		if !errors.Is(err, boom) {
			t.Fatalf("iteration %d: expected boom, got %v", i, err)
		}
	}

	if inUse := pool.Stats().InUse; inUse != 0 {
		t.Fatalf("expected no connections in use, got %d", inUse)
	}
}

func TestPoolWithTxRollsBackOnError(t *testing.T) {
	pool, mock := newMockPool(t, PoolConfig{})
	mock.ExpectBegin()
	mock.ExpectRollback()

	err := pool.WithTx(context.Background(), func(*sql.Tx) error { return errors.New("fail") })
	if err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPoolWithTxCommits(t *testing.T) {
	pool, mock := newMockPool(t, PoolConfig{})
	mock.ExpectBegin()
	mock.ExpectCommit()

	if err := pool.WithTx(context.Background(), func(*sql.Tx) error { return nil }); err != nil {
		t.Fatalf("WithTx failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPoolClosedIsNotConfigured(t *testing.T) {
	pool, mock := newMockPool(t, PoolConfig{})
	mock.ExpectClose()

	if err := pool.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := pool.Acquire(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured after close, got %v", err)
	}
	if err := pool.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got %v", err)
	}
}

func TestNilPoolIsNotConfigured(t *testing.T) {
	var pool *Pool
	if _, err := pool.Acquire(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if _, err := OpenPool(context.Background(), PoolConfig{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured for empty DSN, got %v", err)
	}
	if _, err := NewUsers(nil); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured for nil registry pool, got %v", err)
	}
	if _, err := NewConversations(nil); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured for nil conversation pool, got %v", err)
	}
}

func TestPoolConfigDefaults(t *testing.T) {
	cfg := PoolConfig{MinConns: 50, MaxConns: 0}.withDefaults()
	if cfg.MaxConns != 20 {
		t.Errorf("expected default max 20, got %d", cfg.MaxConns)
	}
	if cfg.MinConns != 20 {
		t.Errorf("expected min clamped to max, got %d", cfg.MinConns)
	}
	if cfg.AcquireTimeout != 5*time.Second {
		t.Errorf("expected 5s acquire timeout, got %v", cfg.AcquireTimeout)
	}
}

func TestPoolAcquireTimeoutWithIdleSlotsIsNotExhaustion(t *testing.T) {
	pool, _ := newMockPool(t, PoolConfig{MaxConns: 2, AcquireTimeout: 50 * time.Millisecond})

	err := pool.acquireTimeoutError()
	if errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("a timeout with free slots must not report exhaustion, got %v", err)
	}
	if !errors.Is(err, ErrTransient) || IsRetryable(err) {
		t.Fatalf("expected non-retryable ErrTransient, got %v", err)
	}

	held, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer pool.Release(held)
	other, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer pool.Release(other)

	if err := pool.acquireTimeoutError(); !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("expected ErrPoolExhausted with every slot in use, got %v", err)
	}
}
