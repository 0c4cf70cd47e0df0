package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/sv-explore/internal/store"
)

const (
	retryAttempts  = 3
	retryBaseDelay = 50 * time.Millisecond
)

// withRetry runs fn and retries it with exponential backoff (50ms, 100ms)
// while the store reports a retryable error: pool exhaustion, a deadlock or
// serialization failure, or a server restart. Other errors are returned at once.
func withRetry[T any](ctx context.Context, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var (
		result T
		err    error
	)
	for i := 0; i < retryAttempts; i++ {
		result, err = fn(ctx)
		if err == nil || !store.IsRetryable(err) || i == retryAttempts-1 {
			return result, err
		}

		delay := retryBaseDelay * time.Duration(1<<i)
		slog.Debug("Store busy, retrying",
			"op", op,
			"error", err,
			"attempt", i+1,
			"delay", delay)

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(delay):
		}
	}
	return result, err
}
