package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/sv-explore/internal/store"
)

const sweepInterval = 5 * time.Minute

// StartIdleSweeper runs a background goroutine that periodically marks
// visitors inactive for longer than idleAfter as Idle. It stops when ctx is done.
func StartIdleSweeper(ctx context.Context, users store.UserRegistry, idleAfter time.Duration) {
	startIdleSweeper(ctx, users, idleAfter, sweepInterval, time.Now)
}

func startIdleSweeper(ctx context.Context, users store.UserRegistry, idleAfter, interval time.Duration, now func() time.Time) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Idle sweeper started", "interval", interval, "idle_after", idleAfter)

		for {
			select {
			case <-ticker.C:
				sweepIdle(ctx, users, now().Add(-idleAfter))
			case <-ctx.Done():
				slog.Info("Idle sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweepIdle(ctx context.Context, users store.UserRegistry, cutoff time.Time) {
	n, err := withRetry(ctx, "mark idle", func(ctx context.Context) (int64, error) {
		return users.MarkIdle(ctx, cutoff)
	})
	if err != nil {
		if ctx.Err() != nil {
			slog.Debug("Idle sweep canceled", "error", err)
			return
		}
		slog.Error("Idle sweep failed", "error", err)
		return
	}
	if n > 0 {
		slog.Info("Idle sweep marked users idle", "count", n, "cutoff", cutoff)
	}
}
