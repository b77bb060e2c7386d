package idempotency

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunSweeper deletes up to batch expired records every interval until ctx is cancelled.
func RunSweeper(ctx context.Context, store Store, interval time.Duration, batch int, logger *zap.Logger) {
	if store == nil {
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}
	if batch <= 0 {
		batch = 500
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed, err := store.CleanupExpired(ctx, now, batch)
			if err != nil {
				logger.Warn("idempotency cleanup failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Debug("idempotency records expired", zap.Int("removed", removed))
			}
		}
	}
}
