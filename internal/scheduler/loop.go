package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Every calls fn on each tick of interval until ctx is done. Errors are
// logged and the loop keeps going.
func Every(ctx context.Context, interval time.Duration, logger *zap.Logger, name string, fn func(context.Context) error) {
	if interval <= 0 {
		logger.Info("scheduler disabled", zap.String("job", name))
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				logger.Error("scheduled job failed", zap.String("job", name), zap.Error(err))
			}
		}
	}
}
