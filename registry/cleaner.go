package registry

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// StartCleaner launches a background goroutine that periodically drops records
// older than maxAge. It returns immediately when maxAge is zero (the default: keep forever).
func StartCleaner(ctx context.Context, reg *Registry, maxAge, interval time.Duration, logger *zap.Logger) {
	if maxAge <= 0 {
		return
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := reg.Sweep(maxAge); n > 0 {
					logger.Info("retention sweep", zap.Int("removed", n), zap.Int("remaining", reg.Len()))
				}
			}
		}
	}()
}
