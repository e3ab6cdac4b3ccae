package service

import (
	"context"
	"time"

	"live_spaces/pkg/logger"
)

// RunExpirySweeper ends stale spaces every interval until ctx is done.
func RunExpirySweeper(ctx context.Context, spaces SpaceService, interval time.Duration, log logger.Logger) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := spaces.ExpireStale(ctx); err != nil && ctx.Err() == nil {
				log.Error("Expiry sweep failed", "error", err)
			}
		}
	}
}
