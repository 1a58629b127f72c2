package escalation

import (
	"context"
	"log/slog"
	"time"
)

// StartSweeper runs a background goroutine that periodically expires
// pending requests whose timeout window has elapsed. Overlapping or
// repeated ticks are harmless: Expire's compare-and-set is the sole
// transition authority, so nothing is double-broadcast.
func StartSweeper(ctx context.Context, svc *Service, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Timeout sweeper started", "interval", interval)

		for {
			select {
			case <-ticker.C:
				swept, err := svc.SweepExpired(ctx)
				if err != nil {
					slog.Error("Timeout sweep failed, will retry next tick", "error", err)
					continue
				}
				if swept > 0 {
					slog.Info("Timeout sweep completed", "expired", swept)
				}
			case <-ctx.Done():
				slog.Info("Timeout sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}
