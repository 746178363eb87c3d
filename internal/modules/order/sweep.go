// README: Auto-release sweep. Polls for delivered orders whose dispute
// window elapsed instead of keeping per-order timers, so it survives
// process restarts.
package order

import (
	"context"
	"errors"
	"time"
)

const sweepBatchLimit = 200

// RunAutoReleaseSweep ticks until the context ends. Each tick is
// idempotent per order; one order's failure never aborts the rest.
func (s *Service) RunAutoReleaseSweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce releases every due order it can see. Exported so startup
// reconciliation and tests can drive it directly.
func (s *Service) SweepOnce(ctx context.Context) {
	due, err := s.store.ListDeliveredDue(ctx, time.Now(), sweepBatchLimit)
	if err != nil {
		s.log.WithError(err).Error("auto-release sweep query")
		return
	}
	for _, o := range due {
		if err := s.AutoRelease(ctx, o.ID); err != nil {
			// A lost race against a dispute is expected; anything else is
			// logged and the sweep moves on.
			if errors.Is(err, ErrConflict) {
				continue
			}
			s.log.WithField("order_id", o.ID).WithError(err).Error("auto-release")
		}
	}
}
