// README: Wall-clock scheduler for the two daily checkpoints.
package routing

import (
	"context"
	"time"
)

// RunScheduler fires the checkpoint pipeline at the two configured hours
// until ctx is cancelled. It first runs a reconciliation pass so a process
// that was down at checkpoint time still creates the missed batch.
func (s *Service) RunScheduler(ctx context.Context) {
	s.reconcile(ctx)

	for {
		next := s.nextCheckpoint(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.runAndDispatch(ctx, next)
		}
	}
}

// reconcile processes the most recent completed window. Idempotent, so a
// clean restart right after a checkpoint is harmless, and a batch left
// pending or optimizing by a crash is finished and dispatched here.
func (s *Service) reconcile(ctx context.Context) {
	s.runAndDispatch(ctx, time.Now())
}

func (s *Service) runAndDispatch(ctx context.Context, now time.Time) {
	batch, err := s.RunCheckpoint(ctx, now)
	if err != nil {
		s.log.WithError(err).Error("checkpoint run failed")
		return
	}
	if batch == nil || batch.Status == BatchDispatched {
		return
	}
	if err := s.Dispatch(ctx, batch.ID); err != nil {
		s.log.WithError(err).WithField("batch_id", batch.ID).Error("batch dispatch failed")
	}
}

// nextCheckpoint returns the earliest configured checkpoint strictly after
// now, in the scheduler's timezone.
func (s *Service) nextCheckpoint(now time.Time) time.Time {
	now = now.In(s.loc)
	at := func(day time.Time, hour int) time.Time {
		return time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, s.loc)
	}
	if m := at(now, s.cfg.MorningHour); now.Before(m) {
		return m
	}
	if a := at(now, s.cfg.AfternoonHour); now.Before(a) {
		return a
	}
	return at(now.AddDate(0, 0, 1), s.cfg.MorningHour)
}
