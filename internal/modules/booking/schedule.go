// README: Scheduler sweep promoting due scheduled bookings into the pending pool.
package booking

import (
	"context"
	"errors"
	"time"

	"haul/internal/observability"
)

// PromoteDue moves every scheduled booking whose time has arrived to pending.
// A booking already promoted by an earlier sweep no longer matches the
// conditional update and is skipped. One failure does not stop the sweep.
func (s *Service) PromoteDue(ctx context.Context, now time.Time) (int, error) {
	due, err := s.store.ListDueScheduled(ctx, now)
	if err != nil {
		return 0, err
	}

	promoted := 0
	for i := range due {
		b := &due[i]
		if err := s.transition(ctx, b, StatusPending, nil, DriverUnchanged); err != nil {
			if errors.Is(err, ErrInvalidState) {
				observability.ScheduledPromotions.WithLabelValues("skipped").Inc()
				continue
			}
			observability.ScheduledPromotions.WithLabelValues("failed").Inc()
			s.log.Error("promote scheduled booking", "booking_id", b.ID, "err", err)
			continue
		}
		observability.ScheduledPromotions.WithLabelValues("promoted").Inc()
		promoted++
	}
	return promoted, nil
}

// Upcoming lists scheduled bookings due within (now, now+lookahead] without
// promoting them.
func (s *Service) Upcoming(ctx context.Context, now time.Time, lookahead time.Duration) ([]Booking, error) {
	return s.store.ListUpcoming(ctx, now, now.Add(lookahead))
}

func (s *Service) RunScheduler(ctx context.Context, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.PromoteDue(ctx, s.now().UTC())
			if err != nil {
				s.log.Error("scheduler sweep", "err", err)
				continue
			}
			if n > 0 {
				s.log.Info("scheduled bookings promoted", "count", n)
			}
		}
	}
}
