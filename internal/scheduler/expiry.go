package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/spellyaohui/NicePT-Helper/internal/controllers"
	"github.com/spellyaohui/NicePT-Helper/internal/metrics"
)

const (
	// expiryLead fires the timer ahead of the promotion end
	expiryLead = controllers.ExpiryLead
	// expiryMinDelay applies when the end is already close or past
	expiryMinDelay = 10 * time.Second
)

// onceSchedule fires a single time at a fixed instant
type onceSchedule struct {
	at time.Time
}

func (o onceSchedule) Next(t time.Time) time.Time {
	if t.Before(o.at) {
		return o.at
	}
	return time.Time{}
}

func expiryAt(end, now time.Time) time.Time {
	at := end.Add(-expiryLead)
	if floor := now.Add(expiryMinDelay); at.Before(floor) {
		return floor
	}
	return at
}

// ArmExpiry schedules the one-shot expiry check of a history item,
// replacing any timer already armed for it
func (s *Scheduler) ArmExpiry(historyID uint64, end time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.armLocked(historyID, end)
}

func (s *Scheduler) armLocked(historyID uint64, end time.Time) {
	if s.expiry == nil {
		return
	}
	if id, ok := s.timers[historyID]; ok {
		s.cron.Remove(id)
	}

	at := expiryAt(end, s.now())
	ctx := s.ctx
	s.timers[historyID] = s.cron.Schedule(onceSchedule{at: at}, cron.FuncJob(func() {
		s.fireExpiry(ctx, historyID)
	}))
	metrics.ExpiryTimers.Set(float64(len(s.timers)))

	s.logger.WithFields(logrus.Fields{
		"history_id": historyID,
		"fires_at":   at.Format(time.RFC3339),
	}).Debug("Expiry timer armed")
}

func (s *Scheduler) fireExpiry(ctx context.Context, historyID uint64) {
	s.mu.Lock()
	if id, ok := s.timers[historyID]; ok {
		if s.cron != nil {
			s.cron.Remove(id)
		}
		delete(s.timers, historyID)
		metrics.ExpiryTimers.Set(float64(len(s.timers)))
	}
	s.mu.Unlock()

	logger := s.logger.WithField("history_id", historyID)
	acted, err := s.expiry.HandleExpiry(ctx, historyID)
	if err != nil {
		logger.WithError(err).Error("Expiry check failed")
		return
	}
	if acted {
		logger.Info("Promotion ended, torrent handled")
	} else {
		logger.Debug("Expiry check found nothing to do")
	}
}
