// Package reminder surfaces time-based memories when they fall due.
package reminder

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"dev.helix.recall/internal/memory"
)

// Scheduler answers due-reminder lookups against the store. It never mutates
// state: a reminder stays due until something explicitly consumes it, so a
// crashed consumer loses nothing. Consumption is the delivering caller's job.
type Scheduler struct {
	store  memory.Store
	logger *logrus.Logger
	clock  func() time.Time
}

// NewScheduler creates a scheduler reading from the given store.
func NewScheduler(store memory.Store, logger *logrus.Logger) *Scheduler {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scheduler{
		store:  store,
		logger: logger,
		clock:  time.Now,
	}
}

// Due returns reminders for userID due at or before now, soonest first.
// Superseded and consumed reminders are excluded.
func (s *Scheduler) Due(ctx context.Context, userID string, now time.Time, limit int) ([]*memory.Item, error) {
	if now.IsZero() {
		now = s.clock()
	}
	items, err := s.store.DueReminders(ctx, userID, now, limit)
	if err != nil {
		return nil, err
	}
	due := items[:0]
	for _, it := range items {
		if !it.Superseded() {
			due = append(due, it)
		}
	}
	s.logger.WithFields(logrus.Fields{
		"user": userID,
		"due":  len(due),
	}).Debug("Due reminders looked up")
	return due, nil
}
