package scheduler

import (
	"context"
	"log/slog"
	"time"

	grantDatamodel "github.com/nandasafiqal/access-grant-management/internal/core/datamodel/grant"
	"github.com/nandasafiqal/access-grant-management/internal/grant"
)

// GrantStore is the slice of the grant repository the sweeper needs.
type GrantStore interface {
	ListActive() ([]*grantDatamodel.Grant, error)
	AdvanceMilestone(grantID string, from *string, to string, at time.Time) (bool, error)
}

// Lifecycle is the expiry entry point on the grant service.
type Lifecycle interface {
	ExpireGrant(ctx context.Context, grantID string) error
}

// Notifier sends milestone notifications; satisfied by the notification
// dispatcher.
type Notifier interface {
	NotifyMilestone(ctx context.Context, templateType string, g *grant.Grant) error
}

type SweepStats struct {
	Scanned  int
	Notified int
	Expired  int
	Errors   int
}

// Scheduler periodically sweeps active grants, expires the overdue ones and
// sends countdown notifications. Every grant is handled independently; one
// failure never stops the sweep, and the milestone marker only advances after
// a successful send so a failed notification is retried next interval.
type Scheduler struct {
	store     GrantStore
	lifecycle Lifecycle
	notifier  Notifier
	clock     grant.Clock
	interval  time.Duration
	logger    *slog.Logger
}

func New(store GrantStore, lifecycle Lifecycle, notifier Notifier, clock grant.Clock, interval time.Duration, logger *slog.Logger) *Scheduler {
	if clock == nil {
		clock = grant.SystemClock{}
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{
		store:     store,
		lifecycle: lifecycle,
		notifier:  notifier,
		clock:     clock,
		interval:  interval,
		logger:    logger,
	}
}

// Run sweeps once immediately, then on every tick until the context ends.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("expiry scheduler started", "interval", s.interval)

	s.Sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("expiry scheduler stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep walks every active grant once. A grant whose expiry has passed is
// expired through the lifecycle service; otherwise, if it entered a countdown
// milestone it has not been notified for, the notification is sent and the
// marker advanced. Markers never move backwards, so a grant that skipped
// several milestones (downtime, clock jumps) gets one notification for the
// bucket it is in now, not a backlog.
func (s *Scheduler) Sweep(ctx context.Context) SweepStats {
	var stats SweepStats

	rows, err := s.store.ListActive()
	if err != nil {
		s.logger.Error("sweep aborted, cannot list active grants", "error", err)
		stats.Errors++
		return stats
	}

	now := s.clock.Now()
	for _, dm := range rows {
		stats.Scanned++

		g := grant.FromDataModel(dm)
		if g.ExpiresAt == nil {
			s.logger.Error("active grant without expiry, skipping", "grant_id", g.ID)
			stats.Errors++
			continue
		}

		milestone, ok := grant.MilestoneAt(*g.ExpiresAt, now)
		if !ok {
			continue
		}

		if milestone == grant.NotifyExpired {
			if err := s.lifecycle.ExpireGrant(ctx, g.ID); err != nil {
				s.logger.Error("failed to expire grant", "error", err, "grant_id", g.ID)
				stats.Errors++
				continue
			}
			stats.Expired++
			continue
		}

		if grant.MilestoneRank(g.LastNotifiedType) >= grant.MilestoneRank(&milestone) {
			continue
		}

		if err := s.notifier.NotifyMilestone(ctx, milestone, g); err != nil {
			// Marker untouched: the next sweep retries this milestone.
			s.logger.Error("milestone notification failed",
				"error", err, "grant_id", g.ID, "milestone", milestone)
			stats.Errors++
			continue
		}

		advanced, err := s.store.AdvanceMilestone(g.ID, g.LastNotifiedType, milestone, now)
		if err != nil {
			s.logger.Error("failed to advance milestone marker",
				"error", err, "grant_id", g.ID, "milestone", milestone)
			stats.Errors++
			continue
		}
		if !advanced {
			// A concurrent sweep got here first; the duplicate send is the
			// accepted cost of notifying before marking.
			s.logger.Debug("milestone already advanced elsewhere",
				"grant_id", g.ID, "milestone", milestone)
			continue
		}
		stats.Notified++
	}

	s.logger.Info("sweep finished",
		"scanned", stats.Scanned,
		"notified", stats.Notified,
		"expired", stats.Expired,
		"errors", stats.Errors)
	return stats
}
