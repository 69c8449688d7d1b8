// Package maintenance runs periodic housekeeping against the store.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	appLog "churchcal/internal/log"
	"churchcal/internal/metrics"
)

// Purger is the store capability the purge job needs.
type Purger interface {
	PurgeExceptionsBefore(ctx context.Context, t time.Time) (int64, error)
}

// Scheduler purges exceptions older than the retention period on a cron
// schedule.
type Scheduler struct {
	store     Purger
	retention time.Duration
	loc       *time.Location
	now       func() time.Time

	cron *cron.Cron
}

// New validates spec (standard 5-field cron) and returns a stopped
// scheduler.
func New(st Purger, spec string, retentionDays int, loc *time.Location) (*Scheduler, error) {
	if loc == nil {
		loc = time.UTC
	}
	if retentionDays <= 0 {
		return nil, fmt.Errorf("maintenance: retention must be positive, got %d days", retentionDays)
	}
	s := &Scheduler{
		store:     st,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		loc:       loc,
		now:       time.Now,
		cron:      cron.New(cron.WithLocation(loc)),
	}
	if _, err := s.cron.AddFunc(spec, s.runScheduled); err != nil {
		return nil, fmt.Errorf("maintenance: bad cron spec %q: %w", spec, err)
	}
	return s, nil
}

// Start runs the schedule in the background until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.cron.Start()
	appLog.Info("maintenance scheduler started", "retention_days", int(s.retention.Hours()/24))
	go func() {
		<-ctx.Done()
		<-s.cron.Stop().Done()
		appLog.Info("maintenance scheduler stopped")
	}()
}

func (s *Scheduler) runScheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if _, err := s.PurgeExceptions(ctx); err != nil {
		appLog.Error("exception purge failed", err)
	}
}

// PurgeExceptions removes exceptions dated before local midnight of
// now - retention.
func (s *Scheduler) PurgeExceptions(ctx context.Context) (int64, error) {
	cut := s.now().In(s.loc).Add(-s.retention)
	cutoff := time.Date(cut.Year(), cut.Month(), cut.Day(), 0, 0, 0, 0, s.loc)

	n, err := s.store.PurgeExceptionsBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	metrics.ExceptionsPurged.Add(float64(n))
	appLog.Info("exceptions purged", "count", n, "before", cutoff.Format(time.DateOnly))
	return n, nil
}
