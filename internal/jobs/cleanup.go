package jobs

import (
	"context"
	"log/slog"
	"time"

	"webtrack/internal/sessions"
)

// CleanupJobName identifies the session retention job.
const CleanupJobName = "session_cleanup"

// CleanupJob removes sessions whose entry time falls outside the retention period.
type CleanupJob struct {
	store         sessions.Store
	logger        *slog.Logger
	retentionDays int
	now           func() time.Time
}

func NewCleanupJob(store sessions.Store, logger *slog.Logger, retentionDays int) *CleanupJob {
	return &CleanupJob{
		store:         store,
		logger:        logger,
		retentionDays: retentionDays,
		now:           time.Now,
	}
}

// Job adapts the cleanup to the scheduler. A retention of zero disables it.
func (j *CleanupJob) Job(interval time.Duration) Job {
	if j.retentionDays <= 0 {
		return Job{Name: CleanupJobName}
	}
	return Job{Name: CleanupJobName, Interval: interval, Run: j.Run}
}

// Run deletes sessions older than the retention period. Aggregates over the
// removed range shrink accordingly.
func (j *CleanupJob) Run(ctx context.Context) error {
	if j.retentionDays <= 0 {
		return nil
	}

	cutoff := j.now().AddDate(0, 0, -j.retentionDays)
	j.logger.Info("Starting cleanup of old sessions",
		slog.Int("retention_days", j.retentionDays),
		slog.Time("cutoff_date", cutoff))

	deleted, err := j.store.DeleteOlderThan(ctx, cutoff.UnixMilli())
	if err != nil {
		j.logger.Error("Failed to delete old sessions", slog.Any("error", err))
		return err
	}

	if deleted == 0 {
		j.logger.Debug("No old sessions to clean up")
		return nil
	}

	j.logger.Info("Cleaned up old sessions",
		slog.Int64("deleted_count", deleted),
		slog.Int("retention_days", j.retentionDays))
	return nil
}
