package runs

import (
	"time"

	"github.com/rs/zerolog"
)

// RetentionJob deletes runs older than the retention window. Wired
// into the cron scheduler at startup when RUN_RETENTION_DAYS > 0.
type RetentionJob struct {
	repo          *Repository
	retentionDays int
	log           zerolog.Logger
}

// NewRetentionJob creates the cleanup job.
func NewRetentionJob(repo *Repository, retentionDays int, log zerolog.Logger) *RetentionJob {
	return &RetentionJob{
		repo:          repo,
		retentionDays: retentionDays,
		log:           log.With().Str("job", "run_retention").Logger(),
	}
}

// Name identifies the job in scheduler logs.
func (j *RetentionJob) Name() string { return "run_retention" }

// Run removes expired runs.
func (j *RetentionJob) Run() error {
	if j.retentionDays <= 0 {
		return nil
	}
	cutoff := time.Now().AddDate(0, 0, -j.retentionDays)
	deleted, err := j.repo.DeleteOlderThan(cutoff)
	if err != nil {
		return err
	}
	j.log.Info().
		Int64("deleted", deleted).
		Str("cutoff", cutoff.Format(time.RFC3339)).
		Msg("Retention cleanup complete")
	return nil
}
