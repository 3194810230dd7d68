package database

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// MaintenanceJob verifies integrity, truncates the WAL and reclaims
// free pages. Scheduled weekly; artifact blobs churn enough that the
// runs database bloats without it.
type MaintenanceJob struct {
	db  *DB
	log zerolog.Logger
}

// NewMaintenanceJob creates the weekly maintenance job for a database.
func NewMaintenanceJob(db *DB, log zerolog.Logger) *MaintenanceJob {
	return &MaintenanceJob{
		db:  db,
		log: log.With().Str("job", "db_maintenance").Logger(),
	}
}

// Name identifies the job in scheduler logs.
func (j *MaintenanceJob) Name() string { return "db_maintenance" }

// Run executes the maintenance pass.
func (j *MaintenanceJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := j.db.HealthCheck(ctx); err != nil {
		return err
	}
	if err := j.db.WALCheckpoint("TRUNCATE"); err != nil {
		return err
	}
	if err := j.db.Vacuum(); err != nil {
		return err
	}

	j.log.Info().Str("database", j.db.Name()).Msg("Maintenance complete")
	return nil
}
