// Package runs persists evaluation results: run metadata rows in
// SQLite plus the full report as a msgpack artifact blob. The engine
// also returns every result in-memory; persistence is for later
// retrieval and comparison, never a precondition of an evaluation.
package runs

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/stratlab/internal/database"
	"github.com/aristath/stratlab/internal/domain"
)

// Kind labels what produced a run.
type Kind string

const (
	KindBacktest    Kind = "backtest"
	KindOptimize    Kind = "optimize"
	KindWalkForward Kind = "walkforward"
)

// Record is one row of run metadata. The full report lives in the
// artifact blob and is only decoded on LoadRun.
type Record struct {
	ID              string                    `json:"id"`
	Kind            Kind                      `json:"kind"`
	StrategyID      string                    `json:"strategy_id"`
	StrategyVersion string                    `json:"strategy_version"`
	CreatedAt       time.Time                 `json:"created_at"`
	PeriodStart     time.Time                 `json:"period_start"`
	PeriodEnd       time.Time                 `json:"period_end"`
	Status          domain.ValidationStatus   `json:"status"`
	CanPromote      bool                      `json:"can_promote"`
	Metrics         domain.PerformanceMetrics `json:"metrics"`
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id               TEXT PRIMARY KEY,
	kind             TEXT NOT NULL,
	strategy_id      TEXT NOT NULL,
	strategy_version TEXT NOT NULL DEFAULT '',
	created_at       INTEGER NOT NULL,
	period_start     TEXT NOT NULL,
	period_end       TEXT NOT NULL,
	status           TEXT NOT NULL DEFAULT '',
	can_promote      INTEGER NOT NULL DEFAULT 0,
	metrics          TEXT NOT NULL,
	artifact         BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
CREATE INDEX IF NOT EXISTS idx_runs_strategy ON runs(strategy_id);
`

// Repository handles run persistence.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates the repository and ensures the schema exists.
func NewRepository(db *sql.DB, log zerolog.Logger) (*Repository, error) {
	err := database.WithTransaction(db, func(tx *sql.Tx) error {
		_, err := tx.Exec(schema)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize runs schema: %w", err)
	}
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "runs").Logger(),
	}, nil
}

// SaveRun stores a report and returns the generated run id.
func (r *Repository) SaveRun(kind Kind, report *domain.BacktestReport) (string, error) {
	if report == nil {
		return "", domain.InvalidInputf("nil report")
	}

	artifact, err := msgpack.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("failed to encode run artifact: %w", err)
	}
	metricsJSON, err := json.Marshal(report.Metrics)
	if err != nil {
		return "", fmt.Errorf("failed to encode run metrics: %w", err)
	}

	id := uuid.NewString()
	_, err = r.db.Exec(`
		INSERT INTO runs (id, kind, strategy_id, strategy_version, created_at,
			period_start, period_end, status, can_promote, metrics, artifact)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, string(kind), report.StrategyID, report.StrategyVersion,
		time.Now().Unix(),
		report.Period.Start.Format(domain.DateLayout),
		report.Period.End.Format(domain.DateLayout),
		string(report.ValidationStatus),
		boolToInt(report.CanPromote),
		string(metricsJSON), artifact)
	if err != nil {
		return "", fmt.Errorf("failed to save run: %w", err)
	}

	r.log.Info().
		Str("run_id", id).
		Str("kind", string(kind)).
		Str("strategy_id", report.StrategyID).
		Msg("Run saved")
	return id, nil
}

// LoadRun decodes the stored report for a run id.
func (r *Repository) LoadRun(id string) (*domain.BacktestReport, *Record, error) {
	row := r.db.QueryRow(`
		SELECT id, kind, strategy_id, strategy_version, created_at,
			period_start, period_end, status, can_promote, metrics, artifact
		FROM runs WHERE id = ?`, id)

	rec, artifact, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil, domain.InvalidInputf("unknown run id %q", id)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load run %s: %w", id, err)
	}

	var report domain.BacktestReport
	if err := msgpack.Unmarshal(artifact, &report); err != nil {
		return nil, nil, fmt.Errorf("failed to decode artifact for run %s: %w", id, err)
	}
	return &report, rec, nil
}

// ListRuns returns run metadata, newest first. limit <= 0 lists all.
func (r *Repository) ListRuns(limit int) ([]Record, error) {
	query := `
		SELECT id, kind, strategy_id, strategy_version, created_at,
			period_start, period_end, status, can_promote, metrics, NULL
		FROM runs ORDER BY created_at DESC, id`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, _, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// DeleteRun removes a run and its artifact.
func (r *Repository) DeleteRun(id string) error {
	res, err := r.db.Exec("DELETE FROM runs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete run %s: %w", id, err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return domain.InvalidInputf("unknown run id %q", id)
	}
	return nil
}

// DeleteOlderThan removes runs created before the cutoff and returns
// how many were removed. The retention job calls this nightly.
func (r *Repository) DeleteOlderThan(cutoff time.Time) (int64, error) {
	res, err := r.db.Exec("DELETE FROM runs WHERE created_at < ?", cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired runs: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected > 0 {
		r.log.Info().Int64("deleted", affected).Msg("Expired runs removed")
	}
	return affected, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Record, []byte, error) {
	var (
		rec         Record
		kind        string
		createdAt   int64
		start, end  string
		status      string
		canPromote  int
		metricsJSON string
		artifact    []byte
	)
	err := row.Scan(&rec.ID, &kind, &rec.StrategyID, &rec.StrategyVersion,
		&createdAt, &start, &end, &status, &canPromote, &metricsJSON, &artifact)
	if err != nil {
		return nil, nil, err
	}

	rec.Kind = Kind(kind)
	rec.CreatedAt = time.Unix(createdAt, 0).UTC()
	rec.Status = domain.ValidationStatus(status)
	rec.CanPromote = canPromote != 0
	if rec.PeriodStart, err = time.Parse(domain.DateLayout, start); err != nil {
		return nil, nil, fmt.Errorf("corrupt period_start %q: %w", start, err)
	}
	if rec.PeriodEnd, err = time.Parse(domain.DateLayout, end); err != nil {
		return nil, nil, fmt.Errorf("corrupt period_end %q: %w", end, err)
	}
	if err := json.Unmarshal([]byte(metricsJSON), &rec.Metrics); err != nil {
		return nil, nil, fmt.Errorf("corrupt metrics for run %s: %w", rec.ID, err)
	}
	return &rec, artifact, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
