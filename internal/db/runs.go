package db

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/geoskimoto/usgs-streamflow-dashboard-sub000/internal/models"
)

const runColumns = `id, configuration_id, data_type, status, attempted, successful, failed,
    triggered_by, started_at, ended_at`

// CreateRun inserts the initial running record for a collection run.
func (s *Store) CreateRun(ctx context.Context, run models.CollectionRun) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO streamflow.collection_runs
    (id, configuration_id, data_type, status, attempted, successful, failed, triggered_by, started_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		run.ID, run.ConfigurationID, run.DataType, run.Status,
		run.Attempted, run.Successful, run.Failed, run.TriggeredBy, run.StartedAt)
	return err
}

// UpdateRunCounts writes in-progress aggregate counts after each batch. The
// owning orchestrator is the only writer, so this is a plain overwrite.
func (s *Store) UpdateRunCounts(ctx context.Context, runID uuid.UUID, attempted, successful, failed int) error {
	_, err := s.pool.Exec(ctx, `
UPDATE streamflow.collection_runs
SET attempted = $2, successful = $3, failed = $4
WHERE id = $1`, runID, attempted, successful, failed)
	return err
}

// FinalizeRun records the terminal status, final counts and end time.
func (s *Store) FinalizeRun(ctx context.Context, run models.CollectionRun) error {
	_, err := s.pool.Exec(ctx, `
UPDATE streamflow.collection_runs
SET status = $2, attempted = $3, successful = $4, failed = $5, ended_at = $6
WHERE id = $1`,
		run.ID, run.Status, run.Attempted, run.Successful, run.Failed, run.EndedAt)
	return err
}

// GetRun returns one collection run or ErrNotFound.
func (s *Store) GetRun(ctx context.Context, runID uuid.UUID) (models.CollectionRun, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM streamflow.collection_runs WHERE id = $1`, runID)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.CollectionRun{}, ErrNotFound
	}
	return run, err
}

// GetRecentRuns returns the newest runs first.
func (s *Store) GetRecentRuns(ctx context.Context, limit int) ([]models.CollectionRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+runColumns+` FROM streamflow.collection_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := make([]models.CollectionRun, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RecordOutcome stores one per-station failure for a run. A duplicate for
// the same (run, station) overwrites the earlier record.
func (s *Store) RecordOutcome(ctx context.Context, o models.StationOutcome) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO streamflow.station_outcomes (run_id, site_no, error_type, message, retry_count)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (run_id, site_no) DO UPDATE
SET error_type = EXCLUDED.error_type,
    message = EXCLUDED.message,
    retry_count = EXCLUDED.retry_count`,
		o.RunID, o.SiteNo, o.ErrorType, o.Message, o.RetryCount)
	return err
}

// GetOutcomes returns the failure records for one run.
func (s *Store) GetOutcomes(ctx context.Context, runID uuid.UUID) ([]models.StationOutcome, error) {
	rows, err := s.pool.Query(ctx, `
SELECT run_id, site_no, error_type, message, retry_count, created_at
FROM streamflow.station_outcomes
WHERE run_id = $1
ORDER BY site_no`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	outcomes := make([]models.StationOutcome, 0)
	for rows.Next() {
		var o models.StationOutcome
		if err := rows.Scan(&o.RunID, &o.SiteNo, &o.ErrorType, &o.Message, &o.RetryCount, &o.CreatedAt); err != nil {
			return nil, err
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

func scanRun(row rowScanner) (models.CollectionRun, error) {
	var run models.CollectionRun
	err := row.Scan(
		&run.ID,
		&run.ConfigurationID,
		&run.DataType,
		&run.Status,
		&run.Attempted,
		&run.Successful,
		&run.Failed,
		&run.TriggeredBy,
		&run.StartedAt,
		&run.EndedAt,
	)
	return run, err
}
