package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/geoskimoto/usgs-streamflow-dashboard-sub000/internal/models"
)

const scheduleColumns = `id, configuration_id, data_type, cron_expr, interval_seconds,
    enabled, last_run, next_run, run_count, created_at`

// CreateSchedule inserts a schedule and returns it with its id. NextRun must
// already be computed by the caller.
func (s *Store) CreateSchedule(ctx context.Context, sched models.Schedule) (models.Schedule, error) {
	var interval *int
	if sched.Interval > 0 {
		secs := int(sched.Interval / time.Second)
		interval = &secs
	}

	row := s.pool.QueryRow(ctx, `
INSERT INTO streamflow.schedules (configuration_id, data_type, cron_expr, interval_seconds, enabled, next_run)
VALUES ($1,$2,$3,$4,$5,$6)
RETURNING `+scheduleColumns,
		sched.ConfigurationID, sched.DataType, sched.CronExpr, interval, sched.Enabled, sched.NextRun)

	return scanSchedule(row)
}

// GetSchedule returns one schedule or ErrNotFound.
func (s *Store) GetSchedule(ctx context.Context, id int) (models.Schedule, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+scheduleColumns+` FROM streamflow.schedules WHERE id = $1`, id)
	sched, err := scanSchedule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Schedule{}, ErrNotFound
	}
	return sched, err
}

// ListSchedules returns every schedule.
func (s *Store) ListSchedules(ctx context.Context) ([]models.Schedule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+scheduleColumns+` FROM streamflow.schedules ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSchedules(rows)
}

// DueSchedules returns enabled schedules whose next_run is at or before now.
func (s *Store) DueSchedules(ctx context.Context, now time.Time) ([]models.Schedule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+scheduleColumns+` FROM streamflow.schedules WHERE enabled AND next_run <= $1 ORDER BY next_run`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSchedules(rows)
}

// UpdateScheduleNextRun persists the recomputed next_run. The scheduler
// calls this before dispatching so a slow run is never re-triggered for the
// same slot.
func (s *Store) UpdateScheduleNextRun(ctx context.Context, id int, next time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE streamflow.schedules SET next_run = $2 WHERE id = $1`, id, next)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkScheduleRun records a completed dispatch: sets last_run and bumps
// run_count.
func (s *Store) MarkScheduleRun(ctx context.Context, id int, ranAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE streamflow.schedules SET last_run = $2, run_count = run_count + 1 WHERE id = $1`, id, ranAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetScheduleEnabled toggles a schedule.
func (s *Store) SetScheduleEnabled(ctx context.Context, id int, enabled bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE streamflow.schedules SET enabled = $2 WHERE id = $1`, id, enabled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func collectSchedules(rows pgx.Rows) ([]models.Schedule, error) {
	schedules := make([]models.Schedule, 0)
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, sched)
	}
	return schedules, rows.Err()
}

func scanSchedule(row rowScanner) (models.Schedule, error) {
	var sched models.Schedule
	var interval *int
	err := row.Scan(
		&sched.ID,
		&sched.ConfigurationID,
		&sched.DataType,
		&sched.CronExpr,
		&interval,
		&sched.Enabled,
		&sched.LastRun,
		&sched.NextRun,
		&sched.RunCount,
		&sched.CreatedAt,
	)
	if interval != nil {
		sched.Interval = time.Duration(*interval) * time.Second
	}
	return sched, err
}
