package db

import (
	"context"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/geoskimoto/usgs-streamflow-dashboard-sub000/internal/models"
	"github.com/geoskimoto/usgs-streamflow-dashboard-sub000/internal/nwis"
)

// LatestChunkEnds returns each station's watermark: the greatest stored
// end_date across its chunks. Stations with no stored chunk are absent from
// the map.
func (s *Store) LatestChunkEnds(ctx context.Context, siteNos []string) (map[string]time.Time, error) {
	result := make(map[string]time.Time, len(siteNos))
	if len(siteNos) == 0 {
		return result, nil
	}

	rows, err := s.pool.Query(ctx, `
SELECT DISTINCT ON (site_no) site_no, end_date
FROM streamflow.chunks
WHERE site_no = ANY($1)
ORDER BY site_no, end_date DESC`, siteNos)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var siteNo string
		var end time.Time
		if err := rows.Scan(&siteNo, &end); err != nil {
			return nil, err
		}
		result[siteNo] = end
	}

	return result, rows.Err()
}

// UpsertChunk stores one fetched range of daily values. Re-invoking with the
// same (site_no, start_date, end_date) key touches only last_updated; point
// rows conflict-skip so stored values never change. Chunk metadata and point
// rows commit in one transaction.
func (s *Store) UpsertChunk(ctx context.Context, siteNo string, points []nwis.Point, startDate, endDate time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
INSERT INTO streamflow.chunks (site_no, start_date, end_date, point_count, last_updated)
VALUES ($1,$2,$3,$4,NOW())
ON CONFLICT (site_no, start_date, end_date) DO UPDATE
SET last_updated = NOW()`, siteNo, startDate, endDate, len(points)); err != nil {
		return err
	}

	if len(points) > 0 {
		batch := &pgx.Batch{}
		query := `INSERT INTO streamflow.daily_values (site_no, date, value)
VALUES ($1,$2,$3)
ON CONFLICT (site_no, date) DO NOTHING`
		for _, p := range points {
			batch.Queue(query, siteNo, p.Timestamp, p.Value)
		}

		res := tx.SendBatch(ctx, batch)
		for range points {
			if _, err := res.Exec(); err != nil {
				res.Close()
				return err
			}
		}
		if err := res.Close(); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// UpsertRealtimeSamples point-upserts instantaneous observations, silently
// ignoring timestamps already stored.
func (s *Store) UpsertRealtimeSamples(ctx context.Context, siteNo string, points []nwis.Point) error {
	if len(points) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `INSERT INTO streamflow.realtime_samples (site_no, ts, value)
VALUES ($1,$2,$3)
ON CONFLICT (site_no, ts) DO NOTHING`
	for _, p := range points {
		batch.Queue(query, siteNo, p.Timestamp, p.Value)
	}

	res := s.pool.SendBatch(ctx, batch)
	defer res.Close()

	for range points {
		if _, err := res.Exec(); err != nil {
			return err
		}
	}

	return nil
}

// PruneRealtimeSamples drops samples older than the cutoff and returns the
// number removed. Historical chunks are untouched.
func (s *Store) PruneRealtimeSamples(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM streamflow.realtime_samples WHERE ts < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DailyValueQuery filters GetDailyValues.
type DailyValueQuery struct {
	SiteNo string
	Since  *time.Time
	Until  *time.Time
	Limit  int
}

// GetDailyValues returns stored daily observations for one station in
// ascending date order.
func (s *Store) GetDailyValues(ctx context.Context, q DailyValueQuery) ([]models.DailyValue, error) {
	sql := `SELECT site_no, date, value FROM streamflow.daily_values WHERE site_no = $1`
	args := []any{q.SiteNo}
	argPos := 2

	if q.Since != nil {
		sql += " AND date >= $" + strconv.Itoa(argPos)
		args = append(args, *q.Since)
		argPos++
	}
	if q.Until != nil {
		sql += " AND date <= $" + strconv.Itoa(argPos)
		args = append(args, *q.Until)
		argPos++
	}
	sql += " ORDER BY date"
	if q.Limit > 0 {
		sql += " LIMIT $" + strconv.Itoa(argPos)
		args = append(args, q.Limit)
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := make([]models.DailyValue, 0)
	for rows.Next() {
		var v models.DailyValue
		if err := rows.Scan(&v.SiteNo, &v.Date, &v.Value); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// GetRecentSamples returns realtime samples for one station within the
// trailing window, newest first.
func (s *Store) GetRecentSamples(ctx context.Context, siteNo string, since time.Time, limit int) ([]models.RealtimeSample, error) {
	sql := `SELECT site_no, ts, value FROM streamflow.realtime_samples
WHERE site_no = $1 AND ts >= $2
ORDER BY ts DESC`
	args := []any{siteNo, since}
	if limit > 0 {
		sql += " LIMIT $3"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	samples := make([]models.RealtimeSample, 0)
	for rows.Next() {
		var sm models.RealtimeSample
		if err := rows.Scan(&sm.SiteNo, &sm.Timestamp, &sm.Value); err != nil {
			return nil, err
		}
		samples = append(samples, sm)
	}
	return samples, rows.Err()
}

// DataSummary aggregates stored chunk and daily-value metadata for one
// station, the raw material for the enrichment pass.
type DataSummary struct {
	MinYear       int
	MaxYear       int
	DistinctYears int
	LastDataDate  *time.Time
}

const dataSummarySQL = `
SELECT
  COALESCE(MIN(EXTRACT(YEAR FROM date))::int, 0),
  COALESCE(MAX(EXTRACT(YEAR FROM date))::int, 0),
  COUNT(DISTINCT EXTRACT(YEAR FROM date))::int,
  MAX(date)
FROM streamflow.daily_values
WHERE site_no = $1
`

// StationDataSummary reads the stored observation summary for one station.
func (s *Store) StationDataSummary(ctx context.Context, siteNo string) (DataSummary, error) {
	var sum DataSummary
	row := s.pool.QueryRow(ctx, dataSummarySQL, siteNo)
	if err := row.Scan(&sum.MinYear, &sum.MaxYear, &sum.DistinctYears, &sum.LastDataDate); err != nil {
		return DataSummary{}, err
	}
	return sum, nil
}
