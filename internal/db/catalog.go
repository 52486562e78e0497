package db

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/geoskimoto/usgs-streamflow-dashboard-sub000/internal/models"
)

// UpsertStations imports catalog records in one batch. Descriptive fields
// from the import win, except that a stored drainage area is never
// overwritten with null (field-level merge priority for the two legacy
// sources that disagree on it). Derived statistics are untouched here; only
// the enrichment pass writes them.
func (s *Store) UpsertStations(ctx context.Context, stations []models.Station) error {
	if len(stations) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `INSERT INTO streamflow.stations (site_no, name, lat, lon, dataset, drainage_area_sqmi, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW(),NOW())
ON CONFLICT (site_no) DO UPDATE
SET name = EXCLUDED.name,
    lat = EXCLUDED.lat,
    lon = EXCLUDED.lon,
    dataset = EXCLUDED.dataset,
    drainage_area_sqmi = COALESCE(EXCLUDED.drainage_area_sqmi, stations.drainage_area_sqmi),
    updated_at = NOW()`

	for _, st := range stations {
		batch.Queue(query, st.SiteNo, st.Name, st.Latitude, st.Longitude, st.Dataset, st.DrainageArea)
	}

	res := s.pool.SendBatch(ctx, batch)
	defer res.Close()

	for range stations {
		if _, err := res.Exec(); err != nil {
			return err
		}
	}

	return nil
}

const stationColumns = `site_no, name, lat, lon, dataset, drainage_area_sqmi, is_active,
    years_of_record, num_water_years, last_data_date, created_at, updated_at`

const getStationSQL = `
    SELECT ` + stationColumns + `
    FROM streamflow.stations
    WHERE site_no = $1
`

// GetStation returns one station or ErrNotFound.
func (s *Store) GetStation(ctx context.Context, siteNo string) (models.Station, error) {
	row := s.pool.QueryRow(ctx, getStationSQL, siteNo)
	st, err := scanStation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Station{}, ErrNotFound
	}
	return st, err
}

// ListStations returns catalog entries matching the filter, ordered by site
// number.
func (s *Store) ListStations(ctx context.Context, filter models.StationFilter) ([]models.Station, error) {
	sql := `SELECT ` + stationColumns + ` FROM streamflow.stations WHERE true`
	args := []any{}
	argPos := 1

	if filter.ActiveOnly {
		sql += " AND is_active"
	}
	if filter.Dataset != "" {
		sql += " AND dataset = $" + strconv.Itoa(argPos)
		args = append(args, filter.Dataset)
		argPos++
	}
	if len(filter.SiteNos) > 0 {
		sql += " AND site_no = ANY($" + strconv.Itoa(argPos) + ")"
		args = append(args, filter.SiteNos)
	}
	sql += " ORDER BY site_no"

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stations := make([]models.Station, 0)
	for rows.Next() {
		st, err := scanStation(rows)
		if err != nil {
			return nil, err
		}
		stations = append(stations, st)
	}
	return stations, rows.Err()
}

const updateStationStatsSQL = `
    UPDATE streamflow.stations
    SET years_of_record = $2,
        num_water_years = $3,
        last_data_date = $4,
        is_active = $5,
        updated_at = NOW()
    WHERE site_no = $1
`

// UpdateStationStats writes the derived statistics for one station.
func (s *Store) UpdateStationStats(ctx context.Context, siteNo string, stats models.StationStats) error {
	tag, err := s.pool.Exec(ctx, updateStationStatsSQL,
		siteNo, stats.YearsOfRecord, stats.NumWaterYears, stats.LastDataDate, stats.IsActive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const deactivateStationSQL = `
    UPDATE streamflow.stations SET is_active = false, updated_at = NOW() WHERE site_no = $1
`

// DeactivateStation marks a station inactive. Stations are never hard
// deleted.
func (s *Store) DeactivateStation(ctx context.Context, siteNo string) error {
	tag, err := s.pool.Exec(ctx, deactivateStationSQL, siteNo)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStation(row rowScanner) (models.Station, error) {
	var st models.Station
	err := row.Scan(
		&st.SiteNo,
		&st.Name,
		&st.Latitude,
		&st.Longitude,
		&st.Dataset,
		&st.DrainageArea,
		&st.IsActive,
		&st.YearsOfRecord,
		&st.NumWaterYears,
		&st.LastDataDate,
		&st.CreatedAt,
		&st.UpdatedAt,
	)
	return st, err
}
