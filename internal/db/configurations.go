package db

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/geoskimoto/usgs-streamflow-dashboard-sub000/internal/models"
)

const configurationColumns = `id, name, description, is_default, station_count, created_at, updated_at`

// CreateConfiguration inserts a named configuration and returns it.
func (s *Store) CreateConfiguration(ctx context.Context, name string, description *string) (models.Configuration, error) {
	row := s.pool.QueryRow(ctx, `
INSERT INTO streamflow.configurations (name, description)
VALUES ($1, $2)
RETURNING `+configurationColumns, name, description)

	cfg, err := scanConfiguration(row)
	if isUniqueViolation(err) {
		return models.Configuration{}, errors.New("configuration name already exists")
	}
	return cfg, err
}

// GetConfiguration looks a configuration up by numeric id or by name.
func (s *Store) GetConfiguration(ctx context.Context, ref string) (models.Configuration, error) {
	sql := `SELECT ` + configurationColumns + ` FROM streamflow.configurations WHERE name = $1`
	var arg any = ref
	if id, err := strconv.Atoi(ref); err == nil {
		sql = `SELECT ` + configurationColumns + ` FROM streamflow.configurations WHERE id = $1`
		arg = id
	}

	row := s.pool.QueryRow(ctx, sql, arg)
	cfg, err := scanConfiguration(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Configuration{}, ErrNotFound
	}
	return cfg, err
}

// DefaultConfiguration returns the configuration flagged as default.
func (s *Store) DefaultConfiguration(ctx context.Context) (models.Configuration, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+configurationColumns+` FROM streamflow.configurations WHERE is_default`)
	cfg, err := scanConfiguration(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Configuration{}, ErrNotFound
	}
	return cfg, err
}

const configurationStationsSQL = `
    SELECT st.site_no, st.name, st.lat, st.lon, st.dataset, st.drainage_area_sqmi, st.is_active,
           st.years_of_record, st.num_water_years, st.last_data_date, st.created_at, st.updated_at
    FROM streamflow.stations st
    JOIN streamflow.configuration_stations cs ON cs.site_no = st.site_no
    WHERE cs.configuration_id = $1
    ORDER BY cs.priority, st.site_no
`

// ListStationsForConfiguration returns the member stations in priority
// order.
func (s *Store) ListStationsForConfiguration(ctx context.Context, configID int) ([]models.Station, error) {
	rows, err := s.pool.Query(ctx, configurationStationsSQL, configID)
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

const recountSQL = `
    UPDATE streamflow.configurations
    SET station_count = (
        SELECT COUNT(*) FROM streamflow.configuration_stations WHERE configuration_id = $1
    ),
    updated_at = NOW()
    WHERE id = $1
`

// AddStationToConfiguration adds a membership row and recomputes the cached
// station_count in the same transaction. Fails with ErrDuplicateMembership
// when the station is already a member and ErrNotFound when either id is
// invalid.
func (s *Store) AddStationToConfiguration(ctx context.Context, configID int, siteNo string, priority int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
INSERT INTO streamflow.configuration_stations (configuration_id, site_no, priority)
SELECT c.id, st.site_no, $3
FROM streamflow.configurations c, streamflow.stations st
WHERE c.id = $1 AND st.site_no = $2`, configID, siteNo, priority)
	if isUniqueViolation(err) {
		return ErrDuplicateMembership
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if _, err := tx.Exec(ctx, recountSQL, configID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// SetMembership replaces a configuration's membership with the given site
// numbers (priority follows slice order) and recomputes station_count
// atomically. Unknown site numbers fail the whole call with ErrNotFound.
func (s *Store) SetMembership(ctx context.Context, configID int, siteNos []string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `UPDATE streamflow.configurations SET updated_at = NOW() WHERE id = $1`, configID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if _, err := tx.Exec(ctx, `DELETE FROM streamflow.configuration_stations WHERE configuration_id = $1`, configID); err != nil {
		return err
	}

	for i, siteNo := range siteNos {
		tag, err := tx.Exec(ctx, `
INSERT INTO streamflow.configuration_stations (configuration_id, site_no, priority)
SELECT $1, site_no, $3 FROM streamflow.stations WHERE site_no = $2`, configID, siteNo, i)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
	}

	if _, err := tx.Exec(ctx, recountSQL, configID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func scanConfiguration(row rowScanner) (models.Configuration, error) {
	var cfg models.Configuration
	err := row.Scan(
		&cfg.ID,
		&cfg.Name,
		&cfg.Description,
		&cfg.IsDefault,
		&cfg.StationCount,
		&cfg.CreatedAt,
		&cfg.UpdatedAt,
	)
	return cfg, err
}
