// Package enrich recomputes a station's derived statistics from what is
// stored. It runs once per station touched by a run, never as a
// full-catalog sweep, and the activity flag derives uniformly from the
// stored last data date rather than any live probing.
package enrich

import (
	"context"
	"log/slog"
	"time"

	"github.com/juju/clock"

	"github.com/geoskimoto/usgs-streamflow-dashboard-sub000/internal/db"
	"github.com/geoskimoto/usgs-streamflow-dashboard-sub000/internal/models"
)

// Store is the persistence surface the calculator needs.
type Store interface {
	StationDataSummary(ctx context.Context, siteNo string) (db.DataSummary, error)
	UpdateStationStats(ctx context.Context, siteNo string, stats models.StationStats) error
}

// Calculator derives and persists per-station statistics.
type Calculator struct {
	store     Store
	threshold time.Duration
	clock     clock.Clock
	logger    *slog.Logger
}

// NewCalculator builds a calculator. threshold is the maximum age of the
// last observation for a station to count as active.
func NewCalculator(store Store, threshold time.Duration, clk clock.Clock, logger *slog.Logger) *Calculator {
	return &Calculator{store: store, threshold: threshold, clock: clk, logger: logger}
}

// Recompute reads the stored observation summary for one station, derives
// its statistics and writes them back.
func (c *Calculator) Recompute(ctx context.Context, siteNo string) (models.StationStats, error) {
	sum, err := c.store.StationDataSummary(ctx, siteNo)
	if err != nil {
		return models.StationStats{}, err
	}

	stats := Derive(sum, c.clock.Now(), c.threshold)
	if err := c.store.UpdateStationStats(ctx, siteNo, stats); err != nil {
		return models.StationStats{}, err
	}

	c.logger.Debug("station stats recomputed",
		"site_no", siteNo,
		"years_of_record", stats.YearsOfRecord,
		"num_water_years", stats.NumWaterYears,
		"is_active", stats.IsActive)
	return stats, nil
}

// Derive computes statistics from a stored summary. Pure.
func Derive(sum db.DataSummary, now time.Time, threshold time.Duration) models.StationStats {
	stats := models.StationStats{
		NumWaterYears: sum.DistinctYears,
		LastDataDate:  sum.LastDataDate,
	}
	if sum.MaxYear >= sum.MinYear && sum.MinYear > 0 {
		stats.YearsOfRecord = sum.MaxYear - sum.MinYear + 1
	}
	if sum.LastDataDate != nil {
		stats.IsActive = now.Sub(*sum.LastDataDate) <= threshold
	}
	return stats
}
