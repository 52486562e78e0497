package enrich

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geoskimoto/usgs-streamflow-dashboard-sub000/internal/db"
	"github.com/geoskimoto/usgs-streamflow-dashboard-sub000/internal/models"
)

const threshold = 30 * 24 * time.Hour

func TestDeriveSparseRecord(t *testing.T) {
	// Observations only in 1990 and 2020.
	last := time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)
	sum := db.DataSummary{MinYear: 1990, MaxYear: 2020, DistinctYears: 2, LastDataDate: &last}

	stats := Derive(sum, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), threshold)

	assert.Equal(t, 31, stats.YearsOfRecord)
	assert.Equal(t, 2, stats.NumWaterYears)
	assert.False(t, stats.IsActive)
	require.NotNil(t, stats.LastDataDate)
	assert.Equal(t, last, *stats.LastDataDate)
}

func TestDeriveActiveWithinThreshold(t *testing.T) {
	now := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	last := now.Add(-10 * 24 * time.Hour)
	sum := db.DataSummary{MinYear: 2024, MaxYear: 2024, DistinctYears: 1, LastDataDate: &last}

	stats := Derive(sum, now, threshold)

	assert.True(t, stats.IsActive)
	assert.Equal(t, 1, stats.YearsOfRecord)
}

func TestDeriveNoData(t *testing.T) {
	stats := Derive(db.DataSummary{}, time.Now(), threshold)

	assert.Zero(t, stats.YearsOfRecord)
	assert.Zero(t, stats.NumWaterYears)
	assert.False(t, stats.IsActive)
	assert.Nil(t, stats.LastDataDate)
}

type fakeStore struct {
	summary db.DataSummary
	updated map[string]models.StationStats
}

func (f *fakeStore) StationDataSummary(_ context.Context, _ string) (db.DataSummary, error) {
	return f.summary, nil
}

func (f *fakeStore) UpdateStationStats(_ context.Context, siteNo string, stats models.StationStats) error {
	if f.updated == nil {
		f.updated = make(map[string]models.StationStats)
	}
	f.updated[siteNo] = stats
	return nil
}

func TestRecomputePersistsDerivedStats(t *testing.T) {
	now := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	last := now.Add(-24 * time.Hour)
	store := &fakeStore{summary: db.DataSummary{MinYear: 1950, MaxYear: 2024, DistinctYears: 70, LastDataDate: &last}}

	calc := NewCalculator(store, threshold, testclock.NewClock(now), slog.New(slog.NewTextHandler(io.Discard, nil)))
	stats, err := calc.Recompute(context.Background(), "06306300")

	require.NoError(t, err)
	assert.Equal(t, 75, stats.YearsOfRecord)
	assert.Equal(t, stats, store.updated["06306300"])
	assert.True(t, stats.IsActive)
}
