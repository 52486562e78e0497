package resolver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var origin = time.Date(1910, 1, 1, 0, 0, 0, 0, time.UTC)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestResolveFullBackfillForNewStation(t *testing.T) {
	now := date(2024, 1, 1)

	r, ok := Resolve(nil, Incremental, origin, now)

	require.True(t, ok)
	assert.Equal(t, date(1910, 1, 1), r.Start)
	assert.Equal(t, date(2024, 1, 1), r.End)
}

func TestResolveIncrementalStartsDayAfterWatermark(t *testing.T) {
	wm := date(2024, 1, 1)
	now := date(2024, 3, 15).Add(9 * time.Hour)

	r, ok := Resolve(&wm, Incremental, origin, now)

	require.True(t, ok)
	assert.Equal(t, date(2024, 1, 2), r.Start)
	assert.Equal(t, date(2024, 3, 15), r.End)
}

func TestResolveFullRefreshIgnoresWatermark(t *testing.T) {
	wm := date(2024, 1, 1)
	now := date(2024, 3, 15)

	r, ok := Resolve(&wm, FullRefresh, origin, now)

	require.True(t, ok)
	assert.Equal(t, origin, r.Start)
}

func TestResolveSkipsUpToDateStation(t *testing.T) {
	wm := date(2024, 3, 15)
	now := date(2024, 3, 15).Add(23 * time.Hour)

	_, ok := Resolve(&wm, Incremental, origin, now)

	assert.False(t, ok, "station with watermark at today must be skipped")
}

func TestResolveWatermarkNeverRegresses(t *testing.T) {
	// A watermark ahead of now (clock skew upstream) must not produce a
	// retrograde range.
	wm := date(2024, 3, 20)
	now := date(2024, 3, 15)

	_, ok := Resolve(&wm, Incremental, origin, now)

	assert.False(t, ok)
}

func TestRangeContainsAndDays(t *testing.T) {
	r := Range{Start: date(2024, 1, 2), End: date(2024, 1, 5)}

	assert.True(t, r.Contains(date(2024, 1, 2)))
	assert.True(t, r.Contains(date(2024, 1, 5).Add(12*time.Hour)))
	assert.False(t, r.Contains(date(2024, 1, 1)))
	assert.False(t, r.Contains(date(2024, 1, 6)))
	assert.Equal(t, 4, r.Days())
}
