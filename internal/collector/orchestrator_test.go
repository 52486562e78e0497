package collector

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geoskimoto/usgs-streamflow-dashboard-sub000/internal/models"
	"github.com/geoskimoto/usgs-streamflow-dashboard-sub000/internal/nwis"
	"github.com/geoskimoto/usgs-streamflow-dashboard-sub000/internal/resolver"
)

var testNow = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

type chunkRecord struct {
	siteNo     string
	start, end time.Time
	points     []nwis.Point
}

type fakeStore struct {
	mu         sync.Mutex
	cfg        models.Configuration
	stations   []models.Station
	watermarks map[string]time.Time

	chunks     []chunkRecord
	samples    map[string][]nwis.Point
	runs       map[uuid.UUID]models.CollectionRun
	outcomes   []models.StationOutcome
	persistErr error
	pruneCalls int
}

func newFakeStore(siteNos ...string) *fakeStore {
	fs := &fakeStore{
		cfg:        models.Configuration{ID: 1, Name: "test", StationCount: len(siteNos)},
		watermarks: map[string]time.Time{},
		samples:    map[string][]nwis.Point{},
		runs:       map[uuid.UUID]models.CollectionRun{},
	}
	for _, s := range siteNos {
		fs.stations = append(fs.stations, models.Station{SiteNo: s, Name: "station " + s})
	}
	return fs
}

func (f *fakeStore) GetConfiguration(_ context.Context, ref string) (models.Configuration, error) {
	if ref != f.cfg.Name {
		return models.Configuration{}, errors.New("not found")
	}
	return f.cfg, nil
}

func (f *fakeStore) ListStationsForConfiguration(_ context.Context, _ int) ([]models.Station, error) {
	return f.stations, nil
}

func (f *fakeStore) LatestChunkEnds(_ context.Context, siteNos []string) (map[string]time.Time, error) {
	out := map[string]time.Time{}
	for _, s := range siteNos {
		if wm, ok := f.watermarks[s]; ok {
			out[s] = wm
		}
	}
	return out, nil
}

func (f *fakeStore) UpsertChunk(_ context.Context, siteNo string, points []nwis.Point, start, end time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.persistErr != nil {
		return f.persistErr
	}
	f.chunks = append(f.chunks, chunkRecord{siteNo: siteNo, start: start, end: end, points: points})
	return nil
}

func (f *fakeStore) UpsertRealtimeSamples(_ context.Context, siteNo string, points []nwis.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.persistErr != nil {
		return f.persistErr
	}
	f.samples[siteNo] = append(f.samples[siteNo], points...)
	return nil
}

func (f *fakeStore) PruneRealtimeSamples(_ context.Context, _ time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pruneCalls++
	return 0, nil
}

func (f *fakeStore) CreateRun(_ context.Context, run models.CollectionRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[run.ID] = run
	return nil
}

func (f *fakeStore) UpdateRunCounts(_ context.Context, runID uuid.UUID, attempted, successful, failed int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run := f.runs[runID]
	run.Attempted, run.Successful, run.Failed = attempted, successful, failed
	f.runs[runID] = run
	return nil
}

func (f *fakeStore) FinalizeRun(_ context.Context, run models.CollectionRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[run.ID] = run
	return nil
}

func (f *fakeStore) RecordOutcome(_ context.Context, outcome models.StationOutcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, outcome)
	return nil
}

func (f *fakeStore) runID(t *testing.T) uuid.UUID {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for id := range f.runs {
		return id
	}
	t.Fatal("no run recorded")
	return uuid.Nil
}

// fakeFetcher scripts per-station responses and records the requested
// ranges.
type fakeFetcher struct {
	mu      sync.Mutex
	daily   map[string]fetchScript
	rt      map[string]fetchScript
	ranges  map[string]resolver.Range
	onFetch func(siteNo string)
}

type fetchScript struct {
	result nwis.Result
	err    error
}

func (ff *fakeFetcher) DailyValues(_ context.Context, siteNo string, r resolver.Range) (nwis.Result, error) {
	ff.mu.Lock()
	if ff.ranges == nil {
		ff.ranges = map[string]resolver.Range{}
	}
	ff.ranges[siteNo] = r
	hook := ff.onFetch
	script := ff.daily[siteNo]
	ff.mu.Unlock()
	if hook != nil {
		hook(siteNo)
	}
	return script.result, script.err
}

func (ff *fakeFetcher) InstantaneousValues(_ context.Context, siteNo string, _ time.Duration) (nwis.Result, error) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	script := ff.rt[siteNo]
	return script.result, script.err
}

type fakeEnricher struct {
	mu       sync.Mutex
	recomped []string
}

func (fe *fakeEnricher) Recompute(_ context.Context, siteNo string) (models.StationStats, error) {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	fe.recomped = append(fe.recomped, siteNo)
	return models.StationStats{}, nil
}

func dailyPoint(d time.Time, v float64) nwis.Point {
	return nwis.Point{Timestamp: d, Value: v}
}

func newTestOrchestrator(store *fakeStore, fetcher *fakeFetcher, enricher *fakeEnricher, opts Options) *Orchestrator {
	if opts.Origin.IsZero() {
		opts.Origin = time.Date(1910, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = 10
	}
	if opts.MaxConcurrent == 0 {
		opts.MaxConcurrent = 2
	}
	return New(store, fetcher, enricher, NewRunGuard(), opts,
		testclock.NewClock(testNow), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func historicalRequest() Request {
	return Request{ConfigRef: "test", DataType: models.DataTypeHistorical, TriggeredBy: "test"}
}

func TestRunMixedOutcomesIsPartial(t *testing.T) {
	store := newFakeStore("A", "B", "C")
	fetcher := &fakeFetcher{daily: map[string]fetchScript{
		"A": {err: &nwis.Error{Class: nwis.Permanent, StatusCode: 404, Message: "no such site"}},
		"B": {result: nwis.Result{Points: []nwis.Point{dailyPoint(testNow.AddDate(0, 0, -1), 10)}}},
		// C timed out once, then succeeded; the fetcher reports one retry.
		"C": {result: nwis.Result{Points: []nwis.Point{dailyPoint(testNow.AddDate(0, 0, -1), 20)}, Retries: 1}},
	}}
	enricher := &fakeEnricher{}
	orc := newTestOrchestrator(store, fetcher, enricher, Options{})

	run, err := orc.Run(context.Background(), historicalRequest())

	require.NoError(t, err)
	assert.Equal(t, models.RunStatusPartial, run.Status)
	assert.Equal(t, 3, run.Attempted)
	assert.Equal(t, 2, run.Successful)
	assert.Equal(t, 1, run.Failed)
	assert.Equal(t, run.Attempted, run.Successful+run.Failed)
	require.NotNil(t, run.EndedAt)

	// Only the failed station has an outcome; retried-then-succeeded C has
	// none.
	require.Len(t, store.outcomes, 1)
	assert.Equal(t, "A", store.outcomes[0].SiteNo)
	assert.Equal(t, models.OutcomePermanent, store.outcomes[0].ErrorType)

	// Enrichment runs only for stations with a successful fetch.
	assert.ElementsMatch(t, []string{"B", "C"}, enricher.recomped)
}

func TestRunAllSuccessIsCompleted(t *testing.T) {
	store := newFakeStore("A")
	fetcher := &fakeFetcher{daily: map[string]fetchScript{
		"A": {result: nwis.Result{Points: []nwis.Point{dailyPoint(testNow.AddDate(0, 0, -2), 5)}}},
	}}
	orc := newTestOrchestrator(store, fetcher, &fakeEnricher{}, Options{})

	run, err := orc.Run(context.Background(), historicalRequest())

	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, run.Attempted, run.Successful+run.Failed)
	require.Len(t, store.chunks, 1)
}

func TestRunUnknownConfigurationCreatesNoRun(t *testing.T) {
	store := newFakeStore("A")
	orc := newTestOrchestrator(store, &fakeFetcher{}, &fakeEnricher{}, Options{})

	_, err := orc.Run(context.Background(), Request{ConfigRef: "missing", DataType: models.DataTypeHistorical})

	require.Error(t, err)
	assert.Empty(t, store.runs, "configuration errors abort before a run row exists")
}

func TestRunPersistenceFailureAbortsRun(t *testing.T) {
	store := newFakeStore("A", "B")
	store.persistErr = errors.New("storage unavailable")
	fetcher := &fakeFetcher{daily: map[string]fetchScript{
		"A": {result: nwis.Result{Points: []nwis.Point{dailyPoint(testNow.AddDate(0, 0, -1), 1)}}},
		"B": {result: nwis.Result{Points: []nwis.Point{dailyPoint(testNow.AddDate(0, 0, -1), 2)}}},
	}}
	orc := newTestOrchestrator(store, fetcher, &fakeEnricher{}, Options{BatchSize: 1})

	run, err := orc.Run(context.Background(), historicalRequest())

	require.Error(t, err)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Equal(t, 1, run.Attempted, "run stops at the first persistence failure")
	assert.Zero(t, run.Successful)
	assert.Equal(t, 1, run.Failed, "the station whose persist failed counts as failed")
	assert.Equal(t, run.Attempted, run.Successful+run.Failed)
	assert.Empty(t, store.chunks)
}

func TestRunFailedCountsBalanceOnPersistenceFailure(t *testing.T) {
	store := newFakeStore("A")
	store.persistErr = errors.New("storage unavailable")
	fetcher := &fakeFetcher{daily: map[string]fetchScript{
		"A": {result: nwis.Result{Points: []nwis.Point{dailyPoint(testNow.AddDate(0, 0, -1), 1)}}},
	}}
	orc := newTestOrchestrator(store, fetcher, &fakeEnricher{}, Options{})

	run, err := orc.Run(context.Background(), historicalRequest())

	require.Error(t, err)
	require.Equal(t, models.RunStatusFailed, run.Status)
	assert.Equal(t, run.Attempted, run.Successful+run.Failed,
		"terminal counts balance even when the failure is storage side")
	assert.Equal(t, 1, run.Attempted)
	assert.Equal(t, 1, run.Failed)
}

func TestRunRequestsEachStationOwnRange(t *testing.T) {
	store := newFakeStore("A", "B")
	store.watermarks["A"] = time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	// B is new and backfills from the origin; A's request must not widen
	// to cover it.
	fetcher := &fakeFetcher{daily: map[string]fetchScript{
		"A": {result: nwis.Result{Points: []nwis.Point{dailyPoint(time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC), 1)}}},
		"B": {result: nwis.Result{Points: []nwis.Point{dailyPoint(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), 2)}}},
	}}
	orc := newTestOrchestrator(store, fetcher, &fakeEnricher{}, Options{})

	run, err := orc.Run(context.Background(), historicalRequest())

	require.NoError(t, err)
	require.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC), fetcher.ranges["A"].Start,
		"incremental station starts one day after its watermark")
	assert.Equal(t, time.Date(1910, 1, 1, 0, 0, 0, 0, time.UTC), fetcher.ranges["B"].Start)
	assert.Equal(t, resolver.Day(testNow), fetcher.ranges["A"].End)
}

func TestRunIncrementalUsesWatermarkAndTrims(t *testing.T) {
	store := newFakeStore("A")
	store.watermarks["A"] = time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	// The upstream answer covers more than A's own window; points at or
	// before the watermark must not be persisted again.
	fetcher := &fakeFetcher{daily: map[string]fetchScript{
		"A": {result: nwis.Result{Points: []nwis.Point{
			dailyPoint(time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC), 1),
			dailyPoint(time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), 2),
			dailyPoint(time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC), 3),
			dailyPoint(time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC), 4),
		}}},
	}}
	orc := newTestOrchestrator(store, fetcher, &fakeEnricher{}, Options{})

	run, err := orc.Run(context.Background(), historicalRequest())

	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	require.Len(t, store.chunks, 1)
	chunk := store.chunks[0]
	assert.Equal(t, time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC), chunk.start, "next request starts one day after the watermark")
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), chunk.end)
	require.Len(t, chunk.points, 2)
	assert.Equal(t, 3.0, chunk.points[0].Value)
}

func TestRunSkipsUpToDateStations(t *testing.T) {
	store := newFakeStore("A", "B")
	store.watermarks["A"] = resolver.Day(testNow) // nothing newer to ask for
	fetcher := &fakeFetcher{daily: map[string]fetchScript{
		"B": {result: nwis.Result{Points: []nwis.Point{dailyPoint(testNow.AddDate(0, 0, -1), 2)}}},
	}}
	orc := newTestOrchestrator(store, fetcher, &fakeEnricher{}, Options{})

	run, err := orc.Run(context.Background(), historicalRequest())

	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, 1, run.Attempted, "up-to-date station is a no-op, not an attempt")
	assert.Equal(t, 1, run.Successful)
}

func TestRunMutualExclusionRejectsSecondTrigger(t *testing.T) {
	store := newFakeStore("A")
	release := make(chan struct{})
	started := make(chan struct{})
	fetcher := &fakeFetcher{
		daily: map[string]fetchScript{
			"A": {result: nwis.Result{Points: []nwis.Point{dailyPoint(testNow.AddDate(0, 0, -1), 1)}}},
		},
		onFetch: func(string) {
			close(started)
			<-release
		},
	}
	orc := newTestOrchestrator(store, fetcher, &fakeEnricher{}, Options{})

	first, err := orc.Start(context.Background(), historicalRequest())
	require.NoError(t, err)
	<-started

	_, err = orc.Start(context.Background(), historicalRequest())
	assert.ErrorIs(t, err, ErrRunActive, "second trigger is rejected, not queued")

	close(release)
	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.runs[first.ID].Status == models.RunStatusCompleted
	}, 5*time.Second, 5*time.Millisecond)

	// Slot released: a new trigger is accepted again.
	fetcher.mu.Lock()
	fetcher.onFetch = nil
	fetcher.mu.Unlock()
	_, err = orc.Run(context.Background(), historicalRequest())
	assert.NoError(t, err)
}

func TestRunCancellationDiscardsBatchAndStops(t *testing.T) {
	store := newFakeStore("A", "B")
	fetcher := &fakeFetcher{daily: map[string]fetchScript{
		"A": {result: nwis.Result{Points: []nwis.Point{dailyPoint(testNow.AddDate(0, 0, -1), 1)}}},
		"B": {result: nwis.Result{Points: []nwis.Point{dailyPoint(testNow.AddDate(0, 0, -1), 2)}}},
	}}
	orc := newTestOrchestrator(store, fetcher, &fakeEnricher{}, Options{BatchSize: 2})

	// Request cancellation while the only batch is still fetching: its
	// results must be discarded before persistence.
	fetcher.onFetch = func(string) {
		orc.Guard().Cancel(store.runID(t))
	}

	run, err := orc.Run(context.Background(), historicalRequest())

	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCancelled, run.Status)
	assert.Empty(t, store.chunks, "cancelled batch results are not persisted")
	assert.Zero(t, run.Successful)
}

func TestRunRealtimePersistsSamplesAndPrunes(t *testing.T) {
	store := newFakeStore("A")
	fetcher := &fakeFetcher{rt: map[string]fetchScript{
		"A": {result: nwis.Result{Points: []nwis.Point{
			{Timestamp: testNow.Add(-time.Hour), Value: 42},
		}}},
	}}
	orc := newTestOrchestrator(store, fetcher, &fakeEnricher{}, Options{RealtimeWindow: 24 * time.Hour, RetentionDays: 120})

	run, err := orc.Run(context.Background(), Request{ConfigRef: "test", DataType: models.DataTypeRealtime, TriggeredBy: "test"})

	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Len(t, store.samples["A"], 1)
	assert.Equal(t, 1, store.pruneCalls)
	assert.Empty(t, store.chunks)
}

func TestRunAllFailedIsFailed(t *testing.T) {
	store := newFakeStore("A")
	fetcher := &fakeFetcher{daily: map[string]fetchScript{
		"A": {err: &nwis.Error{Class: nwis.Transient, Message: "timeout"}},
	}}
	orc := newTestOrchestrator(store, fetcher, &fakeEnricher{}, Options{})

	run, err := orc.Run(context.Background(), historicalRequest())

	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	require.Len(t, store.outcomes, 1)
	assert.Equal(t, models.OutcomeNetwork, store.outcomes[0].ErrorType)
}

func TestGuardCancelUnknownRun(t *testing.T) {
	g := NewRunGuard()
	assert.False(t, g.Cancel(uuid.New()))
}

func TestGuardBeginEndCycle(t *testing.T) {
	g := NewRunGuard()
	runA, runB := uuid.New(), uuid.New()

	require.NoError(t, g.Begin(1, runA))
	assert.ErrorIs(t, g.Begin(1, runB), ErrRunActive)
	require.NoError(t, g.Begin(2, runB), "disjoint configurations run in parallel")

	assert.True(t, g.Cancel(runA))
	assert.True(t, g.Cancelled(runA))

	g.End(1, runA)
	assert.False(t, g.Cancelled(runA), "cancellation state is cleared with the slot")
	require.NoError(t, g.Begin(1, runB))
}
