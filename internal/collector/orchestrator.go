// Package collector composes the range resolver, fetcher, persistence and
// enrichment into one end-to-end collection run over a configuration.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"golang.org/x/sync/errgroup"

	"github.com/geoskimoto/usgs-streamflow-dashboard-sub000/internal/models"
	"github.com/geoskimoto/usgs-streamflow-dashboard-sub000/internal/nwis"
	"github.com/geoskimoto/usgs-streamflow-dashboard-sub000/internal/resolver"
)

// Store is the persistence surface a run needs.
type Store interface {
	GetConfiguration(ctx context.Context, ref string) (models.Configuration, error)
	ListStationsForConfiguration(ctx context.Context, configID int) ([]models.Station, error)
	LatestChunkEnds(ctx context.Context, siteNos []string) (map[string]time.Time, error)
	UpsertChunk(ctx context.Context, siteNo string, points []nwis.Point, startDate, endDate time.Time) error
	UpsertRealtimeSamples(ctx context.Context, siteNo string, points []nwis.Point) error
	PruneRealtimeSamples(ctx context.Context, cutoff time.Time) (int64, error)
	CreateRun(ctx context.Context, run models.CollectionRun) error
	UpdateRunCounts(ctx context.Context, runID uuid.UUID, attempted, successful, failed int) error
	FinalizeRun(ctx context.Context, run models.CollectionRun) error
	RecordOutcome(ctx context.Context, outcome models.StationOutcome) error
}

// Fetcher retrieves time series from the upstream provider.
type Fetcher interface {
	DailyValues(ctx context.Context, siteNo string, r resolver.Range) (nwis.Result, error)
	InstantaneousValues(ctx context.Context, siteNo string, window time.Duration) (nwis.Result, error)
}

// Enricher recomputes one station's derived statistics.
type Enricher interface {
	Recompute(ctx context.Context, siteNo string) (models.StationStats, error)
}

// Options tune one orchestrator.
type Options struct {
	Origin         time.Time
	BatchSize      int
	MaxConcurrent  int
	BatchDelay     time.Duration
	RealtimeWindow time.Duration
	RetentionDays  int
}

// Request describes one collection run to perform.
type Request struct {
	ConfigRef   string
	DataType    models.DataType
	FullRefresh bool
	TriggeredBy string
}

// Orchestrator drives collection runs.
type Orchestrator struct {
	store    Store
	fetcher  Fetcher
	enricher Enricher
	guard    *RunGuard
	opts     Options
	clock    clock.Clock
	logger   *slog.Logger
}

// New builds an orchestrator.
func New(store Store, fetcher Fetcher, enricher Enricher, guard *RunGuard, opts Options, clk clock.Clock, logger *slog.Logger) *Orchestrator {
	if opts.BatchSize < 1 {
		opts.BatchSize = 1
	}
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	return &Orchestrator{
		store:    store,
		fetcher:  fetcher,
		enricher: enricher,
		guard:    guard,
		opts:     opts,
		clock:    clk,
		logger:   logger,
	}
}

// Guard exposes the run guard for cancellation endpoints.
func (o *Orchestrator) Guard() *RunGuard { return o.guard }

// Run performs one collection run synchronously and returns the finalized
// record. Configuration errors and mutual-exclusion rejections surface
// before any CollectionRun row exists.
func (o *Orchestrator) Run(ctx context.Context, req Request) (models.CollectionRun, error) {
	_, exec, err := o.begin(ctx, req)
	if err != nil {
		return models.CollectionRun{}, err
	}
	return exec(ctx)
}

// Start validates the request, creates the run record, and executes the rest
// in the background. The returned run is in the running state. Rejections
// (unknown configuration, already-active run) are reported synchronously.
func (o *Orchestrator) Start(ctx context.Context, req Request) (models.CollectionRun, error) {
	run, exec, err := o.begin(ctx, req)
	if err != nil {
		return models.CollectionRun{}, err
	}
	go func() {
		if _, err := exec(context.WithoutCancel(ctx)); err != nil {
			o.logger.Error("collection run failed", "run_id", run.ID, "error", err)
		}
	}()
	return run, nil
}

type execFunc func(ctx context.Context) (models.CollectionRun, error)

func (o *Orchestrator) begin(ctx context.Context, req Request) (models.CollectionRun, execFunc, error) {
	if !req.DataType.Valid() {
		return models.CollectionRun{}, nil, fmt.Errorf("unknown data type %q", req.DataType)
	}

	cfg, err := o.store.GetConfiguration(ctx, req.ConfigRef)
	if err != nil {
		return models.CollectionRun{}, nil, fmt.Errorf("configuration %q: %w", req.ConfigRef, err)
	}

	stations, err := o.store.ListStationsForConfiguration(ctx, cfg.ID)
	if err != nil {
		return models.CollectionRun{}, nil, err
	}

	run := models.CollectionRun{
		ID:              uuid.New(),
		ConfigurationID: cfg.ID,
		DataType:        req.DataType,
		Status:          models.RunStatusRunning,
		TriggeredBy:     req.TriggeredBy,
		StartedAt:       o.clock.Now().UTC(),
	}

	if err := o.guard.Begin(cfg.ID, run.ID); err != nil {
		return models.CollectionRun{}, nil, err
	}
	if err := o.store.CreateRun(ctx, run); err != nil {
		o.guard.End(cfg.ID, run.ID)
		return models.CollectionRun{}, nil, err
	}

	exec := func(ctx context.Context) (models.CollectionRun, error) {
		defer o.guard.End(cfg.ID, run.ID)
		return o.execute(ctx, req, run, stations)
	}
	return run, exec, nil
}

// stationResult is the fetch outcome for one station within a batch.
type stationResult struct {
	siteNo  string
	skipped bool
	rng     resolver.Range
	daily   []nwis.Point
	samples []nwis.Point
	retries int
	err     error
}

func (o *Orchestrator) execute(ctx context.Context, req Request, run models.CollectionRun, stations []models.Station) (models.CollectionRun, error) {
	log := o.logger.With("run_id", run.ID, "configuration_id", run.ConfigurationID, "data_type", run.DataType)
	log.Info("collection run started", "stations", len(stations), "full_refresh", req.FullRefresh)

	watermarks := map[string]time.Time{}
	if req.DataType.Historical() && !req.FullRefresh {
		siteNos := make([]string, len(stations))
		for i, st := range stations {
			siteNos[i] = st.SiteNo
		}
		var err error
		watermarks, err = o.store.LatestChunkEnds(ctx, siteNos)
		if err != nil {
			return o.finalize(ctx, run, models.RunStatusFailed, err)
		}
	}

	var touched []string
	var runErr error
	status := models.RunStatusRunning

	batches := partition(stations, o.opts.BatchSize)
batchLoop:
	for i, batch := range batches {
		// Cancellation is cooperative and observed only at batch
		// boundaries; in-flight fetches finish first.
		if o.guard.Cancelled(run.ID) || ctx.Err() != nil {
			status = models.RunStatusCancelled
			break
		}

		results := o.fetchBatch(ctx, batch, watermarks, req)

		// A cancellation requested during the fetch discards the whole
		// batch before persistence.
		if o.guard.Cancelled(run.ID) || ctx.Err() != nil {
			status = models.RunStatusCancelled
			break
		}

		for _, res := range results {
			if res.skipped {
				continue
			}
			run.Attempted++

			if res.err != nil {
				run.Failed++
				o.recordOutcome(ctx, run.ID, res)
				continue
			}

			if err := o.persistStation(ctx, req, res); err != nil {
				// Persistence failures abort the run, not just the
				// batch. The station still counts as failed so the
				// terminal counts stay consistent.
				run.Failed++
				runErr = err
				status = models.RunStatusFailed
				break batchLoop
			}
			run.Successful++
			touched = append(touched, res.siteNo)
		}

		if err := o.store.UpdateRunCounts(ctx, run.ID, run.Attempted, run.Successful, run.Failed); err != nil {
			log.Warn("run progress update failed", "error", err)
		}

		if i < len(batches)-1 && o.opts.BatchDelay > 0 {
			select {
			case <-ctx.Done():
			case <-o.clock.After(o.opts.BatchDelay):
			}
		}
	}

	if status == models.RunStatusRunning {
		switch {
		case run.Failed == 0:
			status = models.RunStatusCompleted
		case run.Successful > 0:
			status = models.RunStatusPartial
		default:
			status = models.RunStatusFailed
		}
	}

	if status == models.RunStatusCompleted || status == models.RunStatusPartial {
		o.enrichTouched(ctx, touched, log)
		if req.DataType.Realtime() && o.opts.RetentionDays > 0 {
			cutoff := o.clock.Now().UTC().AddDate(0, 0, -o.opts.RetentionDays)
			if n, err := o.store.PruneRealtimeSamples(ctx, cutoff); err != nil {
				log.Warn("realtime retention prune failed", "error", err)
			} else if n > 0 {
				log.Info("pruned realtime samples", "removed", n, "cutoff", cutoff)
			}
		}
	}

	return o.finalize(ctx, run, status, runErr)
}

func (o *Orchestrator) fetchBatch(ctx context.Context, batch []models.Station, watermarks map[string]time.Time, req Request) []stationResult {
	now := o.clock.Now().UTC()
	mode := resolver.Incremental
	if req.FullRefresh {
		mode = resolver.FullRefresh
	}

	results := make([]stationResult, len(batch))
	for i, st := range batch {
		res := stationResult{siteNo: st.SiteNo}
		if req.DataType.Historical() {
			var wm *time.Time
			if end, ok := watermarks[st.SiteNo]; ok {
				wm = &end
			}
			rng, ok := resolver.Resolve(wm, mode, o.opts.Origin, now)
			if ok {
				res.rng = rng
			} else if !req.DataType.Realtime() {
				res.skipped = true
			}
		}
		results[i] = res
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.MaxConcurrent)
	for i := range results {
		if results[i].skipped {
			continue
		}
		i := i
		g.Go(func() error {
			res := &results[i]
			if req.DataType.Historical() && !res.rng.Start.IsZero() {
				// Each station is requested over its own window so a
				// new station's full backfill never inflates its batch
				// mates' requests.
				fr, err := o.fetcher.DailyValues(gctx, res.siteNo, res.rng)
				res.retries += fr.Retries
				if err != nil {
					res.err = err
					return nil
				}
				// Trim anything the upstream answers outside the
				// requested window; the watermark invariant is per
				// station.
				res.daily = trimPoints(fr.Points, res.rng)
			}
			if req.DataType.Realtime() {
				fr, err := o.fetcher.InstantaneousValues(gctx, res.siteNo, o.opts.RealtimeWindow)
				res.retries += fr.Retries
				if err != nil {
					res.err = err
					return nil
				}
				res.samples = fr.Points
			}
			return nil
		})
	}
	// Goroutines report failures through their stationResult.
	_ = g.Wait()

	return results
}

func (o *Orchestrator) persistStation(ctx context.Context, req Request, res stationResult) error {
	if req.DataType.Historical() && !res.rng.Start.IsZero() {
		if err := o.store.UpsertChunk(ctx, res.siteNo, res.daily, res.rng.Start, res.rng.End); err != nil {
			return fmt.Errorf("persist chunk for %s: %w", res.siteNo, err)
		}
	}
	if req.DataType.Realtime() && len(res.samples) > 0 {
		if err := o.store.UpsertRealtimeSamples(ctx, res.siteNo, res.samples); err != nil {
			return fmt.Errorf("persist samples for %s: %w", res.siteNo, err)
		}
	}
	return nil
}

func (o *Orchestrator) recordOutcome(ctx context.Context, runID uuid.UUID, res stationResult) {
	outcome := models.StationOutcome{
		RunID:      runID,
		SiteNo:     res.siteNo,
		ErrorType:  outcomeType(res.err),
		Message:    res.err.Error(),
		RetryCount: res.retries,
	}
	if err := o.store.RecordOutcome(ctx, outcome); err != nil {
		o.logger.Error("outcome record failed", "run_id", runID, "site_no", res.siteNo, "error", err)
	}
}

func (o *Orchestrator) enrichTouched(ctx context.Context, touched []string, log *slog.Logger) {
	for _, siteNo := range touched {
		if _, err := o.enricher.Recompute(ctx, siteNo); err != nil {
			log.Warn("enrichment failed", "site_no", siteNo, "error", err)
		}
	}
}

func (o *Orchestrator) finalize(ctx context.Context, run models.CollectionRun, status models.RunStatus, runErr error) (models.CollectionRun, error) {
	run.Status = status
	end := o.clock.Now().UTC()
	run.EndedAt = &end

	if err := o.store.FinalizeRun(ctx, run); err != nil {
		o.logger.Error("run finalize failed", "run_id", run.ID, "error", err)
		if runErr == nil {
			runErr = err
		}
	}

	o.logger.Info("collection run finished",
		"run_id", run.ID,
		"status", run.Status,
		"attempted", run.Attempted,
		"successful", run.Successful,
		"failed", run.Failed)
	return run, runErr
}

func outcomeType(err error) models.OutcomeType {
	var fe *nwis.Error
	if errors.As(err, &fe) {
		switch fe.Class {
		case nwis.Permanent:
			return models.OutcomePermanent
		case nwis.Validation:
			return models.OutcomeValidation
		}
	}
	return models.OutcomeNetwork
}

func trimPoints(points []nwis.Point, r resolver.Range) []nwis.Point {
	out := points[:0:0]
	for _, p := range points {
		if r.Contains(p.Timestamp) {
			out = append(out, p)
		}
	}
	return out
}

func partition(stations []models.Station, size int) [][]models.Station {
	var batches [][]models.Station
	for start := 0; start < len(stations); start += size {
		end := start + size
		if end > len(stations) {
			end = len(stations)
		}
		batches = append(batches, stations[start:end])
	}
	return batches
}
