// Package scheduler polls the schedule store and dispatches due collection
// runs. A single loop drives all schedules; overlap protection for a
// configuration lives in the collector's run guard, the scheduler only
// guarantees a schedule is not re-triggered for the same slot.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	cron "github.com/robfig/cron/v3"

	"github.com/geoskimoto/usgs-streamflow-dashboard-sub000/internal/collector"
	"github.com/geoskimoto/usgs-streamflow-dashboard-sub000/internal/models"
)

// Store is the schedule persistence surface.
type Store interface {
	DueSchedules(ctx context.Context, now time.Time) ([]models.Schedule, error)
	UpdateScheduleNextRun(ctx context.Context, id int, next time.Time) error
	MarkScheduleRun(ctx context.Context, id int, ranAt time.Time) error
}

// Runner executes one collection run synchronously.
type Runner interface {
	Run(ctx context.Context, req collector.Request) (models.CollectionRun, error)
}

// NextRun computes a schedule's next firing time from its timing spec.
func NextRun(sched models.Schedule, now time.Time) (time.Time, error) {
	if sched.CronExpr != nil && *sched.CronExpr != "" {
		spec, err := cron.ParseStandard(*sched.CronExpr)
		if err != nil {
			return time.Time{}, err
		}
		return spec.Next(now), nil
	}
	if sched.Interval > 0 {
		return now.Add(sched.Interval), nil
	}
	return time.Time{}, errors.New("schedule has neither cron expression nor interval")
}

// Scheduler drives the polling loop.
type Scheduler struct {
	store  Store
	runner Runner
	clock  clock.Clock
	poll   time.Duration
	logger *slog.Logger

	wg sync.WaitGroup
}

// New builds a scheduler polling every poll.
func New(store Store, runner Runner, clk clock.Clock, poll time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{store: store, runner: runner, clock: clk, poll: poll, logger: logger}
}

// Loop blocks, polling for due schedules until ctx is cancelled. In-flight
// dispatches are waited for on the way out.
func (s *Scheduler) Loop(ctx context.Context) error {
	s.logger.Info("scheduler started", "poll_interval", s.poll)
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.logger.Info("scheduler stopped")
			return nil
		case <-s.clock.After(s.poll):
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := s.clock.Now().UTC()
	due, err := s.store.DueSchedules(ctx, now)
	if err != nil {
		s.logger.Error("due schedule query failed", "error", err)
		return
	}
	for _, sched := range due {
		s.dispatch(ctx, sched, now)
	}
}

func (s *Scheduler) dispatch(ctx context.Context, sched models.Schedule, now time.Time) {
	next, err := NextRun(sched, now)
	if err != nil {
		s.logger.Error("schedule has invalid timing spec", "schedule_id", sched.ID, "error", err)
		return
	}

	// Persist the recomputed next_run before dispatching: even if this run
	// outlasts the interval, the slot fires exactly once.
	if err := s.store.UpdateScheduleNextRun(ctx, sched.ID, next); err != nil {
		s.logger.Error("next_run update failed", "schedule_id", sched.ID, "error", err)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		req := collector.Request{
			ConfigRef:   strconv.Itoa(sched.ConfigurationID),
			DataType:    sched.DataType,
			TriggeredBy: "schedule:" + strconv.Itoa(sched.ID),
		}

		run, err := s.runner.Run(ctx, req)
		if errors.Is(err, collector.ErrRunActive) {
			s.logger.Warn("schedule skipped, run already active",
				"schedule_id", sched.ID, "configuration_id", sched.ConfigurationID)
			return
		}
		if err != nil {
			s.logger.Error("scheduled run failed", "schedule_id", sched.ID, "error", err)
		}
		if run.ID == uuid.Nil {
			return
		}
		if err := s.store.MarkScheduleRun(ctx, sched.ID, now); err != nil {
			s.logger.Error("schedule bookkeeping failed", "schedule_id", sched.ID, "error", err)
		}
	}()
}
