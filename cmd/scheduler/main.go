package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/juju/clock"

	"github.com/geoskimoto/usgs-streamflow-dashboard-sub000/internal/collector"
	"github.com/geoskimoto/usgs-streamflow-dashboard-sub000/internal/config"
	"github.com/geoskimoto/usgs-streamflow-dashboard-sub000/internal/db"
	"github.com/geoskimoto/usgs-streamflow-dashboard-sub000/internal/enrich"
	"github.com/geoskimoto/usgs-streamflow-dashboard-sub000/internal/nwis"
	"github.com/geoskimoto/usgs-streamflow-dashboard-sub000/internal/scheduler"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("scheduler failed: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	store, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer store.Close()

	client := nwis.NewClient(cfg.NWISBaseURL, cfg.ParameterCode, cfg.RequestTimeout)
	fetcher := nwis.NewFetcher(client, nwis.RetryPolicy{
		Attempts: cfg.RetryAttempts,
		Delay:    cfg.RetryDelay,
		MaxDelay: cfg.RetryMaxDelay,
	}, clock.WallClock, logger)
	calc := enrich.NewCalculator(store, cfg.ActivityThreshold(), clock.WallClock, logger)

	orch := collector.New(store, fetcher, calc, collector.NewRunGuard(), collector.Options{
		Origin:         cfg.OriginDate,
		BatchSize:      cfg.BatchSize,
		MaxConcurrent:  cfg.MaxConcurrent,
		BatchDelay:     cfg.BatchDelay,
		RealtimeWindow: cfg.RealtimeWindow,
		RetentionDays:  cfg.RetentionDays,
	}, clock.WallClock, logger)

	sched := scheduler.New(store, orch, clock.WallClock, cfg.PollInterval, logger)
	return sched.Loop(ctx)
}
