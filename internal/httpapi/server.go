// Package httpapi exposes the engine's read and admin surfaces over REST.
// The core never renders UI; the dashboard and admin tooling are external
// collaborators of these endpoints.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/geoskimoto/usgs-streamflow-dashboard-sub000/internal/collector"
	"github.com/geoskimoto/usgs-streamflow-dashboard-sub000/internal/config"
	"github.com/geoskimoto/usgs-streamflow-dashboard-sub000/internal/db"
	"github.com/geoskimoto/usgs-streamflow-dashboard-sub000/internal/models"
)

// Store is the persistence surface the API reads and administers.
type Store interface {
	GetStation(ctx context.Context, siteNo string) (models.Station, error)
	ListStations(ctx context.Context, filter models.StationFilter) ([]models.Station, error)
	GetDailyValues(ctx context.Context, q db.DailyValueQuery) ([]models.DailyValue, error)
	GetRecentSamples(ctx context.Context, siteNo string, since time.Time, limit int) ([]models.RealtimeSample, error)
	GetRecentRuns(ctx context.Context, limit int) ([]models.CollectionRun, error)
	GetRun(ctx context.Context, runID uuid.UUID) (models.CollectionRun, error)
	GetOutcomes(ctx context.Context, runID uuid.UUID) ([]models.StationOutcome, error)
	CreateConfiguration(ctx context.Context, name string, description *string) (models.Configuration, error)
	GetConfiguration(ctx context.Context, ref string) (models.Configuration, error)
	ListStationsForConfiguration(ctx context.Context, configID int) ([]models.Station, error)
	SetMembership(ctx context.Context, configID int, siteNos []string) error
	CreateSchedule(ctx context.Context, sched models.Schedule) (models.Schedule, error)
	ListSchedules(ctx context.Context) ([]models.Schedule, error)
}

// Runner starts collection runs in the background.
type Runner interface {
	Start(ctx context.Context, req collector.Request) (models.CollectionRun, error)
}

// Server bundles router and dependencies for the REST API.
type Server struct {
	cfg    config.Config
	store  Store
	runner Runner
	guard  *collector.RunGuard
	clock  clock.Clock
	engine *gin.Engine
}

// New constructs a server with routes and middleware.
func New(cfg config.Config, store Store, runner Runner, guard *collector.RunGuard, clk clock.Clock) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(gin.Logger())
	engine.Use(corsMiddleware())

	if cfg.BearerToken != "" {
		engine.Use(bearerAuthMiddleware(cfg.BearerToken))
	}

	server := &Server{cfg: cfg, store: store, runner: runner, guard: guard, clock: clk, engine: engine}
	server.registerRoutes()
	return server
}

// Engine exposes the underlying gin engine (for tests).
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Run starts the HTTP server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.ListenAddr(),
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := s.engine.Group("/api/v1")

	v1.GET("/stations", s.handleListStations)
	v1.GET("/stations/:site_no", s.handleGetStation)
	v1.GET("/stations/:site_no/timeseries", s.handleTimeSeries)
	v1.GET("/stations/:site_no/realtime", s.handleRecentSamples)

	v1.GET("/runs", s.handleRecentRuns)
	v1.GET("/runs/:run_id", s.handleGetRun)
	v1.GET("/runs/:run_id/outcomes", s.handleRunOutcomes)
	v1.POST("/runs", s.handleTriggerRun)
	v1.POST("/runs/:run_id/cancel", s.handleCancelRun)

	v1.POST("/configurations", s.handleCreateConfiguration)
	v1.GET("/configurations/:ref", s.handleGetConfiguration)
	v1.PUT("/configurations/:ref/stations", s.handleSetMembership)

	v1.GET("/schedules", s.handleListSchedules)
	v1.POST("/schedules", s.handleCreateSchedule)
}

func bearerAuthMiddleware(expected string) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		if token != expected {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Next()
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
