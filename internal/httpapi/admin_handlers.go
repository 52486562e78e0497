package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/geoskimoto/usgs-streamflow-dashboard-sub000/internal/collector"
	"github.com/geoskimoto/usgs-streamflow-dashboard-sub000/internal/db"
	"github.com/geoskimoto/usgs-streamflow-dashboard-sub000/internal/models"
	"github.com/geoskimoto/usgs-streamflow-dashboard-sub000/internal/scheduler"
	"github.com/geoskimoto/usgs-streamflow-dashboard-sub000/internal/source"
)

type createConfigurationRequest struct {
	Name        string  `json:"name" binding:"required"`
	Description *string `json:"description"`
}

func (s *Server) handleCreateConfiguration(c *gin.Context) {
	var req createConfigurationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	cfg, err := s.store.CreateConfiguration(ctx, req.Name, req.Description)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, cfg)
}

func (s *Server) handleGetConfiguration(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	cfg, err := s.store.GetConfiguration(ctx, c.Param("ref"))
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "configuration not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, cfg)
}

type setMembershipRequest struct {
	SiteNos []string `json:"site_nos"`
	Source  *string  `json:"source"`
}

// handleSetMembership replaces a configuration's station list. The list
// comes either as explicit site numbers or as a source descriptor (csv,
// filter, manual, derived) resolved against the catalog.
func (s *Server) handleSetMembership(c *gin.Context) {
	var req setMembershipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if (req.Source == nil) == (len(req.SiteNos) == 0) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "provide exactly one of site_nos or source"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	cfg, err := s.store.GetConfiguration(ctx, c.Param("ref"))
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "configuration not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	siteNos := req.SiteNos
	if req.Source != nil {
		src, err := source.ParseSpec(*req.Source)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		siteNos, err = src.Resolve(ctx, s.store)
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	if err := s.store.SetMembership(ctx, cfg.ID, siteNos); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown station in membership list"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"configuration_id": cfg.ID, "station_count": len(siteNos)})
}

type createScheduleRequest struct {
	Configuration string  `json:"configuration" binding:"required"`
	DataType      string  `json:"data_type" binding:"required"`
	Cron          *string `json:"cron"`
	Interval      *string `json:"interval"`
}

func (s *Server) handleCreateSchedule(c *gin.Context) {
	var req createScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	dataType := models.DataType(req.DataType)
	if !dataType.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid data_type"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	cfg, err := s.store.GetConfiguration(ctx, req.Configuration)
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "configuration not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	sched := models.Schedule{
		ConfigurationID: cfg.ID,
		DataType:        dataType,
		CronExpr:        req.Cron,
		Enabled:         true,
	}
	if req.Interval != nil {
		d, err := time.ParseDuration(*req.Interval)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid interval"})
			return
		}
		sched.Interval = d
	}

	next, err := scheduler.NextRun(sched, s.clock.Now().UTC())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sched.NextRun = next

	created, err := s.store.CreateSchedule(ctx, sched)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, created)
}

func (s *Server) handleListSchedules(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	schedules, err := s.store.ListSchedules(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"count": len(schedules), "schedules": schedules})
}

type triggerRunRequest struct {
	Configuration string `json:"configuration" binding:"required"`
	DataType      string `json:"data_type" binding:"required"`
	FullRefresh   bool   `json:"full_refresh"`
}

func (s *Server) handleTriggerRun(c *gin.Context) {
	var req triggerRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	dataType := models.DataType(req.DataType)
	if !dataType.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid data_type"})
		return
	}

	run, err := s.runner.Start(c.Request.Context(), collector.Request{
		ConfigRef:   req.Configuration,
		DataType:    dataType,
		FullRefresh: req.FullRefresh,
		TriggeredBy: "manual",
	})
	if errors.Is(err, collector.ErrRunActive) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "configuration not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, run)
}

func (s *Server) handleCancelRun(c *gin.Context) {
	runID, ok := s.runIDParam(c)
	if !ok {
		return
	}

	if !s.guard.Cancel(runID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active run with that id"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"run_id": runID, "cancelling": true})
}
