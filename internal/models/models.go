package models

import (
	"time"

	"github.com/google/uuid"
)

// DataType selects which kind of time series a run collects.
type DataType string

const (
	DataTypeRealtime   DataType = "realtime"
	DataTypeHistorical DataType = "historical"
	DataTypeBoth       DataType = "both"
)

// Historical reports whether the data type includes daily-value collection.
func (d DataType) Historical() bool {
	return d == DataTypeHistorical || d == DataTypeBoth
}

// Realtime reports whether the data type includes instantaneous-value collection.
func (d DataType) Realtime() bool {
	return d == DataTypeRealtime || d == DataTypeBoth
}

// Valid reports whether d is one of the known data types.
func (d DataType) Valid() bool {
	return d == DataTypeRealtime || d == DataTypeHistorical || d == DataTypeBoth
}

// RunStatus is the lifecycle state of a CollectionRun.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusPartial   RunStatus = "partial"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether s is a terminal state.
func (s RunStatus) Terminal() bool {
	return s != RunStatusRunning
}

// Station is the canonical catalog record for one gauging station.
// Descriptive fields come from catalog import; the derived statistics
// (YearsOfRecord, NumWaterYears, LastDataDate, IsActive) are written only
// after a successful collection touching the station.
type Station struct {
	SiteNo        string     `json:"site_no"`
	Name          string     `json:"name"`
	Latitude      *float64   `json:"lat,omitempty"`
	Longitude     *float64   `json:"lon,omitempty"`
	Dataset       string     `json:"dataset,omitempty"`
	DrainageArea  *float64   `json:"drainage_area_sqmi,omitempty"`
	IsActive      bool       `json:"is_active"`
	YearsOfRecord int        `json:"years_of_record"`
	NumWaterYears int        `json:"num_water_years"`
	LastDataDate  *time.Time `json:"last_data_date,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// StationStats holds the derived statistics recomputed by the enrichment pass.
type StationStats struct {
	YearsOfRecord int        `json:"years_of_record"`
	NumWaterYears int        `json:"num_water_years"`
	LastDataDate  *time.Time `json:"last_data_date,omitempty"`
	IsActive      bool       `json:"is_active"`
}

// StationFilter narrows ListStations results.
type StationFilter struct {
	ActiveOnly bool
	Dataset    string
	SiteNos    []string
}

// Configuration is a named subset of stations collected together.
type Configuration struct {
	ID           int       `json:"id"`
	Name         string    `json:"name"`
	Description  *string   `json:"description,omitempty"`
	IsDefault    bool      `json:"is_default"`
	StationCount int       `json:"station_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Membership associates a station with a configuration at a priority.
type Membership struct {
	ConfigurationID int    `json:"configuration_id"`
	SiteNo          string `json:"site_no"`
	Priority        int    `json:"priority"`
}

// Schedule is a recurring trigger binding a configuration, a data type and a
// timing spec. Exactly one of CronExpr or Interval is set.
type Schedule struct {
	ID              int           `json:"id"`
	ConfigurationID int           `json:"configuration_id"`
	DataType        DataType      `json:"data_type"`
	CronExpr        *string       `json:"cron,omitempty"`
	Interval        time.Duration `json:"interval,omitempty"`
	Enabled         bool          `json:"enabled"`
	LastRun         *time.Time    `json:"last_run,omitempty"`
	NextRun         time.Time     `json:"next_run"`
	RunCount        int           `json:"run_count"`
	CreatedAt       time.Time     `json:"created_at"`
}

// CollectionRun records one execution over a configuration.
// Invariant: Successful+Failed <= Attempted while running; equality holds on
// every terminal status except cancelled.
type CollectionRun struct {
	ID              uuid.UUID  `json:"id"`
	ConfigurationID int        `json:"configuration_id"`
	DataType        DataType   `json:"data_type"`
	Status          RunStatus  `json:"status"`
	Attempted       int        `json:"attempted"`
	Successful      int        `json:"successful"`
	Failed          int        `json:"failed"`
	TriggeredBy     string     `json:"triggered_by"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
}

// OutcomeType classifies a per-station failure within a run.
type OutcomeType string

const (
	OutcomeNetwork    OutcomeType = "network"
	OutcomePermanent  OutcomeType = "permanent"
	OutcomeValidation OutcomeType = "validation"
)

// StationOutcome is a per-station failure record. Success is implicit: a
// station attempted in a run with no outcome row succeeded.
type StationOutcome struct {
	RunID      uuid.UUID   `json:"run_id"`
	SiteNo     string      `json:"site_no"`
	ErrorType  OutcomeType `json:"error_type"`
	Message    string      `json:"message"`
	RetryCount int         `json:"retry_count"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Chunk is the metadata for one contiguous stored range of daily values.
// For a given station stored chunks never overlap; the latest EndDate is the
// station's watermark.
type Chunk struct {
	SiteNo      string    `json:"site_no"`
	StartDate   time.Time `json:"start_date"`
	EndDate     time.Time `json:"end_date"`
	PointCount  int       `json:"point_count"`
	LastUpdated time.Time `json:"last_updated"`
}

// DailyValue is one stored daily observation.
type DailyValue struct {
	SiteNo string    `json:"site_no"`
	Date   time.Time `json:"date"`
	Value  float64   `json:"value"`
}

// RealtimeSample is one stored instantaneous observation, subject to a
// rolling retention window.
type RealtimeSample struct {
	SiteNo    string    `json:"site_no"`
	Timestamp time.Time `json:"ts"`
	Value     float64   `json:"value"`
}
