package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultNWISBaseURL    = "https://waterservices.usgs.gov/nwis"
	defaultParameterCode  = "00060"
	defaultOriginDate     = "1910-01-01"
	defaultBatchSize      = 10
	defaultMaxConcurrent  = 4
	defaultBatchDelay     = 2 * time.Second
	defaultRequestTimeout = 30 * time.Second
	defaultRetryAttempts  = 3
	defaultRetryDelay     = 1 * time.Second
	defaultRetryMaxDelay  = 30 * time.Second
	defaultActivityDays   = 30
	defaultRealtimeWindow = 24 * time.Hour
	defaultRetentionDays  = 120
	defaultPollInterval   = 30 * time.Second
	defaultPort           = 8080
	defaultQueryLimit     = 500
)

// Config holds environment-driven settings shared by the api, collect and
// scheduler binaries.
type Config struct {
	DatabaseURL string

	// Upstream NWIS service.
	NWISBaseURL    string
	ParameterCode  string
	RequestTimeout time.Duration

	// Collection engine.
	OriginDate     time.Time
	BatchSize      int
	MaxConcurrent  int
	BatchDelay     time.Duration
	RetryAttempts  int
	RetryDelay     time.Duration
	RetryMaxDelay  time.Duration
	RealtimeWindow time.Duration
	RetentionDays  int

	// Enrichment.
	ActivityThresholdDays int

	// Scheduler.
	PollInterval time.Duration

	// REST API.
	Port         int
	BearerToken  string
	DefaultLimit int
}

// Load reads configuration from environment variables (optionally .env).
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		NWISBaseURL:           defaultNWISBaseURL,
		ParameterCode:         defaultParameterCode,
		RequestTimeout:        defaultRequestTimeout,
		BatchSize:             defaultBatchSize,
		MaxConcurrent:         defaultMaxConcurrent,
		BatchDelay:            defaultBatchDelay,
		RetryAttempts:         defaultRetryAttempts,
		RetryDelay:            defaultRetryDelay,
		RetryMaxDelay:         defaultRetryMaxDelay,
		RealtimeWindow:        defaultRealtimeWindow,
		RetentionDays:         defaultRetentionDays,
		ActivityThresholdDays: defaultActivityDays,
		PollInterval:          defaultPollInterval,
		Port:                  defaultPort,
		DefaultLimit:          defaultQueryLimit,
	}

	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if cfg.DatabaseURL == "" {
		return cfg, errors.New("DATABASE_URL is required")
	}

	if v := strings.TrimSpace(os.Getenv("NWIS_BASE_URL")); v != "" {
		cfg.NWISBaseURL = strings.TrimRight(v, "/")
	}
	if v := strings.TrimSpace(os.Getenv("NWIS_PARAMETER_CODE")); v != "" {
		cfg.ParameterCode = v
	}

	origin := defaultOriginDate
	if v := strings.TrimSpace(os.Getenv("COLLECTOR_ORIGIN_DATE")); v != "" {
		origin = v
	}
	t, err := time.Parse("2006-01-02", origin)
	if err != nil {
		return cfg, fmt.Errorf("invalid COLLECTOR_ORIGIN_DATE: %w", err)
	}
	cfg.OriginDate = t.UTC()

	intVars := []struct {
		name string
		dst  *int
	}{
		{"COLLECTOR_BATCH_SIZE", &cfg.BatchSize},
		{"COLLECTOR_MAX_CONCURRENT", &cfg.MaxConcurrent},
		{"COLLECTOR_RETRY_ATTEMPTS", &cfg.RetryAttempts},
		{"COLLECTOR_RETENTION_DAYS", &cfg.RetentionDays},
		{"ACTIVITY_THRESHOLD_DAYS", &cfg.ActivityThresholdDays},
		{"API_DEFAULT_LIMIT", &cfg.DefaultLimit},
	}
	for _, iv := range intVars {
		v := strings.TrimSpace(os.Getenv(iv.name))
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return cfg, fmt.Errorf("invalid %s: %s", iv.name, v)
		}
		*iv.dst = n
	}

	durVars := []struct {
		name string
		dst  *time.Duration
	}{
		{"COLLECTOR_BATCH_DELAY", &cfg.BatchDelay},
		{"COLLECTOR_REQUEST_TIMEOUT", &cfg.RequestTimeout},
		{"COLLECTOR_RETRY_DELAY", &cfg.RetryDelay},
		{"COLLECTOR_RETRY_MAX_DELAY", &cfg.RetryMaxDelay},
		{"COLLECTOR_REALTIME_WINDOW", &cfg.RealtimeWindow},
		{"SCHEDULER_POLL_INTERVAL", &cfg.PollInterval},
	}
	for _, dv := range durVars {
		v := strings.TrimSpace(os.Getenv(dv.name))
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return cfg, fmt.Errorf("invalid %s: %s", dv.name, v)
		}
		*dv.dst = d
	}

	if portStr := strings.TrimSpace(os.Getenv("PORT")); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil || port <= 0 {
			return cfg, fmt.Errorf("invalid PORT: %s", portStr)
		}
		cfg.Port = port
	}

	cfg.BearerToken = os.Getenv("API_BEARER_TOKEN")

	return cfg, nil
}

// ListenAddr returns the host:port string for the HTTP server.
func (c Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// ActivityThreshold returns the activity threshold as a duration.
func (c Config) ActivityThreshold() time.Duration {
	return time.Duration(c.ActivityThresholdDays) * 24 * time.Hour
}
