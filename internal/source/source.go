// Package source resolves the different ways a configuration's station list
// can be expressed: a CSV file, catalog filter criteria, an explicit id
// list, or another configuration narrowed by criteria. Callers pick a
// variant and go through one Resolve entry point instead of branching on
// shape at every call site.
package source

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jszwec/csvutil"

	"github.com/geoskimoto/usgs-streamflow-dashboard-sub000/internal/models"
)

// Catalog is the read surface resolution needs.
type Catalog interface {
	ListStations(ctx context.Context, filter models.StationFilter) ([]models.Station, error)
	GetConfiguration(ctx context.Context, ref string) (models.Configuration, error)
	ListStationsForConfiguration(ctx context.Context, configID int) ([]models.Station, error)
}

// Source yields station ids.
type Source interface {
	Resolve(ctx context.Context, cat Catalog) ([]string, error)
}

// CSV resolves stations from a catalog export file.
type CSV struct {
	Path string
}

// Filter resolves stations matching catalog criteria.
type Filter struct {
	Criteria models.StationFilter
}

// Manual resolves an explicit id list as given.
type Manual struct {
	SiteNos []string
}

// Derived resolves another configuration's membership narrowed by criteria.
type Derived struct {
	BaseConfig string
	Criteria   models.StationFilter
}

// ParseSpec parses a textual source descriptor into its variant:
//
//	csv:/path/to/stations.csv
//	manual:06306300,06307500
//	filter:active
//	filter:dataset=daily
//	filter:active,dataset=daily
//	derived:winter
//	derived:winter:active
func ParseSpec(spec string) (Source, error) {
	kind, rest, _ := strings.Cut(spec, ":")
	switch kind {
	case "csv":
		if rest == "" {
			return nil, fmt.Errorf("source %q: csv needs a file path", spec)
		}
		return CSV{Path: rest}, nil
	case "manual":
		var ids []string
		for _, id := range strings.Split(rest, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			return nil, fmt.Errorf("source %q: manual needs at least one site number", spec)
		}
		return Manual{SiteNos: ids}, nil
	case "filter":
		crit, err := parseCriteria(rest)
		if err != nil {
			return nil, fmt.Errorf("source %q: %w", spec, err)
		}
		return Filter{Criteria: crit}, nil
	case "derived":
		base, critStr, _ := strings.Cut(rest, ":")
		if base == "" {
			return nil, fmt.Errorf("source %q: derived needs a base configuration", spec)
		}
		crit, err := parseCriteria(critStr)
		if err != nil {
			return nil, fmt.Errorf("source %q: %w", spec, err)
		}
		return Derived{BaseConfig: base, Criteria: crit}, nil
	}
	return nil, fmt.Errorf("unknown source kind %q", kind)
}

func parseCriteria(s string) (models.StationFilter, error) {
	var f models.StationFilter
	if s == "" {
		return f, nil
	}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		switch {
		case part == "active":
			f.ActiveOnly = true
		case strings.HasPrefix(part, "dataset="):
			f.Dataset = strings.TrimPrefix(part, "dataset=")
		default:
			return f, fmt.Errorf("unknown filter criterion %q", part)
		}
	}
	return f, nil
}

// csvStation is one row of a station catalog CSV.
type csvStation struct {
	SiteNo       string   `csv:"site_no"`
	Name         string   `csv:"station_name"`
	Latitude     *float64 `csv:"lat,omitempty"`
	Longitude    *float64 `csv:"lon,omitempty"`
	Dataset      string   `csv:"dataset,omitempty"`
	DrainageArea *float64 `csv:"drainage_area_sqmi,omitempty"`
}

// ParseStationsCSV reads a catalog CSV into station records for import.
func ParseStationsCSV(path string) ([]models.Station, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read station csv: %w", err)
	}

	var rows []csvStation
	if err := csvutil.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("parse station csv %s: %w", path, err)
	}

	stations := make([]models.Station, 0, len(rows))
	for i, row := range rows {
		if row.SiteNo == "" {
			return nil, fmt.Errorf("parse station csv %s: row %d has empty site_no", path, i+1)
		}
		stations = append(stations, models.Station{
			SiteNo:       row.SiteNo,
			Name:         row.Name,
			Latitude:     row.Latitude,
			Longitude:    row.Longitude,
			Dataset:      row.Dataset,
			DrainageArea: row.DrainageArea,
		})
	}
	return stations, nil
}

// Resolve returns the site numbers listed in the CSV file.
func (c CSV) Resolve(_ context.Context, _ Catalog) ([]string, error) {
	stations, err := ParseStationsCSV(c.Path)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(stations))
	for _, st := range stations {
		ids = append(ids, st.SiteNo)
	}
	return ids, nil
}

// Resolve returns the site numbers matching the criteria.
func (f Filter) Resolve(ctx context.Context, cat Catalog) ([]string, error) {
	stations, err := cat.ListStations(ctx, f.Criteria)
	if err != nil {
		return nil, err
	}
	return siteNos(stations), nil
}

// Resolve returns the explicit list unchanged.
func (m Manual) Resolve(_ context.Context, _ Catalog) ([]string, error) {
	return m.SiteNos, nil
}

// Resolve returns the base configuration's members narrowed by the criteria.
func (d Derived) Resolve(ctx context.Context, cat Catalog) ([]string, error) {
	cfg, err := cat.GetConfiguration(ctx, d.BaseConfig)
	if err != nil {
		return nil, fmt.Errorf("resolve base configuration %q: %w", d.BaseConfig, err)
	}
	stations, err := cat.ListStationsForConfiguration(ctx, cfg.ID)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(stations))
	for _, st := range stations {
		if d.Criteria.ActiveOnly && !st.IsActive {
			continue
		}
		if d.Criteria.Dataset != "" && st.Dataset != d.Criteria.Dataset {
			continue
		}
		out = append(out, st.SiteNo)
	}
	return out, nil
}

func siteNos(stations []models.Station) []string {
	ids := make([]string, 0, len(stations))
	for _, st := range stations {
		ids = append(ids, st.SiteNo)
	}
	return ids
}
