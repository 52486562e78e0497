package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geoskimoto/usgs-streamflow-dashboard-sub000/internal/models"
)

type fakeCatalog struct {
	stations []models.Station
	cfg      models.Configuration
}

func (f *fakeCatalog) ListStations(_ context.Context, filter models.StationFilter) ([]models.Station, error) {
	out := make([]models.Station, 0)
	for _, st := range f.stations {
		if filter.ActiveOnly && !st.IsActive {
			continue
		}
		if filter.Dataset != "" && st.Dataset != filter.Dataset {
			continue
		}
		out = append(out, st)
	}
	return out, nil
}

func (f *fakeCatalog) GetConfiguration(_ context.Context, _ string) (models.Configuration, error) {
	return f.cfg, nil
}

func (f *fakeCatalog) ListStationsForConfiguration(_ context.Context, _ int) ([]models.Station, error) {
	return f.stations, nil
}

func writeCSV(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stations.csv")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestCSVResolve(t *testing.T) {
	path := writeCSV(t, `site_no,station_name,lat,lon,dataset,drainage_area_sqmi
06306300,Tongue River at State Line,45.0,-106.9,HCDN,1453
09380000,Colorado River at Lees Ferry,36.8,-111.6,HCDN,
`)

	ids, err := CSV{Path: path}.Resolve(context.Background(), nil)

	require.NoError(t, err)
	assert.Equal(t, []string{"06306300", "09380000"}, ids)
}

func TestParseStationsCSVKeepsOptionalFields(t *testing.T) {
	path := writeCSV(t, `site_no,station_name,lat,lon,dataset,drainage_area_sqmi
06306300,Tongue River at State Line,45.0,-106.9,HCDN,1453
`)

	stations, err := ParseStationsCSV(path)

	require.NoError(t, err)
	require.Len(t, stations, 1)
	assert.Equal(t, "Tongue River at State Line", stations[0].Name)
	require.NotNil(t, stations[0].DrainageArea)
	assert.Equal(t, 1453.0, *stations[0].DrainageArea)
}

func TestParseStationsCSVRejectsEmptySiteNo(t *testing.T) {
	path := writeCSV(t, `site_no,station_name
,Nameless Creek
`)

	_, err := ParseStationsCSV(path)

	assert.Error(t, err)
}

func TestManualResolve(t *testing.T) {
	ids, err := Manual{SiteNos: []string{"a", "b"}}.Resolve(context.Background(), nil)

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestFilterResolve(t *testing.T) {
	cat := &fakeCatalog{stations: []models.Station{
		{SiteNo: "1", IsActive: true, Dataset: "HCDN"},
		{SiteNo: "2", IsActive: false, Dataset: "HCDN"},
		{SiteNo: "3", IsActive: true, Dataset: "OTHER"},
	}}

	ids, err := Filter{Criteria: models.StationFilter{ActiveOnly: true, Dataset: "HCDN"}}.Resolve(context.Background(), cat)

	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, ids)
}

func TestParseSpecVariants(t *testing.T) {
	src, err := ParseSpec("csv:/tmp/stations.csv")
	require.NoError(t, err)
	assert.Equal(t, CSV{Path: "/tmp/stations.csv"}, src)

	src, err = ParseSpec("manual:06306300, 09380000")
	require.NoError(t, err)
	assert.Equal(t, Manual{SiteNos: []string{"06306300", "09380000"}}, src)

	src, err = ParseSpec("filter:active,dataset=HCDN")
	require.NoError(t, err)
	assert.Equal(t, Filter{Criteria: models.StationFilter{ActiveOnly: true, Dataset: "HCDN"}}, src)

	src, err = ParseSpec("derived:winter:active")
	require.NoError(t, err)
	assert.Equal(t, Derived{BaseConfig: "winter", Criteria: models.StationFilter{ActiveOnly: true}}, src)
}

func TestParseSpecRejectsMalformedDescriptors(t *testing.T) {
	for _, spec := range []string{
		"satellite:whatever",
		"csv:",
		"manual:",
		"manual: , ",
		"filter:colour=blue",
		"derived:",
		"derived:base:colour=blue",
	} {
		_, err := ParseSpec(spec)
		assert.Error(t, err, "spec %q must be rejected", spec)
	}
}

func TestDerivedResolveNarrowsBaseMembership(t *testing.T) {
	cat := &fakeCatalog{
		cfg: models.Configuration{ID: 7},
		stations: []models.Station{
			{SiteNo: "1", IsActive: true},
			{SiteNo: "2", IsActive: false},
		},
	}

	ids, err := Derived{BaseConfig: "base", Criteria: models.StationFilter{ActiveOnly: true}}.Resolve(context.Background(), cat)

	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, ids)
}
