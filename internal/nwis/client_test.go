package nwis

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/juju/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geoskimoto/usgs-streamflow-dashboard-sub000/internal/resolver"
)

const dailyPayload = `{
  "value": {
    "timeSeries": [
      {
        "variable": {"noDataValue": -999999},
        "values": [
          {
            "value": [
              {"value": "55.8", "qualifiers": ["A"], "dateTime": "2024-01-01T00:00:00.000"},
              {"value": "-999999", "qualifiers": ["P"], "dateTime": "2024-01-02T00:00:00.000"},
              {"value": "61.2", "qualifiers": ["P"], "dateTime": "2024-01-03T00:00:00.000"}
            ]
          }
        ]
      }
    ]
  }
}`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRange() resolver.Range {
	return resolver.Range{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
	}
}

func TestDailyValuesDecodesPoints(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "09380000", r.URL.Query().Get("sites"))
		assert.Equal(t, "00060", r.URL.Query().Get("parameterCd"))
		assert.Equal(t, "2024-01-01", r.URL.Query().Get("startDT"))
		assert.Equal(t, "2024-01-03", r.URL.Query().Get("endDT"))
		fmt.Fprint(w, dailyPayload)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "00060", 5*time.Second)
	points, err := client.DailyValues(context.Background(), "09380000", testRange())

	require.NoError(t, err)
	// The noDataValue sentinel row is dropped.
	require.Len(t, points, 2)
	assert.Equal(t, 55.8, points[0].Value)
	assert.Equal(t, "A", points[0].Qualifier)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), points[0].Timestamp)
}

func TestDailyValuesEmptySeriesIsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"value": {"timeSeries": []}}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "00060", 5*time.Second)
	points, err := client.DailyValues(context.Background(), "09380000", testRange())

	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestDailyValuesClassifiesStatuses(t *testing.T) {
	cases := []struct {
		status int
		want   Classification
	}{
		{http.StatusNotFound, Permanent},
		{http.StatusBadRequest, Permanent},
		{http.StatusInternalServerError, Transient},
		{http.StatusServiceUnavailable, Transient},
		{http.StatusTooManyRequests, Transient},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))

		client := NewClient(srv.URL, "00060", 5*time.Second)
		_, err := client.DailyValues(context.Background(), "09380000", testRange())
		srv.Close()

		require.Error(t, err)
		var fe *Error
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, tc.want, fe.Class, "status %d", tc.status)
	}
}

func TestDailyValuesMalformedPayloadIsValidationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"value": {"timeSeries": [{"values": [{"value": [{"value": "not-a-number", "dateTime": "2024-01-01T00:00:00.000"}]}]}]}}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "00060", 5*time.Second)
	_, err := client.DailyValues(context.Background(), "09380000", testRange())

	var fe *Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, Validation, fe.Class)
	assert.False(t, IsTransient(err))
}

func TestFetcherRetriesTransientThenSucceeds(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, dailyPayload)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "00060", 5*time.Second)
	fetcher := NewFetcher(client, RetryPolicy{Attempts: 3, Delay: time.Millisecond, MaxDelay: 5 * time.Millisecond}, clock.WallClock, discardLogger())

	res, err := fetcher.DailyValues(context.Background(), "09380000", testRange())

	require.NoError(t, err)
	assert.Equal(t, 2, res.Retries)
	assert.Len(t, res.Points, 2)
	assert.Equal(t, 3, calls)
}

func TestFetcherDoesNotRetryPermanentErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "00060", 5*time.Second)
	fetcher := NewFetcher(client, RetryPolicy{Attempts: 3, Delay: time.Millisecond, MaxDelay: 5 * time.Millisecond}, clock.WallClock, discardLogger())

	_, err := fetcher.DailyValues(context.Background(), "09380000", testRange())

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	var fe *Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, Permanent, fe.Class)
}

func TestFetcherExhaustsRetries(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "00060", 5*time.Second)
	fetcher := NewFetcher(client, RetryPolicy{Attempts: 3, Delay: time.Millisecond, MaxDelay: 5 * time.Millisecond}, clock.WallClock, discardLogger())

	res, err := fetcher.DailyValues(context.Background(), "09380000", testRange())

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, res.Retries)
	assert.True(t, IsTransient(err))
}
