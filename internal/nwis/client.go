// Package nwis fetches time-series data from the USGS NWIS water services.
// The client issues one pull-only HTTP request per station/parameter/range
// and classifies every failure so callers can decide between retry and a
// recorded station outcome.
package nwis

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/geoskimoto/usgs-streamflow-dashboard-sub000/internal/resolver"
)

const dateLayout = "2006-01-02"

// Point is one decoded observation from the upstream service.
type Point struct {
	Timestamp time.Time `json:"ts"`
	Value     float64   `json:"value"`
	Qualifier string    `json:"quality_flag,omitempty"`
}

// Client talks to the NWIS daily-value and instantaneous-value endpoints.
type Client struct {
	baseURL    string
	parameter  string
	httpClient *http.Client
}

// NewClient builds a client for the given base URL and parameter code.
func NewClient(baseURL, parameter string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		parameter:  parameter,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// DailyValues fetches daily observations for one station over an inclusive
// date range. A valid response with zero points returns an empty slice and
// no error.
func (c *Client) DailyValues(ctx context.Context, siteNo string, r resolver.Range) ([]Point, error) {
	q := url.Values{}
	q.Set("format", "json")
	q.Set("sites", siteNo)
	q.Set("parameterCd", c.parameter)
	q.Set("startDT", r.Start.Format(dateLayout))
	q.Set("endDT", r.End.Format(dateLayout))
	q.Set("siteStatus", "all")
	return c.get(ctx, c.baseURL+"/dv/?"+q.Encode())
}

// InstantaneousValues fetches recent fine-grained observations for one
// station covering the trailing window.
func (c *Client) InstantaneousValues(ctx context.Context, siteNo string, window time.Duration) ([]Point, error) {
	hours := int(window / time.Hour)
	if hours < 1 {
		hours = 1
	}
	q := url.Values{}
	q.Set("format", "json")
	q.Set("sites", siteNo)
	q.Set("parameterCd", c.parameter)
	q.Set("period", fmt.Sprintf("PT%dH", hours))
	return c.get(ctx, c.baseURL+"/iv/?"+q.Encode())
}

func (c *Client) get(ctx context.Context, rawURL string) ([]Point, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &Error{Class: Permanent, Message: "build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{
			Class:      ClassifyStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Message:    "unexpected status " + resp.Status,
		}
	}

	var payload waterMLResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &Error{Class: Validation, Message: "decode payload", Err: err}
	}

	return payload.points()
}

// waterMLResponse models the WaterML 1.1 JSON envelope returned by NWIS.
type waterMLResponse struct {
	Value struct {
		TimeSeries []struct {
			Variable struct {
				NoDataValue float64 `json:"noDataValue"`
			} `json:"variable"`
			Values []struct {
				Value []rawPoint `json:"value"`
			} `json:"values"`
		} `json:"timeSeries"`
	} `json:"value"`
}

type rawPoint struct {
	Value      string   `json:"value"`
	Qualifiers []string `json:"qualifiers"`
	DateTime   string   `json:"dateTime"`
}

var pointLayouts = []string{
	"2006-01-02T15:04:05.000-07:00",
	"2006-01-02T15:04:05.000",
	time.RFC3339,
	dateLayout,
}

func (w waterMLResponse) points() ([]Point, error) {
	// Zero series is NWIS's "no data for this range": success, empty chunk.
	out := make([]Point, 0)
	for _, ts := range w.Value.TimeSeries {
		for _, vs := range ts.Values {
			for _, rp := range vs.Value {
				v, err := strconv.ParseFloat(rp.Value, 64)
				if err != nil {
					return nil, &Error{Class: Validation, Message: "parse value " + rp.Value, Err: err}
				}
				if v == ts.Variable.NoDataValue {
					continue
				}
				t, err := parsePointTime(rp.DateTime)
				if err != nil {
					return nil, &Error{Class: Validation, Message: "parse timestamp " + rp.DateTime, Err: err}
				}
				p := Point{Timestamp: t.UTC(), Value: v}
				if len(rp.Qualifiers) > 0 {
					p.Qualifier = rp.Qualifiers[0]
				}
				out = append(out, p)
			}
		}
	}
	return out, nil
}

func parsePointTime(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range pointLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
