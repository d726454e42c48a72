package google

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/portfolio-metrics/internal/resilience"
)

const (
	defaultAnalyticsURL     = "https://analyticsdata.googleapis.com/v1beta"
	defaultSearchConsoleURL = "https://www.googleapis.com/webmasters/v3"
)

// Client performs Google Analytics Data and Search Console operations.
type Client interface {
	RunReport(ctx context.Context, propertyID string, req ReportRequest) (*ReportResponse, error)
	SearchAnalytics(ctx context.Context, siteURL string, req SearchAnalyticsRequest) (*SearchAnalyticsResponse, error)
}

// DateRange is an inclusive YYYY-MM-DD range.
type DateRange struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

// SingleDay returns the range covering only d.
func SingleDay(d time.Time) DateRange {
	s := d.UTC().Format("2006-01-02")
	return DateRange{StartDate: s, EndDate: s}
}

// Dimension names a GA4 dimension.
type Dimension struct {
	Name string `json:"name"`
}

// Metric names a GA4 metric.
type Metric struct {
	Name string `json:"name"`
}

// ReportRequest is the body of a GA4 runReport call.
type ReportRequest struct {
	DateRanges []DateRange  `json:"dateRanges"`
	Dimensions []Dimension  `json:"dimensions,omitempty"`
	Metrics    []Metric     `json:"metrics"`
	Limit      int64        `json:"limit,omitempty"`
	OrderBys   []ReportSort `json:"orderBys,omitempty"`
}

// ReportSort orders report rows by a metric.
type ReportSort struct {
	Metric *MetricSort `json:"metric,omitempty"`
	Desc   bool        `json:"desc,omitempty"`
}

// MetricSort names the metric to order by.
type MetricSort struct {
	MetricName string `json:"metricName"`
}

// NewReportRequest builds a single-range request from dimension and metric names.
func NewReportRequest(r DateRange, dimensions []string, metrics ...string) ReportRequest {
	req := ReportRequest{DateRanges: []DateRange{r}}
	for _, d := range dimensions {
		req.Dimensions = append(req.Dimensions, Dimension{Name: d})
	}
	for _, m := range metrics {
		req.Metrics = append(req.Metrics, Metric{Name: m})
	}
	return req
}

// ReportResponse is the result of a GA4 runReport call.
type ReportResponse struct {
	DimensionHeaders []Header    `json:"dimensionHeaders"`
	MetricHeaders    []Header    `json:"metricHeaders"`
	Rows             []ReportRow `json:"rows"`
	RowCount         int64       `json:"rowCount"`
}

// Header names a column of a report.
type Header struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// ReportRow is one row of a report. Values are strings on the wire.
type ReportRow struct {
	DimensionValues []Value `json:"dimensionValues"`
	MetricValues    []Value `json:"metricValues"`
}

// Value is a single report cell.
type Value struct {
	Value string `json:"value"`
}

// Dimension returns the named dimension of row i, or "" if absent.
func (r *ReportResponse) Dimension(i int, name string) string {
	if r == nil || i < 0 || i >= len(r.Rows) {
		return ""
	}
	for j, h := range r.DimensionHeaders {
		if h.Name == name && j < len(r.Rows[i].DimensionValues) {
			return r.Rows[i].DimensionValues[j].Value
		}
	}
	return ""
}

// Metric returns the named metric of row i parsed as a float, or 0.
func (r *ReportResponse) Metric(i int, name string) float64 {
	if r == nil || i < 0 || i >= len(r.Rows) {
		return 0
	}
	for j, h := range r.MetricHeaders {
		if h.Name == name && j < len(r.Rows[i].MetricValues) {
			f, err := strconv.ParseFloat(r.Rows[i].MetricValues[j].Value, 64)
			if err != nil {
				return 0
			}
			return f
		}
	}
	return 0
}

// SearchAnalyticsRequest is the body of a searchAnalytics.query call.
type SearchAnalyticsRequest struct {
	StartDate  string   `json:"startDate"`
	EndDate    string   `json:"endDate"`
	Dimensions []string `json:"dimensions,omitempty"`
	RowLimit   int      `json:"rowLimit,omitempty"`
	DataState  string   `json:"dataState,omitempty"`
}

// SearchAnalyticsResponse is the result of a searchAnalytics.query call.
type SearchAnalyticsResponse struct {
	Rows []SearchRow `json:"rows"`
}

// SearchRow is one row; Keys follow the requested dimensions in order.
type SearchRow struct {
	Keys        []string `json:"keys"`
	Clicks      float64  `json:"clicks"`
	Impressions float64  `json:"impressions"`
	CTR         float64  `json:"ctr"`
	Position    float64  `json:"position"`
}

// Key returns the i-th key or "".
func (r SearchRow) Key(i int) string {
	if i < 0 || i >= len(r.Keys) {
		return ""
	}
	return r.Keys[i]
}

// Option configures the client.
type Option func(*httpClient)

// WithAnalyticsURL overrides the Analytics Data API base URL.
func WithAnalyticsURL(url string) Option {
	return func(c *httpClient) {
		c.analyticsURL = url
	}
}

// WithSearchConsoleURL overrides the Search Console API base URL.
func WithSearchConsoleURL(url string) Option {
	return func(c *httpClient) {
		c.searchConsoleURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	tokens           TokenSource
	analyticsURL     string
	searchConsoleURL string
	http             *http.Client
}

// NewClient creates a Google reporting client that authorizes every call
// with a token from ts.
func NewClient(ts TokenSource, opts ...Option) Client {
	c := &httpClient{
		tokens:           ts,
		analyticsURL:     defaultAnalyticsURL,
		searchConsoleURL: defaultSearchConsoleURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) RunReport(ctx context.Context, propertyID string, req ReportRequest) (*ReportResponse, error) {
	var out ReportResponse
	u := c.analyticsURL + "/properties/" + url.PathEscape(propertyID) + ":runReport"
	if err := c.post(ctx, u, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *httpClient) SearchAnalytics(ctx context.Context, siteURL string, req SearchAnalyticsRequest) (*SearchAnalyticsResponse, error) {
	var out SearchAnalyticsResponse
	u := c.searchConsoleURL + "/sites/" + url.PathEscape(siteURL) + "/searchAnalytics/query"
	if err := c.post(ctx, u, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *httpClient) post(ctx context.Context, u string, in, out any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return eris.Wrap(err, "google: token")
	}

	body, err := json.Marshal(in)
	if err != nil {
		return eris.Wrap(err, "google: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "google: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "google: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "google: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return resilience.StatusError("google", resp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return eris.Wrap(err, "google: unmarshal response")
	}
	return nil
}
