package revenuecat

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/portfolio-metrics/internal/resilience"
)

const defaultBaseURL = "https://api.revenuecat.com/v2"

// Overview metric identifiers.
const (
	MetricActiveSubscriptions = "active_subscriptions"
	MetricActiveTrials        = "active_trials"
	MetricMRR                 = "mrr"
	MetricRevenue             = "revenue"
	MetricNewCustomers        = "new_customers"
	MetricActiveUsers         = "active_users"
)

// Chart names used for daily movement.
const (
	ChartRevenue         = "revenue"
	ChartActivesMovement = "actives_movement"
)

// Client reads project metrics from the RevenueCat v2 API.
type Client interface {
	Overview(ctx context.Context, projectID string) (*Overview, error)
	Chart(ctx context.Context, projectID, chart string, start, end time.Time) (*ChartData, error)
}

// Overview is the current snapshot of a project's headline metrics.
type Overview struct {
	Metrics []OverviewMetric `json:"metrics"`
}

// OverviewMetric is a single headline metric.
type OverviewMetric struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Unit   string  `json:"unit"`
	Period string  `json:"period"`
	Value  float64 `json:"value"`
}

// Value returns the metric with the given id.
func (o *Overview) Value(id string) (float64, bool) {
	if o == nil {
		return 0, false
	}
	for _, m := range o.Metrics {
		if m.ID == id {
			return m.Value, true
		}
	}
	return 0, false
}

// ChartData is a chart's series, one value per cohort and measure.
type ChartData struct {
	Category   string         `json:"category"`
	Resolution string         `json:"resolution"`
	Measures   []ChartMeasure `json:"measures"`
	Values     []ChartValue   `json:"values"`
}

// ChartMeasure describes one measure column of a chart.
type ChartMeasure struct {
	DisplayName string `json:"display_name"`
	Unit        string `json:"unit"`
}

// ChartValue is one measure's value for a cohort (unix seconds).
type ChartValue struct {
	Cohort     int64   `json:"cohort"`
	Measure    int     `json:"measure"`
	Value      float64 `json:"value"`
	Incomplete bool    `json:"incomplete"`
}

// Sum adds the values of the named measure whose cohort falls on day.
// Measure names match case-insensitively. ok is false when the chart has
// no such measure.
func (c *ChartData) Sum(measure string, day time.Time) (total float64, ok bool) {
	if c == nil {
		return 0, false
	}
	idx := -1
	for i, m := range c.Measures {
		if strings.EqualFold(m.DisplayName, measure) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return 0, false
	}
	y, mo, d := day.UTC().Date()
	for _, v := range c.Values {
		if v.Measure != idx {
			continue
		}
		cy, cmo, cd := time.Unix(v.Cohort, 0).UTC().Date()
		if cy == y && cmo == mo && cd == d {
			total += v.Value
		}
	}
	return total, true
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a RevenueCat client authenticated with a v2 secret key.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Overview(ctx context.Context, projectID string) (*Overview, error) {
	var out Overview
	path := "/projects/" + url.PathEscape(projectID) + "/metrics/overview"
	if err := c.get(ctx, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *httpClient) Chart(ctx context.Context, projectID, chart string, start, end time.Time) (*ChartData, error) {
	q := url.Values{}
	q.Set("start_date", start.UTC().Format("2006-01-02"))
	q.Set("end_date", end.UTC().Format("2006-01-02"))
	q.Set("resolution", "day")

	var out ChartData
	path := "/projects/" + url.PathEscape(projectID) + "/charts/" + url.PathEscape(chart)
	if err := c.get(ctx, path, q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *httpClient) get(ctx context.Context, path string, q url.Values, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return eris.Wrap(err, "revenuecat: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "revenuecat: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "revenuecat: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return resilience.StatusError("revenuecat", resp.StatusCode, body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrap(err, "revenuecat: unmarshal response")
	}
	return nil
}
