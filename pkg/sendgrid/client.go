package sendgrid

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/portfolio-metrics/internal/resilience"
)

const defaultBaseURL = "https://api.sendgrid.com/v3"

// Client reads account-wide email statistics.
type Client interface {
	// GlobalStats returns per-day stats for the inclusive date range.
	GlobalStats(ctx context.Context, start, end time.Time) ([]DayStats, error)
}

// DayStats is one day of global stats.
type DayStats struct {
	Date  string      `json:"date"`
	Stats []StatBlock `json:"stats"`
}

// StatBlock wraps the metrics object.
type StatBlock struct {
	Metrics Metrics `json:"metrics"`
}

// Metrics are the event counters SendGrid reports.
type Metrics struct {
	Requests       int64 `json:"requests"`
	Processed      int64 `json:"processed"`
	Delivered      int64 `json:"delivered"`
	Opens          int64 `json:"opens"`
	UniqueOpens    int64 `json:"unique_opens"`
	Clicks         int64 `json:"clicks"`
	UniqueClicks   int64 `json:"unique_clicks"`
	Bounces        int64 `json:"bounces"`
	Blocks         int64 `json:"blocks"`
	SpamReports    int64 `json:"spam_reports"`
	Unsubscribes   int64 `json:"unsubscribes"`
	Deferred       int64 `json:"deferred"`
	InvalidEmails  int64 `json:"invalid_emails"`
	BounceDrops    int64 `json:"bounce_drops"`
	SpamReportDrop int64 `json:"spam_report_drops"`
}

// Total sums the metrics of every stat block of the day.
func (d DayStats) Total() Metrics {
	var m Metrics
	for _, s := range d.Stats {
		x := s.Metrics
		m.Requests += x.Requests
		m.Processed += x.Processed
		m.Delivered += x.Delivered
		m.Opens += x.Opens
		m.UniqueOpens += x.UniqueOpens
		m.Clicks += x.Clicks
		m.UniqueClicks += x.UniqueClicks
		m.Bounces += x.Bounces
		m.Blocks += x.Blocks
		m.SpamReports += x.SpamReports
		m.Unsubscribes += x.Unsubscribes
		m.Deferred += x.Deferred
		m.InvalidEmails += x.InvalidEmails
		m.BounceDrops += x.BounceDrops
		m.SpamReportDrop += x.SpamReportDrop
	}
	return m
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

// NewClient creates a SendGrid client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) GlobalStats(ctx context.Context, start, end time.Time) ([]DayStats, error) {
	q := url.Values{}
	q.Set("start_date", start.UTC().Format("2006-01-02"))
	q.Set("end_date", end.UTC().Format("2006-01-02"))
	q.Set("aggregated_by", "day")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/stats?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "sendgrid: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "sendgrid: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "sendgrid: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, resilience.StatusError("sendgrid", resp.StatusCode, body)
	}

	var out []DayStats
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, eris.Wrap(err, "sendgrid: unmarshal response")
	}
	return out, nil
}
