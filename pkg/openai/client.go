package openai

import (
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
	defaultBaseURL = "https://api.openai.com/v1"
	maxPages       = 50
)

// Client reads organization spend from the OpenAI Costs API.
type Client interface {
	// Costs returns daily cost buckets between start (inclusive) and end
	// (exclusive), grouped by project. All pages are followed.
	Costs(ctx context.Context, start, end time.Time) ([]CostBucket, error)
}

// CostBucket is one day of cost results.
type CostBucket struct {
	StartTime int64        `json:"start_time"`
	EndTime   int64        `json:"end_time"`
	Results   []CostResult `json:"results"`
}

// Start returns the bucket start as a UTC time.
func (b CostBucket) Start() time.Time { return time.Unix(b.StartTime, 0).UTC() }

// CostResult is the spend of one project within a bucket. ProjectID is
// empty for spend not attributed to a project.
type CostResult struct {
	Amount    Amount  `json:"amount"`
	ProjectID *string `json:"project_id"`
	LineItem  *string `json:"line_item"`
}

// Project returns the project id or "".
func (r CostResult) Project() string {
	if r.ProjectID == nil {
		return ""
	}
	return *r.ProjectID
}

// Amount is a monetary value.
type Amount struct {
	Value    float64 `json:"value"`
	Currency string  `json:"currency"`
}

type costsPage struct {
	Data     []CostBucket `json:"data"`
	HasMore  bool         `json:"has_more"`
	NextPage *string      `json:"next_page"`
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

// WithOrganization sets the OpenAI-Organization header.
func WithOrganization(org string) Option {
	return func(c *httpClient) {
		c.org = org
	}
}

type httpClient struct {
	adminKey string
	org      string
	baseURL  string
	http     *http.Client
}

// NewClient creates a Costs API client authenticated with an admin key.
func NewClient(adminKey string, opts ...Option) Client {
	c := &httpClient{
		adminKey: adminKey,
		baseURL:  defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Costs(ctx context.Context, start, end time.Time) ([]CostBucket, error) {
	q := url.Values{}
	q.Set("start_time", strconv.FormatInt(start.UTC().Unix(), 10))
	q.Set("end_time", strconv.FormatInt(end.UTC().Unix(), 10))
	q.Set("bucket_width", "1d")
	q.Add("group_by", "project_id")
	q.Set("limit", "31")

	var buckets []CostBucket
	for i := 0; i < maxPages; i++ {
		var page costsPage
		if err := c.get(ctx, "/organization/costs", q, &page); err != nil {
			return nil, err
		}
		buckets = append(buckets, page.Data...)
		if !page.HasMore || page.NextPage == nil || *page.NextPage == "" {
			return buckets, nil
		}
		q.Set("page", *page.NextPage)
	}
	return nil, eris.Errorf("openai: costs exceeded %d pages", maxPages)
}

func (c *httpClient) get(ctx context.Context, path string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return eris.Wrap(err, "openai: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.adminKey)
	if c.org != "" {
		req.Header.Set("OpenAI-Organization", c.org)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "openai: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "openai: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return resilience.StatusError("openai", resp.StatusCode, body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrap(err, "openai: unmarshal response")
	}
	return nil
}
