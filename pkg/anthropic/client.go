package anthropic

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

const (
	defaultBaseURL = "https://api.anthropic.com/v1"
	apiVersion     = "2023-06-01"
	maxPages       = 50
)

// Client reads organization usage from the Anthropic Admin API.
type Client interface {
	// MessagesUsage returns daily token usage between start (inclusive) and
	// end (exclusive), grouped by model and service tier. All pages are
	// followed.
	MessagesUsage(ctx context.Context, start, end time.Time) ([]UsageBucket, error)
}

// UsageBucket is one time bucket of usage results.
type UsageBucket struct {
	StartingAt time.Time     `json:"starting_at"`
	EndingAt   time.Time     `json:"ending_at"`
	Results    []UsageResult `json:"results"`
}

// UsageResult is the token usage for one model and tier within a bucket.
type UsageResult struct {
	Model                string        `json:"model"`
	ServiceTier          string        `json:"service_tier"`
	UncachedInputTokens  int64         `json:"uncached_input_tokens"`
	CacheReadInputTokens int64         `json:"cache_read_input_tokens"`
	CacheCreation        CacheCreation `json:"cache_creation"`
	OutputTokens         int64         `json:"output_tokens"`
}

// CacheCreation splits cache-write tokens by TTL.
type CacheCreation struct {
	Ephemeral1hInputTokens int64 `json:"ephemeral_1h_input_tokens"`
	Ephemeral5mInputTokens int64 `json:"ephemeral_5m_input_tokens"`
}

// CacheWriteTokens is the total of both cache-write TTLs.
func (r UsageResult) CacheWriteTokens() int64 {
	return r.CacheCreation.Ephemeral1hInputTokens + r.CacheCreation.Ephemeral5mInputTokens
}

// IsBatch reports whether the usage was billed at the batch tier.
func (r UsageResult) IsBatch() bool { return r.ServiceTier == "batch" }

// TotalTokens sums every token class.
func (r UsageResult) TotalTokens() int64 {
	return r.UncachedInputTokens + r.CacheReadInputTokens + r.CacheWriteTokens() + r.OutputTokens
}

type usagePage struct {
	Data     []UsageBucket `json:"data"`
	HasMore  bool          `json:"has_more"`
	NextPage *string       `json:"next_page"`
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
	adminKey string
	baseURL  string
	http     *http.Client
}

// NewClient creates an Admin API client. adminKey must be an
// organization admin key (sk-ant-admin...).
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

func (c *httpClient) MessagesUsage(ctx context.Context, start, end time.Time) ([]UsageBucket, error) {
	q := url.Values{}
	q.Set("starting_at", start.UTC().Format(time.RFC3339))
	q.Set("ending_at", end.UTC().Format(time.RFC3339))
	q.Set("bucket_width", "1d")
	q.Add("group_by[]", "model")
	q.Add("group_by[]", "service_tier")

	var buckets []UsageBucket
	for i := 0; i < maxPages; i++ {
		var page usagePage
		if err := c.get(ctx, "/organizations/usage_report/messages", q, &page); err != nil {
			return nil, err
		}
		buckets = append(buckets, page.Data...)
		if !page.HasMore || page.NextPage == nil || *page.NextPage == "" {
			return buckets, nil
		}
		q.Set("page", *page.NextPage)
	}
	return nil, eris.Errorf("anthropic: usage report exceeded %d pages", maxPages)
}

func (c *httpClient) get(ctx context.Context, path string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return eris.Wrap(err, "anthropic: create request")
	}
	req.Header.Set("x-api-key", c.adminKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "anthropic: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "anthropic: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return resilience.StatusError("anthropic", resp.StatusCode, body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrap(err, "anthropic: unmarshal response")
	}
	return nil
}
