package digitalocean

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/portfolio-metrics/internal/resilience"
)

const defaultBaseURL = "https://api.digitalocean.com/v2"

// Client reads account billing from the DigitalOcean API.
type Client interface {
	Balance(ctx context.Context) (*Balance, error)
}

// Balance is the customer balance. Monetary fields are decimal strings on
// the wire.
type Balance struct {
	MonthToDateBalance string    `json:"month_to_date_balance"`
	AccountBalance     string    `json:"account_balance"`
	MonthToDateUsage   string    `json:"month_to_date_usage"`
	GeneratedAt        time.Time `json:"generated_at"`
}

// MonthToDateUSD parses MonthToDateUsage.
func (b *Balance) MonthToDateUSD() (float64, error) {
	s := strings.TrimSpace(b.MonthToDateUsage)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "digitalocean: parse month_to_date_usage %q", s)
	}
	return v, nil
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
	token   string
	baseURL string
	http    *http.Client
}

// NewClient creates a DigitalOcean client authenticated with a personal
// access token.
func NewClient(token string, opts ...Option) Client {
	c := &httpClient{
		token:   token,
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

func (c *httpClient) Balance(ctx context.Context) (*Balance, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/customers/my/balance", nil)
	if err != nil {
		return nil, eris.Wrap(err, "digitalocean: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "digitalocean: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "digitalocean: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, resilience.StatusError("digitalocean", resp.StatusCode, body)
	}

	var out Balance
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, eris.Wrap(err, "digitalocean: unmarshal response")
	}
	return &out, nil
}
