package appstore

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/ecdsa"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/portfolio-metrics/internal/resilience"
)

const (
	defaultBaseURL = "https://api.appstoreconnect.apple.com/v1"
	audience       = "appstoreconnect-v1"
	tokenTTL       = 15 * time.Minute
)

// Client downloads App Store Connect sales reports.
type Client interface {
	// SalesSummary returns the daily SALES/SUMMARY report for a vendor.
	// A date with no sales yields an empty slice and no error.
	SalesSummary(ctx context.Context, vendorNumber string, date time.Time) ([]SalesRow, error)
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

// WithClock overrides the time source used for token issue times.
func WithClock(now func() time.Time) Option {
	return func(c *httpClient) {
		c.now = now
	}
}

type httpClient struct {
	issuerID string
	keyID    string
	key      *ecdsa.PrivateKey
	baseURL  string
	http     *http.Client
	now      func() time.Time

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

// NewClient creates an App Store Connect client. privateKeyPEM is the
// contents of the .p8 key downloaded from App Store Connect.
func NewClient(issuerID, keyID string, privateKeyPEM []byte, opts ...Option) (Client, error) {
	key, err := jwt.ParseECPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return nil, eris.Wrap(err, "appstore: parse private key")
	}
	c := &httpClient{
		issuerID: issuerID,
		keyID:    keyID,
		key:      key,
		baseURL:  defaultBaseURL,
		http: &http.Client{
			Timeout: 60 * time.Second,
		},
		now: time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// bearer returns a cached ES256 token, minting a new one shortly before
// the previous one expires.
func (c *httpClient) bearer() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.token != "" && now.Add(time.Minute).Before(c.tokenExp) {
		return c.token, nil
	}

	exp := now.Add(tokenTTL)
	tok := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.RegisteredClaims{
		Issuer:    c.issuerID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		Audience:  jwt.ClaimStrings{audience},
	})
	tok.Header["kid"] = c.keyID

	signed, err := tok.SignedString(c.key)
	if err != nil {
		return "", eris.Wrap(err, "appstore: sign token")
	}
	c.token, c.tokenExp = signed, exp
	return signed, nil
}

func (c *httpClient) SalesSummary(ctx context.Context, vendorNumber string, date time.Time) ([]SalesRow, error) {
	token, err := c.bearer()
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("filter[frequency]", "DAILY")
	q.Set("filter[reportDate]", date.UTC().Format("2006-01-02"))
	q.Set("filter[reportSubType]", "SUMMARY")
	q.Set("filter[reportType]", "SALES")
	q.Set("filter[vendorNumber]", vendorNumber)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/salesReports?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "appstore: create request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/a-gzip")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "appstore: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "appstore: read response")
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		// Apple answers 404 for a day without sales.
		return []SalesRow{}, nil
	default:
		return nil, resilience.StatusError("appstore", resp.StatusCode, body)
	}

	return decodeReport(body)
}

// decodeReport accepts the gzip payload Apple sends, or plain TSV when a
// proxy has already decompressed it.
func decodeReport(body []byte) ([]SalesRow, error) {
	var r io.Reader = bytes.NewReader(body)
	if len(body) >= 2 && body[0] == 0x1f && body[1] == 0x8b {
		gz, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, eris.Wrap(err, "appstore: open gzip")
		}
		defer gz.Close() //nolint:errcheck
		r = gz
	}
	return ParseSalesReport(r)
}
