package google

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/portfolio-metrics/internal/resilience"
)

// Scopes requested for the read-only reporting APIs.
const (
	ScopeAnalyticsReadonly  = "https://www.googleapis.com/auth/analytics.readonly"
	ScopeWebmastersReadonly = "https://www.googleapis.com/auth/webmasters.readonly"
)

const defaultTokenURI = "https://oauth2.googleapis.com/token"

// ServiceAccount is the subset of a service-account JSON key file needed
// for the JWT bearer grant.
type ServiceAccount struct {
	Type         string `json:"type"`
	ClientEmail  string `json:"client_email"`
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   string `json:"private_key"`
	TokenURI     string `json:"token_uri"`
}

// ParseServiceAccount decodes a service-account key file.
func ParseServiceAccount(data []byte) (ServiceAccount, error) {
	var sa ServiceAccount
	if err := json.Unmarshal(data, &sa); err != nil {
		return sa, eris.Wrap(err, "google: parse service account")
	}
	if sa.ClientEmail == "" || sa.PrivateKey == "" {
		return sa, eris.New("google: service account missing client_email or private_key")
	}
	if sa.TokenURI == "" {
		sa.TokenURI = defaultTokenURI
	}
	return sa, nil
}

// LoadServiceAccount reads and parses a service-account key file.
func LoadServiceAccount(path string) (ServiceAccount, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ServiceAccount{}, eris.Wrapf(err, "google: read service account %s", path)
	}
	return ParseServiceAccount(data)
}

// TokenSource supplies OAuth access tokens.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource that always returns the same token.
type StaticToken string

// Token returns the static token.
func (s StaticToken) Token(context.Context) (string, error) { return string(s), nil }

// serviceAccountSource exchanges a signed RS256 assertion for an access
// token and caches it until shortly before expiry.
type serviceAccountSource struct {
	sa     ServiceAccount
	key    *rsa.PrivateKey
	scopes []string
	http   *http.Client
	now    func() time.Time

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// NewServiceAccountSource builds a TokenSource for the given scopes.
func NewServiceAccountSource(sa ServiceAccount, hc *http.Client, scopes ...string) (TokenSource, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(sa.PrivateKey))
	if err != nil {
		return nil, eris.Wrap(err, "google: parse private key")
	}
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	if sa.TokenURI == "" {
		sa.TokenURI = defaultTokenURI
	}
	return &serviceAccountSource{sa: sa, key: key, scopes: scopes, http: hc, now: time.Now}, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (s *serviceAccountSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.token != "" && now.Add(time.Minute).Before(s.expiry) {
		return s.token, nil
	}

	claims := jwt.MapClaims{
		"iss":   s.sa.ClientEmail,
		"scope": strings.Join(s.scopes, " "),
		"aud":   s.sa.TokenURI,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if s.sa.PrivateKeyID != "" {
		tok.Header["kid"] = s.sa.PrivateKeyID
	}
	assertion, err := tok.SignedString(s.key)
	if err != nil {
		return "", eris.Wrap(err, "google: sign assertion")
	}

	form := url.Values{}
	form.Set("grant_type", "urn:ietf:params:oauth:grant-type:jwt-bearer")
	form.Set("assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.sa.TokenURI, strings.NewReader(form.Encode()))
	if err != nil {
		return "", eris.Wrap(err, "google: create token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.http.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "google: send token request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", eris.Wrap(err, "google: read token response")
	}
	if resp.StatusCode != http.StatusOK {
		return "", resilience.StatusError("google: token", resp.StatusCode, body)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", eris.Wrap(err, "google: unmarshal token response")
	}
	if tr.AccessToken == "" {
		return "", eris.New("google: token response has no access_token")
	}

	s.token = tr.AccessToken
	s.expiry = now.Add(time.Duration(tr.ExpiresIn) * time.Second)
	return s.token, nil
}
