package resilience

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// Error classes reported by Classify.
const (
	ClassTransient = "transient"
	ClassAuth      = "auth"
	ClassPermanent = "permanent"
)

// ProviderError is a non-success HTTP response from a provider API or a
// notification endpoint.
type ProviderError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Transient reports whether the status is worth retrying.
func (e *ProviderError) Transient() bool {
	return IsTransientHTTPStatus(e.StatusCode)
}

// Auth reports whether the provider rejected the credentials.
func (e *ProviderError) Auth() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// TransientError marks an error as expected to clear on a later attempt.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// Messages net/http produces for dropped connections without a typed error
// in the chain.
var transientMessages = []string{
	"server closed idle connection",
	"connection reset by peer",
}

// IsTransient reports whether err is a retryable provider or transport
// failure: a TransientError, a ProviderError with a retryable status, a
// client timeout, or a dropped connection.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient()
	}

	// http.Client timeouts surface as *url.Error, which implements net.Error.
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, m := range transientMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// IsTransientHTTPStatus returns true if the HTTP status code indicates a
// transient server-side issue that is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// StatusError builds the error for a non-success provider response. The
// body is truncated to keep log lines bounded. Retryable statuses are
// wrapped in a TransientError.
func StatusError(provider string, statusCode int, body []byte) error {
	const maxBody = 512
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxBody {
		msg = msg[:maxBody] + "..."
	}
	pe := &ProviderError{Provider: provider, StatusCode: statusCode, Body: msg}
	if pe.Transient() {
		return NewTransientError(pe, statusCode)
	}
	return pe
}

// Classify labels an error for the error_class log field.
func Classify(err error) string {
	if IsTransient(err) {
		return ClassTransient
	}
	var pe *ProviderError
	if errors.As(err, &pe) && pe.Auth() {
		return ClassAuth
	}
	return ClassPermanent
}
