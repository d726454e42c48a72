package resilience

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("invalid input: missing field"), false},
		{"explicit", NewTransientError(errors.New("overloaded"), 503), true},
		{"wrapped fmt", fmt.Errorf("call: %w", NewTransientError(errors.New("rate limited"), 429)), true},
		{"conn reset", fmt.Errorf("write tcp: %w", syscall.ECONNRESET), true},
		{"conn refused", fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED), true},
		{"net timeout", &net.DNSError{IsTimeout: true, Err: "timeout"}, true},
		{"broken pipe", fmt.Errorf("write tcp: %w", syscall.EPIPE), true},
		{"truncated body", fmt.Errorf("decode: %w", io.ErrUnexpectedEOF), true},
		{"idle connection closed", errors.New("http: server closed idle connection"), true},
		{"provider 502", &ProviderError{Provider: "openai", StatusCode: 502}, true},
		{"provider 404", fmt.Errorf("fetch: %w", &ProviderError{Provider: "openai", StatusCode: 404}), false},
		{"tls message without type", errors.New("net/http: TLS handshake timeout"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), code)
	}
	for _, code := range []int{200, 400, 401, 403, 404, 409, 422} {
		assert.False(t, IsTransientHTTPStatus(code), code)
	}
}

func TestTransientError_UnwrapsAndKeepsMessage(t *testing.T) {
	inner := errors.New("root cause")
	te := NewTransientError(inner, 500)

	assert.ErrorIs(t, te, inner)
	assert.Equal(t, "root cause", te.Error())
	assert.Equal(t, 500, te.StatusCode)
}

func TestStatusError(t *testing.T) {
	err := StatusError("revenuecat", 503, []byte(" upstream busy \n"))
	var te *TransientError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 503, te.StatusCode)
	assert.Equal(t, "revenuecat: unexpected status 503: upstream busy", err.Error())
	assert.Equal(t, ClassTransient, Classify(err))

	err = StatusError("sendgrid", 401, []byte(`{"errors":[{"message":"bad key"}]}`))
	assert.False(t, IsTransient(err))
	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "sendgrid", pe.Provider)
	assert.Equal(t, ClassAuth, Classify(err))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ClassTransient, Classify(fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED)))
	assert.Equal(t, ClassAuth, Classify(StatusError("appstore", 403, nil)))
	assert.Equal(t, ClassPermanent, Classify(StatusError("ga4", 400, []byte("bad property"))))
	assert.Equal(t, ClassPermanent, Classify(errors.New("decode: invalid character")))
}

func TestStatusError_TruncatesBody(t *testing.T) {
	err := StatusError("openai", 400, []byte(strings.Repeat("x", 2000)))
	assert.Less(t, len(err.Error()), 600)
	assert.True(t, strings.HasSuffix(err.Error(), "..."))
}
