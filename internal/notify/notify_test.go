package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/portfolio-metrics/internal/config"
	"github.com/sells-group/portfolio-metrics/internal/metrics"
	"github.com/sells-group/portfolio-metrics/internal/model"
	"github.com/sells-group/portfolio-metrics/internal/resilience"
	"github.com/sells-group/portfolio-metrics/internal/telemetry"
)

type recordingNotifier struct {
	name string
	err  error
	sent []*Message
}

func (r *recordingNotifier) Name() string { return r.name }

func (r *recordingNotifier) Send(_ context.Context, msg *Message) error {
	r.sent = append(r.sent, msg)
	return r.err
}

func TestManager_BroadcastContinuesPastFailures(t *testing.T) {
	failing := &recordingNotifier{name: "slack", err: errors.New("status 500")}
	ok := &recordingNotifier{name: "webhook"}
	m := telemetry.NewMetrics("test", prometheus.NewRegistry())

	err := NewManager(m, failing, ok).Broadcast(context.Background(), &Message{Title: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slack")
	assert.Len(t, failing.sent, 1)
	require.Len(t, ok.sent, 1)
	assert.False(t, ok.sent[0].Timestamp.IsZero())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotifySends.WithLabelValues("slack", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotifySends.WithLabelValues("webhook", "ok")))
}

type flakyNotifier struct {
	failures int
	calls    int
}

func (f *flakyNotifier) Name() string { return "flaky" }

func (f *flakyNotifier) Send(context.Context, *Message) error {
	f.calls++
	if f.calls <= f.failures {
		return resilience.StatusError("flaky", http.StatusServiceUnavailable, nil)
	}
	return nil
}

func TestManager_RetriesTransientFailures(t *testing.T) {
	fast := resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond}

	recovering := &flakyNotifier{failures: 2}
	require.NoError(t, NewManager(nil, recovering).WithRetry(fast).Broadcast(context.Background(), &Message{}))
	assert.Equal(t, 3, recovering.calls)

	down := &flakyNotifier{failures: 10}
	err := NewManager(nil, down).WithRetry(fast).Broadcast(context.Background(), &Message{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Equal(t, 3, down.calls)
}

func TestFromConfig_MaxAttempts(t *testing.T) {
	m := FromConfig(config.NotifyConfig{SlackWebhookURL: "http://x", MaxAttempts: 5}, nil)
	assert.Equal(t, 5, m.retry.MaxAttempts)
	assert.True(t, m.HasNotifiers())
}

func TestManager_NoNotifiers(t *testing.T) {
	m := NewManager(nil)
	assert.False(t, m.HasNotifiers())
	assert.ErrorIs(t, m.Broadcast(context.Background(), &Message{}), ErrNoNotifiers)

	var nilManager *Manager
	assert.False(t, nilManager.HasNotifiers())
}

func TestFromConfig(t *testing.T) {
	m := FromConfig(config.NotifyConfig{}, nil)
	assert.False(t, m.HasNotifiers())

	m = FromConfig(config.NotifyConfig{SlackWebhookURL: "https://hooks.slack.test/x", WebhookURL: "https://ops.test/hook"}, nil)
	require.Len(t, m.notifiers, 2)
	assert.Equal(t, "slack", m.notifiers[0].Name())
	assert.Equal(t, "webhook", m.notifiers[1].Name())
}

func TestSlack_Send(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := NewSlack(srv.URL, time.Second).Send(context.Background(), &Message{
		Title:  "New subscription: Alpha",
		Text:   "details",
		Fields: []Field{{Label: "Price", Value: "$9.99"}},
	})
	require.NoError(t, err)

	blocks, ok := got["blocks"].([]any)
	require.True(t, ok)
	assert.Len(t, blocks, 3)
	assert.Contains(t, got["text"], "New subscription")
}

func TestSlack_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	err := NewSlack(srv.URL, 0).Send(context.Background(), &Message{Title: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestWebhook_SignsBody(t *testing.T) {
	var body []byte
	var sig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		sig = r.Header.Get(SignatureHeader)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	msg := &Message{Kind: KindHealth, Title: "stale", Severity: SeverityHigh}
	require.NoError(t, NewWebhook(srv.URL, "s3cret", time.Second).Send(context.Background(), msg))

	assert.Equal(t, "sha256="+Sign("s3cret", body), sig)
	var decoded Message
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, KindHealth, decoded.Kind)
}

func TestWebhook_UnsignedAndErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get(SignatureHeader))
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL, "", time.Second).Send(context.Background(), &Message{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "$1,234.50", Money(1234.5, ""))
	assert.Equal(t, "$9.99", Money(9.99, "usd"))
	assert.Equal(t, "-$3.00", Money(-3, "USD"))
	assert.Equal(t, "8.99 EUR", Money(8.99, "eur"))
	assert.Equal(t, "12,345", Count(12345))
	assert.Equal(t, "+12.5%", Percent(12.5))
	assert.Equal(t, "-4.0%", Percent(-4))
}

func TestRenderEvent(t *testing.T) {
	at := time.Date(2025, 3, 12, 14, 5, 0, 0, time.UTC)
	msg := RenderEvent(&model.RevenueCatEvent{
		EventID: "evt-1", EventType: "INITIAL_PURCHASE", ProductID: "pro_monthly",
		Price: 9.99, Currency: "USD", AppUserID: "user-7", EventAt: at,
	}, "Alpha")

	assert.Equal(t, KindEvent, msg.Kind)
	assert.Equal(t, "New subscription: Alpha", msg.Title)
	assert.Equal(t, SeverityInfo, msg.Severity)
	assert.Contains(t, msg.Fields, Field{Label: "Price", Value: "$9.99"})
	assert.Contains(t, msg.Fields, Field{Label: "At", Value: "2025-03-12 14:05 UTC"})
	assert.Equal(t, at, msg.Timestamp)

	msg = RenderEvent(&model.RevenueCatEvent{EventType: "BILLING_ISSUE", RCAppID: "app123"}, "")
	assert.Equal(t, "Billing issue: app123", msg.Title)
	assert.Equal(t, SeverityWarning, msg.Severity)
	assert.Contains(t, msg.Fields, Field{Label: "Product", Value: "-"})

	msg = RenderEvent(&model.RevenueCatEvent{EventType: "TRANSFER"}, "")
	assert.Equal(t, "TRANSFER", msg.Title)
}

func TestRenderSnapshot(t *testing.T) {
	snap := &metrics.Snapshot{
		Date:   time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC),
		Totals: metrics.Totals{Revenue: 2500, MRR: 12000, DAU: 4200, Installs: 31, Costs: 84.2, CostPerUser: 0.02},
		Deltas: metrics.Deltas{Revenue: 12.5, DAU: -3},
		Apps: []metrics.AppMetrics{
			{Name: "Alpha", Revenue: metrics.RevenueSplit{Gross: 2500}, Users: metrics.Users{DAU: 4000}},
			{Name: "Idle"},
		},
	}
	msg := RenderSnapshot(snap)

	assert.Equal(t, KindSnapshot, msg.Kind)
	assert.Equal(t, "Portfolio report 2025-03-12", msg.Title)
	assert.Contains(t, msg.Fields, Field{Label: "Revenue", Value: "$2,500.00 (+12.5%)"})
	assert.Contains(t, msg.Fields, Field{Label: "DAU", Value: "4,200 (-3.0%)"})
	assert.Contains(t, msg.Text, "Alpha")
	assert.NotContains(t, msg.Text, "Idle")
}
