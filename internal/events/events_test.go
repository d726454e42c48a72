package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/portfolio-metrics/internal/model"
	"github.com/sells-group/portfolio-metrics/internal/notify"
	"github.com/sells-group/portfolio-metrics/internal/store"
	"github.com/sells-group/portfolio-metrics/internal/telemetry"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) HasNotifiers() bool { return true }

func (m *mockDispatcher) Broadcast(ctx context.Context, msg *notify.Message) error {
	return m.Called(ctx, msg).Error(0)
}

type fixture struct {
	store    *store.SQLiteStore
	notifier *mockDispatcher
	metrics  *telemetry.Metrics
	server   *httptest.Server
}

func newFixture(t *testing.T, token string) *fixture {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, s.UpsertApp(context.Background(), model.App{
		ID: "app-a", Slug: "alpha", Name: "Alpha", Type: model.AppTypeMobile, Active: true, RevenueCatAppID: "rc_alpha",
	}))

	f := &fixture{store: s, notifier: &mockDispatcher{}, metrics: telemetry.NewMetrics("test", prometheus.NewRegistry())}
	r := chi.NewRouter()
	NewHandler(NewProcessor(s, s, f.notifier, f.metrics), token, f.metrics).Register(r)
	f.server = httptest.NewServer(r)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) post(t *testing.T, body, auth string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, f.server.URL+Path, strings.NewReader(body))
	require.NoError(t, err)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	var out struct {
		Status string `json:"status"`
	}
	require.NoError(t, jsonDecode(resp, &out))
	return resp.StatusCode, out.Status
}

const purchase = `{"api_version":"1.0","event":{
	"id":"evt-1","type":"INITIAL_PURCHASE","app_id":"rc_alpha","app_user_id":"user-7",
	"product_id":"pro_monthly","price":9.99,"currency":"USD","environment":"PRODUCTION",
	"event_timestamp_ms":1741788300000}}`

func TestWebhook_StoresAndNotifiesOnce(t *testing.T) {
	f := newFixture(t, "tok")
	f.notifier.On("Broadcast", mock.Anything, mock.MatchedBy(func(m *notify.Message) bool {
		return m.Title == "New subscription: Alpha"
	})).Return(nil).Once()

	code, status := f.post(t, purchase, "Bearer tok")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", status)

	code, status = f.post(t, purchase, "Bearer tok")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "duplicate", status)

	f.notifier.AssertNumberOfCalls(t, "Broadcast", 1)

	ev, err := f.store.GetEvent(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.True(t, ev.Notified)
	assert.Equal(t, "app-a", ev.AppID)
	assert.Equal(t, "rc_alpha", ev.RCAppID)
	assert.Equal(t, 9.99, ev.Price)
	assert.Equal(t, time.UnixMilli(1741788300000).UTC(), ev.EventAt)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.WebhookEvents.WithLabelValues("duplicate")))
}

func TestWebhook_SandboxIsStoredNotNotified(t *testing.T) {
	f := newFixture(t, "")
	body := strings.Replace(purchase, "PRODUCTION", "SANDBOX", 1)

	code, status := f.post(t, body, "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", status)
	f.notifier.AssertNotCalled(t, "Broadcast", mock.Anything, mock.Anything)

	ev, err := f.store.GetEvent(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.Equal(t, model.EnvironmentSandbox, ev.Environment)
	assert.False(t, ev.Notified)
}

func TestWebhook_UnnotifiedTypeIsStored(t *testing.T) {
	f := newFixture(t, "")
	body := strings.Replace(purchase, "INITIAL_PURCHASE", "TRANSFER", 1)

	_, status := f.post(t, body, "")
	assert.Equal(t, "ok", status)
	f.notifier.AssertNotCalled(t, "Broadcast", mock.Anything, mock.Anything)
}

func TestWebhook_DispatchFailureStillAcknowledged(t *testing.T) {
	f := newFixture(t, "")
	f.notifier.On("Broadcast", mock.Anything, mock.Anything).Return(errors.New("slack down"))

	code, status := f.post(t, purchase, "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", status)

	ev, err := f.store.GetEvent(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.False(t, ev.Notified)
}

func TestWebhook_CustomerSupportCancellationRendersAsRefund(t *testing.T) {
	f := newFixture(t, "")
	body := `{"event":{"id":"evt-9","type":"CANCELLATION","cancel_reason":"CUSTOMER_SUPPORT","environment":"PRODUCTION"}}`
	f.notifier.On("Broadcast", mock.Anything, mock.MatchedBy(func(m *notify.Message) bool {
		return strings.HasPrefix(m.Title, "Refund issued")
	})).Return(nil)

	_, status := f.post(t, body, "")
	assert.Equal(t, "ok", status)

	ev, err := f.store.GetEvent(context.Background(), "evt-9")
	require.NoError(t, err)
	assert.Equal(t, "CANCELLATION", ev.EventType)
	assert.Empty(t, ev.AppID)
}

func TestWebhook_Malformed(t *testing.T) {
	f := newFixture(t, "")
	for _, body := range []string{
		`not json`,
		`{}`,
		`{"event":{"type":"RENEWAL"}}`,
		`{"event":{"id":"evt-2"}}`,
		`{"event":"nope"}`,
	} {
		code, status := f.post(t, body, "")
		assert.Equal(t, http.StatusOK, code, body)
		assert.Equal(t, "ignored", status, body)
	}
	f.notifier.AssertNotCalled(t, "Broadcast", mock.Anything, mock.Anything)
}

func TestWebhook_Unauthorized(t *testing.T) {
	f := newFixture(t, "tok")
	for _, auth := range []string{"", "Bearer wrong", "tok", "Basic dG9r"} {
		code, status := f.post(t, purchase, auth)
		assert.Equal(t, http.StatusUnauthorized, code, auth)
		assert.Equal(t, "unauthorized", status)
	}
	_, err := f.store.GetEvent(context.Background(), "evt-1")
	assert.True(t, eris.Is(err, store.ErrNotFound))
}

type failingEvents struct{ store.EventStore }

func (failingEvents) InsertEvent(context.Context, *model.RevenueCatEvent) (bool, error) {
	return false, errors.New("database is locked")
}

func TestProcess_StoreFailure(t *testing.T) {
	p := NewProcessor(failingEvents{}, nil, nil, nil)
	outcome, err := p.Process(context.Background(), []byte(purchase))
	require.Error(t, err)
	assert.Equal(t, OutcomeError, outcome)

	rec := httptest.NewRecorder()
	NewHandler(p, "", nil).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, Path, strings.NewReader(purchase)))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"status":"error"}`, rec.Body.String())
}

func TestParse(t *testing.T) {
	p, raw, ok := Parse([]byte(`{"event":{"id":" evt-3 ","type":"renewal","price_in_purchased_currency":8.99,"currency":"EUR"}}`))
	require.True(t, ok)
	assert.Equal(t, "evt-3", p.ID)
	assert.Equal(t, "RENEWAL", p.Type)
	assert.NotEmpty(t, raw)

	ev := NewProcessor(nil, nil, nil, nil).toEvent(p, raw, model.App{})
	assert.Equal(t, 8.99, ev.Price)
	assert.Equal(t, "EUR", ev.Currency)
}

func TestNotifiable(t *testing.T) {
	assert.True(t, Notifiable("RENEWAL"))
	assert.True(t, Notifiable("BILLING_ISSUE"))
	assert.False(t, Notifiable("TEST"))
	assert.False(t, Notifiable("TRANSFER"))
}

func jsonDecode(resp *http.Response, v any) error {
	return json.NewDecoder(resp.Body).Decode(v)
}
