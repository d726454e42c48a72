package monitoring

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/portfolio-metrics/internal/model"
	"github.com/sells-group/portfolio-metrics/internal/notify"
	"github.com/sells-group/portfolio-metrics/internal/store"
)

var checkAt = time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC)

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) HasNotifiers() bool { return true }

func (m *mockDispatcher) Broadcast(ctx context.Context, msg *notify.Message) error {
	return m.Called(ctx, msg).Error(0)
}

func newLogStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "monitoring.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

// seedRun writes one finished (or running) log entry for source.
func seedRun(t *testing.T, s store.LogStore, source string, started time.Time, status model.LogStatus, msg string) {
	t.Helper()
	ctx := context.Background()
	id, err := s.StartLog(ctx, model.IngestionLogEntry{
		RunID: started.Format(time.RFC3339), Source: source, Date: model.Day(started), StartedAt: started,
	})
	require.NoError(t, err)
	switch status {
	case model.LogStatusSuccess:
		require.NoError(t, s.CompleteLog(ctx, id, 10))
	case model.LogStatusFailed:
		require.NoError(t, s.FailLog(ctx, id, 0, msg))
	}
}

func newTestCollector(s store.LogStore, sources ...string) *Collector {
	c := NewCollector(s, sources)
	c.now = func() time.Time { return checkAt }
	return c
}

func TestCollector_Healthy(t *testing.T) {
	s := newLogStore(t)
	seedRun(t, s, "ga4", checkAt.Add(-6*time.Hour), model.LogStatusSuccess, "")
	seedRun(t, s, "sendgrid", checkAt.Add(-2*time.Hour), model.LogStatusSuccess, "")

	snap, err := newTestCollector(s, "ga4", "sendgrid").Collect(context.Background(), 36)
	require.NoError(t, err)

	require.Len(t, snap.Sources, 2)
	assert.Zero(t, snap.Failed)
	assert.Zero(t, snap.Stale)
	assert.Zero(t, snap.Stuck)
	assert.Equal(t, model.LogStatusSuccess, snap.Sources[0].LastStatus)
	require.NotNil(t, snap.Sources[0].LastSuccessAt)
	assert.True(t, snap.Sources[0].LastSuccessAt.Equal(checkAt.Add(-6*time.Hour)))
}

func TestCollector_FailedAfterSuccess(t *testing.T) {
	s := newLogStore(t)
	seedRun(t, s, "ga4", checkAt.Add(-30*time.Hour), model.LogStatusSuccess, "")
	seedRun(t, s, "ga4", checkAt.Add(-6*time.Hour), model.LogStatusFailed, "quota exceeded")

	snap, err := newTestCollector(s, "ga4").Collect(context.Background(), 36)
	require.NoError(t, err)

	h := snap.Sources[0]
	assert.Equal(t, model.LogStatusFailed, h.LastStatus)
	assert.Equal(t, "quota exceeded", h.LastError)
	assert.False(t, h.Stale)
	assert.Equal(t, 1, snap.Failed)
}

func TestCollector_StaleAndNeverRun(t *testing.T) {
	s := newLogStore(t)
	seedRun(t, s, "ga4", checkAt.Add(-48*time.Hour), model.LogStatusSuccess, "")

	snap, err := newTestCollector(s, "ga4", "openai").Collect(context.Background(), 36)
	require.NoError(t, err)

	assert.True(t, snap.Sources[0].Stale)
	assert.True(t, snap.Sources[1].Stale)
	assert.Empty(t, snap.Sources[1].LastStatus)
	assert.Nil(t, snap.Sources[1].LastSuccessAt)
	assert.Equal(t, 2, snap.Stale)
}

func TestCollector_StuckRun(t *testing.T) {
	s := newLogStore(t)
	seedRun(t, s, "revenuecat", checkAt.Add(-40*time.Hour), model.LogStatusRunning, "")
	seedRun(t, s, "appstore", checkAt.Add(-time.Hour), model.LogStatusRunning, "")

	snap, err := newTestCollector(s, "revenuecat", "appstore").Collect(context.Background(), 36)
	require.NoError(t, err)

	assert.True(t, snap.Sources[0].Stuck)
	assert.False(t, snap.Sources[1].Stuck)
	assert.Equal(t, 1, snap.Stuck)
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(nil)
	alerts := a.Evaluate(&HealthSnapshot{
		Sources:     []SourceHealth{{Source: "ga4", LastStatus: model.LogStatusSuccess}},
		CollectedAt: checkAt,
	})
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_OneAlertPerCondition(t *testing.T) {
	a := NewAlerter(nil)
	alerts := a.Evaluate(&HealthSnapshot{
		Sources: []SourceHealth{
			{Source: "ga4", LastStatus: model.LogStatusFailed, LastError: "boom"},
			{Source: "openai", LastStatus: model.LogStatusFailed, LastError: "401", Stale: true},
			{Source: "appstore", LastStatus: model.LogStatusRunning, Stuck: true},
		},
		StaleAfterHours: 36,
		CollectedAt:     checkAt,
	})

	require.Len(t, alerts, 3)
	assert.Equal(t, AlertSourceFailed, alerts[0].Type)
	assert.Equal(t, notify.SeverityHigh, alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "ga4, openai")
	assert.Equal(t, "401", alerts[0].Details["openai"])

	assert.Equal(t, AlertSourceStale, alerts[1].Type)
	assert.Contains(t, alerts[1].Message, "36h: openai")

	assert.Equal(t, AlertSourceStuck, alerts[2].Type)
	assert.Equal(t, checkAt, alerts[2].Timestamp)
}

func TestAlerter_SendAlerts(t *testing.T) {
	d := &mockDispatcher{}
	d.On("Broadcast", mock.Anything, mock.MatchedBy(func(m *notify.Message) bool {
		return m.Kind == notify.KindHealth && m.Title == "Ingestion source failed"
	})).Return(nil).Once()
	d.On("Broadcast", mock.Anything, mock.Anything).Return(errors.New("slack down")).Once()

	sent := NewAlerter(d).SendAlerts(context.Background(), []Alert{
		{Type: AlertSourceFailed, Severity: notify.SeverityHigh, Message: "x"},
		{Type: AlertSourceStale, Severity: notify.SeverityWarning, Message: "y"},
	})
	assert.Equal(t, 1, sent)
	d.AssertExpectations(t)
}

func TestAlerter_SendAlerts_NoNotifier(t *testing.T) {
	assert.Zero(t, NewAlerter(nil).SendAlerts(context.Background(), []Alert{{Type: AlertSourceFailed}}))
}

func TestAlerter_SendAlerts_EmptyAlerts(t *testing.T) {
	d := &mockDispatcher{}
	assert.Zero(t, NewAlerter(d).SendAlerts(context.Background(), nil))
	d.AssertNotCalled(t, "Broadcast", mock.Anything, mock.Anything)
}

func TestChecker_Check(t *testing.T) {
	s := newLogStore(t)
	seedRun(t, s, "ga4", checkAt.Add(-time.Hour), model.LogStatusFailed, "boom")

	d := &mockDispatcher{}
	d.On("Broadcast", mock.Anything, mock.Anything).Return(nil)

	checker := NewChecker(newTestCollector(s, "ga4"), NewAlerter(d), config0())
	alerts := checker.Check(context.Background())

	// failed and never succeeded
	require.Len(t, alerts, 2)
	d.AssertNumberOfCalls(t, "Broadcast", 2)
}
