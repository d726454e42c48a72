package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/portfolio-metrics/internal/model"
	"github.com/sells-group/portfolio-metrics/internal/store"
	"github.com/sells-group/portfolio-metrics/internal/telemetry"
)

func onlyLog(t *testing.T, s store.LogStore, source string) model.IngestionLogEntry {
	t.Helper()
	logs, err := s.ListLogs(context.Background(), store.LogFilter{Source: source})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	return logs[0]
}

func TestRunner_Success(t *testing.T) {
	st := newTestStore(t)
	m := telemetry.NewMetrics("test", prometheus.NewRegistry())
	r := NewRunner(st, m)
	ic := NewContext("run-1", testDate, nil, nil)

	var sawRunning bool
	src := &fakeSource{name: "ok", run: func(ctx context.Context, _ Context) Result {
		e := onlyLog(t, st, "ok")
		sawRunning = e.Status == model.LogStatusRunning
		return Succeeded(7)
	}}

	res := r.Run(context.Background(), src, ic)
	assert.True(t, res.Success)
	assert.True(t, sawRunning, "log entry must exist before the source runs")

	e := onlyLog(t, st, "ok")
	assert.Equal(t, model.LogStatusSuccess, e.Status)
	assert.Equal(t, int64(7), e.RecordsProcessed)
	assert.Equal(t, "run-1", e.RunID)
	assert.Equal(t, testDate, e.Date)
	assert.NotNil(t, e.CompletedAt)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SourceRuns.WithLabelValues("ok", "success")))
}

func TestRunner_NotConfiguredIsSuccess(t *testing.T) {
	st := newTestStore(t)
	r := NewRunner(st, nil)

	res := r.Run(context.Background(), &fakeSource{name: "nc", run: func(context.Context, Context) Result {
		return NotConfigured()
	}}, NewContext("", testDate, nil, nil))

	assert.True(t, res.Success)
	e := onlyLog(t, st, "nc")
	assert.Equal(t, model.LogStatusSuccess, e.Status)
	assert.Zero(t, e.RecordsProcessed)
}

func TestRunner_Failure(t *testing.T) {
	st := newTestStore(t)
	r := NewRunner(st, nil)

	res := r.Run(context.Background(), &fakeSource{name: "bad", run: func(context.Context, Context) Result {
		return Failed(3, errors.New("provider unreachable"))
	}}, NewContext("", testDate, nil, nil))

	assert.False(t, res.Success)
	e := onlyLog(t, st, "bad")
	assert.Equal(t, model.LogStatusFailed, e.Status)
	assert.Equal(t, "provider unreachable", e.ErrorMessage)
	assert.Equal(t, int64(3), e.RecordsProcessed)
}

func TestRunner_PanicIsRecordedAsFailure(t *testing.T) {
	st := newTestStore(t)
	r := NewRunner(st, nil)

	var res Result
	assert.NotPanics(t, func() {
		res = r.Run(context.Background(), &fakeSource{name: "boom", run: func(context.Context, Context) Result {
			var m map[string]int
			m["x"] = 1
			return Succeeded(1)
		}}, NewContext("", testDate, nil, nil))
	})

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "panic")
	e := onlyLog(t, st, "boom")
	assert.Equal(t, model.LogStatusFailed, e.Status)
	assert.Contains(t, e.ErrorMessage, "panic")
}

func TestRunner_CancelledContextStillFinalizes(t *testing.T) {
	st := newTestStore(t)
	r := NewRunner(st, nil)
	ctx, cancel := context.WithCancel(context.Background())

	res := r.Run(ctx, &fakeSource{name: "slow", run: func(ctx context.Context, _ Context) Result {
		cancel()
		return Failed(0, ctx.Err())
	}}, NewContext("", testDate, nil, nil))

	assert.False(t, res.Success)
	e := onlyLog(t, st, "slow")
	assert.Equal(t, model.LogStatusFailed, e.Status)
}

func TestRunner_RecordsProviderReference(t *testing.T) {
	st := newTestStore(t)
	r := NewRunner(st, nil)
	ic := NewContext("", testDate, nil, []model.Provider{{ID: "prov-9", Slug: "sendgrid", Active: true}})

	src := &providerSource{fakeSource{name: "sendgrid", provider: "sendgrid", run: func(context.Context, Context) Result {
		return Succeeded(1)
	}}}
	r.Run(context.Background(), src, ic)

	e := onlyLog(t, st, "sendgrid")
	assert.Equal(t, "prov-9", e.ProviderID)
}

type failingLogStore struct{ store.LogStore }

func (failingLogStore) StartLog(context.Context, model.IngestionLogEntry) (int64, error) {
	return 0, errors.New("db down")
}

func TestRunner_StartLogFailureSkipsSource(t *testing.T) {
	r := NewRunner(failingLogStore{}, nil)
	src := &fakeSource{name: "x", run: func(context.Context, Context) Result { return Succeeded(1) }}

	res := r.Run(context.Background(), src, NewContext("", testDate, nil, nil))
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "db down")
	assert.Zero(t, src.calls.Load())
}
