package ingest

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/portfolio-metrics/internal/model"
	"github.com/sells-group/portfolio-metrics/internal/store"
)

func seedRoster(t *testing.T, st store.RosterStore) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.UpsertApp(ctx, model.App{ID: "1", Slug: "alpha", Name: "Alpha", Type: model.AppTypeMobile, Active: true}))
	require.NoError(t, st.UpsertApp(ctx, model.App{ID: "2", Slug: "beta", Name: "Beta", Type: model.AppTypeWeb, Active: true}))
	require.NoError(t, st.UpsertApp(ctx, model.App{ID: "3", Slug: "retired", Name: "Retired", Type: model.AppTypeWeb, Active: false}))
}

func TestEngine_RunIsolatesSourceFailures(t *testing.T) {
	st := newTestStore(t)
	seedRoster(t, st)

	writer := func(name string, dau int64) *fakeSource {
		return &fakeSource{name: name, run: func(ctx context.Context, ic Context) Result {
			var rows []model.Row
			for _, a := range ic.Apps() {
				rows = append(rows, &model.ActiveUsersRow{Date: ic.Date(), AppID: a.ID, DAU: dau})
			}
			n, err := st.Upsert(ctx, rows...)
			if err != nil {
				return Failed(0, err)
			}
			return Succeeded(n)
		}}
	}

	reg := NewRegistry()
	reg.Register(writer("good", 5))
	reg.Register(&fakeSource{name: "broken", run: func(context.Context, Context) Result {
		return Failed(0, errors.New("provider unreachable"))
	}})
	reg.Register(&fakeSource{name: "panics", run: func(context.Context, Context) Result {
		panic("unexpected payload")
	}})

	eng := NewEngine(st, NewRunner(st, nil), reg, 2)
	summary, err := eng.Run(context.Background(), RunOpts{Date: testDate})
	require.NoError(t, err)

	require.Len(t, summary.Results, 3)
	assert.Equal(t, "good", summary.Results[0].Source)
	assert.True(t, summary.Results[0].Result.Success)
	assert.Equal(t, int64(2), summary.Records())
	assert.Len(t, summary.Failed(), 2)

	rows, err := store.QueryAs[*model.ActiveUsersRow](context.Background(), st, store.OnDay(testDate))
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	logs, err := st.ListLogs(context.Background(), store.LogFilter{RunID: summary.RunID})
	require.NoError(t, err)
	require.Len(t, logs, 3)
	for _, l := range logs {
		assert.True(t, l.Status.Terminal(), l.Source)
		assert.NotNil(t, l.CompletedAt, l.Source)
	}
}

func TestEngine_RerunIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	seedRoster(t, st)

	var dau atomic.Int64
	dau.Store(10)
	reg := NewRegistry()
	reg.Register(&fakeSource{name: "users", run: func(ctx context.Context, ic Context) Result {
		var rows []model.Row
		for _, a := range ic.Apps() {
			rows = append(rows, &model.ActiveUsersRow{Date: ic.Date(), AppID: a.ID, DAU: dau.Load()})
		}
		n, err := st.Upsert(ctx, rows...)
		if err != nil {
			return Failed(0, err)
		}
		return Succeeded(n)
	}})
	eng := NewEngine(st, NewRunner(st, nil), reg, 0)

	_, err := eng.Run(context.Background(), RunOpts{Date: testDate})
	require.NoError(t, err)
	dau.Store(25)
	_, err = eng.Run(context.Background(), RunOpts{Date: testDate})
	require.NoError(t, err)

	rows, err := store.QueryAs[*model.ActiveUsersRow](context.Background(), st, store.OnDay(testDate))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.Equal(t, int64(25), r.DAU)
	}

	logs, err := st.ListLogs(context.Background(), store.LogFilter{Source: "users"})
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}

func TestEngine_SelectsNamedSources(t *testing.T) {
	st := newTestStore(t)
	a := &fakeSource{name: "a", run: func(context.Context, Context) Result { return Succeeded(1) }}
	b := &fakeSource{name: "b", run: func(context.Context, Context) Result { return Succeeded(1) }}
	reg := NewRegistry()
	reg.Register(a)
	reg.Register(b)

	eng := NewEngine(st, NewRunner(st, nil), reg, 1)
	summary, err := eng.Run(context.Background(), RunOpts{Date: testDate, Sources: []string{"b"}})
	require.NoError(t, err)
	require.Len(t, summary.Results, 1)
	assert.Zero(t, a.calls.Load())
	assert.Equal(t, int32(1), b.calls.Load())

	_, err = eng.Run(context.Background(), RunOpts{Sources: []string{"nope"}})
	assert.Error(t, err)
}

func TestEngine_RepeatedSourceRunsOnce(t *testing.T) {
	st := newTestStore(t)
	ga4 := &fakeSource{name: "ga4", run: func(context.Context, Context) Result { return Succeeded(1) }}
	reg := NewRegistry()
	reg.Register(ga4)

	eng := NewEngine(st, NewRunner(st, nil), reg, 2)
	summary, err := eng.Run(context.Background(), RunOpts{Date: testDate, Sources: []string{"ga4", "ga4"}})
	require.NoError(t, err)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, int32(1), ga4.calls.Load())

	logs, err := st.ListLogs(context.Background(), store.LogFilter{RunID: summary.RunID})
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestEngine_DefaultsToYesterday(t *testing.T) {
	st := newTestStore(t)
	var got time.Time
	reg := NewRegistry()
	reg.Register(&fakeSource{name: "d", run: func(_ context.Context, ic Context) Result {
		got = ic.Date()
		return Succeeded(0)
	}})

	summary, err := NewEngine(st, NewRunner(st, nil), reg, 0).Run(context.Background(), RunOpts{})
	require.NoError(t, err)
	want := model.Day(time.Now().UTC().AddDate(0, 0, -1))
	assert.Equal(t, want, got)
	assert.Equal(t, want, summary.Date)
}

func TestLastRuns(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	id1, err := st.StartLog(ctx, model.IngestionLogEntry{Source: "ga4", Date: testDate, StartedAt: testDate.Add(time.Hour)})
	require.NoError(t, err)
	require.NoError(t, st.CompleteLog(ctx, id1, 1))
	id2, err := st.StartLog(ctx, model.IngestionLogEntry{Source: "ga4", Date: testDate, StartedAt: testDate.Add(2 * time.Hour)})
	require.NoError(t, err)
	require.NoError(t, st.FailLog(ctx, id2, 0, "x"))

	runs, err := LastRuns(ctx, st, []string{"ga4", "never"})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, id2, runs[0].ID)
	assert.Equal(t, model.LogStatusFailed, runs[0].Status)
}
