package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/portfolio-metrics/internal/model"
	"github.com/sells-group/portfolio-metrics/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var testDate = time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC)

type fakeSource struct {
	name     string
	provider string
	run      func(ctx context.Context, ic Context) Result
	calls    atomic.Int32
}

func (f *fakeSource) Name() string { return f.name }
func (f *fakeSource) Run(ctx context.Context, ic Context) Result {
	f.calls.Add(1)
	return f.run(ctx, ic)
}

type providerSource struct{ fakeSource }

func (p *providerSource) ProviderSlug() string { return p.provider }

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestNewContext_FiltersInactiveAndCopies(t *testing.T) {
	apps := []model.App{
		{ID: "1", Slug: "a", Active: true, Platforms: []string{"ios"}},
		{ID: "2", Slug: "b", Active: false},
		{ID: "3", Slug: "c", Active: true},
	}
	providers := []model.Provider{{ID: "p", Slug: "openai", Active: true}, {ID: "q", Slug: "old", Active: false}}

	ic := NewContext("run", testDate.Add(13*time.Hour), apps, providers)
	assert.Equal(t, testDate, ic.Date())
	assert.Equal(t, "run", ic.RunID())
	require.Len(t, ic.Apps(), 2)
	assert.Len(t, ic.Providers(), 1)

	apps[0].Slug = "mutated"
	apps[0].Platforms[0] = "android"
	got := ic.Apps()
	assert.Equal(t, "a", got[0].Slug)
	assert.Equal(t, []string{"ios"}, got[0].Platforms)

	got[0].Platforms[0] = "web"
	assert.Equal(t, []string{"ios"}, ic.Apps()[0].Platforms)

	p, ok := ic.Provider("openai")
	assert.True(t, ok)
	assert.Equal(t, "p", p.ID)
	_, ok = ic.Provider("old")
	assert.False(t, ok)
}

func TestContext_AppsWhere(t *testing.T) {
	ic := NewContext("", testDate, []model.App{
		{ID: "1", Active: true, GA4PropertyID: "1"},
		{ID: "2", Active: true},
		{ID: "3", Active: true, GA4PropertyID: "3"},
	}, nil)
	got := ic.AppsWhere(func(a model.App) bool { return a.GA4PropertyID != "" })
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].ID)
	assert.Equal(t, "3", got[1].ID)
}

func TestResultHelpers(t *testing.T) {
	nc := NotConfigured()
	assert.True(t, nc.Success)
	assert.True(t, nc.NotConfigured)
	assert.Zero(t, nc.RecordsProcessed)

	ok := Succeeded(4)
	assert.True(t, ok.Success)
	assert.Equal(t, int64(4), ok.RecordsProcessed)

	f := Failed(2, errors.New("down"))
	assert.False(t, f.Success)
	assert.Equal(t, "down", f.Error)
	assert.Equal(t, int64(2), f.RecordsProcessed)
	assert.Equal(t, "unknown error", Failed(0, nil).Error)
}

func TestPacer_SpacesCalls(t *testing.T) {
	p := NewPacer(30 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, p.Wait(ctx))
	}
	assert.GreaterOrEqual(t, time.Since(start), 55*time.Millisecond)
}

func TestPacer_DisabledAndCancelled(t *testing.T) {
	p := NewPacer(0)
	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, p.Wait(context.Background()))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	slow := NewPacer(time.Hour)
	require.NoError(t, slow.Wait(context.Background()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, slow.Wait(ctx))

	var nilPacer *Pacer
	assert.NoError(t, nilPacer.Wait(context.Background()))
}

func TestForEach_IsolatesFailures(t *testing.T) {
	var seen []string
	res := ForEach(context.Background(), Loop{Source: "t", Pacer: NewPacer(0)},
		[]string{"a", "b", "c"},
		func(s string) string { return s },
		func(_ context.Context, s string) (int64, error) {
			seen = append(seen, s)
			if s == "a" {
				return 0, errors.New("a is down")
			}
			return 2, nil
		})

	assert.Equal(t, []string{"a", "b", "c"}, seen)
	assert.True(t, res.Success)
	assert.Equal(t, int64(4), res.RecordsProcessed)
}

func TestForEach_AllFail(t *testing.T) {
	res := ForEach(context.Background(), Loop{Source: "t"},
		[]int{1, 2},
		func(i int) string { return "x" },
		func(context.Context, int) (int64, error) { return 0, errors.New("nope") })

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "all 2 entities failed")
	assert.Contains(t, res.Error, "nope")
}

func TestForEach_NoEntities(t *testing.T) {
	res := ForEach(context.Background(), Loop{Source: "t"}, []int(nil), nil,
		func(context.Context, int) (int64, error) { panic("not called") })
	assert.True(t, res.Success)
	assert.Zero(t, res.RecordsProcessed)
}

func TestForEach_StopsOnCancelledPacing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	res := ForEach(ctx, Loop{Source: "t", Pacer: NewPacer(time.Hour)},
		[]int{1, 2, 3},
		func(int) string { return "" },
		func(context.Context, int) (int64, error) {
			calls++
			cancel()
			return 1, nil
		})
	assert.Equal(t, 1, calls)
	assert.True(t, res.Success)
	assert.Equal(t, int64(1), res.RecordsProcessed)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeSource{name: "b"})
	r.Register(&fakeSource{name: "a"})
	r.Register(&fakeSource{name: "b"})

	assert.Equal(t, []string{"b", "a"}, r.Names())
	assert.Len(t, r.All(), 2)

	sel, err := r.Select([]string{"a"})
	require.NoError(t, err)
	require.Len(t, sel, 1)
	assert.Equal(t, "a", sel[0].Name())

	sel, err = r.Select([]string{"a", "b", "a"})
	require.NoError(t, err)
	require.Len(t, sel, 2)
	assert.Equal(t, "a", sel[0].Name())
	assert.Equal(t, "b", sel[1].Name())

	_, err = r.Select([]string{"zzz"})
	assert.Error(t, err)

	all, err := r.Select(nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
