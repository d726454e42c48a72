package metrics

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/portfolio-metrics/internal/model"
	"github.com/sells-group/portfolio-metrics/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "metrics.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func seedRoster(t *testing.T, s *store.SQLiteStore) {
	t.Helper()
	ctx := context.Background()
	for _, a := range []model.App{
		{ID: "a", Slug: "alpha", Name: "Alpha", Type: model.AppTypeMobile, Active: true},
		{ID: "b", Slug: "beta", Name: "Beta", Type: model.AppTypeWeb, Active: true},
		{ID: "c", Slug: "gamma", Name: "Gamma", Type: model.AppTypeAPI, Active: true},
		{ID: "z", Slug: "zombie", Name: "Zombie", Type: model.AppTypeWeb, Active: false},
	} {
		require.NoError(t, s.UpsertApp(ctx, a))
	}
	require.NoError(t, s.UpsertProvider(ctx, model.Provider{ID: "p-ai", Slug: "openai", Name: "OpenAI", Category: model.ProviderCategoryAI, Active: true}))
	require.NoError(t, s.UpsertProvider(ctx, model.Provider{ID: "p-do", Slug: "digitalocean", Name: "DigitalOcean", Category: model.ProviderCategoryCloud, Active: true}))
}

func seed(t *testing.T, s *store.SQLiteStore, rows ...model.Row) {
	t.Helper()
	_, err := s.Upsert(context.Background(), rows...)
	require.NoError(t, err)
}

func TestSnapshot(t *testing.T) {
	s := newTestStore(t)
	seedRoster(t, s)
	seed(t, s,
		&model.RevenueRow{Date: day0, AppID: "a", GrossRevenue: 100, NetRevenue: 70},
		&model.RevenueRow{Date: day1, AppID: "a", GrossRevenue: 150, NetRevenue: 105},
		&model.RevenueRow{Date: day1, AppID: "a", Platform: "ios", GrossRevenue: 90},
		&model.RevenueRow{Date: day1, AppID: "b", GrossRevenue: 50, NetRevenue: 35},
		&model.RevenueRow{Date: day1, AppID: "z", GrossRevenue: 1000},
		&model.SubscriptionRow{Date: day0, AppID: "a", ActiveSubscriptions: 100, MRR: 500},
		&model.SubscriptionRow{Date: day1, AppID: "a", ActiveSubscriptions: 97, Cancellations: 5, MRR: 480},
		&model.ActiveUsersRow{Date: day1, AppID: "a", DAU: 300},
		&model.ActiveUsersRow{Date: day1, AppID: "b", Platform: "ios", DAU: 60},
		&model.ActiveUsersRow{Date: day1, AppID: "b", Platform: "android", DAU: 40},
		&model.InstallRow{Date: day1, AppID: "c", Platform: "ios", Installs: 9},
		&model.ProviderCostRow{Date: day0, ProviderID: "p-ai", AppID: "a", CostUSD: 2},
		&model.ProviderCostRow{Date: day1, ProviderID: "p-ai", AppID: "a", CostUSD: 4},
		&model.ProviderCostRow{Date: day1, ProviderID: "p-do", AppID: model.Pooled, CostUSD: 6},
	)

	snap, err := NewAggregator(s, s).Snapshot(context.Background(), day1.Add(15*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, day1, snap.Date)

	assert.Equal(t, 200.0, snap.Totals.Revenue)
	assert.Equal(t, 140.0, snap.Totals.NetRevenue)
	assert.Equal(t, 480.0, snap.Totals.MRR)
	assert.Equal(t, int64(400), snap.Totals.DAU)
	assert.Equal(t, int64(9), snap.Totals.Installs)
	assert.Equal(t, 10.0, snap.Totals.Costs)
	assert.Equal(t, 6.0, snap.Totals.OverheadCost)
	assert.InDelta(t, 0.025, snap.Totals.CostPerUser, 1e-9)

	assert.InDelta(t, 100, snap.Deltas.Revenue, 1e-9)
	assert.InDelta(t, -4, snap.Deltas.MRR, 1e-9)
	assert.InDelta(t, 400, snap.Deltas.Costs, 1e-9)
	// No DAU the day before: zero baseline.
	assert.Zero(t, snap.Deltas.DAU)
	assert.Zero(t, snap.Deltas.Installs)

	require.Len(t, snap.Apps, 3)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, []string{snap.Apps[0].Slug, snap.Apps[1].Slug, snap.Apps[2].Slug})
	assert.InDelta(t, 5, snap.Apps[0].ChurnRate, 1e-9)
	assert.Equal(t, int64(100), snap.Apps[1].Users.DAU)

	require.Len(t, snap.Providers, 2)
	byID := map[string]ProviderCost{}
	for _, p := range snap.Providers {
		byID[p.ProviderID] = p
	}
	assert.Equal(t, 4.0, byID["p-ai"].CostUSD)
	assert.InDelta(t, 100, byID["p-ai"].Delta, 1e-9)
	assert.Zero(t, byID["p-do"].Delta)
}

func TestSnapshot_EmptyDay(t *testing.T) {
	s := newTestStore(t)
	seedRoster(t, s)

	snap, err := NewAggregator(s, s).Snapshot(context.Background(), day1)
	require.NoError(t, err)
	assert.Equal(t, Totals{}, snap.Totals)
	assert.Equal(t, Deltas{}, snap.Deltas)
	assert.Len(t, snap.Apps, 3)
}

func TestTrend_ZeroFillsMissingDays(t *testing.T) {
	s := newTestStore(t)
	seedRoster(t, s)

	end := time.Date(2025, 3, 30, 0, 0, 0, 0, time.UTC)
	for _, offset := range []int{0, 3, 7, 15, 29} {
		d := end.AddDate(0, 0, -offset)
		seed(t, s,
			&model.RevenueRow{Date: d, AppID: "a", GrossRevenue: 10},
			&model.ActiveUsersRow{Date: d, AppID: "b", DAU: 5},
			&model.ProviderCostRow{Date: d, ProviderID: "p-do", CostUSD: 1},
		)
	}

	points, err := NewAggregator(s, s).Trend(context.Background(), end, 30)
	require.NoError(t, err)
	require.Len(t, points, 30)
	assert.Equal(t, end.AddDate(0, 0, -29), points[0].Date)
	assert.Equal(t, end, points[29].Date)

	var withData int
	for i, p := range points {
		if i > 0 {
			assert.Equal(t, points[i-1].Date.AddDate(0, 0, 1), p.Date)
		}
		if p.Revenue > 0 {
			withData++
			assert.Equal(t, int64(5), p.DAU)
			assert.Equal(t, 1.0, p.Costs)
		} else {
			assert.Equal(t, TrendPoint{Date: p.Date}, p)
		}
	}
	assert.Equal(t, 5, withData)
}

func TestTrend_InvalidDays(t *testing.T) {
	s := newTestStore(t)
	agg := NewAggregator(s, s)
	_, err := agg.Trend(context.Background(), day1, 0)
	assert.Error(t, err)
	_, err = agg.Trend(context.Background(), day1, MaxTrendDays+1)
	assert.Error(t, err)
}

func TestTopPerformers_StableOnTies(t *testing.T) {
	s := newTestStore(t)
	seedRoster(t, s)
	seed(t, s,
		&model.RevenueRow{Date: day1, AppID: "a", GrossRevenue: 50},
		&model.RevenueRow{Date: day1, AppID: "b", GrossRevenue: 80},
		&model.RevenueRow{Date: day1, AppID: "c", GrossRevenue: 50},
	)

	got, err := NewAggregator(s, s).TopPerformers(context.Background(), day1, RankRevenue, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"b", "a", "c"}, []string{got[0].AppID, got[1].AppID, got[2].AppID})
	assert.Equal(t, []int{1, 2, 3}, []int{got[0].Rank, got[1].Rank, got[2].Rank})

	// All zero: roster order.
	got, err = NewAggregator(s, s).TopPerformers(context.Background(), day1, RankDAU, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].AppID)
	assert.Equal(t, "b", got[1].AppID)
}

func TestTopPerformers_Growth(t *testing.T) {
	s := newTestStore(t)
	seedRoster(t, s)
	seed(t, s,
		&model.RevenueRow{Date: day0, AppID: "a", GrossRevenue: 100},
		&model.RevenueRow{Date: day1, AppID: "a", GrossRevenue: 110},
		&model.RevenueRow{Date: day0, AppID: "b", GrossRevenue: 10},
		&model.RevenueRow{Date: day1, AppID: "b", GrossRevenue: 20},
		// c has no baseline, so its growth is 0 rather than infinite.
		&model.RevenueRow{Date: day1, AppID: "c", GrossRevenue: 5000},
	)

	got, err := NewAggregator(s, s).TopPerformers(context.Background(), day1, RankGrowth, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "b", got[0].AppID)
	assert.InDelta(t, 100, got[0].Value, 1e-9)
	assert.Equal(t, "a", got[1].AppID)
	assert.InDelta(t, 10, got[1].Value, 1e-9)
	assert.Equal(t, "c", got[2].AppID)
	assert.Zero(t, got[2].Value)
}

func TestTopPerformers_UnknownMetric(t *testing.T) {
	s := newTestStore(t)
	_, err := NewAggregator(s, s).TopPerformers(context.Background(), day1, "mau", 5)
	assert.Error(t, err)
}

type failingReader struct{}

func (failingReader) Query(context.Context, model.Kind, store.RowFilter) ([]model.Row, error) {
	return nil, errors.New("connection refused")
}

func TestSnapshot_ReadError(t *testing.T) {
	s := newTestStore(t)
	_, err := NewAggregator(failingReader{}, s).Snapshot(context.Background(), day1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}
