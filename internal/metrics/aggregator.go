package metrics

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/portfolio-metrics/internal/model"
	"github.com/sells-group/portfolio-metrics/internal/store"
)

// MaxTrendDays bounds a trend request.
const MaxTrendDays = 366

// Roster lists the apps and providers the aggregator reports on.
type Roster interface {
	ListApps(ctx context.Context, activeOnly bool) ([]model.App, error)
	ListProviders(ctx context.Context, activeOnly bool) ([]model.Provider, error)
}

// Aggregator composes per-app metrics into portfolio views.
type Aggregator struct {
	rows   store.Reader
	roster Roster
}

// NewAggregator creates an Aggregator.
func NewAggregator(rows store.Reader, roster Roster) *Aggregator {
	return &Aggregator{rows: rows, roster: roster}
}

// Totals are portfolio-wide sums for one day.
type Totals struct {
	Revenue             float64 `json:"revenue"`
	NetRevenue          float64 `json:"net_revenue"`
	MRR                 float64 `json:"mrr"`
	ActiveSubscriptions int64   `json:"active_subscriptions"`
	DAU                 int64   `json:"dau"`
	Installs            int64   `json:"installs"`
	Costs               float64 `json:"costs"`
	OverheadCost        float64 `json:"overhead_cost"`
	CostPerUser         float64 `json:"cost_per_user"`
}

// Deltas are percentage changes of Totals against the previous day.
type Deltas struct {
	Revenue             float64 `json:"revenue"`
	NetRevenue          float64 `json:"net_revenue"`
	MRR                 float64 `json:"mrr"`
	ActiveSubscriptions float64 `json:"active_subscriptions"`
	DAU                 float64 `json:"dau"`
	Installs            float64 `json:"installs"`
	Costs               float64 `json:"costs"`
}

// ProviderCost is one provider's spend for a day.
type ProviderCost struct {
	ProviderID string                 `json:"provider_id"`
	Slug       string                 `json:"slug"`
	Name       string                 `json:"name"`
	Category   model.ProviderCategory `json:"category"`
	CostUSD    float64                `json:"cost_usd"`
	Delta      float64                `json:"delta"`
}

// Snapshot is the portfolio view for one day.
type Snapshot struct {
	Date      time.Time      `json:"date"`
	Totals    Totals         `json:"totals"`
	Previous  Totals         `json:"previous"`
	Deltas    Deltas         `json:"deltas"`
	Apps      []AppMetrics   `json:"apps"`
	Providers []ProviderCost `json:"providers"`
}

// TrendPoint is one day of a trend series.
type TrendPoint struct {
	Date     time.Time `json:"date"`
	Revenue  float64   `json:"revenue"`
	DAU      int64     `json:"dau"`
	Installs int64     `json:"installs"`
	Costs    float64   `json:"costs"`
}

// RankMetric selects what TopPerformers ranks by.
type RankMetric string

const (
	RankRevenue  RankMetric = "revenue"
	RankDAU      RankMetric = "dau"
	RankInstalls RankMetric = "installs"
	// RankGrowth ranks by percentage change in gross revenue against the
	// previous day.
	RankGrowth RankMetric = "growth"
)

// ParseRankMetric validates a metric name.
func ParseRankMetric(s string) (RankMetric, error) {
	switch m := RankMetric(s); m {
	case RankRevenue, RankDAU, RankInstalls, RankGrowth:
		return m, nil
	}
	return "", eris.Errorf("metrics: unknown rank metric %q", s)
}

// Performer is one ranked app.
type Performer struct {
	Rank  int     `json:"rank"`
	AppID string  `json:"app_id"`
	Slug  string  `json:"slug"`
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Snapshot builds the portfolio view for date with deltas against the day
// before. Missing rows count as zero.
func (a *Aggregator) Snapshot(ctx context.Context, date time.Time) (*Snapshot, error) {
	date = model.Day(date)
	prevDate := date.AddDate(0, 0, -1)

	var apps []model.App
	var providers []model.Provider
	var days map[time.Time]DayRows

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		apps, err = a.roster.ListApps(gCtx, true)
		return eris.Wrap(err, "metrics: list apps")
	})
	g.Go(func() error {
		var err error
		providers, err = a.roster.ListProviders(gCtx, false)
		return eris.Wrap(err, "metrics: list providers")
	})
	g.Go(func() error {
		var err error
		days, err = a.loadRange(gCtx, prevDate, date)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	cur, prev := days[date], days[prevDate]
	snap := &Snapshot{Date: date}
	for _, app := range apps {
		snap.Apps = append(snap.Apps, ForApp(app, cur, prev))
	}
	snap.Totals = totals(apps, cur)
	snap.Previous = totals(apps, prev)
	snap.Deltas = Deltas{
		Revenue:             PercentChange(snap.Totals.Revenue, snap.Previous.Revenue),
		NetRevenue:          PercentChange(snap.Totals.NetRevenue, snap.Previous.NetRevenue),
		MRR:                 PercentChange(snap.Totals.MRR, snap.Previous.MRR),
		ActiveSubscriptions: PercentChange(float64(snap.Totals.ActiveSubscriptions), float64(snap.Previous.ActiveSubscriptions)),
		DAU:                 PercentChange(float64(snap.Totals.DAU), float64(snap.Previous.DAU)),
		Installs:            PercentChange(float64(snap.Totals.Installs), float64(snap.Previous.Installs)),
		Costs:               PercentChange(snap.Totals.Costs, snap.Previous.Costs),
	}
	snap.Providers = providerCosts(providers, cur, prev)
	return snap, nil
}

// Trend returns exactly days points ending at end, oldest first. Days
// without rows are present with zero values.
func (a *Aggregator) Trend(ctx context.Context, end time.Time, days int) ([]TrendPoint, error) {
	if days < 1 || days > MaxTrendDays {
		return nil, eris.Errorf("metrics: trend days must be between 1 and %d, got %d", MaxTrendDays, days)
	}
	end = model.Day(end)
	start := end.AddDate(0, 0, -(days - 1))

	var apps []model.App
	var byDay map[time.Time]DayRows
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		apps, err = a.roster.ListApps(gCtx, true)
		return eris.Wrap(err, "metrics: list apps")
	})
	g.Go(func() error {
		var err error
		byDay, err = a.loadRange(gCtx, start, end)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	points := make([]TrendPoint, days)
	for i := range points {
		d := start.AddDate(0, 0, i)
		t := totals(apps, byDay[d])
		points[i] = TrendPoint{Date: d, Revenue: t.Revenue, DAU: t.DAU, Installs: t.Installs, Costs: t.Costs}
	}
	return points, nil
}

// TopPerformers ranks active apps by metric on date, highest first. Ties
// keep roster order. limit <= 0 returns every app.
func (a *Aggregator) TopPerformers(ctx context.Context, date time.Time, metric RankMetric, limit int) ([]Performer, error) {
	if _, err := ParseRankMetric(string(metric)); err != nil {
		return nil, err
	}
	date = model.Day(date)
	prevDate := date.AddDate(0, 0, -1)

	apps, err := a.roster.ListApps(ctx, true)
	if err != nil {
		return nil, eris.Wrap(err, "metrics: list apps")
	}
	from := date
	if metric == RankGrowth {
		from = prevDate
	}
	days, err := a.loadRange(ctx, from, date)
	if err != nil {
		return nil, err
	}
	cur, prev := days[date], days[prevDate]

	ranked := make([]Performer, 0, len(apps))
	for _, app := range apps {
		c := cur.ForApp(app.ID)
		var v float64
		switch metric {
		case RankRevenue:
			v = Revenue(c.Revenue).Gross
		case RankDAU:
			v = float64(ActiveUsers(c.ActiveUsers).DAU)
		case RankInstalls:
			v = float64(Growth(c.Installs).Installs)
		case RankGrowth:
			v = PercentChange(Revenue(c.Revenue).Gross, Revenue(prev.ForApp(app.ID).Revenue).Gross)
		}
		ranked = append(ranked, Performer{AppID: app.ID, Slug: app.Slug, Name: app.Name, Value: v})
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Value > ranked[j].Value })
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return ranked, nil
}

// loadRange reads every calculator family for [from, to] in parallel and
// buckets the rows by day.
func (a *Aggregator) loadRange(ctx context.Context, from, to time.Time) (map[time.Time]DayRows, error) {
	f := store.RowFilter{From: from, To: to}
	var (
		rev   []*model.RevenueRow
		subs  []*model.SubscriptionRow
		inst  []*model.InstallRow
		users []*model.ActiveUsersRow
		costs []*model.ProviderCostRow
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { rev, err = store.QueryAs[*model.RevenueRow](gCtx, a.rows, f); return })
	g.Go(func() (err error) { subs, err = store.QueryAs[*model.SubscriptionRow](gCtx, a.rows, f); return })
	g.Go(func() (err error) { inst, err = store.QueryAs[*model.InstallRow](gCtx, a.rows, f); return })
	g.Go(func() (err error) { users, err = store.QueryAs[*model.ActiveUsersRow](gCtx, a.rows, f); return })
	g.Go(func() (err error) { costs, err = store.QueryAs[*model.ProviderCostRow](gCtx, a.rows, f); return })
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "metrics: load rows")
	}

	out := make(map[time.Time]DayRows)
	bucket := func(d time.Time, add func(*DayRows)) {
		d = model.Day(d)
		dr := out[d]
		dr.Date = d
		add(&dr)
		out[d] = dr
	}
	for _, r := range rev {
		bucket(r.Date, func(dr *DayRows) { dr.Revenue = append(dr.Revenue, r) })
	}
	for _, r := range subs {
		bucket(r.Date, func(dr *DayRows) { dr.Subscriptions = append(dr.Subscriptions, r) })
	}
	for _, r := range inst {
		bucket(r.Date, func(dr *DayRows) { dr.Installs = append(dr.Installs, r) })
	}
	for _, r := range users {
		bucket(r.Date, func(dr *DayRows) { dr.ActiveUsers = append(dr.ActiveUsers, r) })
	}
	for _, r := range costs {
		bucket(r.Date, func(dr *DayRows) { dr.Costs = append(dr.Costs, r) })
	}
	return out, nil
}

// totals sums app measures over the given apps and costs over every cost
// row, including pooled overhead and spend attributed to inactive apps.
func totals(apps []model.App, day DayRows) Totals {
	var t Totals
	for _, app := range apps {
		c := day.ForApp(app.ID)
		rev := Revenue(c.Revenue)
		subs := SubscriptionCounts(c.Subscriptions)
		t.Revenue += rev.Gross
		t.NetRevenue += rev.Net
		t.MRR += MRR(c.Subscriptions)
		t.ActiveSubscriptions += subs.Active
		t.DAU += ActiveUsers(c.ActiveUsers).DAU
		t.Installs += Growth(c.Installs).Installs
	}
	alloc := AllocateCosts(day.Costs)
	t.Costs = alloc.Total
	t.OverheadCost = alloc.Pooled
	t.CostPerUser = CostPerUser(t.Costs, t.DAU)
	return t
}

// providerCosts lists spend per provider in roster order. Providers with
// cost rows but no roster entry are appended by id.
func providerCosts(providers []model.Provider, cur, prev DayRows) []ProviderCost {
	now := AllocateCosts(cur.Costs).ByProvider
	before := AllocateCosts(prev.Costs).ByProvider

	seen := make(map[string]bool, len(providers))
	out := make([]ProviderCost, 0, len(providers))
	for _, p := range providers {
		seen[p.ID] = true
		out = append(out, ProviderCost{
			ProviderID: p.ID, Slug: p.Slug, Name: p.Name, Category: p.Category,
			CostUSD: now[p.ID],
			Delta:   PercentChange(now[p.ID], before[p.ID]),
		})
	}
	var unknown []string
	for id := range now {
		if !seen[id] {
			unknown = append(unknown, id)
		}
	}
	sort.Strings(unknown)
	for _, id := range unknown {
		out = append(out, ProviderCost{ProviderID: id, CostUSD: now[id], Delta: PercentChange(now[id], before[id])})
	}
	return out
}
