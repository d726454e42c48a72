package source

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/portfolio-metrics/internal/ingest"
	"github.com/sells-group/portfolio-metrics/internal/model"
	"github.com/sells-group/portfolio-metrics/pkg/revenuecat"
)

// Chart measure names read from RevenueCat charts.
const (
	measureRevenue      = "Revenue"
	measureProceeds     = "Proceeds"
	measureTransactions = "Transactions"
	measureRefunds      = "Refunds"
	measureNewActives   = "New Actives"
	measureChurned      = "Churned Actives"
)

// RevenueCat writes subscription and revenue rows for apps with a
// RevenueCat project. Rows are platform aggregates.
type RevenueCat struct {
	client revenuecat.Client
	deps   Deps
}

// NewRevenueCat creates the adapter. A nil client means not configured.
func NewRevenueCat(client revenuecat.Client, deps Deps) *RevenueCat {
	return &RevenueCat{client: client, deps: deps}
}

// Name implements ingest.Source.
func (s *RevenueCat) Name() string { return NameRevenueCat }

// Run implements ingest.Source.
func (s *RevenueCat) Run(ctx context.Context, ic ingest.Context) ingest.Result {
	if s.client == nil {
		return ingest.NotConfigured()
	}
	apps := ic.AppsWhere(func(a model.App) bool { return a.RevenueCatProjectID != "" })
	return ingest.ForEach(ctx, s.deps.loop(s.Name()), apps, appKey, func(ctx context.Context, app model.App) (int64, error) {
		return s.ingestApp(ctx, app, ic)
	})
}

func (s *RevenueCat) ingestApp(ctx context.Context, app model.App, ic ingest.Context) (int64, error) {
	day := ic.Date()
	project := app.RevenueCatProjectID

	ov, err := s.client.Overview(ctx, project)
	if err != nil {
		return 0, eris.Wrap(err, "overview")
	}
	rev, err := s.client.Chart(ctx, project, revenuecat.ChartRevenue, day, day)
	if err != nil {
		return 0, eris.Wrap(err, "revenue chart")
	}
	mov, err := s.client.Chart(ctx, project, revenuecat.ChartActivesMovement, day, day)
	if err != nil {
		return 0, eris.Wrap(err, "actives movement chart")
	}

	activeSubs, _ := ov.Value(revenuecat.MetricActiveSubscriptions)
	trials, _ := ov.Value(revenuecat.MetricActiveTrials)
	mrr, _ := ov.Value(revenuecat.MetricMRR)
	newSubs, _ := mov.Sum(measureNewActives, day)
	churned, _ := mov.Sum(measureChurned, day)

	gross, _ := rev.Sum(measureRevenue, day)
	net, ok := rev.Sum(measureProceeds, day)
	if !ok {
		net = gross
	}
	tx, _ := rev.Sum(measureTransactions, day)
	refunds, _ := rev.Sum(measureRefunds, day)

	return s.deps.Store.Upsert(ctx,
		&model.SubscriptionRow{
			Date:                day,
			AppID:               app.ID,
			Platform:            model.Aggregate,
			ActiveSubscriptions: int64(activeSubs),
			ActiveTrials:        int64(trials),
			NewSubscriptions:    int64(newSubs),
			Cancellations:       int64(churned),
			MRR:                 mrr,
			Raw:                 rawJSON(ov),
		},
		&model.RevenueRow{
			Date:         day,
			AppID:        app.ID,
			Platform:     model.Aggregate,
			GrossRevenue: gross,
			NetRevenue:   net,
			Refunds:      refunds,
			Transactions: int64(tx),
			Currency:     "USD",
			Raw:          rawJSON(rev),
		},
	)
}
