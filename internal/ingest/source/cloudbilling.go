package source

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/portfolio-metrics/internal/ingest"
	"github.com/sells-group/portfolio-metrics/internal/model"
	"github.com/sells-group/portfolio-metrics/internal/store"
	"github.com/sells-group/portfolio-metrics/pkg/digitalocean"
)

// UsageUnitMonthToDate marks cloud cost rows whose usage_units hold the
// month-to-date bill the daily cost was derived from.
const UsageUnitMonthToDate = "usd_month_to_date"

// CloudBilling turns DigitalOcean's month-to-date usage into a daily cost.
// The provider only reports a running monthly total, so the day's cost is
// the difference from the previous day's stored total.
type CloudBilling struct {
	client digitalocean.Client
	deps   Deps
}

// NewCloudBilling creates the adapter. A nil client means not configured.
func NewCloudBilling(client digitalocean.Client, deps Deps) *CloudBilling {
	return &CloudBilling{client: client, deps: deps}
}

// Name implements ingest.Source.
func (s *CloudBilling) Name() string { return NameCloudBilling }

// ProviderSlug implements ingest.ProviderScoped.
func (s *CloudBilling) ProviderSlug() string { return ProviderDigitalOcean }

// Run implements ingest.Source.
func (s *CloudBilling) Run(ctx context.Context, ic ingest.Context) ingest.Result {
	provider, ok := ic.Provider(ProviderDigitalOcean)
	if s.client == nil || !ok {
		return ingest.NotConfigured()
	}

	bal, err := s.client.Balance(ctx)
	if err != nil {
		return ingest.Failed(0, err)
	}
	mtd, err := bal.MonthToDateUSD()
	if err != nil {
		return ingest.Failed(0, err)
	}

	day := ic.Date()
	prev, err := s.previousMonthToDate(ctx, provider.ID, day)
	if err != nil {
		return ingest.Failed(0, err)
	}

	n, err := s.deps.Store.Upsert(ctx, &model.ProviderCostRow{
		Date:       day,
		ProviderID: provider.ID,
		AppID:      model.Pooled,
		CostUSD:    DailyFromMonthToDate(day, mtd, prev),
		UsageUnits: mtd,
		UsageUnit:  UsageUnitMonthToDate,
		Raw:        rawJSON(bal),
	})
	if err != nil {
		return ingest.Failed(n, err)
	}
	return ingest.Succeeded(n)
}

// previousMonthToDate returns the stored month-to-date total for the day
// before, or nil when there is none or day is the first of the month.
func (s *CloudBilling) previousMonthToDate(ctx context.Context, providerID string, day time.Time) (*float64, error) {
	if day.Day() == 1 {
		return nil, nil
	}
	prevDay := day.AddDate(0, 0, -1)
	rows, err := store.QueryAs[*model.ProviderCostRow](ctx, s.deps.Store, store.RowFilter{
		From: prevDay, To: prevDay, ProviderIDs: []string{providerID}, AppIDs: []string{model.Pooled},
	})
	if err != nil {
		return nil, eris.Wrap(err, "cloud_billing: previous day")
	}
	for _, r := range rows {
		if r.UsageUnit == UsageUnitMonthToDate {
			v := r.UsageUnits
			return &v, nil
		}
	}
	return nil, nil
}

// DailyFromMonthToDate derives a day's cost from the month-to-date total.
// On the first of the month the whole total belongs to the day. With a
// previous total the cost is the increase, floored at zero. Without one
// the total is spread evenly over the elapsed days.
func DailyFromMonthToDate(day time.Time, mtd float64, prev *float64) float64 {
	switch {
	case day.Day() == 1:
		return mtd
	case prev != nil:
		return math.Max(0, mtd-*prev)
	default:
		return mtd / float64(day.Day())
	}
}
