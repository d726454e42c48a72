package source

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/portfolio-metrics/internal/ingest"
	"github.com/sells-group/portfolio-metrics/internal/model"
	"github.com/sells-group/portfolio-metrics/pkg/appstore"
)

const platformIOS = "ios"

// AppStore writes iOS install and revenue rows from the vendor's daily
// sales summary. The report is fetched once per run and split by app.
type AppStore struct {
	client appstore.Client
	vendor string
	deps   Deps
}

// NewAppStore creates the adapter. A nil client or empty vendor number
// means not configured.
func NewAppStore(client appstore.Client, vendorNumber string, deps Deps) *AppStore {
	return &AppStore{client: client, vendor: vendorNumber, deps: deps}
}

// Name implements ingest.Source.
func (s *AppStore) Name() string { return NameAppStore }

// Run implements ingest.Source.
func (s *AppStore) Run(ctx context.Context, ic ingest.Context) ingest.Result {
	if s.client == nil || s.vendor == "" {
		return ingest.NotConfigured()
	}
	apps := ic.AppsWhere(func(a model.App) bool { return a.AppStoreAppID != "" })
	if len(apps) == 0 {
		return ingest.Succeeded(0)
	}

	report, err := s.client.SalesSummary(ctx, s.vendor, ic.Date())
	if err != nil {
		return ingest.Failed(0, err)
	}

	// The report is already in memory, so the per-app loop is not paced.
	loop := s.deps.loop(s.Name())
	loop.Pacer = nil
	return ingest.ForEach(ctx, loop, apps, appKey, func(ctx context.Context, app model.App) (int64, error) {
		inst, rev := summarizeSales(app, ic.Date(), report)
		return s.deps.Store.Upsert(ctx, inst, rev)
	})
}

// summarizeSales folds the report lines belonging to app into one install
// row and one revenue row. App lines match on Apple identifier; in-app
// purchase lines match on the parent SKU. Only sales whose customer price
// and proceeds are both in USD count toward revenue.
func summarizeSales(app model.App, day time.Time, report []appstore.SalesRow) (*model.InstallRow, *model.RevenueRow) {
	inst := &model.InstallRow{Date: day, AppID: app.ID, Platform: platformIOS}
	rev := &model.RevenueRow{Date: day, AppID: app.ID, Platform: platformIOS, Currency: "USD"}

	var skippedFX int
	var lines []appstore.SalesRow
	for _, r := range report {
		mine := r.AppleIdentifier == app.AppStoreAppID ||
			(app.AppStoreSKU != "" && r.ParentIdentifier == app.AppStoreSKU)
		if !mine {
			continue
		}
		lines = append(lines, r)

		switch {
		case r.IsDownload():
			inst.Installs += int64(r.Units)
		case r.IsUpdate():
			inst.Updates += int64(r.Units)
		}

		if !r.IsPaid() {
			continue
		}
		if r.CurrencyOfProceeds != "USD" || r.CustomerCurrency != "USD" {
			skippedFX++
			continue
		}
		if r.Units < 0 {
			rev.Refunds += -r.Gross()
		} else {
			rev.GrossRevenue += r.Gross()
			rev.Transactions += int64(r.Units)
		}
		rev.NetRevenue += r.Net()
	}

	if skippedFX > 0 {
		zap.L().Debug("appstore: skipped non-USD sales lines",
			zap.String("app", app.Slug), zap.Int("lines", skippedFX))
	}
	inst.Raw = rawJSON(lines)
	return inst, rev
}
