package source

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/portfolio-metrics/internal/ingest"
	"github.com/sells-group/portfolio-metrics/internal/model"
	"github.com/sells-group/portfolio-metrics/pkg/google"
)

// SearchConsole writes search performance rows for apps with a verified
// site: one site-wide aggregate plus the top queries and top pages.
type SearchConsole struct {
	client google.Client
	topN   int
	deps   Deps
}

// NewSearchConsole creates the adapter. A nil client means not configured.
func NewSearchConsole(client google.Client, topN int, deps Deps) *SearchConsole {
	if topN <= 0 {
		topN = 50
	}
	return &SearchConsole{client: client, topN: topN, deps: deps}
}

// Name implements ingest.Source.
func (s *SearchConsole) Name() string { return NameSearchConsole }

// Run implements ingest.Source.
func (s *SearchConsole) Run(ctx context.Context, ic ingest.Context) ingest.Result {
	if s.client == nil {
		return ingest.NotConfigured()
	}
	apps := ic.AppsWhere(func(a model.App) bool { return a.SearchConsoleSite != "" })
	return ingest.ForEach(ctx, s.deps.loop(s.Name()), apps, appKey, func(ctx context.Context, app model.App) (int64, error) {
		rows, err := s.collect(ctx, app, ic)
		if err != nil {
			return 0, err
		}
		return s.deps.Store.Upsert(ctx, rows...)
	})
}

func (s *SearchConsole) collect(ctx context.Context, app model.App, ic ingest.Context) ([]model.Row, error) {
	day := ic.Date()
	rng := google.SingleDay(day)
	query := func(dims ...string) (*google.SearchAnalyticsResponse, error) {
		req := google.SearchAnalyticsRequest{
			StartDate:  rng.StartDate,
			EndDate:    rng.EndDate,
			Dimensions: dims,
			DataState:  "all",
		}
		if len(dims) > 0 {
			req.RowLimit = s.topN
		}
		return s.client.SearchAnalytics(ctx, app.SearchConsoleSite, req)
	}
	row := func(q, page string, r google.SearchRow) *model.SearchRow {
		return &model.SearchRow{
			Date: day, AppID: app.ID, Query: q, Page: page,
			Clicks:      int64(r.Clicks),
			Impressions: int64(r.Impressions),
			CTR:         r.CTR,
			Position:    r.Position,
		}
	}

	total, err := query()
	if err != nil {
		return nil, eris.Wrap(err, "site totals")
	}
	var site google.SearchRow
	if len(total.Rows) > 0 {
		site = total.Rows[0]
	}
	rows := []model.Row{row(model.Aggregate, model.Aggregate, site)}

	byQuery, err := query("query")
	if err != nil {
		return nil, eris.Wrap(err, "query breakdown")
	}
	for _, r := range byQuery.Rows {
		rows = append(rows, row(dimension(r.Key(0)), model.Aggregate, r))
	}

	byPage, err := query("page")
	if err != nil {
		return nil, eris.Wrap(err, "page breakdown")
	}
	for _, r := range byPage.Rows {
		rows = append(rows, row(model.Aggregate, dimension(r.Key(0)), r))
	}

	return rows, nil
}
