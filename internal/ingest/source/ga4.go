package source

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/portfolio-metrics/internal/ingest"
	"github.com/sells-group/portfolio-metrics/internal/model"
	"github.com/sells-group/portfolio-metrics/pkg/google"
)

// GA4 metric and dimension names.
const (
	gaActive1Day    = "active1DayUsers"
	gaActive7Day    = "active7DayUsers"
	gaActive28Day   = "active28DayUsers"
	gaNewUsers      = "newUsers"
	gaSessions      = "sessions"
	gaTotalUsers    = "totalUsers"
	gaPageviews     = "screenPageViews"
	gaBounceRate    = "bounceRate"
	gaAvgSession    = "averageSessionDuration"
	gaEngagement    = "engagementRate"
	gaEventCount    = "eventCount"
	gaPlatform      = "platform"
	gaSessionSource = "sessionSource"
	gaSessionMedium = "sessionMedium"
	gaEventName     = "eventName"
)

// GA4 writes active users, traffic, feature usage and site analytics rows
// for apps with a GA4 property.
type GA4 struct {
	client google.Client
	topN   int
	deps   Deps
}

// NewGA4 creates the adapter. A nil client means not configured. topN caps
// the dimensioned traffic and event rows per app.
func NewGA4(client google.Client, topN int, deps Deps) *GA4 {
	if topN <= 0 {
		topN = 50
	}
	return &GA4{client: client, topN: topN, deps: deps}
}

// Name implements ingest.Source.
func (s *GA4) Name() string { return NameGA4 }

// Run implements ingest.Source.
func (s *GA4) Run(ctx context.Context, ic ingest.Context) ingest.Result {
	if s.client == nil {
		return ingest.NotConfigured()
	}
	apps := ic.AppsWhere(func(a model.App) bool { return a.GA4PropertyID != "" })
	return ingest.ForEach(ctx, s.deps.loop(s.Name()), apps, appKey, func(ctx context.Context, app model.App) (int64, error) {
		rows, err := s.collect(ctx, app, ic)
		if err != nil {
			return 0, err
		}
		return s.deps.Store.Upsert(ctx, rows...)
	})
}

// collect runs every report for one app before anything is written, so a
// failed report leaves the app's stored day untouched.
func (s *GA4) collect(ctx context.Context, app model.App, ic ingest.Context) ([]model.Row, error) {
	day := ic.Date()
	rng := google.SingleDay(day)
	prop := app.GA4PropertyID
	var rows []model.Row

	users, err := s.client.RunReport(ctx, prop,
		google.NewReportRequest(rng, nil, gaActive1Day, gaActive7Day, gaActive28Day, gaNewUsers))
	if err != nil {
		return nil, eris.Wrap(err, "active users report")
	}
	rows = append(rows, activeUsersRow(app, day, model.Aggregate, users, 0))

	byPlatform, err := s.client.RunReport(ctx, prop,
		google.NewReportRequest(rng, []string{gaPlatform}, gaActive1Day, gaActive7Day, gaActive28Day, gaNewUsers))
	if err != nil {
		return nil, eris.Wrap(err, "platform report")
	}
	for i := range byPlatform.Rows {
		platform := strings.ToLower(dimension(byPlatform.Dimension(i, gaPlatform)))
		rows = append(rows, activeUsersRow(app, day, platform, byPlatform, i))
	}

	totals, err := s.client.RunReport(ctx, prop,
		google.NewReportRequest(rng, nil, gaSessions, gaTotalUsers, gaPageviews, gaBounceRate, gaAvgSession, gaEngagement))
	if err != nil {
		return nil, eris.Wrap(err, "traffic totals report")
	}
	rows = append(rows,
		&model.TrafficRow{
			Date: day, AppID: app.ID, Source: model.Aggregate, Medium: model.Aggregate,
			Sessions:   int64(totals.Metric(0, gaSessions)),
			Users:      int64(totals.Metric(0, gaTotalUsers)),
			Pageviews:  int64(totals.Metric(0, gaPageviews)),
			BounceRate: totals.Metric(0, gaBounceRate),
		},
		&model.AnalyticsRow{
			Date: day, AppID: app.ID,
			Sessions:           int64(totals.Metric(0, gaSessions)),
			Pageviews:          int64(totals.Metric(0, gaPageviews)),
			AvgSessionDuration: totals.Metric(0, gaAvgSession),
			BounceRate:         totals.Metric(0, gaBounceRate),
			EngagementRate:     totals.Metric(0, gaEngagement),
			Raw:                rawJSON(totals),
		},
	)

	srcReq := google.NewReportRequest(rng, []string{gaSessionSource, gaSessionMedium}, gaSessions, gaTotalUsers, gaPageviews, gaBounceRate)
	srcReq.Limit = int64(s.topN)
	srcReq.OrderBys = []google.ReportSort{{Metric: &google.MetricSort{MetricName: gaSessions}, Desc: true}}
	sources, err := s.client.RunReport(ctx, prop, srcReq)
	if err != nil {
		return nil, eris.Wrap(err, "traffic source report")
	}
	for i := range sources.Rows {
		rows = append(rows, &model.TrafficRow{
			Date: day, AppID: app.ID,
			Source:     dimension(sources.Dimension(i, gaSessionSource)),
			Medium:     dimension(sources.Dimension(i, gaSessionMedium)),
			Sessions:   int64(sources.Metric(i, gaSessions)),
			Users:      int64(sources.Metric(i, gaTotalUsers)),
			Pageviews:  int64(sources.Metric(i, gaPageviews)),
			BounceRate: sources.Metric(i, gaBounceRate),
		})
	}

	evReq := google.NewReportRequest(rng, []string{gaEventName}, gaEventCount, gaTotalUsers)
	evReq.Limit = int64(s.topN)
	evReq.OrderBys = []google.ReportSort{{Metric: &google.MetricSort{MetricName: gaEventCount}, Desc: true}}
	events, err := s.client.RunReport(ctx, prop, evReq)
	if err != nil {
		return nil, eris.Wrap(err, "events report")
	}
	for i := range events.Rows {
		rows = append(rows, &model.FeatureUsageRow{
			Date: day, AppID: app.ID,
			Feature:     dimension(events.Dimension(i, gaEventName)),
			EventCount:  int64(events.Metric(i, gaEventCount)),
			UniqueUsers: int64(events.Metric(i, gaTotalUsers)),
		})
	}

	return rows, nil
}

func activeUsersRow(app model.App, day time.Time, platform string, r *google.ReportResponse, i int) *model.ActiveUsersRow {
	return &model.ActiveUsersRow{
		Date:     day,
		AppID:    app.ID,
		Platform: platform,
		DAU:      int64(r.Metric(i, gaActive1Day)),
		WAU:      int64(r.Metric(i, gaActive7Day)),
		MAU:      int64(r.Metric(i, gaActive28Day)),
		NewUsers: int64(r.Metric(i, gaNewUsers)),
	}
}
