package source

import (
	"context"

	"github.com/sells-group/portfolio-metrics/internal/ingest"
	"github.com/sells-group/portfolio-metrics/internal/model"
	"github.com/sells-group/portfolio-metrics/pkg/openai"
)

// OpenAIUsage writes the organization's daily spend for the openai
// provider. Spend from a project mapped to an app is attributed to that
// app; everything else is pooled.
type OpenAIUsage struct {
	client openai.Client
	deps   Deps
}

// NewOpenAIUsage creates the adapter. A nil client means not configured.
func NewOpenAIUsage(client openai.Client, deps Deps) *OpenAIUsage {
	return &OpenAIUsage{client: client, deps: deps}
}

// Name implements ingest.Source.
func (s *OpenAIUsage) Name() string { return NameOpenAIUsage }

// ProviderSlug implements ingest.ProviderScoped.
func (s *OpenAIUsage) ProviderSlug() string { return ProviderOpenAI }

// Run implements ingest.Source.
func (s *OpenAIUsage) Run(ctx context.Context, ic ingest.Context) ingest.Result {
	provider, ok := ic.Provider(ProviderOpenAI)
	if s.client == nil || !ok {
		return ingest.NotConfigured()
	}

	projectApp := make(map[string]string)
	for _, a := range ic.AppsWhere(func(a model.App) bool { return a.OpenAIProjectID != "" }) {
		projectApp[a.OpenAIProjectID] = a.ID
	}

	day := ic.Date()
	buckets, err := s.client.Costs(ctx, day, day.AddDate(0, 0, 1))
	if err != nil {
		return ingest.Failed(0, err)
	}

	// Pooled always gets a row so a zero-spend day is recorded.
	spend := map[string]float64{model.Pooled: 0}
	order := []string{model.Pooled}
	for _, b := range buckets {
		if !sameDay(b.Start(), day) {
			continue
		}
		for _, r := range b.Results {
			appID, mapped := projectApp[r.Project()]
			if !mapped {
				appID = model.Pooled
			}
			if _, seen := spend[appID]; !seen {
				order = append(order, appID)
			}
			spend[appID] += r.Amount.Value
		}
	}

	rows := make([]model.Row, 0, len(order))
	for _, appID := range order {
		rows = append(rows, &model.ProviderCostRow{
			Date:       day,
			ProviderID: provider.ID,
			AppID:      appID,
			CostUSD:    spend[appID],
			UsageUnits: spend[appID],
			UsageUnit:  "usd",
		})
	}

	n, err := s.deps.Store.Upsert(ctx, rows...)
	if err != nil {
		return ingest.Failed(n, err)
	}
	return ingest.Succeeded(n)
}
