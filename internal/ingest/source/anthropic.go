package source

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/sells-group/portfolio-metrics/internal/cost"
	"github.com/sells-group/portfolio-metrics/internal/ingest"
	"github.com/sells-group/portfolio-metrics/internal/model"
	"github.com/sells-group/portfolio-metrics/pkg/anthropic"
)

// AnthropicUsage prices the organization's daily token usage and writes it
// as pooled overhead for the anthropic provider.
type AnthropicUsage struct {
	client anthropic.Client
	calc   *cost.Calculator
	deps   Deps
}

// NewAnthropicUsage creates the adapter. A nil client means not configured.
func NewAnthropicUsage(client anthropic.Client, calc *cost.Calculator, deps Deps) *AnthropicUsage {
	return &AnthropicUsage{client: client, calc: calc, deps: deps}
}

// Name implements ingest.Source.
func (s *AnthropicUsage) Name() string { return NameAnthropicUsage }

// ProviderSlug implements ingest.ProviderScoped.
func (s *AnthropicUsage) ProviderSlug() string { return ProviderAnthropic }

type modelSpend struct {
	Model   string  `json:"model"`
	Tier    string  `json:"service_tier"`
	Tokens  int64   `json:"tokens"`
	CostUSD float64 `json:"cost_usd"`
	Priced  bool    `json:"priced"`
}

// Run implements ingest.Source.
func (s *AnthropicUsage) Run(ctx context.Context, ic ingest.Context) ingest.Result {
	provider, ok := ic.Provider(ProviderAnthropic)
	if s.client == nil || !ok {
		return ingest.NotConfigured()
	}

	day := ic.Date()
	buckets, err := s.client.MessagesUsage(ctx, day, day.AddDate(0, 0, 1))
	if err != nil {
		return ingest.Failed(0, err)
	}

	var total float64
	var tokens int64
	var breakdown []modelSpend
	for _, b := range buckets {
		if !sameDay(b.StartingAt, day) {
			continue
		}
		for _, r := range b.Results {
			u := cost.Usage{
				Model:      r.Model,
				Batch:      r.IsBatch(),
				Input:      r.UncachedInputTokens,
				Output:     r.OutputTokens,
				CacheWrite: r.CacheWriteTokens(),
				CacheRead:  r.CacheReadInputTokens,
			}
			usd, priced := s.calc.Claude(u)
			if !priced {
				zap.L().Warn("anthropic: no rate for model, usage recorded at zero cost",
					zap.String("model", r.Model), zap.Int64("tokens", u.Tokens()))
			}
			total += usd
			tokens += u.Tokens()
			breakdown = append(breakdown, modelSpend{Model: r.Model, Tier: r.ServiceTier, Tokens: u.Tokens(), CostUSD: usd, Priced: priced})
		}
	}
	sortSpend(breakdown)

	n, err := s.deps.Store.Upsert(ctx, &model.ProviderCostRow{
		Date:       day,
		ProviderID: provider.ID,
		AppID:      model.Pooled,
		CostUSD:    total,
		UsageUnits: float64(tokens),
		UsageUnit:  "tokens",
		Raw:        rawJSON(breakdown),
	})
	if err != nil {
		return ingest.Failed(n, err)
	}
	return ingest.Succeeded(n)
}

// sortSpend orders the breakdown by cost, then model and tier, so a re-run
// over the same usage stores identical raw bytes.
func sortSpend(spend []modelSpend) {
	sort.SliceStable(spend, func(i, j int) bool {
		a, b := spend[i], spend[j]
		if a.CostUSD != b.CostUSD {
			return a.CostUSD > b.CostUSD
		}
		if a.Model != b.Model {
			return a.Model < b.Model
		}
		return a.Tier < b.Tier
	})
}
