package source

import (
	"context"

	"github.com/sells-group/portfolio-metrics/internal/ingest"
	"github.com/sells-group/portfolio-metrics/internal/model"
	"github.com/sells-group/portfolio-metrics/pkg/sendgrid"
)

// SendGrid writes the account's daily delivery statistics.
type SendGrid struct {
	client sendgrid.Client
	deps   Deps
}

// NewSendGrid creates the adapter. A nil client means not configured.
func NewSendGrid(client sendgrid.Client, deps Deps) *SendGrid {
	return &SendGrid{client: client, deps: deps}
}

// Name implements ingest.Source.
func (s *SendGrid) Name() string { return NameSendGrid }

// ProviderSlug implements ingest.ProviderScoped.
func (s *SendGrid) ProviderSlug() string { return ProviderSendGrid }

// Run implements ingest.Source.
func (s *SendGrid) Run(ctx context.Context, ic ingest.Context) ingest.Result {
	provider, ok := ic.Provider(ProviderSendGrid)
	if s.client == nil || !ok {
		return ingest.NotConfigured()
	}

	day := ic.Date()
	days, err := s.client.GlobalStats(ctx, day, day)
	if err != nil {
		return ingest.Failed(0, err)
	}

	want := day.Format(model.DateLayout)
	var m sendgrid.Metrics
	for _, d := range days {
		if d.Date == want {
			m = d.Total()
		}
	}

	n, err := s.deps.Store.Upsert(ctx, &model.EmailRow{
		Date:         day,
		ProviderID:   provider.ID,
		Sent:         m.Requests,
		Delivered:    m.Delivered,
		Opens:        m.Opens,
		Clicks:       m.Clicks,
		Bounces:      m.Bounces,
		SpamReports:  m.SpamReports,
		Unsubscribes: m.Unsubscribes,
		Raw:          rawJSON(m),
	})
	if err != nil {
		return ingest.Failed(n, err)
	}
	return ingest.Succeeded(n)
}
