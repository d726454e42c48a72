// Package source holds one ingest.Source per provider family. Each adapter
// fetches one day of data, normalizes it into model rows and upserts them on
// their natural keys, so re-running a date replaces rather than duplicates.
package source

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/sells-group/portfolio-metrics/internal/ingest"
	"github.com/sells-group/portfolio-metrics/internal/model"
	"github.com/sells-group/portfolio-metrics/internal/store"
	"github.com/sells-group/portfolio-metrics/internal/telemetry"
)

// Adapter names as recorded in the ingestion log.
const (
	NameRevenueCat     = "revenuecat"
	NameAppStore       = "appstore"
	NameGA4            = "ga4"
	NameSearchConsole  = "search_console"
	NameAnthropicUsage = "anthropic_usage"
	NameOpenAIUsage    = "openai_usage"
	NameCloudBilling   = "cloud_billing"
	NameSendGrid       = "sendgrid"
)

// Provider slugs the cost and usage adapters are scoped to.
const (
	ProviderAnthropic    = "anthropic"
	ProviderOpenAI       = "openai"
	ProviderDigitalOcean = "digitalocean"
	ProviderSendGrid     = "sendgrid"
)

// Store is the storage an adapter needs: writes, plus reads for adapters
// that derive a value from a previously stored day.
type Store interface {
	store.Reader
	store.Writer
}

// Deps are the collaborators shared by every adapter.
type Deps struct {
	Store   Store
	Pacer   *ingest.Pacer
	Metrics *telemetry.Metrics
}

func (d Deps) loop(name string) ingest.Loop {
	return ingest.Loop{Source: name, Pacer: d.Pacer, Metrics: d.Metrics}
}

func appKey(a model.App) string { return a.Slug }

// rawJSON snapshots a provider payload for the raw column. A payload that
// cannot be encoded is dropped rather than failing the row.
func rawJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

// dimension normalizes a provider dimension value so it can never collide
// with the aggregate sentinel.
func dimension(v string) string {
	v = strings.TrimSpace(v)
	if v == model.Aggregate {
		return "(not set)"
	}
	return v
}

func sameDay(a, b time.Time) bool {
	return model.Day(a).Equal(model.Day(b))
}
