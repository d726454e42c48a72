package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/portfolio-metrics/internal/ingest"
	"github.com/sells-group/portfolio-metrics/internal/model"
	"github.com/sells-group/portfolio-metrics/internal/store"
)

// SourceHealth is the latest known state of one source.
type SourceHealth struct {
	Source        string          `json:"source"`
	LastStatus    model.LogStatus `json:"last_status,omitempty"`
	LastDate      time.Time       `json:"last_date,omitempty"`
	LastStartedAt time.Time       `json:"last_started_at,omitempty"`
	LastSuccessAt *time.Time      `json:"last_success_at,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
	Stale         bool            `json:"stale"`
	Stuck         bool            `json:"stuck"`
}

// HealthSnapshot holds a point-in-time view of ingestion health.
type HealthSnapshot struct {
	Sources         []SourceHealth `json:"sources"`
	Failed          int            `json:"failed"`
	Stale           int            `json:"stale"`
	Stuck           int            `json:"stuck"`
	StaleAfterHours int            `json:"stale_after_hours"`
	CollectedAt     time.Time      `json:"collected_at"`
}

// Collector reads the ingestion log for the registered sources.
type Collector struct {
	logs    store.LogStore
	sources []string
	now     func() time.Time
}

// NewCollector creates a collector over the given source names.
func NewCollector(logs store.LogStore, sources []string) *Collector {
	return &Collector{logs: logs, sources: sources, now: func() time.Time { return time.Now().UTC() }}
}

// Collect builds a snapshot. A source is stale when it has not succeeded
// within staleAfterHours and stuck when its latest run has been running
// for longer than that.
func (c *Collector) Collect(ctx context.Context, staleAfterHours int) (*HealthSnapshot, error) {
	now := c.now()
	window := time.Duration(staleAfterHours) * time.Hour
	snap := &HealthSnapshot{StaleAfterHours: staleAfterHours, CollectedAt: now}

	last, err := ingest.LastRuns(ctx, c.logs, c.sources)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: last runs")
	}
	bySource := make(map[string]model.IngestionLogEntry, len(last))
	for _, e := range last {
		bySource[e.Source] = e
	}

	for _, name := range c.sources {
		h := SourceHealth{Source: name}
		if e, ok := bySource[name]; ok {
			h.LastStatus = e.Status
			h.LastDate = e.Date
			h.LastStartedAt = e.StartedAt
			h.LastError = e.ErrorMessage
		}

		ok, err := c.logs.ListLogs(ctx, store.LogFilter{Source: name, Status: model.LogStatusSuccess, Limit: 1})
		if err != nil {
			return nil, eris.Wrapf(err, "monitoring: last success for %s", name)
		}
		if len(ok) > 0 {
			at := ok[0].StartedAt
			h.LastSuccessAt = &at
		}

		h.Stale = h.LastSuccessAt == nil || now.Sub(*h.LastSuccessAt) > window
		h.Stuck = h.LastStatus == model.LogStatusRunning && now.Sub(h.LastStartedAt) > window

		if h.LastStatus == model.LogStatusFailed {
			snap.Failed++
		}
		if h.Stale {
			snap.Stale++
		}
		if h.Stuck {
			snap.Stuck++
		}
		snap.Sources = append(snap.Sources, h)
	}
	return snap, nil
}
