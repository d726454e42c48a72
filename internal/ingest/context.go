// Package ingest runs source adapters for a date: it builds the immutable
// run context, owns the ingestion log lifecycle and fans adapters out.
package ingest

import (
	"time"

	"github.com/sells-group/portfolio-metrics/internal/model"
)

// Context is the immutable input of one ingestion run: the target date and
// the active app and provider rosters. Accessors return copies.
type Context struct {
	runID     string
	date      time.Time
	apps      []model.App
	providers []model.Provider
}

// NewContext builds a Context for date. Inactive entities are dropped and
// roster order is preserved.
func NewContext(runID string, date time.Time, apps []model.App, providers []model.Provider) Context {
	c := Context{runID: runID, date: model.Day(date)}
	for _, a := range apps {
		if a.Active {
			a.Platforms = append([]string(nil), a.Platforms...)
			c.apps = append(c.apps, a)
		}
	}
	for _, p := range providers {
		if p.Active {
			c.providers = append(c.providers, p)
		}
	}
	return c
}

// RunID groups the log entries of one engine run.
func (c Context) RunID() string { return c.runID }

// Date is the UTC day being ingested.
func (c Context) Date() time.Time { return c.date }

// Apps returns the active app roster.
func (c Context) Apps() []model.App {
	return c.AppsWhere(nil)
}

// AppsWhere returns active apps matching keep, in roster order. A nil keep
// matches all.
func (c Context) AppsWhere(keep func(model.App) bool) []model.App {
	out := make([]model.App, 0, len(c.apps))
	for _, a := range c.apps {
		if keep == nil || keep(a) {
			a.Platforms = append([]string(nil), a.Platforms...)
			out = append(out, a)
		}
	}
	return out
}

// Providers returns the active provider roster.
func (c Context) Providers() []model.Provider {
	out := make([]model.Provider, len(c.providers))
	copy(out, c.providers)
	return out
}

// Provider looks up an active provider by slug.
func (c Context) Provider(slug string) (model.Provider, bool) {
	for _, p := range c.providers {
		if p.Slug == slug {
			return p, true
		}
	}
	return model.Provider{}, false
}
