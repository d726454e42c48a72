package ingest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/portfolio-metrics/internal/model"
	"github.com/sells-group/portfolio-metrics/internal/store"
)

// Engine fans an ingestion date out to the registered sources.
type Engine struct {
	roster        store.RosterStore
	runner        *Runner
	reg           *Registry
	maxConcurrent int
}

// RunOpts configures which sources to run and for which date.
type RunOpts struct {
	Date    time.Time // zero means yesterday (UTC)
	Sources []string  // restrict to specific source names
}

// SourceResult is the outcome of one source in a run.
type SourceResult struct {
	Source  string        `json:"source"`
	Result  Result        `json:"result"`
	Elapsed time.Duration `json:"elapsed"`
}

// RunSummary collects the per-source results of one engine run.
type RunSummary struct {
	RunID   string         `json:"run_id"`
	Date    time.Time      `json:"date"`
	Results []SourceResult `json:"results"`
}

// Failed returns the sources that did not succeed.
func (s *RunSummary) Failed() []SourceResult {
	var out []SourceResult
	for _, r := range s.Results {
		if !r.Result.Success {
			out = append(out, r)
		}
	}
	return out
}

// Records returns the total rows written across sources.
func (s *RunSummary) Records() int64 {
	var n int64
	for _, r := range s.Results {
		n += r.Result.RecordsProcessed
	}
	return n
}

// NewEngine creates an engine. maxConcurrent <= 0 runs every source at once.
func NewEngine(roster store.RosterStore, runner *Runner, reg *Registry, maxConcurrent int) *Engine {
	return &Engine{roster: roster, runner: runner, reg: reg, maxConcurrent: maxConcurrent}
}

// Run builds the context for opts.Date and runs the selected sources
// concurrently. A failing source never stops its siblings; the returned
// error covers only setup problems.
func (e *Engine) Run(ctx context.Context, opts RunOpts) (*RunSummary, error) {
	log := zap.L().With(zap.String("component", "ingest.engine"))

	date := opts.Date
	if date.IsZero() {
		date = time.Now().UTC().AddDate(0, 0, -1)
	}
	date = model.Day(date)

	sources, err := e.reg.Select(opts.Sources)
	if err != nil {
		return nil, err
	}

	apps, err := e.roster.ListApps(ctx, true)
	if err != nil {
		return nil, eris.Wrap(err, "engine: load apps")
	}
	providers, err := e.roster.ListProviders(ctx, true)
	if err != nil {
		return nil, eris.Wrap(err, "engine: load providers")
	}

	ic := NewContext(uuid.NewString(), date, apps, providers)
	summary := &RunSummary{RunID: ic.RunID(), Date: date, Results: make([]SourceResult, len(sources))}

	log.Info("starting ingestion run",
		zap.String("run_id", ic.RunID()),
		zap.String("date", date.Format(model.DateLayout)),
		zap.Int("sources", len(sources)),
		zap.Int("apps", len(apps)),
		zap.Int("providers", len(providers)),
	)

	var g errgroup.Group
	if e.maxConcurrent > 0 {
		g.SetLimit(e.maxConcurrent)
	}
	for i, src := range sources {
		g.Go(func() error {
			start := time.Now()
			res := e.runner.Run(ctx, src, ic)
			summary.Results[i] = SourceResult{Source: src.Name(), Result: res, Elapsed: time.Since(start)}
			return nil
		})
	}
	_ = g.Wait()

	log.Info("ingestion run complete",
		zap.String("run_id", ic.RunID()),
		zap.Int64("records", summary.Records()),
		zap.Int("failed", len(summary.Failed())),
	)
	return summary, nil
}
