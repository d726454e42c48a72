package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"

	"github.com/sells-group/portfolio-metrics/internal/cost"
	"github.com/sells-group/portfolio-metrics/internal/ingest"
	"github.com/sells-group/portfolio-metrics/internal/ingest/source"
	"github.com/sells-group/portfolio-metrics/internal/store"
	"github.com/sells-group/portfolio-metrics/internal/telemetry"
)

const metricsNamespace = "portfolio"

// initStore opens the configured store and applies the schema.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL, &store.PoolConfig{
		MaxConns: cfg.Store.MaxConns,
		MinConns: cfg.Store.MinConns,
	})
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// ingestEnv bundles what an ingestion run needs.
type ingestEnv struct {
	Store   store.Store
	Metrics *telemetry.Metrics
	Engine  *ingest.Engine
	Sources []string
}

func (e *ingestEnv) Close() {
	if e.Store != nil {
		e.Store.Close() //nolint:errcheck
	}
}

// initIngest wires the store, provider clients, adapters and engine. reg
// receives the ingestion metrics; nil uses the default registry.
func initIngest(ctx context.Context, reg prometheus.Registerer) (*ingestEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env, err := buildIngestEnv(st, reg)
	if err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return env, nil
}

func buildIngestEnv(st store.Store, reg prometheus.Registerer) (*ingestEnv, error) {
	metrics := telemetry.NewMetrics(metricsNamespace, reg)

	clients, err := source.NewClients(cfg)
	if err != nil {
		return nil, err
	}

	deps := source.Deps{
		Store:   st,
		Pacer:   ingest.NewPacer(time.Duration(cfg.Ingest.EntityDelayMs) * time.Millisecond),
		Metrics: metrics,
	}
	registry := source.NewRegistry(clients, cost.NewCalculator(cfg.CostRates()), cfg.Ingest.TopN, deps)
	runner := ingest.NewRunner(st, metrics)

	return &ingestEnv{
		Store:   st,
		Metrics: metrics,
		Engine:  ingest.NewEngine(st, runner, registry, cfg.Ingest.MaxConcurrentSources),
		Sources: registry.Names(),
	}, nil
}
