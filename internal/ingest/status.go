package ingest

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/portfolio-metrics/internal/model"
	"github.com/sells-group/portfolio-metrics/internal/store"
)

// LastRuns returns the most recent log entry for each named source, in the
// given order. Sources that never ran are omitted.
func LastRuns(ctx context.Context, logs store.LogStore, names []string) ([]model.IngestionLogEntry, error) {
	var out []model.IngestionLogEntry
	for _, n := range names {
		entries, err := logs.ListLogs(ctx, store.LogFilter{Source: n, Limit: 1})
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: last run for %s", n)
		}
		if len(entries) > 0 {
			out = append(out, entries[0])
		}
	}
	return out, nil
}
