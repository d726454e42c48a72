package ingest

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/portfolio-metrics/internal/model"
	"github.com/sells-group/portfolio-metrics/internal/store"
	"github.com/sells-group/portfolio-metrics/internal/telemetry"
)

// Runner wraps a source invocation in the ingestion log lifecycle: a running
// entry is created before the source runs and finalized after it returns,
// panics included.
type Runner struct {
	logs    store.LogStore
	metrics *telemetry.Metrics
}

// NewRunner creates a Runner recording to logs. metrics may be nil.
func NewRunner(logs store.LogStore, metrics *telemetry.Metrics) *Runner {
	return &Runner{logs: logs, metrics: metrics}
}

// Run invokes src for ic and returns its result.
func (r *Runner) Run(ctx context.Context, src Source, ic Context) (res Result) {
	name := src.Name()
	log := zap.L().With(zap.String("component", "ingest.runner"), zap.String("source", name))

	entry := model.IngestionLogEntry{RunID: ic.RunID(), Source: name, Date: ic.Date()}
	if ps, ok := src.(ProviderScoped); ok {
		if p, found := ic.Provider(ps.ProviderSlug()); found {
			entry.ProviderID = p.ID
		}
	}

	logID, err := r.logs.StartLog(ctx, entry)
	if err != nil {
		log.Error("failed to record log start, source not run", zap.Error(err))
		return Failed(0, err)
	}

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			log.Error("source panicked", zap.Any("panic", p), zap.ByteString("stack", debug.Stack()))
			res = Failed(res.RecordsProcessed, fmt.Errorf("panic: %v", p))
		}
		elapsed := time.Since(start)
		r.finalize(ctx, logID, res, log)
		r.metrics.RecordSourceRun(name, res.Success, res.RecordsProcessed, elapsed)

		switch {
		case res.NotConfigured:
			log.Info("source not configured")
		case res.Success:
			log.Info("source complete", zap.Int64("records", res.RecordsProcessed), zap.Duration("elapsed", elapsed))
		default:
			log.Warn("source failed", zap.String("error", res.Error), zap.Int64("records", res.RecordsProcessed), zap.Duration("elapsed", elapsed))
		}
	}()

	return src.Run(ctx, ic)
}

// finalize closes the log entry. It uses a context detached from ctx so a
// cancelled run still leaves a terminal entry.
func (r *Runner) finalize(ctx context.Context, id int64, res Result, log *zap.Logger) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	var err error
	if res.Success {
		err = r.logs.CompleteLog(fctx, id, res.RecordsProcessed)
	} else {
		err = r.logs.FailLog(fctx, id, res.RecordsProcessed, res.Error)
	}
	if err != nil {
		log.Error("failed to finalize ingestion log", zap.Int64("log_id", id), zap.Error(err))
	}
}
