package ingest

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/portfolio-metrics/internal/resilience"
	"github.com/sells-group/portfolio-metrics/internal/telemetry"
)

// Loop carries what an adapter's per-entity loop needs besides the entities.
type Loop struct {
	Source  string
	Pacer   *Pacer
	Metrics *telemetry.Metrics
}

// EntityFunc processes one entity and returns the rows written for it.
type EntityFunc[E any] func(ctx context.Context, e E) (int64, error)

// ForEach processes entities sequentially with pacing between calls. A
// failing entity is logged and skipped. The result fails only when every
// entity failed or the context ended before any entity succeeded.
func ForEach[E any](ctx context.Context, l Loop, entities []E, key func(E) string, fn EntityFunc[E]) Result {
	log := zap.L().With(zap.String("source", l.Source))
	if len(entities) == 0 {
		log.Debug("no applicable entities")
		return Succeeded(0)
	}

	var records int64
	var failed int
	var lastErr error
	for i, e := range entities {
		if i > 0 {
			if err := l.Pacer.Wait(ctx); err != nil {
				lastErr = eris.Wrap(err, "pacing interrupted")
				failed += len(entities) - i
				break
			}
		}
		n, err := fn(ctx, e)
		records += n
		if err != nil {
			failed++
			lastErr = err
			l.Metrics.RecordEntityFailure(l.Source)
			log.Warn("entity skipped",
				zap.String("entity", key(e)),
				zap.String("error_class", resilience.Classify(err)),
				zap.Error(err),
			)
		}
	}

	if failed == len(entities) {
		return Failed(records, eris.Wrapf(lastErr, "all %d entities failed", failed))
	}
	if failed > 0 {
		log.Info("completed with skipped entities", zap.Int("skipped", failed), zap.Int("total", len(entities)))
	}
	return Succeeded(records)
}
