package ingest

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer spaces consecutive entity calls by a fixed delay. The first call
// proceeds immediately.
type Pacer struct {
	lim *rate.Limiter
}

// NewPacer returns a Pacer with the given spacing. A non-positive delay
// disables pacing.
func NewPacer(delay time.Duration) *Pacer {
	if delay <= 0 {
		return &Pacer{lim: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Pacer{lim: rate.NewLimiter(rate.Every(delay), 1)}
}

// Wait blocks until the next call may start.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil {
		return nil
	}
	return p.lim.Wait(ctx)
}
