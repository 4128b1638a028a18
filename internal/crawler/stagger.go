package crawler

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Stagger spaces consecutive child submissions of one site crawl so the
// target site never sees a burst of requests
type Stagger struct {
	limiter *rate.Limiter
}

// NewStagger creates a stagger allowing one submission per delay.
// A non-positive delay disables it.
func NewStagger(delay time.Duration) *Stagger {
	if delay <= 0 {
		return &Stagger{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Stagger{limiter: rate.NewLimiter(rate.Every(delay), 1)}
}

// Wait blocks until the next submission may proceed
func (s *Stagger) Wait(ctx context.Context) error {
	return s.limiter.Wait(ctx)
}
