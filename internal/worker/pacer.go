package worker

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer throttles outbound calls from the batch client so a run stays
// under the server's per-client admission budget.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer creates a pacer. A non-positive rate disables pacing.
func NewPacer(requestsPerSecond float64, burst int) *Pacer {
	if requestsPerSecond <= 0 {
		return &Pacer{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst <= 0 {
		burst = 1
	}
	return &Pacer{limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst)}
}

// PacerForBudget derives a pacer from the server limit (requests per window)
func PacerForBudget(requests int, window time.Duration) *Pacer {
	if requests <= 0 || window <= 0 {
		return NewPacer(0, 0)
	}
	return NewPacer(float64(requests)/window.Seconds(), 1)
}

// Wait blocks until the next call may proceed
func (p *Pacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

// WaitWithDelay waits for the pacer and then adds an extra pause
func (p *Pacer) WaitWithDelay(ctx context.Context, additionalDelay time.Duration) error {
	if err := p.Wait(ctx); err != nil {
		return err
	}

	if additionalDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(additionalDelay):
		}
	}

	return nil
}

// Allow reports whether a call may proceed now without waiting
func (p *Pacer) Allow() bool {
	return p.limiter.Allow()
}
