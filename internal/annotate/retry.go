package annotate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"
)

// RetryConfig bounds how hard Resilient tries.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Timeout applies to each attempt; zero disables it.
	Timeout time.Duration
}

// Resilient wraps an Annotator with a shared rate limit, a per-attempt
// timeout and exponential backoff between attempts. Rejected requests
// and cancelled contexts are not retried.
type Resilient struct {
	next    Annotator
	cfg     RetryConfig
	limiter *rate.Limiter
	// OnRetry, when set, observes each failed attempt before the wait.
	OnRetry func(err error, wait time.Duration)
}

// NewResilient wraps next. limiter may be nil.
func NewResilient(next Annotator, cfg RetryConfig, limiter *rate.Limiter) *Resilient {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	return &Resilient{next: next, cfg: cfg, limiter: limiter}
}

// Annotate calls the wrapped annotator until it succeeds or attempts run
// out. Exhaustion returns an error wrapping ErrUnavailable.
func (r *Resilient) Annotate(ctx context.Context, req Request) (Response, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialBackoff
	b.MaxInterval = r.cfg.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0.2

	attempts := 0
	op := func() (Response, error) {
		attempts++
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return Response{}, backoff.Permanent(err)
			}
		}
		actx, cancel := ctx, context.CancelFunc(func() {})
		if r.cfg.Timeout > 0 {
			actx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		}
		defer cancel()
		resp, err := r.next.Annotate(actx, req)
		switch {
		case err == nil:
			return resp, nil
		case ctx.Err() != nil:
			return Response{}, backoff.Permanent(ctx.Err())
		case errors.Is(err, ErrRejected):
			return Response{}, backoff.Permanent(err)
		}
		return Response{}, err
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(r.cfg.MaxAttempts)),
	}
	if r.OnRetry != nil {
		opts = append(opts, backoff.WithNotify(r.OnRetry))
	}
	resp, err := backoff.Retry(ctx, op, opts...)
	if err == nil {
		return resp, nil
	}
	if ctx.Err() != nil {
		return Response{}, ctx.Err()
	}
	if errors.Is(err, ErrRejected) {
		return Response{}, err
	}
	if !errors.Is(err, ErrUnavailable) {
		err = fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return Response{}, fmt.Errorf("annotate thread %s after %d attempts: %w", req.ThreadID, attempts, err)
}
