package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/ad-buyer-orchestrator/agent/contract"
)

// Policy mirrors a workflow-engine retry policy. Only transport failures
// are retried.
type Policy struct {
	InitialInterval    time.Duration `split_words:"true" default:"200ms"`
	BackoffCoefficient float64       `split_words:"true" default:"2"`
	MaximumInterval    time.Duration `split_words:"true" default:"5s"`
	MaximumAttempts    int           `split_words:"true" default:"3"`
	AttemptTimeout     time.Duration `split_words:"true" default:"10s"`
}

var DefaultPolicy = Policy{
	InitialInterval:    200 * time.Millisecond,
	BackoffCoefficient: 2,
	MaximumInterval:    5 * time.Second,
	MaximumAttempts:    3,
	AttemptTimeout:     10 * time.Second,
}

func (p Policy) normalized() Policy {
	if p.InitialInterval <= 0 {
		p.InitialInterval = DefaultPolicy.InitialInterval
	}
	if p.BackoffCoefficient < 1 {
		p.BackoffCoefficient = DefaultPolicy.BackoffCoefficient
	}
	if p.MaximumInterval < p.InitialInterval {
		p.MaximumInterval = p.InitialInterval
	}
	if p.MaximumAttempts <= 0 {
		p.MaximumAttempts = DefaultPolicy.MaximumAttempts
	}
	return p
}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.Multiplier = p.BackoffCoefficient
	b.MaxInterval = p.MaximumInterval
	b.RandomizationFactor = 0.2
	return b
}

// Do runs fn until it succeeds, fails with a non-retryable error, or the
// attempt cap is reached. Each attempt gets its own timeout when
// AttemptTimeout is set; an attempt that times out counts as a transport
// failure. The last error is returned unchanged.
func Do[T any](ctx context.Context, p Policy, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	p = p.normalized()

	var (
		lastErr  error
		attempts int
	)
	run := func() (T, error) {
		attempts++
		attemptCtx, cancel := attemptContext(ctx, p.AttemptTimeout)
		defer cancel()

		out, err := fn(attemptCtx)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil && !contractx.Retryable(err) {
			err = contractx.NewTransportError(operation, err)
		}
		lastErr = err
		if !contractx.Retryable(err) {
			return out, backoff.Permanent(err)
		}
		return out, err
	}

	out, err := backoff.Retry(ctx, run,
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(p.MaximumAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn().
				Err(err).
				Str("operation", operation).
				Int("attempt", attempts).
				Dur("next_in", next).
				Msg("retrying remote call")
		}),
	)
	if err != nil && lastErr != nil {
		return out, lastErr
	}
	return out, err
}

func attemptContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
