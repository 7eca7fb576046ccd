// Package retry implements the exponential-backoff-with-jitter policy
// shared by the MCP client and the CP engine's per-CP retry budget.
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/agentoven/monitor-core/internal/clienterrors"
)

// Config mirrors the RetryConfig config-tree section: max_retries 0-10,
// base_delay/max_delay in seconds, backoff_factor >= 1, jitter toggle.
type Config struct {
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        bool
}

// DefaultConfig matches the original system's defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:    3,
		BaseDelay:     1 * time.Second,
		MaxDelay:      60 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
	}
}

// rawExponential drives the unjittered base*factor^attempt sequence,
// capped at MaxInterval, through backoff.ExponentialBackOff itself
// rather than reimplementing the growth formula: RandomizationFactor is
// pinned to 0 so NextBackOff returns the bare current interval, and
// MaxElapsedTime is disabled since this package's own Config, not
// elapsed wall time, governs when to give up.
func rawExponential(cfg Config, attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.BaseDelay
	b.Multiplier = cfg.BackoffFactor
	b.MaxInterval = cfg.MaxDelay
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	var d time.Duration
	for i := 0; i <= attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

// Delay computes the backoff delay for the given zero-based attempt
// number exactly per §4.7/§8: min(base * factor^attempt, max_delay),
// then if jitter is enabled, scaled by a uniform factor in [0.75, 1.25].
//
// The ±25% multiplicative jitter required here doesn't match
// ExponentialBackOff's own RandomizationFactor formula, so jitter is
// layered on top of the library's raw sequence by this function instead
// of being left to the library.
func Delay(cfg Config, attempt int) time.Duration {
	capped := rawExponential(cfg, attempt)
	if cfg.MaxDelay > 0 && capped > cfg.MaxDelay {
		capped = cfg.MaxDelay
	}
	if !cfg.Jitter {
		return capped
	}
	jitterFactor := 1.0 + (rand.Float64()*2-1)*0.25
	return time.Duration(float64(capped) * jitterFactor)
}

// Do runs fn, retrying on retryable *clienterrors.ClientError failures
// per cfg, up to cfg.MaxRetries additional attempts after the first.
// It returns the last error if all attempts are exhausted, or nil on
// first success. ctx cancellation aborts the loop immediately.
func Do(ctx context.Context, cfg Config, operation string, fn func(ctx context.Context, attempt int) error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		ce, ok := clienterrors.As(lastErr)
		if !ok || !ce.Retryable() {
			return lastErr
		}
		if attempt >= cfg.MaxRetries {
			return lastErr
		}
		d := Delay(cfg, attempt)
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
