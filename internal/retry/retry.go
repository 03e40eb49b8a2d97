// Package retry implements the dispatcher's pre-stream retry policies
// (spec.md §4.4/§9 Open Question 1: retry is only attempted before the
// first response byte has been forwarded to the client).
package retry

import (
	"context"

	"github.com/cenkalti/backoff/v4"

	"github.com/nulpointcorp/llm-gateway/internal/config"
)

// Policy builds a backoff.BackOff from a RetryConfig, mirroring
// original_source/ai-gateway/src/config/retry.rs's enum shape: the
// "exponential" and "constant" policies the gateway exposes over
// configuration.
func Policy(cfg config.RetryConfig) backoff.BackOff {
	var b backoff.BackOff
	switch cfg.Policy {
	case "constant":
		b = backoff.NewConstantBackOff(cfg.BaseDelay)
	default:
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = cfg.BaseDelay
		eb.MaxInterval = cfg.MaxDelay
		eb.Multiplier = 2
		eb.RandomizationFactor = 0.2
		b = eb
	}
	return backoff.WithMaxRetries(b, uint64(cfg.MaxAttempts-1))
}

// Do runs fn, retrying per Policy(cfg) as long as fn returns a retryable
// error (retryable decides; non-retryable errors abort immediately). Do
// itself does not track forwarded bytes: a streaming caller stops further
// attempts by having retryable report false once it has forwarded a byte.
func Do(ctx context.Context, cfg config.RetryConfig, retryable func(error) bool, fn func(ctx context.Context) error) error {
	policy := backoff.WithContext(Policy(cfg), ctx)
	return backoff.Retry(func() error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

// DefaultRetryableStatus reports whether an upstream HTTP status code
// should be retried: 429 and 5xx are retryable, everything else is not.
func DefaultRetryableStatus(status int) bool {
	return status == 429 || (status >= 500 && status < 600)
}
