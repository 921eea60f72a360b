// Package retry is the single retry-with-backoff utility used by the relay
// pool and other external calls. Callers get a tagged Result back rather
// than an error on exhaustion, and decide for themselves what failure means.
package retry

import (
	"context"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
)

// Result reports the outcome of a retried operation.
type Result struct {
	OK       bool
	Attempts int
	Err      error // last error observed; nil when OK
}

// Do runs op up to maxAttempts times with exponential backoff starting at
// baseDelay. It stops early when op succeeds or ctx is done. maxAttempts
// below 1 is treated as 1.
func Do(ctx context.Context, op func(ctx context.Context) error, maxAttempts int, baseDelay time.Duration) Result {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = baseDelay
	exp.Multiplier = 2
	exp.MaxInterval = 30 * time.Second
	exp.Reset()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return Result{OK: true, Attempts: attempt}
		}

		if attempt == maxAttempts {
			break
		}

		select {
		case <-time.After(exp.NextBackOff()):
		case <-ctx.Done():
			return Result{OK: false, Attempts: attempt, Err: ctx.Err()}
		}
	}

	return Result{OK: false, Attempts: maxAttempts, Err: lastErr}
}
