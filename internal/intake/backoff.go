package intake

import (
	"context"
	"time"
)

// Defaults for the visibility-race retry: a creating process's session
// write may not yet be readable by a second process handling the very next
// message, so reads retry briefly before concluding the record is missing.
const (
	defaultRetryAttempts = 4
	defaultRetryBase     = 150 * time.Millisecond
	defaultRetryCap      = 2 * time.Second
)

// withBackoff calls fn up to attempts times with capped exponential delay
// between calls. fn returns (done, err): done stops the retries with
// success, err stops them with failure. Returns (false, nil) when every
// attempt came back not-done, and ctx.Err() if cancelled mid-wait.
func withBackoff(ctx context.Context, attempts int, base, cap time.Duration, fn func() (bool, error)) (bool, error) {
	if attempts <= 0 {
		attempts = defaultRetryAttempts
	}
	if base <= 0 {
		base = defaultRetryBase
	}
	if cap <= 0 {
		cap = defaultRetryCap
	}

	delay := base
	for i := 0; i < attempts; i++ {
		done, err := fn()
		if err != nil || done {
			return done, err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > cap {
			delay = cap
		}
	}
	return false, nil
}
