// Package backoff provides the exponential backoff used for provider and
// store retries. Waits run on a clockwork clock so tests can drive them
// with a fake clock.
package backoff

import (
	"context"
	"math"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"
	"github.com/jonboulle/clockwork"
)

// Policy is an exponential backoff: Base, doubling each retry, capped at Max
// (uncapped when Max is zero). MaxRetries bounds how many times a failed
// call is repeated.
type Policy struct {
	Base       time.Duration
	Max        time.Duration
	MaxRetries int
}

// Default starts at 200ms, doubles each retry, caps at 5s, and retries three
// times.
var Default = Policy{Base: 200 * time.Millisecond, Max: 5 * time.Second, MaxRetries: 3}

// Delay returns the wait before the given retry (1-based).
func (p Policy) Delay(n int) time.Duration {
	ceiling := p.Max
	if ceiling <= 0 {
		ceiling = math.MaxInt64
	}
	d := min(p.Base, ceiling)
	for i := 1; i < n && d < ceiling; i++ {
		if d > ceiling/2 {
			return ceiling
		}
		d = retry.NextBackoff(d, ceiling)
	}
	return d
}

// Sleep waits for d on clock, returning false if ctx is cancelled first.
func Sleep(ctx context.Context, clock clockwork.Clock, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}

// Retry calls fn until it succeeds, retryable reports false, the retries are
// exhausted, or ctx is cancelled. onRetry, if set, runs before each wait.
// The last error is returned.
func Retry(ctx context.Context, clock clockwork.Clock, p Policy, retryable func(error) bool, onRetry func(retry int, err error), fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt >= p.MaxRetries || !retryable(err) || ctx.Err() != nil {
			return err
		}
		if onRetry != nil {
			onRetry(attempt+1, err)
		}
		if !Sleep(ctx, clock, p.Delay(attempt+1)) {
			return err
		}
	}
}
