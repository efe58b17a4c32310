package iv

import (
	"context"
	"time"
)

// RetryPolicy bounds how transient destination failures are retried.
type RetryPolicy struct {
	Attempts  int           // total attempts, including the first
	BaseDelay time.Duration // delay before the second attempt
	MaxDelay  time.Duration // cap on any single delay
}

// DefaultRetryPolicy makes up to three attempts with 200ms, 400ms delays.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultRetryPolicy.MaxDelay
	}
	return p
}

// delay returns the wait before attempt n (n >= 2).
func (p RetryPolicy) delay(n int) time.Duration {
	d := p.BaseDelay
	for i := 2; i < n; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// retry calls fn until it succeeds, returns a non-retryable error, or the
// policy is exhausted. onRetry is called before each wait. The wait itself
// ignores cancellation of ctx; a unit of work in flight is always finished.
func retry(ctx context.Context, clock Clock, p RetryPolicy, fn func(ctx context.Context) error, onRetry func(attempt int, err error)) error {
	p = p.normalized()
	var err error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if attempt > 1 {
			if onRetry != nil {
				onRetry(attempt, err)
			}
			if d := p.delay(attempt); d > 0 {
				<-clock.After(d)
			}
		}
		err = fn(ctx)
		if err == nil || !IsRetryable(err) {
			return err
		}
	}
	return err
}
