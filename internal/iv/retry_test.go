package iv

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// instantClock fires After immediately and records the waits.
type instantClock struct {
	waits []time.Duration
}

func (c *instantClock) Now() time.Time { return time.Time{} }

func (c *instantClock) After(d time.Duration) <-chan time.Time {
	c.waits = append(c.waits, d)
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{Attempts: 6, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{2, 100 * time.Millisecond},
		{3, 200 * time.Millisecond},
		{4, 400 * time.Millisecond},
		{5, 800 * time.Millisecond},
		{6, time.Second},
	}
	for _, tt := range tests {
		if got := p.delay(tt.attempt); got != tt.want {
			t.Errorf("delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRetryPolicy_Normalized(t *testing.T) {
	p := RetryPolicy{Attempts: 0, BaseDelay: -time.Second}.normalized()
	if p.Attempts != 1 || p.BaseDelay != 0 || p.MaxDelay != DefaultRetryPolicy.MaxDelay {
		t.Errorf("normalized() = %+v", p)
	}
}

func TestRetry(t *testing.T) {
	transient := fmt.Errorf("%w: flaky", ErrTransientIO)
	boom := errors.New("boom")
	tests := []struct {
		name      string
		errs      []error // returned by successive calls; nil after the list runs out
		wantCalls int
		wantErr   error
	}{
		{"success", nil, 1, nil},
		{"transient then success", []error{transient, transient}, 3, nil},
		{"exhausted", []error{transient, transient, transient, transient}, 3, ErrTransientIO},
		{"deadline is retried", []error{context.DeadlineExceeded}, 2, nil},
		{"authorization", []error{fmt.Errorf("%w: %w", ErrAuthorization, ErrTransientIO)}, 1, ErrAuthorization},
		{"quota", []error{ErrQuota}, 1, ErrQuota},
		{"integrity", []error{ErrIntegrity}, 1, ErrIntegrity},
		{"plain error", []error{boom}, 1, boom},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := &instantClock{}
			calls, retries := 0, 0
			err := retry(context.Background(), clock, RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond}, func(context.Context) error {
				calls++
				if calls <= len(tt.errs) {
					return tt.errs[calls-1]
				}
				return nil
			}, func(int, error) { retries++ })

			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if retries != calls-1 || len(clock.waits) != calls-1 {
				t.Errorf("retries = %d, waits = %d; want %d", retries, len(clock.waits), calls-1)
			}
			if tt.wantErr == nil && err != nil {
				t.Errorf("err = %v, want nil", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{ErrTransientIO, true},
		{fmt.Errorf("upload: %w", ErrTransientIO), true},
		{context.DeadlineExceeded, true},
		{context.Canceled, false},
		{ErrNotFound, false},
		{fmt.Errorf("%w: %w", ErrQuota, ErrTransientIO), false},
		{&PhaseError{Phase: PhaseTransferring, Err: ErrTransientIO}, true},
	}
	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
