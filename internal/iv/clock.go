package iv

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time so run durations, journal timestamps and retry
// backoff are deterministic in tests.
type Clock interface {
	Now() time.Time

	// After behaves like time.After.
	After(d time.Duration) <-chan time.Time
}

// RealClock uses the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// IDGenerator produces IDs for jobs, runs, snapshots and journal entries.
type IDGenerator interface {
	New() string
}

// UUIDGenerator produces random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.New().String() }
