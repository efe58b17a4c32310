// Package schedule decides when scheduled jobs are due and starts them.
package schedule

import (
	"time"

	"inertiavault/internal/iv"
)

// runHour is the hour of day at which daily, weekly and monthly jobs run.
const runHour = 2

// Next returns the first run time of s strictly after t, in t's location.
// Manual jobs have no next run.
func Next(s iv.Schedule, t time.Time) (time.Time, bool) {
	y, m, d := t.Date()
	loc := t.Location()
	at := func(y int, m time.Month, d int) time.Time {
		return time.Date(y, m, d, runHour, 0, 0, 0, loc)
	}

	switch s {
	case iv.ScheduleHourly:
		return t.Truncate(time.Hour).Add(time.Hour), true
	case iv.ScheduleDaily:
		next := at(y, m, d)
		if !next.After(t) {
			next = at(y, m, d+1)
		}
		return next, true
	case iv.ScheduleWeekly:
		days := (7 - int(t.Weekday())) % 7
		next := at(y, m, d+days)
		if !next.After(t) {
			next = at(y, m, d+days+7)
		}
		return next, true
	case iv.ScheduleMonthly:
		next := at(y, m, 1)
		if !next.After(t) {
			next = at(y, m+1, 1)
		}
		return next, true
	}
	return time.Time{}, false
}

// Due reports whether job should start at now: its next run after the last
// run (or after creation, if it never ran) has arrived.
func Due(job *iv.Job, now time.Time) bool {
	base := job.CreatedAt
	if job.LastRunAt != nil {
		base = *job.LastRunAt
	}
	next, ok := Next(job.Schedule, base.In(now.Location()))
	return ok && !now.Before(next)
}
