package healthtask

import "time"

// Status is the worklist bucket a task falls into at a given moment.
type Status string

const (
	StatusOverdue   Status = "overdue"
	StatusPending   Status = "pending"
	StatusDueSoon   Status = "due_soon"
	StatusScheduled Status = "scheduled"
)

// Statuses lists every status in worklist order.
var Statuses = []Status{StatusOverdue, StatusPending, StatusDueSoon, StatusScheduled}

func (s Status) Valid() bool {
	switch s {
	case StatusOverdue, StatusPending, StatusDueSoon, StatusScheduled:
		return true
	}
	return false
}

// RequiresAction reports whether the status needs a caregiver today.
func (s Status) RequiresAction() bool {
	return s == StatusOverdue || s == StatusPending
}

// ClassifyStatus buckets a task against now, using local midnight in loc as
// the day boundary. A completed task is always scheduled, however late it
// was completed.
func ClassifyStatus(task *HealthTask, now time.Time, loc *time.Location) Status {
	if task.LastCompletedAt != nil {
		return StatusScheduled
	}
	if loc == nil {
		loc = time.Local
	}

	todayStart := StartOfDay(now, loc)
	tomorrowStart := addDays(todayStart, 1)
	dayAfterStart := addDays(todayStart, 2)

	due := task.NextDueAt
	switch {
	case due.Before(todayStart):
		return StatusOverdue
	case due.Before(tomorrowStart):
		return StatusPending
	case due.Before(dayAfterStart):
		return StatusDueSoon
	default:
		return StatusScheduled
	}
}

// StartOfDay returns local midnight of t's calendar date in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// EndOfDay returns the last representable instant of t's calendar date in loc.
func EndOfDay(t time.Time, loc *time.Location) time.Time {
	return addDays(StartOfDay(t, loc), 1).Add(-time.Nanosecond)
}
