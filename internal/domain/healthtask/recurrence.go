package healthtask

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	ErrUnsupportedFrequencyUnit = errors.New("unsupported frequency unit")
	ErrInvalidFrequencyValue    = errors.New("frequency value out of range")
)

// MaxFrequencyValue bounds FrequencyValue for every unit and keeps hourly
// steps well inside time.Duration.
const MaxFrequencyValue = 10000

// TimeOfDay is a wall-clock time without a date.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// DefaultTimeOfDay is used whenever a rule has no usable specific time.
var DefaultTimeOfDay = TimeOfDay{Hour: 8}

var timeOfDayPattern = regexp.MustCompile(`^([01]?[0-9]|2[0-3]):([0-5][0-9])(?::[0-5][0-9])?$`)

// ParseTimeOfDay parses "HH:MM". A trailing ":SS" is accepted and dropped
// since TIME columns come back from Postgres with seconds.
func ParseTimeOfDay(s string) (TimeOfDay, bool) {
	m := timeOfDayPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return TimeOfDay{}, false
	}
	h, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	return TimeOfDay{Hour: h, Minute: mm}, true
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// On returns the instant at t on the calendar date of day, in loc.
func (t TimeOfDay) On(day time.Time, loc *time.Location) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, t.Hour, t.Minute, 0, 0, loc)
}

// anchorTime is the first specific time of the task. A malformed entry
// falls back to 08:00 instead of failing the whole computation.
func anchorTime(task *HealthTask) TimeOfDay {
	if len(task.SpecificTimes) == 0 {
		return DefaultTimeOfDay
	}
	if tod, ok := ParseTimeOfDay(task.SpecificTimes[0]); ok {
		return tod
	}
	return DefaultTimeOfDay
}

// ReferenceFor returns the instant NextDue should step from: the task's
// current due instant, or now for a task that has never been scheduled.
func ReferenceFor(task *HealthTask, now time.Time) time.Time {
	if task.NextDueAt.IsZero() {
		return now
	}
	return task.NextDueAt
}

// NextDue computes the occurrence that follows ref under the task's
// recurrence rule. All calendar arithmetic is done in loc. The result is
// always strictly after ref.
//
// Hourly rules form a series anchored at the first specific time (08:00 by
// default) on ref's local date, spaced FrequencyValue hours apart; the
// result is the first point of that series after ref. The other units add
// whole days, weeks, months or years to ref's date, apply the day
// constraints and then set the time of day.
func NextDue(task *HealthTask, ref time.Time, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	if !task.FrequencyUnit.Valid() {
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnsupportedFrequencyUnit, task.FrequencyUnit)
	}
	if task.FrequencyValue < 1 || task.FrequencyValue > MaxFrequencyValue {
		return time.Time{}, fmt.Errorf("%w: got %d, want 1..%d", ErrInvalidFrequencyValue, task.FrequencyValue, MaxFrequencyValue)
	}

	ref = ref.In(loc)
	at := anchorTime(task)
	n := task.FrequencyValue

	var day time.Time
	switch task.FrequencyUnit {
	case FrequencyHourly:
		return nextHourly(ref, at, n, loc), nil
	case FrequencyDaily:
		day = addDays(ref, n)
	case FrequencyWeekly:
		day = addDays(ref, 7*n)
		if len(task.SpecificDaysOfWeek) > 0 {
			day = alignWeekday(day, task.SpecificDaysOfWeek[0])
		}
	case FrequencyMonthly:
		day = addMonths(ref, n, task.SpecificDaysOfMonth)
	case FrequencyYearly:
		day = addMonths(ref, 12*n, task.SpecificDaysOfMonth)
	}
	return at.On(day, loc), nil
}

// Occurrences returns the next count due instants after from, each one
// computed from the previous.
func Occurrences(task *HealthTask, from time.Time, count int, loc *time.Location) ([]time.Time, error) {
	if count < 0 {
		count = 0
	}
	out := make([]time.Time, 0, count)
	ref := from
	for i := 0; i < count; i++ {
		next, err := NextDue(task, ref, loc)
		if err != nil {
			return nil, err
		}
		out = append(out, next)
		ref = next
	}
	return out, nil
}

func nextHourly(ref time.Time, at TimeOfDay, n int, loc *time.Location) time.Time {
	step := time.Duration(n) * time.Hour
	anchor := at.On(ref, loc)

	// Integer division truncates toward zero, so next lands on the last
	// series point at or before ref, or the first one after it when ref
	// precedes the anchor.
	k := ref.Sub(anchor) / step
	next := anchor.Add(k * step)
	for !next.After(ref) {
		next = next.Add(step)
	}
	return next
}

func addDays(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+n, 0, 0, 0, 0, t.Location())
}

// alignWeekday moves day forward to the next isoDay (1=Mon..7=Sun). A day
// already on that weekday moves a full week. Values outside 1..7 leave day
// unchanged.
func alignWeekday(day time.Time, isoDay int) time.Time {
	if isoDay < 1 || isoDay > 7 {
		return day
	}
	target := time.Weekday(isoDay % 7)
	offset := int(target) - int(day.Weekday())
	if offset <= 0 {
		offset += 7
	}
	return addDays(day, offset)
}

// addMonths adds n calendar months to t without spilling into the month
// after. The day of month is the first entry of daysOfMonth when given,
// otherwise t's own day, clamped to the target month either way.
func addMonths(t time.Time, n int, daysOfMonth []int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, t.Location())
	if len(daysOfMonth) > 0 {
		d = daysOfMonth[0]
	}
	d = clampDay(d, daysIn(first.Year(), first.Month(), t.Location()))
	return time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, t.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

func clampDay(d, last int) int {
	if d < 1 {
		return 1
	}
	if d > last {
		return last
	}
	return d
}
