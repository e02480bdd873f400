package healthtask

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"pgregory.net/rapid"
)

var propertyZones = []*time.Location{
	time.UTC,
	taipei,
	time.FixedZone("UTC-05:00", -5*60*60),
	time.FixedZone("UTC+13:45", 13*60*60+45*60),
}

func drawRule(rt *rapid.T) *HealthTask {
	task := &HealthTask{
		FrequencyUnit:  rapid.SampledFrom([]FrequencyUnit{FrequencyHourly, FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyYearly}).Draw(rt, "unit"),
		FrequencyValue: rapid.OneOf(rapid.IntRange(1, 24), rapid.IntRange(1, MaxFrequencyValue)).Draw(rt, "value"),
	}
	if rapid.Bool().Draw(rt, "has_time") {
		hh := rapid.IntRange(0, 23).Draw(rt, "hour")
		mm := rapid.IntRange(0, 59).Draw(rt, "minute")
		task.SpecificTimes = []string{fmt.Sprintf("%02d:%02d", hh, mm)}
	}
	if rapid.Bool().Draw(rt, "has_weekday") {
		task.SpecificDaysOfWeek = []int{rapid.IntRange(1, 7).Draw(rt, "weekday")}
	}
	if rapid.Bool().Draw(rt, "has_monthday") {
		task.SpecificDaysOfMonth = []int{rapid.IntRange(1, 31).Draw(rt, "monthday")}
	}
	return task
}

func drawInstant(rt *rapid.T) time.Time {
	lo := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
	hi := time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
	return time.Unix(rapid.Int64Range(lo, hi).Draw(rt, "ref"), 0)
}

func TestNextDue_AlwaysAfterReference(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		task := drawRule(rt)
		loc := rapid.SampledFrom(propertyZones).Draw(rt, "zone")
		ref := drawInstant(rt)

		got, err := NextDue(task, ref, loc)
		if err != nil {
			rt.Fatalf("unexpected error: %v", err)
		}
		if !got.After(ref) {
			rt.Fatalf("%s/%d: %v is not after %v", task.FrequencyUnit, task.FrequencyValue, got, ref)
		}
	})
}

func TestNextDue_HourlyWithinOneStep(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		task := drawRule(rt)
		task.FrequencyUnit = FrequencyHourly
		loc := rapid.SampledFrom(propertyZones).Draw(rt, "zone")
		ref := drawInstant(rt)

		got, err := NextDue(task, ref, loc)
		if err != nil {
			rt.Fatalf("unexpected error: %v", err)
		}
		if gap := got.Sub(ref); gap > time.Duration(task.FrequencyValue)*time.Hour {
			rt.Fatalf("gap %v exceeds %d hours", gap, task.FrequencyValue)
		}
	})
}

func TestNextDue_MonthDayClamped(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		task := drawRule(rt)
		task.FrequencyUnit = rapid.SampledFrom([]FrequencyUnit{FrequencyMonthly, FrequencyYearly}).Draw(rt, "unit")
		day := rapid.IntRange(1, 31).Draw(rt, "day")
		task.SpecificDaysOfMonth = []int{day}
		loc := rapid.SampledFrom(propertyZones).Draw(rt, "zone")
		ref := drawInstant(rt)

		got, err := NextDue(task, ref, loc)
		if err != nil {
			rt.Fatalf("unexpected error: %v", err)
		}
		local := got.In(loc)
		want := min(day, daysIn(local.Year(), local.Month(), loc))
		if local.Day() != want {
			rt.Fatalf("expected day %d of %s, got %d", want, local.Month(), local.Day())
		}
	})
}

func TestNextDue_WeeklyLandsOnListedWeekday(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		task := drawRule(rt)
		task.FrequencyUnit = FrequencyWeekly
		iso := rapid.IntRange(1, 7).Draw(rt, "weekday")
		task.SpecificDaysOfWeek = []int{iso}
		loc := rapid.SampledFrom(propertyZones).Draw(rt, "zone")
		ref := drawInstant(rt)

		got, err := NextDue(task, ref, loc)
		if err != nil {
			rt.Fatalf("unexpected error: %v", err)
		}
		if wd := got.In(loc).Weekday(); wd != time.Weekday(iso%7) {
			rt.Fatalf("expected weekday %d, got %s", iso, wd)
		}
		// The listed weekday is always at least one day past the plain step.
		stepped := addDays(ref.In(loc), 7*task.FrequencyValue)
		if shift := calendarDays(stepped, got.In(loc)); shift < 1 || shift > 7 {
			rt.Fatalf("expected a 1..7 day shift from %v, got %d (%v)", stepped, shift, got)
		}
	})
}

func TestNextDue_RejectsOversizedValues(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		task := drawRule(rt)
		task.FrequencyValue = rapid.IntRange(MaxFrequencyValue+1, math.MaxInt).Draw(rt, "oversized")
		ref := drawInstant(rt)

		if _, err := NextDue(task, ref, taipei); !errors.Is(err, ErrInvalidFrequencyValue) {
			rt.Fatalf("%s/%d: expected ErrInvalidFrequencyValue, got %v", task.FrequencyUnit, task.FrequencyValue, err)
		}
	})
}

func calendarDays(from, to time.Time) int {
	fy, fm, fd := from.Date()
	ty, tm, td := to.Date()
	a := time.Date(fy, fm, fd, 0, 0, 0, 0, time.UTC)
	b := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a) / (24 * time.Hour))
}
