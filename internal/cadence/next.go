// Package cadence computes when a recurring schedule is due next.
package cadence

import (
	"fmt"
	"strings"
	"time"

	"autopublish/internal/domain"
)

// Next returns the next occurrence strictly after now.
//
// The first candidate is today's date (in loc) at the given time of day. If that is
// already past, it is advanced by one frequency unit. Hourly schedules keep advancing
// by whole hours until they pass now. Monthly advances clamp to the last day of the
// target month. Next is pure: callers pass the evaluation time once and reuse it.
func Next(freq domain.Frequency, at domain.TimeOfDay, loc *time.Location, now time.Time) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	candidate := time.Date(local.Year(), local.Month(), local.Day(), at.Hour, at.Minute, 0, 0, loc)
	if candidate.After(now) {
		return candidate
	}

	y, m, d := candidate.Date()
	switch freq {
	case domain.FrequencyHourly:
		steps := now.Sub(candidate)/time.Hour + 1
		return candidate.Add(steps * time.Hour)
	case domain.FrequencyWeekly:
		return time.Date(y, m, d+7, at.Hour, at.Minute, 0, 0, loc)
	case domain.FrequencyMonthly:
		return addMonth(y, m, d, at, loc)
	default:
		return time.Date(y, m, d+1, at.Hour, at.Minute, 0, 0, loc)
	}
}

func addMonth(y int, m time.Month, d int, at domain.TimeOfDay, loc *time.Location) time.Time {
	ty, tm := y, m+1
	if tm > time.December {
		ty, tm = y+1, time.January
	}
	if last := daysIn(ty, tm); d > last {
		d = last
	}
	return time.Date(ty, tm, d, at.Hour, at.Minute, 0, 0, loc)
}

func daysIn(y int, m time.Month) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// LoadLocation resolves an IANA timezone name. Empty means UTC.
func LoadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" || strings.EqualFold(tz, "utc") {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", tz, err)
	}
	return loc, nil
}

// ResolveLocation is LoadLocation with a UTC fallback; ok is false when the fallback was used.
func ResolveLocation(tz string) (loc *time.Location, ok bool) {
	loc, err := LoadLocation(tz)
	if err != nil {
		return time.UTC, false
	}
	return loc, true
}

// ForSchedule computes the schedule's next occurrence after now.
func ForSchedule(s domain.Schedule, now time.Time) (time.Time, bool) {
	loc, ok := ResolveLocation(s.Timezone)
	return Next(s.Frequency, s.TimeOfDay, loc, now), ok
}
