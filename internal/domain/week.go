package domain

import (
	"fmt"
	"strings"
	"time"
)

// WeekEndingLayout is the wire format of a week ending date
const WeekEndingLayout = "2006-01-02"

// NormalizeWeekEnding drops the time of day. The calendar date is taken in the
// timestamp's own location and returned as midnight UTC.
func NormalizeWeekEnding(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FormatWeekEnding renders a week ending as YYYY-MM-DD
func FormatWeekEnding(t time.Time) string {
	return NormalizeWeekEnding(t).Format(WeekEndingLayout)
}

// ParseWeekEnding accepts YYYY-MM-DD or an RFC3339 timestamp
func ParseWeekEnding(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, NewValidationError(ErrorCodeValidationMissingField, "week_ending", "week ending is required")
	}
	if t, err := time.Parse(WeekEndingLayout, value); err == nil {
		return NormalizeWeekEnding(t), nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, NewValidationError(ErrorCodeValidationFailed, "week_ending",
			fmt.Sprintf("invalid week ending %q: expected YYYY-MM-DD", value))
	}
	return NormalizeWeekEnding(t), nil
}

// WeekEndingFor returns the week ending date of the week containing t:
// the first weekEnd weekday on or after t's calendar date in loc.
func WeekEndingFor(t time.Time, weekEnd time.Weekday, loc *time.Location) time.Time {
	day := NormalizeWeekEnding(t.In(loc))
	offset := (int(weekEnd) - int(day.Weekday()) + 7) % 7
	return day.AddDate(0, 0, offset)
}

// MostRecentWeekEnding returns the last weekEnd weekday on or before now's
// calendar date in loc. This is the default batch target.
func MostRecentWeekEnding(now time.Time, weekEnd time.Weekday, loc *time.Location) time.Time {
	day := NormalizeWeekEnding(now.In(loc))
	offset := (int(day.Weekday()) - int(weekEnd) + 7) % 7
	return day.AddDate(0, 0, -offset)
}
