package model

import (
	"fmt"
	"time"
)

const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"
)

// ParseDate parses a yyyy-MM-dd string as midnight UTC. All date arithmetic
// in this module happens on UTC midnights so that DST never shifts a day.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// FormatDate renders t's calendar date as yyyy-MM-dd.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// NaturalWeekday returns the weekday a yyyy-MM-dd date falls on.
func NaturalWeekday(date string) (Weekday, error) {
	t, err := ParseDate(date)
	if err != nil {
		return 0, err
	}
	return Weekday(t.Weekday()), nil
}

// ParseClock parses an HH:mm wall-clock time.
func ParseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse(ClockLayout, s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time %q: %w", s, err)
	}
	return t.Hour(), t.Minute(), nil
}

// At combines a UTC midnight with an HH:mm clock.
func At(day time.Time, clock string) (time.Time, error) {
	h, m, err := ParseClock(clock)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, time.UTC), nil
}
