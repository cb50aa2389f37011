package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// twelveHourLayout is the "hh:mm a" form used by registrar exports.
const twelveHourLayout = "3:04 PM"

// ParseMeetingPattern parses one line of the registrar text form:
//
//	M-W-F | 9:00 AM - 9:50 AM | Science Hall 104
//
// The location segment is optional. Times are normalized to HH:mm.
func ParseMeetingPattern(s string) (MeetingPattern, error) {
	parts := strings.Split(s, "|")
	if len(parts) < 2 || len(parts) > 3 {
		return MeetingPattern{}, fmt.Errorf("meeting pattern %q: expected 2 or 3 '|' separated parts", s)
	}

	var out MeetingPattern
	seen := make(map[Weekday]bool)
	for _, raw := range strings.Split(parts[0], "-") {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		w, err := ParseWeekday(raw)
		if err != nil {
			return MeetingPattern{}, fmt.Errorf("meeting pattern %q: %w", s, err)
		}
		if seen[w] {
			continue
		}
		seen[w] = true
		out.Weekdays = append(out.Weekdays, w)
	}
	if len(out.Weekdays) == 0 {
		return MeetingPattern{}, fmt.Errorf("meeting pattern %q: no weekdays", s)
	}

	times := strings.Split(parts[1], "-")
	if len(times) != 2 {
		return MeetingPattern{}, fmt.Errorf("meeting pattern %q: expected <start>-<end>", s)
	}
	start, err := parseTwelveHour(times[0])
	if err != nil {
		return MeetingPattern{}, fmt.Errorf("meeting pattern %q: %w", s, err)
	}
	end, err := parseTwelveHour(times[1])
	if err != nil {
		return MeetingPattern{}, fmt.Errorf("meeting pattern %q: %w", s, err)
	}
	if start > end {
		return MeetingPattern{}, fmt.Errorf("meeting pattern %q: starts after it ends", s)
	}
	out.StartTime = start
	out.EndTime = end

	if len(parts) == 3 {
		if loc := strings.TrimSpace(parts[2]); loc != "" {
			out.Location = &loc
		}
	}
	return out, nil
}

// ParseMeetingPatterns parses a multi-line cell; every non-blank line must
// parse or the whole cell fails.
func ParseMeetingPatterns(cell string) ([]MeetingPattern, error) {
	var out []MeetingPattern
	for _, line := range strings.Split(strings.ReplaceAll(cell, "\r\n", "\n"), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		p, err := ParseMeetingPattern(line)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, errors.New("no meeting patterns")
	}
	return out, nil
}

func parseTwelveHour(s string) (string, error) {
	s = strings.ToUpper(strings.ReplaceAll(s, " ", ""))
	if n := len(s); n > 2 && (strings.HasSuffix(s, "AM") || strings.HasSuffix(s, "PM")) {
		s = s[:n-2] + " " + s[n-2:]
	}
	t, err := time.Parse(twelveHourLayout, s)
	if err != nil {
		return "", fmt.Errorf("invalid time %q", s)
	}
	return t.Format(ClockLayout), nil
}
