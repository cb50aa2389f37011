package expand

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	appLog "termcal/internal/log"
	"termcal/internal/model"
)

const (
	defaultMaxDays   = 1000
	defaultNamespace = "termcal"
	defaultDomain    = "termcal.local"
)

// ErrTooManyEvents is returned when the terms of a calendar together span
// more days than Options.MaxDays. Nothing is returned alongside it.
var ErrTooManyEvents = errors.New("too many events")

// Options controls UID construction and the safety cap.
type Options struct {
	// Namespace prefixes every UID, e.g. "termcal".
	Namespace string
	// Domain is the right-hand side of every UID.
	Domain string
	// MaxDays caps the number of dates walked across all terms combined.
	// If zero, defaultMaxDays is used.
	MaxDays int
}

func (o Options) withDefaults() Options {
	if o.Namespace == "" {
		o.Namespace = defaultNamespace
	}
	if o.Domain == "" {
		o.Domain = defaultDomain
	}
	if o.MaxDays <= 0 {
		o.MaxDays = defaultMaxDays
	}
	return o
}

// dayState is the override state of one date while it is being expanded.
type dayState int

const (
	stateNormal dayState = iota
	stateNoClass
	stateFollow
)

type expander struct {
	opts   Options
	seen   map[string]bool
	events []model.Event
}

// Expand turns a validated calendar into concrete events.
//
// Every term is walked day by day from Start to End inclusive. On each date
// the first override for that date decides what happens:
//
//   - no-class: emit a "No Classes" marker (unless hidden) and skip the day
//   - follow:   emit a "Follow <Weekday> Schedule" marker and expand courses
//     as if the date fell on that weekday
//
// Course events honor the course's except dates; subsection events honor
// only the subsection's own except dates. Events are deduplicated by UID,
// first occurrence wins, so the same calendar always yields the same list.
func Expand(cal model.Calendar, opts Options) ([]model.Event, error) {
	e := &expander{
		opts:   opts.withDefaults(),
		seen:   make(map[string]bool),
		events: make([]model.Event, 0),
	}

	days := 0
	for _, term := range cal.Terms {
		start, err := model.ParseDate(term.Start)
		if err != nil {
			return nil, fmt.Errorf("expand: term %q: %w", term.ID, err)
		}
		end, err := model.ParseDate(term.End)
		if err != nil {
			return nil, fmt.Errorf("expand: term %q: %w", term.ID, err)
		}
		if end.Before(start) {
			return nil, fmt.Errorf("expand: term %q ends before it starts", term.ID)
		}

		r, err := rrule.NewRRule(rrule.ROption{
			Freq:    rrule.DAILY,
			Dtstart: start,
			Until:   end,
		})
		if err != nil {
			return nil, fmt.Errorf("expand: term %q: %w", term.ID, err)
		}

		next := r.Iterator()
		for day, ok := next(); ok; day, ok = next() {
			days++
			if days > e.opts.MaxDays {
				appLog.Error("expand: aborting, date cap exceeded", ErrTooManyEvents,
					"term", term.ID,
					"cap", e.opts.MaxDays,
				)
				return nil, ErrTooManyEvents
			}
			if err := e.expandDay(term, day.UTC()); err != nil {
				return nil, err
			}
		}
	}

	appLog.Debug("expand completed", "terms", len(cal.Terms), "days", days, "events", len(e.events))
	return e.events, nil
}

func (e *expander) expandDay(term model.Term, day time.Time) error {
	date := model.FormatDate(day)
	weekday := model.Weekday(day.Weekday())

	state := stateNormal
	for _, o := range term.Dates {
		if o.OverrideDay() != date {
			continue
		}
		switch v := o.(type) {
		case model.NoClass:
			state = stateNoClass
			if !v.Hidden {
				title := "No Classes"
				if v.Reason != "" {
					title = fmt.Sprintf("No Classes (%s)", v.Reason)
				}
				e.addAllDay(day, title, e.uid(compactDate(date), "no-class"))
			}
		case model.Follow:
			state = stateFollow
			weekday = v.Weekday
			e.addAllDay(day, fmt.Sprintf("Follow %s Schedule", v.Weekday), e.uid(compactDate(date), "follow"))
		}
		break
	}

	if state == stateNoClass {
		return nil
	}

	for _, course := range term.Courses {
		title := fmt.Sprintf("%s - %s", course.Number, course.Name)
		if !containsDate(course.Except, date) {
			for _, p := range course.MeetingPatterns {
				if !p.HasWeekday(weekday) {
					continue
				}
				key := stripSpaces(course.Number) + "-" + compactDate(date) + "T" + compactClock(p.StartTime)
				if err := e.addTimed(day, p, title, e.uid(key, "course")); err != nil {
					return err
				}
			}
		}

		for _, sub := range course.Subsections {
			if containsDate(sub.Except, date) {
				continue
			}
			subTitle := fmt.Sprintf("%s (%s)", title, sub.Name)
			for _, p := range sub.MeetingPatterns {
				if !p.HasWeekday(weekday) {
					continue
				}
				key := stripSpaces(course.Number) + "-" + stripSpaces(sub.Name) + "-" + compactDate(date) + "T" + compactClock(p.StartTime)
				if err := e.addTimed(day, p, subTitle, e.uid(key, "section")); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (e *expander) addAllDay(day time.Time, title, uid string) {
	e.add(model.Event{
		UID:    uid,
		Title:  title,
		AllDay: true,
		Start:  day,
		End:    day.AddDate(0, 0, 1),
	})
}

func (e *expander) addTimed(day time.Time, p model.MeetingPattern, title, uid string) error {
	start, err := model.At(day, p.StartTime)
	if err != nil {
		return fmt.Errorf("expand: %s: %w", title, err)
	}
	end, err := model.At(day, p.EndTime)
	if err != nil {
		return fmt.Errorf("expand: %s: %w", title, err)
	}
	ev := model.Event{
		UID:   uid,
		Title: title,
		Start: start,
		End:   end,
	}
	if p.Location != nil {
		ev.Location = *p.Location
	}
	e.add(ev)
	return nil
}

func (e *expander) add(ev model.Event) {
	if e.seen[ev.UID] {
		return
	}
	e.seen[ev.UID] = true
	e.events = append(e.events, ev)
}

// uid builds "<namespace>-<key>-<kind>@<domain>". The same logical
// occurrence always maps to the same UID so regenerated feeds update in
// place.
func (e *expander) uid(key, kind string) string {
	return e.opts.Namespace + "-" + key + "-" + kind + "@" + e.opts.Domain
}

func containsDate(dates []string, date string) bool {
	for _, d := range dates {
		if d == date {
			return true
		}
	}
	return false
}

func stripSpaces(s string) string {
	return strings.Join(strings.Fields(s), "")
}

func compactDate(date string) string {
	return strings.ReplaceAll(date, "-", "")
}

func compactClock(clock string) string {
	return strings.ReplaceAll(clock, ":", "")
}
