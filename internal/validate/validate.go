package validate

import (
	"fmt"
	"strings"

	"termcal/internal/model"
)

// Result holds every diagnostic found in one pass. Errors block export;
// warnings do not.
type Result struct {
	Errors   []string        `json:"errors"`
	Warnings []model.Warning `json:"warnings"`
}

// OK reports whether there are no errors.
func (r Result) OK() bool {
	return len(r.Errors) == 0
}

func (r *Result) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Result) warn(title, message string) {
	r.Warnings = append(r.Warnings, model.Warning{Title: title, Message: message})
}

// Validate checks a calendar for internal consistency. It never stops at
// the first problem; diagnostics come out in term/course/subsection
// declaration order so the same input always yields the same lists.
func Validate(cal model.Calendar) Result {
	res := Result{Errors: []string{}, Warnings: []model.Warning{}}

	if len(cal.Terms) == 0 {
		res.errorf("Calendar has no terms.")
	}
	if cal.CourseCount() == 0 {
		res.errorf("Calendar has no courses.")
	}

	seen := make(map[string]bool)
	for i, term := range cal.Terms {
		validateTerm(&res, term, i, seen)
	}
	return res
}

func validateTerm(res *Result, term model.Term, idx int, seen map[string]bool) {
	label := "Term " + nameOr(term.ID, idx)

	if isBlank(term.ID) {
		res.errorf("%s is missing an ID.", label)
	} else if seen[term.ID] {
		res.errorf("%s has a duplicate ID.", label)
	} else {
		seen[term.ID] = true
	}

	startOK := checkDate(res, term.Start, label+" is missing a start date.", label+" has an invalid start date %q.")
	endOK := checkDate(res, term.End, label+" is missing an end date.", label+" has an invalid end date %q.")
	bounded := startOK && endOK
	if bounded && term.Start > term.End {
		res.errorf("%s starts (%s) after it ends (%s).", label, term.Start, term.End)
		bounded = false
	}

	for j, d := range term.Dates {
		validateOverride(res, label, term, bounded, d, j)
	}

	for j, course := range term.Courses {
		courseLabel := fmt.Sprintf("%s, course %s", label, nameOr(course.Number, j))
		if isBlank(course.Number) {
			res.errorf("%s is missing a course number.", courseLabel)
		}
		if isBlank(course.Name) {
			res.errorf("%s is missing a course name.", courseLabel)
		}
		validateStream(res, courseLabel, term, bounded, course.MeetingPatterns, course.Except)

		for k, sub := range course.Subsections {
			subLabel := fmt.Sprintf("%s, subsection %s", courseLabel, nameOr(sub.Name, k))
			if isBlank(sub.Name) {
				res.errorf("%s is missing a name.", subLabel)
			}
			validateStream(res, subLabel, term, bounded, sub.MeetingPatterns, sub.Except)
		}
	}
}

func validateOverride(res *Result, termLabel string, term model.Term, bounded bool, d model.OverrideDate, idx int) {
	date := d.OverrideDay()
	label := fmt.Sprintf("%s, date %s", termLabel, nameOr(date, idx))

	if !checkDate(res, date, label+" is missing a date.", label+" has an invalid date %q.") {
		return
	}
	if bounded && !term.Contains(date) {
		res.errorf("%s is outside the term (%s to %s).", label, term.Start, term.End)
	}

	follow, ok := d.(model.Follow)
	if !ok {
		return
	}
	if !follow.Weekday.Valid() {
		res.errorf("%s follows an invalid weekday (%d).", label, int(follow.Weekday))
		return
	}
	if natural, err := model.NaturalWeekday(date); err == nil && natural == follow.Weekday {
		res.errorf("%s is already a %s, so following a %s schedule does nothing.", label, natural, follow.Weekday)
	}
}

// validateStream checks the meeting patterns and except dates shared by
// courses and subsections.
func validateStream(res *Result, label string, term model.Term, bounded bool, patterns []model.MeetingPattern, except []string) {
	if len(patterns) == 0 {
		res.warn(label, "has no meeting patterns and will be ignored.")
	}

	for i, p := range patterns {
		pl := fmt.Sprintf("%s, meeting pattern #%d", label, i+1)
		startOK := checkClock(res, p.StartTime, pl+" is missing a start time.", pl+" has an invalid start time %q.")
		endOK := checkClock(res, p.EndTime, pl+" is missing an end time.", pl+" has an invalid end time %q.")
		if startOK && endOK && p.StartTime > p.EndTime {
			res.errorf("%s starts (%s) after it ends (%s).", pl, p.StartTime, p.EndTime)
		}

		if len(p.Weekdays) == 0 {
			res.errorf("%s has no weekdays.", pl)
		}
		days := make(map[model.Weekday]bool, len(p.Weekdays))
		for _, w := range p.Weekdays {
			if !w.Valid() {
				res.errorf("%s has an invalid weekday (%d).", pl, int(w))
				continue
			}
			if days[w] {
				res.errorf("%s lists %s more than once.", pl, w)
			}
			days[w] = true
		}

		if !p.HasLocation() {
			res.warn(pl, "has no location.")
		}
	}

	for i, date := range except {
		el := fmt.Sprintf("%s, except date #%d", label, i+1)
		if !checkDate(res, date, el+" is blank.", el+" is not a valid date (%q).") {
			continue
		}
		if bounded && !term.Contains(date) {
			res.errorf("%s (%s) is outside the term (%s to %s).", el, date, term.Start, term.End)
		}
	}
}

// checkDate reports a missing or malformed yyyy-MM-dd value; it returns true
// when the value is usable.
func checkDate(res *Result, s, missing, invalid string) bool {
	if isBlank(s) {
		res.errorf("%s", missing)
		return false
	}
	if _, err := model.ParseDate(s); err != nil {
		res.errorf(invalid, s)
		return false
	}
	return true
}

func checkClock(res *Result, s, missing, invalid string) bool {
	if isBlank(s) {
		res.errorf("%s", missing)
		return false
	}
	if _, _, err := model.ParseClock(s); err != nil || len(s) != len(model.ClockLayout) {
		res.errorf(invalid, s)
		return false
	}
	return true
}

// nameOr names an entity by its identifying field, or by 1-based position
// when that field is blank.
func nameOr(name string, idx int) string {
	if isBlank(name) {
		return fmt.Sprintf("#%d", idx+1)
	}
	return name
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
