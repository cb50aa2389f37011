package importer

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	appLog "termcal/internal/log"
	"termcal/internal/model"
	"termcal/internal/sheet"
	"termcal/internal/templates"
)

var (
	// ErrUnsupportedFormat means the first cell is not a known export sentinel.
	ErrUnsupportedFormat = errors.New("unsupported spreadsheet: expected a Workday \"View My Courses\" export")
	// ErrNoCourses means the scan finished without a single usable course.
	ErrNoCourses = errors.New("no courses found in spreadsheet")
)

// Sentinels accepted in the first cell of the sheet.
var entrySentinels = map[string]bool{
	"View My Courses":         true,
	"View My Saved Schedules": true,
}

// Result is a reconstructed calendar plus everything the user should
// double-check.
type Result struct {
	Calendar model.Calendar  `json:"calendar"`
	Warnings []model.Warning `json:"warnings"`
}

// pendingSubsection is a non-lecture row waiting for its course, which may
// appear later in the sheet.
type pendingSubsection struct {
	title    string
	term     int
	number   string
	name     string
	section  string
	format   string
	patterns []model.MeetingPattern
}

type importer struct {
	grid     sheet.Grid
	registry templates.Registry

	cal      *model.Calendar
	custom   bool
	pending  []pendingSubsection
	warnings []model.Warning
}

// Import reconstructs a calendar from a registrar grid export.
//
// The sheet is scanned once, top to bottom. Section rows switch the scan
// state; the first header row of an enrolled or completed section resolves
// column positions; data rows then become courses (Lecture/Workshop) or
// deferred subsections (everything else). The first usable row picks a
// template from registry whose range contains it, or starts a custom
// calendar whose terms are inferred from the rows.
func Import(grid sheet.Grid, registry templates.Registry) (Result, error) {
	if !entrySentinels[grid.Cell(0, 0)] {
		return Result{}, ErrUnsupportedFormat
	}

	imp := &importer{grid: grid, registry: registry}

	st := scanState{}
	for r := 1; r < len(grid.Rows); r++ {
		st = imp.step(st, r)
	}

	if imp.cal == nil {
		return Result{}, ErrNoCourses
	}
	imp.resolvePending()
	if err := imp.cleanup(); err != nil {
		return Result{}, err
	}

	appLog.Info("tabular import completed",
		"calendar", imp.cal.Name,
		"custom", imp.custom,
		"terms", len(imp.cal.Terms),
		"courses", imp.cal.CourseCount(),
		"warnings", len(imp.warnings),
	)

	warnings := imp.warnings
	if warnings == nil {
		warnings = []model.Warning{}
	}
	return Result{Calendar: *imp.cal, Warnings: warnings}, nil
}

func (imp *importer) warn(title, format string, args ...any) {
	imp.warnings = append(imp.warnings, model.Warning{Title: title, Message: fmt.Sprintf(format, args...)})
}

// processRow turns one data row into a course or a pending subsection.
func (imp *importer) processRow(st scanState, r int) {
	get := func(field string) string {
		col, ok := st.columns[field]
		if !ok {
			return ""
		}
		return imp.grid.Cell(r, col)
	}

	listing := get(fieldCourseListing)
	title := fmt.Sprintf("Row %d", r+1)
	if listing != "" {
		title = fmt.Sprintf("Row %d (%s)", r+1, listing)
	}

	for _, field := range requiredFields {
		if get(field) == "" {
			imp.warn(title, "is missing %s and was skipped.", field)
			return
		}
	}

	status := get(fieldRegistrationStatus)
	if notRegistered(status) {
		imp.warn(title, "has status %q and was skipped.", status)
		return
	}

	patterns, err := model.ParseMeetingPatterns(imp.grid.Raw(r, st.columns[fieldMeetingPatterns]))
	if err != nil {
		imp.warn(title, "has meeting patterns that could not be read (%v) and was skipped.", err)
		return
	}

	start, err := parseSheetDate(get(fieldStartDate))
	if err != nil {
		imp.warn(title, "has an unreadable start date and was skipped.")
		return
	}
	end, err := parseSheetDate(get(fieldEndDate))
	if err != nil {
		imp.warn(title, "has an unreadable end date and was skipped.")
		return
	}
	if start > end {
		imp.warn(title, "starts after it ends and was skipped.")
		return
	}

	term := imp.termFor(title, start, end)
	if term < 0 {
		return
	}

	number, name := splitListing(listing)
	format := get(fieldInstructionalFormat)
	if isCourseFormat(format) {
		imp.addCourse(term, number, name, patterns)
		return
	}
	imp.pending = append(imp.pending, pendingSubsection{
		title:    title,
		term:     term,
		number:   number,
		name:     name,
		section:  get(fieldSection),
		format:   format,
		patterns: patterns,
	})
}

// termFor picks (or, for custom calendars, creates) the term covering
// [start, end]. It returns -1 when the row must be skipped.
func (imp *importer) termFor(title, start, end string) int {
	if imp.cal == nil {
		imp.chooseCalendar(start, end)
	}

	for i, t := range imp.cal.Terms {
		if t.ContainsRange(start, end) {
			return i
		}
	}

	if !imp.custom {
		imp.warn(title, "runs %s to %s, which no term of %s covers; add it manually.", start, end, imp.cal.Name)
		return -1
	}

	for i := range imp.cal.Terms {
		t := &imp.cal.Terms[i]
		if start <= t.End && end >= t.Start {
			t.Start = minDate(t.Start, start)
			t.End = maxDate(t.End, end)
			return i
		}
	}

	imp.cal.Terms = append(imp.cal.Terms, model.Term{
		ID:      fmt.Sprintf("Term %d", len(imp.cal.Terms)+1),
		Start:   start,
		End:     end,
		Courses: []model.Course{},
		Dates:   model.Overrides{},
	})
	return len(imp.cal.Terms) - 1
}

func (imp *importer) chooseCalendar(start, end string) {
	if tmpl, ok := imp.registry.Match(start, end); ok {
		cal := tmpl.Calendar.Clone()
		imp.cal = &cal
		appLog.Info("tabular import: matched calendar template", "template", tmpl.ID, "registry_version", imp.registry.Version)
		return
	}
	imp.custom = true
	imp.cal = &model.Calendar{Name: "Custom Calendar", Terms: []model.Term{}}
	appLog.Info("tabular import: no template matched; building custom calendar", "start", start, "end", end)
}

func (imp *importer) addCourse(term int, number, name string, patterns []model.MeetingPattern) {
	mergeCourse(&imp.cal.Terms[term], model.Course{
		Number:          number,
		Name:            name,
		MeetingPatterns: patterns,
		Except:          []string{},
		Subsections:     []model.Subsection{},
	})
}

// resolvePending attaches deferred subsections to their courses: by
// number, preferring an exact name match, else the first candidate.
func (imp *importer) resolvePending() {
	for _, p := range imp.pending {
		t := &imp.cal.Terms[p.term]

		pick := -1
		for i, c := range t.Courses {
			if c.Number != p.number {
				continue
			}
			if pick < 0 {
				pick = i
			}
			if c.Name == p.name {
				pick = i
				break
			}
		}
		if pick < 0 {
			imp.warn(p.title, "is a %s with no matching lecture in %s; add it manually.", p.format, t.ID)
			continue
		}

		c := &t.Courses[pick]
		c.Subsections = append(c.Subsections, model.Subsection{
			Name:            subsectionName(p.section, p.format),
			MeetingPatterns: p.patterns,
			Except:          []string{},
		})
	}
	imp.pending = nil
}

func (imp *importer) cleanup() error {
	terms := imp.cal.Terms[:0]
	for _, t := range imp.cal.Terms {
		if len(t.Courses) > 0 {
			terms = append(terms, t)
		}
	}
	imp.cal.Terms = terms
	if len(imp.cal.Terms) == 0 {
		return ErrNoCourses
	}

	if !imp.custom {
		return nil
	}

	sort.SliceStable(imp.cal.Terms, func(i, j int) bool {
		return imp.cal.Terms[i].Start < imp.cal.Terms[j].Start
	})
	imp.mergeOverlappingTerms()
	start, end := imp.cal.Terms[0].Start, imp.cal.Terms[0].End
	for i := range imp.cal.Terms {
		t := &imp.cal.Terms[i]
		t.ID = fmt.Sprintf("Term %d", i+1)
		start = minDate(start, t.Start)
		end = maxDate(end, t.End)
	}
	imp.warn("Custom calendar",
		"No built-in academic calendar covers %s to %s. Term dates were inferred from your courses and holidays were not added; please review them.",
		start, end)
	return nil
}

// mergeOverlappingTerms folds each inferred term into the previous one
// when their ranges intersect. Widening a term for a late row can make it
// reach a term created earlier. Terms must be sorted by start.
func (imp *importer) mergeOverlappingTerms() {
	merged := imp.cal.Terms[:1]
	for _, t := range imp.cal.Terms[1:] {
		last := &merged[len(merged)-1]
		if t.Start > last.End {
			merged = append(merged, t)
			continue
		}
		appLog.Debug("tabular import: merging overlapping terms",
			"into_start", last.Start, "into_end", last.End, "start", t.Start, "end", t.End)
		last.End = maxDate(last.End, t.End)
		for _, c := range t.Courses {
			mergeCourse(last, c)
		}
	}
	imp.cal.Terms = merged
}

// mergeCourse adds c to t, combining it with a course of the same number
// and name when there is one.
func mergeCourse(t *model.Term, c model.Course) {
	for i := range t.Courses {
		existing := &t.Courses[i]
		if existing.Number == c.Number && existing.Name == c.Name {
			existing.MeetingPatterns = append(existing.MeetingPatterns, c.MeetingPatterns...)
			existing.Subsections = append(existing.Subsections, c.Subsections...)
			return
		}
	}
	t.Courses = append(t.Courses, c)
}

// notRegistered reports whether a registration status means the student
// will not attend (dropped, withdrawn or waitlisted).
func notRegistered(status string) bool {
	status = strings.ToLower(status)
	return strings.Contains(status, "drop") || strings.Contains(status, "withdr") || strings.Contains(status, "waitlist")
}

// splitListing splits "CS 101 - Intro to Programming" into number and name.
func splitListing(listing string) (string, string) {
	number, name, ok := strings.Cut(listing, " - ")
	if !ok {
		return strings.TrimSpace(listing), strings.TrimSpace(listing)
	}
	return strings.TrimSpace(number), strings.TrimSpace(name)
}

func isCourseFormat(format string) bool {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "lecture", "workshop":
		return true
	}
	return false
}

func minDate(a, b string) string {
	if a < b {
		return a
	}
	return b
}

func maxDate(a, b string) string {
	if a > b {
		return a
	}
	return b
}
