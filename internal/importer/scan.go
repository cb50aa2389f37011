package importer

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"termcal/internal/model"
)

type section int

const (
	sectionNone section = iota
	sectionEnrolled
	sectionWaitlisted
	sectionCompleted
	sectionDropped
)

func (s section) String() string {
	switch s {
	case sectionEnrolled:
		return "My Enrolled Courses"
	case sectionWaitlisted:
		return "My Waitlisted Courses"
	case sectionCompleted:
		return "My Completed Courses"
	case sectionDropped:
		return "My Dropped/Withdrawn Courses"
	default:
		return "none"
	}
}

var sectionMarkers = map[string]section{
	"My Enrolled Courses":          sectionEnrolled,
	"My Waitlisted Courses":        sectionWaitlisted,
	"My Completed Courses":         sectionCompleted,
	"My Dropped/Withdrawn Courses": sectionDropped,
}

// headerColumn is where "Course Listing" sits in each imported section's
// header row.
var headerColumn = map[section]int{
	sectionEnrolled:  1,
	sectionCompleted: 0,
}

// indexState tracks whether the current section's columns are known.
type indexState int

const (
	indexAwaitingHeader indexState = iota
	indexResolved
)

const (
	fieldCourseListing       = "Course Listing"
	fieldRegistrationStatus  = "Registration Status"
	fieldSection             = "Section"
	fieldInstructionalFormat = "Instructional Format"
	fieldMeetingPatterns     = "Meeting Patterns"
	fieldStartDate           = "Start Date"
	fieldEndDate             = "End Date"
)

var headerLabels = []string{
	fieldCourseListing,
	fieldRegistrationStatus,
	fieldSection,
	fieldInstructionalFormat,
	fieldMeetingPatterns,
	fieldStartDate,
	fieldEndDate,
}

// requiredFields must be non-blank on every data row. Registration status
// is informational only.
var requiredFields = []string{
	fieldCourseListing,
	fieldSection,
	fieldInstructionalFormat,
	fieldMeetingPatterns,
	fieldStartDate,
	fieldEndDate,
}

// scanState is threaded through the row fold. Columns are reset at every
// section boundary.
type scanState struct {
	section section
	index   indexState
	columns map[string]int
}

func (s scanState) importing() bool {
	return s.section == sectionEnrolled || s.section == sectionCompleted
}

// step advances the scan by one row.
func (imp *importer) step(st scanState, r int) scanState {
	if sec, ok := sectionMarkers[imp.grid.Cell(r, 0)]; ok {
		return scanState{section: sec, index: indexAwaitingHeader}
	}
	if !st.importing() {
		return st
	}

	if st.index == indexAwaitingHeader {
		if imp.grid.Cell(r, headerColumn[st.section]) != fieldCourseListing {
			return st
		}
		st.columns = imp.resolveColumns(st.section, r)
		st.index = indexResolved
		return st
	}

	if imp.blankRow(r) {
		return st
	}
	imp.processRow(st, r)
	return st
}

// resolveColumns maps header labels to column numbers. A missing label is
// a warning only; rows that need it will be skipped individually.
func (imp *importer) resolveColumns(sec section, r int) map[string]int {
	found := make(map[string]int, len(headerLabels))
	for c := 0; c < len(imp.grid.Rows[r]); c++ {
		label := imp.grid.Cell(r, c)
		if _, dup := found[label]; label == "" || dup {
			continue
		}
		found[label] = c
	}

	columns := make(map[string]int, len(headerLabels))
	for _, label := range headerLabels {
		c, ok := found[label]
		if !ok {
			imp.warn(sec.String(), "has no %q column; rows that need it will be skipped.", label)
			continue
		}
		columns[label] = c
	}
	return columns
}

func (imp *importer) blankRow(r int) bool {
	for c := range imp.grid.Rows[r] {
		if imp.grid.Cell(r, c) != "" {
			return false
		}
	}
	return true
}

var sheetDateLayouts = []string{"1/2/06", "1/2/2006", "01-02-06", "01-02-2006", model.DateLayout}

// parseSheetDate reads the registrar's M/d/yy dates into yyyy-MM-dd. A
// trailing time of day ("8/21/25 00:00") is ignored.
func parseSheetDate(s string) (string, error) {
	day, _, _ := strings.Cut(strings.TrimSpace(s), " ")
	for _, layout := range sheetDateLayouts {
		if t, err := time.ParseInLocation(layout, day, time.UTC); err == nil {
			return model.FormatDate(t), nil
		}
	}
	return "", fmt.Errorf("invalid date %q", s)
}

var (
	fourCharSection = regexp.MustCompile(`^\d{3}([A-Za-z])$`)
	letterRun       = regexp.MustCompile(`[A-Za-z]+`)
)

var sectionLetterNames = map[string]string{
	"L": "Lecture",
	"D": "Discussion",
	"X": "Laboratory",
	"R": "Recitation",
}

// subsectionName derives a subsection name from a section cell such as
// "CS-101-002D - Intro to Programming". The segment after the second
// hyphen is used; four-character codes (three digits and a letter) expand
// the letter through sectionLetterNames, other codes keep their letters
// as-is, and codes without letters fall back to the instructional format.
func subsectionName(sectionCell, format string) string {
	code, _, _ := strings.Cut(sectionCell, " - ")
	parts := strings.Split(strings.TrimSpace(code), "-")

	var seg string
	switch {
	case len(parts) >= 3:
		seg = strings.TrimSpace(strings.Join(parts[2:], "-"))
	case len(parts) == 2:
		seg = strings.TrimSpace(parts[1])
	}

	if m := fourCharSection.FindStringSubmatch(seg); m != nil {
		letter := strings.ToUpper(m[1])
		if name, ok := sectionLetterNames[letter]; ok {
			return name
		}
		return letter
	}
	if letters := letterRun.FindString(seg); letters != "" {
		return letters
	}
	if f := strings.TrimSpace(format); f != "" {
		return f
	}
	return "Section"
}
