package model

// Calendar is the structured description of one academic schedule. It owns
// every term; nothing below it has identity outside its parent.
type Calendar struct {
	Name  string `json:"name"`
	Terms []Term `json:"terms"`
}

// Term is a bounded date range in which courses recur weekly.
// Start and End are yyyy-MM-dd strings and compare lexicographically.
type Term struct {
	ID      string    `json:"id"`
	Start   string    `json:"start"`
	End     string    `json:"end"`
	Courses []Course  `json:"courses"`
	Dates   Overrides `json:"dates"`
}

// Course is a lecture-level meeting stream. Except dates suppress the
// course's own meetings only.
type Course struct {
	Number          string           `json:"number"`
	Name            string           `json:"name"`
	MeetingPatterns []MeetingPattern `json:"meetingPatterns"`
	Except          []string         `json:"except"`
	Subsections     []Subsection     `json:"subsections"`
}

// Subsection is a secondary stream (discussion, lab, ...) titled after its
// parent course.
type Subsection struct {
	Name            string           `json:"name"`
	MeetingPatterns []MeetingPattern `json:"meetingPatterns"`
	Except          []string         `json:"except"`
}

// MeetingPattern is a weekly rule: the same HH:mm range on every listed
// weekday. A nil Location means none was given.
type MeetingPattern struct {
	StartTime string    `json:"startTime"`
	EndTime   string    `json:"endTime"`
	Weekdays  []Weekday `json:"weekdays"`
	Location  *string   `json:"location"`
}

// Warning is a non-blocking diagnostic. Output is still produced but the
// user should double-check the named item.
type Warning struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

// HasLocation reports whether a non-blank location is set.
func (p MeetingPattern) HasLocation() bool {
	return p.Location != nil && *p.Location != ""
}

// HasWeekday reports whether the pattern recurs on w.
func (p MeetingPattern) HasWeekday(w Weekday) bool {
	for _, d := range p.Weekdays {
		if d == w {
			return true
		}
	}
	return false
}

// CourseCount returns the number of courses across all terms.
func (c Calendar) CourseCount() int {
	n := 0
	for _, t := range c.Terms {
		n += len(t.Courses)
	}
	return n
}

// Contains reports whether date falls within [Start, End].
func (t Term) Contains(date string) bool {
	return date >= t.Start && date <= t.End
}

// ContainsRange reports whether [start, end] lies entirely within the term.
func (t Term) ContainsRange(start, end string) bool {
	return start >= t.Start && end <= t.End
}

// Clone returns a deep copy so templates can be used as a starting point
// without aliasing their slices.
func (c Calendar) Clone() Calendar {
	out := Calendar{Name: c.Name}
	if c.Terms != nil {
		out.Terms = make([]Term, len(c.Terms))
		for i, t := range c.Terms {
			out.Terms[i] = t.Clone()
		}
	}
	return out
}

// Clone returns a deep copy of the term.
func (t Term) Clone() Term {
	out := Term{ID: t.ID, Start: t.Start, End: t.End}
	if t.Courses != nil {
		out.Courses = make([]Course, len(t.Courses))
		for i, c := range t.Courses {
			out.Courses[i] = c.clone()
		}
	}
	if t.Dates != nil {
		out.Dates = make(Overrides, len(t.Dates))
		copy(out.Dates, t.Dates)
	}
	return out
}

func (c Course) clone() Course {
	out := Course{
		Number:          c.Number,
		Name:            c.Name,
		MeetingPatterns: clonePatterns(c.MeetingPatterns),
		Except:          cloneStrings(c.Except),
	}
	if c.Subsections != nil {
		out.Subsections = make([]Subsection, len(c.Subsections))
		for i, s := range c.Subsections {
			out.Subsections[i] = Subsection{
				Name:            s.Name,
				MeetingPatterns: clonePatterns(s.MeetingPatterns),
				Except:          cloneStrings(s.Except),
			}
		}
	}
	return out
}

func clonePatterns(in []MeetingPattern) []MeetingPattern {
	if in == nil {
		return nil
	}
	out := make([]MeetingPattern, len(in))
	for i, p := range in {
		out[i] = MeetingPattern{StartTime: p.StartTime, EndTime: p.EndTime}
		if p.Weekdays != nil {
			out[i].Weekdays = append([]Weekday{}, p.Weekdays...)
		}
		if p.Location != nil {
			loc := *p.Location
			out[i].Location = &loc
		}
	}
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string{}, in...)
}

// StringPtr is a small helper for optional string fields.
func StringPtr(s string) *string {
	return &s
}
