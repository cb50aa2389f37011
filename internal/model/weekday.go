package model

import (
	"fmt"
	"strings"
)

// Weekday is 0 (Sunday) through 6 (Saturday), the same numbering as
// time.Weekday.
type Weekday int

const (
	Sunday Weekday = iota
	Monday
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
)

var weekdayNames = [...]string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}

// weekdayAliases maps every accepted lowercase spelling to its weekday.
var weekdayAliases = map[string]Weekday{
	"su": Sunday, "sun": Sunday, "sunday": Sunday,
	"m": Monday, "mo": Monday, "mon": Monday, "monday": Monday,
	"t": Tuesday, "tu": Tuesday, "tue": Tuesday, "tues": Tuesday, "tuesday": Tuesday,
	"w": Wednesday, "we": Wednesday, "wed": Wednesday, "wednesday": Wednesday,
	"r": Thursday, "th": Thursday, "thu": Thursday, "thur": Thursday, "thurs": Thursday, "thursday": Thursday,
	"f": Friday, "fr": Friday, "fri": Friday, "friday": Friday,
	"sa": Saturday, "sat": Saturday, "saturday": Saturday,
}

// Valid reports whether w is within Sunday..Saturday.
func (w Weekday) Valid() bool {
	return w >= Sunday && w <= Saturday
}

func (w Weekday) String() string {
	if !w.Valid() {
		return fmt.Sprintf("Weekday(%d)", int(w))
	}
	return weekdayNames[w]
}

// ParseWeekday accepts full names, three-letter names and the registrar
// abbreviations (su, m, t, w, r, f, sa). Case and surrounding space are
// ignored.
func ParseWeekday(s string) (Weekday, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if w, ok := weekdayAliases[key]; ok {
		return w, nil
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}
