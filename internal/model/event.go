package model

import "time"

// Event is one concrete calendar entry produced by expansion.
//
// Times are wall-clock values stored in UTC; they carry no zone meaning of
// their own. All-day events span [date, date+1) at midnight.
type Event struct {
	UID string

	Title    string
	Location string

	AllDay bool

	Start time.Time
	End   time.Time
}
