package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const (
	OverrideNoClass = "no-class"
	OverrideFollow  = "follow"
)

// OverrideDate replaces or cancels the normal recurrence for one date of a
// term. The only implementations are NoClass and Follow.
type OverrideDate interface {
	OverrideDay() string
	Kind() string
	isOverride()
}

// NoClass cancels every meeting on Date. Unless Hidden, a "No Classes"
// all-day marker is emitted.
type NoClass struct {
	Date   string
	Reason string
	Hidden bool
}

// Follow makes Date run the schedule of Weekday instead of its own.
type Follow struct {
	Date    string
	Weekday Weekday
}

func (n NoClass) OverrideDay() string { return n.Date }
func (n NoClass) Kind() string        { return OverrideNoClass }
func (NoClass) isOverride()           {}

func (f Follow) OverrideDay() string { return f.Date }
func (f Follow) Kind() string        { return OverrideFollow }
func (Follow) isOverride()           {}

// Overrides is the ordered override list of a term. Order matters: the
// first entry for a date wins.
type Overrides []OverrideDate

// overrideJSON is the wire shape shared by both variants.
type overrideJSON struct {
	Type    string   `json:"type"`
	Date    string   `json:"date"`
	Reason  string   `json:"reason,omitempty"`
	Hidden  bool     `json:"hidden,omitempty"`
	Weekday *Weekday `json:"weekday,omitempty"`
}

func (o Overrides) MarshalJSON() ([]byte, error) {
	if o == nil {
		return []byte("null"), nil
	}
	wire := make([]overrideJSON, 0, len(o))
	for _, d := range o {
		switch v := d.(type) {
		case NoClass:
			wire = append(wire, overrideJSON{Type: OverrideNoClass, Date: v.Date, Reason: v.Reason, Hidden: v.Hidden})
		case Follow:
			wd := v.Weekday
			wire = append(wire, overrideJSON{Type: OverrideFollow, Date: v.Date, Weekday: &wd})
		default:
			return nil, fmt.Errorf("model: unknown override type %T", d)
		}
	}
	return json.Marshal(wire)
}

func (o *Overrides) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*o = nil
		return nil
	}
	var wire []overrideJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	out := make(Overrides, 0, len(wire))
	for i, w := range wire {
		switch w.Type {
		case OverrideNoClass:
			out = append(out, NoClass{Date: w.Date, Reason: w.Reason, Hidden: w.Hidden})
		case OverrideFollow:
			if w.Weekday == nil {
				return fmt.Errorf("model: follow override #%d has no weekday", i+1)
			}
			out = append(out, Follow{Date: w.Date, Weekday: *w.Weekday})
		default:
			return fmt.Errorf("model: override #%d has unknown type %q", i+1, w.Type)
		}
	}
	*o = out
	return nil
}
