package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"termcal/internal/codec"
	appLog "termcal/internal/log"
	"termcal/internal/model"
)

// Feed is the structural view of a parsed iCalendar document.
type Feed struct {
	ProductID string
	Name      string
	Events    []model.Event
}

// ParseFeed parses an iCalendar payload. Event times are read as wall-clock
// values (any TZID is ignored), matching how WriteFeed produces them.
func ParseFeed(body []byte) (Feed, error) {
	var out Feed
	if len(bytes.TrimSpace(body)) == 0 {
		return out, errors.New("ics: empty feed body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return out, fmt.Errorf("ics: parse feed: %w", err)
	}

	for _, p := range cal.CalendarProperties {
		switch p.IANAToken {
		case string(ical.PropertyProductId):
			out.ProductID = p.Value
		case string(ical.PropertyXWRCalName):
			out.Name = p.Value
		case "NAME":
			if out.Name == "" {
				out.Name = p.Value
			}
		}
	}

	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(comp)
		if perr != nil {
			// Log and skip this event, but keep parsing others.
			appLog.Warn("ics vevent skipped", "err", perr)
			continue
		}
		out.Events = append(out.Events, ev)
	}

	appLog.Debug("ics parse completed", "event_count", len(out.Events))
	return out, nil
}

// ImportFeed recovers the structured calendar embedded in a feed's product
// identifier. Every failure wraps codec.ErrDecode.
func ImportFeed(body []byte) (model.Calendar, error) {
	feed, err := ParseFeed(body)
	if err != nil {
		return model.Calendar{}, fmt.Errorf("%w: %v", codec.ErrDecode, err)
	}
	if feed.ProductID == "" {
		return model.Calendar{}, fmt.Errorf("%w: feed has no PRODID", codec.ErrDecode)
	}
	encoded, err := codec.ExtractEncoded(feed.ProductID)
	if err != nil {
		return model.Calendar{}, err
	}
	return codec.Decode(encoded)
}

func parseVEvent(ve *ical.VEvent) (model.Event, error) {
	var out model.Event

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uidProp.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Title = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = p.Value
	}

	startProp := ve.GetProperty(ical.ComponentPropertyDtStart)
	if startProp == nil {
		return out, fmt.Errorf("event %s: missing DTSTART", out.UID)
	}
	start, err := parseICSTime(startProp.Value)
	if err != nil {
		return out, fmt.Errorf("event %s: %w", out.UID, err)
	}
	out.Start = start
	out.AllDay = isDateValue(startProp)

	if endProp := ve.GetProperty(ical.ComponentPropertyDtEnd); endProp != nil {
		end, err := parseICSTime(endProp.Value)
		if err != nil {
			return out, fmt.Errorf("event %s: %w", out.UID, err)
		}
		out.End = end
	} else if out.AllDay {
		out.End = start.AddDate(0, 0, 1)
	} else {
		out.End = start
	}

	return out, nil
}

// isDateValue detects all-day values: VALUE=DATE or a value without 'T'.
func isDateValue(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters[string(ical.ParameterValue)]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

// parseICSTime parses DATE, floating DATE-TIME and UTC DATE-TIME values into
// wall-clock times stored in UTC.
func parseICSTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}

	// UTC form, e.g., 20250101T090000Z
	if strings.HasSuffix(v, "Z") {
		return time.Parse(icalDateTimeLayout+"Z", v)
	}

	// Floating or TZID date-time, e.g., 20250101T090000
	if strings.Contains(v, "T") {
		return time.ParseInLocation(icalDateTimeLayout, v, time.UTC)
	}

	// Date-only (all-day), e.g., 20250101
	return time.ParseInLocation(icalDateLayout, v, time.UTC)
}
