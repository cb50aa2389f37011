package ics

import (
	"errors"
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"

	"termcal/internal/model"
)

const (
	icalDateLayout     = "20060102"
	icalDateTimeLayout = "20060102T150405"
)

// WriteOptions controls feed serialization.
type WriteOptions struct {
	// TZID, if set, is attached to every timed DTSTART/DTEND so that
	// clients interpret wall-clock times in that zone. If empty, times are
	// written floating.
	TZID string

	// Stamp is written as DTSTAMP on every event. If zero, time.Now is used.
	Stamp time.Time
}

// WriteFeed serializes events into an iCalendar document. prodID usually
// comes from codec.ProductID so the feed can be re-imported losslessly.
func WriteFeed(name, prodID string, events []model.Event, opts WriteOptions) (string, error) {
	if prodID == "" {
		return "", errors.New("ics: product id is empty")
	}
	stamp := opts.Stamp
	if stamp.IsZero() {
		stamp = time.Now()
	}

	cal := ical.NewCalendar()
	cal.SetProductId(prodID)
	cal.SetMethod(ical.MethodPublish)
	if name != "" {
		cal.SetName(name)
		cal.SetXWRCalName(name)
	}

	for i, ev := range events {
		if ev.UID == "" {
			return "", fmt.Errorf("ics: event #%d (%s) has no UID", i+1, ev.Title)
		}
		if ev.End.Before(ev.Start) {
			return "", fmt.Errorf("ics: event %s ends before it starts", ev.UID)
		}

		ve := cal.AddEvent(ev.UID)
		ve.SetDtStampTime(stamp.UTC())
		ve.SetSummary(ev.Title)
		if ev.Location != "" {
			ve.SetLocation(ev.Location)
		}

		if ev.AllDay {
			dateParam := &ical.KeyValues{Key: string(ical.ParameterValue), Value: []string{string(ical.ValueDataTypeDate)}}
			ve.SetProperty(ical.ComponentPropertyDtStart, ev.Start.Format(icalDateLayout), dateParam)
			ve.SetProperty(ical.ComponentPropertyDtEnd, ev.End.Format(icalDateLayout), dateParam)
			continue
		}

		var params []ical.PropertyParameter
		if opts.TZID != "" {
			params = append(params, &ical.KeyValues{Key: string(ical.ParameterTzid), Value: []string{opts.TZID}})
		}
		ve.SetProperty(ical.ComponentPropertyDtStart, ev.Start.Format(icalDateTimeLayout), params...)
		ve.SetProperty(ical.ComponentPropertyDtEnd, ev.End.Format(icalDateTimeLayout), params...)
	}

	return cal.Serialize(), nil
}
