package ics

import (
	"fmt"
	"strings"
	"time"

	"termcal/internal/codec"
	"termcal/internal/expand"
	appLog "termcal/internal/log"
	"termcal/internal/model"
	"termcal/internal/validate"
)

// ValidationError is returned by Generate when the calendar has errors.
// No feed is produced in that case.
type ValidationError struct {
	Errors   []string
	Warnings []model.Warning
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("calendar is invalid: %s", strings.Join(e.Errors, "; "))
}

// GenerateOptions bundles expansion and serialization settings.
type GenerateOptions struct {
	Namespace string
	Domain    string
	MaxDays   int
	TZID      string
	Stamp     time.Time
}

// GenerateResult is a finished export.
type GenerateResult struct {
	Feed     string
	Events   []model.Event
	Warnings []model.Warning
}

// Generate runs the export pipeline: validate, expand, encode the
// calendar into the product id, and write the feed. Validation errors
// come back as *ValidationError; the event cap as expand.ErrTooManyEvents.
func Generate(cal model.Calendar, opts GenerateOptions) (GenerateResult, error) {
	res := validate.Validate(cal)
	if !res.OK() {
		return GenerateResult{}, &ValidationError{Errors: res.Errors, Warnings: res.Warnings}
	}

	events, err := expand.Expand(cal, expand.Options{
		Namespace: opts.Namespace,
		Domain:    opts.Domain,
		MaxDays:   opts.MaxDays,
	})
	if err != nil {
		return GenerateResult{}, err
	}

	encoded, err := codec.Encode(cal)
	if err != nil {
		return GenerateResult{}, err
	}

	namespace := opts.Namespace
	if namespace == "" {
		namespace = "termcal"
	}
	feed, err := WriteFeed(cal.Name, codec.ProductID(namespace, encoded), events, WriteOptions{
		TZID:  opts.TZID,
		Stamp: opts.Stamp,
	})
	if err != nil {
		return GenerateResult{}, err
	}

	appLog.Info("feed generated",
		"calendar", cal.Name,
		"terms", len(cal.Terms),
		"events", len(events),
		"warnings", len(res.Warnings),
	)
	return GenerateResult{Feed: feed, Events: events, Warnings: res.Warnings}, nil
}
