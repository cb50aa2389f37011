package codec

import (
	"encoding/base64"
	"errors"
	"reflect"
	"strings"
	"testing"

	"termcal/internal/model"
)

func sampleCalendar() model.Calendar {
	return model.Calendar{
		Name: "Fall 2025",
		Terms: []model.Term{{
			ID:    "A25",
			Start: "2025-08-21",
			End:   "2025-12-12",
			Courses: []model.Course{{
				Number: "CS 101",
				Name:   "Intro",
				MeetingPatterns: []model.MeetingPattern{
					{StartTime: "09:00", EndTime: "09:50", Weekdays: []model.Weekday{1, 3, 5}, Location: model.StringPtr("SH104")},
					{StartTime: "", EndTime: "", Weekdays: []model.Weekday{}, Location: nil},
				},
				Except: []string{"2025-10-13"},
				Subsections: []model.Subsection{
					{Name: "Discussion", MeetingPatterns: []model.MeetingPattern{}, Except: nil},
				},
			}},
			Dates: model.Overrides{
				model.NoClass{Date: "2025-09-01", Reason: "Labor Day"},
				model.NoClass{Date: "2025-11-27", Hidden: true},
				model.Follow{Date: "2025-11-26", Weekday: model.Friday},
			},
		}, {
			ID:      "",
			Courses: nil,
			Dates:   model.Overrides{},
		}},
	}
}

func TestRoundTrip(t *testing.T) {
	cal := sampleCalendar()
	enc, err := Encode(cal)
	if err != nil {
		t.Fatal(err)
	}
	if strings.ContainsAny(enc, "+/=") {
		t.Errorf("encoding is not URL-safe and unpadded: %s", enc)
	}

	got, err := Decode(enc)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(cal, got) {
		t.Errorf("round trip mismatch:\nwant %#v\ngot  %#v", cal, got)
	}
}

func TestEncodeDeterministic(t *testing.T) {
	a, err := Encode(sampleCalendar())
	if err != nil {
		t.Fatal(err)
	}
	b, err := Encode(sampleCalendar())
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Error("encoding is not deterministic")
	}
}

func TestDecodeErrors(t *testing.T) {
	notGzip := base64.RawURLEncoding.EncodeToString([]byte("plain text"))

	enc, _ := Encode(sampleCalendar())
	raw, _ := base64.RawURLEncoding.DecodeString(enc)
	truncated := base64.RawURLEncoding.EncodeToString(raw[:len(raw)/2])

	for name, in := range map[string]string{
		"bad base64": "***",
		"not gzip":   notGzip,
		"truncated":  truncated,
	} {
		_, err := Decode(in)
		if !errors.Is(err, ErrDecode) {
			t.Errorf("%s: expected ErrDecode, got %v", name, err)
		}
	}
}

func TestDecodeBadJSON(t *testing.T) {
	enc, err := encodeRaw([]byte(`{"name": 5}`))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Decode(enc); !errors.Is(err, ErrDecode) {
		t.Errorf("expected ErrDecode for bad JSON, got %v", err)
	}
}

func TestProductID(t *testing.T) {
	enc, _ := Encode(sampleCalendar())
	pid := ProductID("termcal", enc)
	if !strings.HasPrefix(pid, "-//termcal//") || !strings.HasSuffix(pid, "//EN") {
		t.Errorf("unexpected product id %s", pid)
	}
	got, err := ExtractEncoded(pid)
	if err != nil {
		t.Fatal(err)
	}
	if got != enc {
		t.Error("extracted segment differs from encoded calendar")
	}

	if _, err := ExtractEncoded("-//Google Inc//Google Calendar 70.9054//EN"); err != nil {
		t.Errorf("foreign product ids still have a third segment: %v", err)
	}
	if _, err := ExtractEncoded("-//termcal"); !errors.Is(err, ErrDecode) {
		t.Errorf("expected ErrDecode for short product id, got %v", err)
	}
}
