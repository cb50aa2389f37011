package ics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"termcal/internal/codec"
	"termcal/internal/expand"
	"termcal/internal/model"
)

func sampleCalendar() model.Calendar {
	return model.Calendar{
		Name: "Fall 2025",
		Terms: []model.Term{{
			ID:    "A25",
			Start: "2025-08-18",
			End:   "2025-08-29",
			Courses: []model.Course{{
				Number: "CS 101",
				Name:   "Intro",
				MeetingPatterns: []model.MeetingPattern{{
					StartTime: "09:00",
					EndTime:   "09:50",
					Weekdays:  []model.Weekday{model.Monday, model.Thursday},
					Location:  model.StringPtr("SH104"),
				}},
				Except: []string{},
				Subsections: []model.Subsection{{
					Name: "Lab",
					MeetingPatterns: []model.MeetingPattern{{
						StartTime: "13:00",
						EndTime:   "14:50",
						Weekdays:  []model.Weekday{model.Friday},
					}},
				}},
			}},
			Dates: model.Overrides{
				model.NoClass{Date: "2025-08-25", Reason: "Closure"},
				model.NoClass{Date: "2025-08-26", Hidden: true},
				model.Follow{Date: "2025-08-27", Weekday: model.Monday},
			},
		}},
	}
}

var stamp = time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)

func TestWriteThenParse(t *testing.T) {
	events, err := expand.Expand(sampleCalendar(), expand.Options{})
	if err != nil {
		t.Fatal(err)
	}
	body, err := WriteFeed("Fall 2025", "-//termcal//abc//EN", events, WriteOptions{Stamp: stamp})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(body, "BEGIN:VCALENDAR") || !strings.Contains(body, "METHOD:PUBLISH") {
		t.Fatalf("unexpected feed:\n%s", body)
	}

	feed, err := ParseFeed([]byte(body))
	if err != nil {
		t.Fatal(err)
	}
	if feed.ProductID != "-//termcal//abc//EN" {
		t.Errorf("unexpected product id %q", feed.ProductID)
	}
	if feed.Name != "Fall 2025" {
		t.Errorf("unexpected name %q", feed.Name)
	}
	if !reflect.DeepEqual(events, feed.Events) {
		t.Errorf("events changed through the feed:\nwant %+v\ngot  %+v", events, feed.Events)
	}
}

func TestWriteWithTZID(t *testing.T) {
	events := []model.Event{{
		UID:   "x@termcal.local",
		Title: "CS 101 - Intro",
		Start: time.Date(2025, 8, 21, 9, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 8, 21, 9, 50, 0, 0, time.UTC),
	}}
	body, err := WriteFeed("", "-//termcal//abc//EN", events, WriteOptions{TZID: "America/Chicago", Stamp: stamp})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(body, "TZID=America/Chicago") || !strings.Contains(body, "20250821T090000") {
		t.Errorf("expected zoned wall-clock start, got:\n%s", body)
	}
}

func TestWriteStructuralErrors(t *testing.T) {
	start := time.Date(2025, 8, 21, 9, 0, 0, 0, time.UTC)
	if _, err := WriteFeed("x", "-//termcal//abc//EN", []model.Event{{Title: "no uid", Start: start, End: start}}, WriteOptions{}); err == nil {
		t.Error("expected error for missing UID")
	}
	if _, err := WriteFeed("x", "-//termcal//abc//EN", []model.Event{{UID: "u", Start: start, End: start.Add(-time.Hour)}}, WriteOptions{}); err == nil {
		t.Error("expected error for end before start")
	}
	if _, err := WriteFeed("x", "", nil, WriteOptions{}); err == nil {
		t.Error("expected error for empty product id")
	}
}

func TestGenerateAndImportRoundTrip(t *testing.T) {
	cal := sampleCalendar()
	res, err := Generate(cal, GenerateOptions{Stamp: stamp})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Events) == 0 {
		t.Fatal("expected events")
	}
	if len(res.Warnings) != 1 {
		t.Errorf("expected one missing-location warning for the lab, got %v", res.Warnings)
	}

	got, err := ImportFeed([]byte(res.Feed))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(cal, got) {
		t.Errorf("round trip mismatch:\nwant %#v\ngot  %#v", cal, got)
	}
}

func TestGenerateValidationError(t *testing.T) {
	cal := sampleCalendar()
	cal.Terms[0].ID = ""
	_, err := Generate(cal, GenerateOptions{})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if len(verr.Errors) == 0 {
		t.Error("expected error list")
	}
}

func TestGenerateTooManyEvents(t *testing.T) {
	cal := sampleCalendar()
	cal.Terms[0].Start = "2020-01-01"
	_, err := Generate(cal, GenerateOptions{})
	if !errors.Is(err, expand.ErrTooManyEvents) {
		t.Errorf("expected ErrTooManyEvents, got %v", err)
	}
}

func TestImportForeignFeed(t *testing.T) {
	body := "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//Example Corp//Calendar 1.0//EN\r\nEND:VCALENDAR\r\n"
	_, err := ImportFeed([]byte(body))
	if !errors.Is(err, codec.ErrDecode) {
		t.Errorf("expected ErrDecode, got %v", err)
	}
	if _, err := ImportFeed(nil); !errors.Is(err, codec.ErrDecode) {
		t.Errorf("expected ErrDecode for empty body, got %v", err)
	}
}

func TestFetcherCachesWithETag(t *testing.T) {
	const body = "BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	first, err := f.Fetch(context.Background(), srv.URL+"/feed.ics")
	if err != nil {
		t.Fatal(err)
	}
	if first.FromCache || string(first.Body) != body {
		t.Errorf("unexpected first fetch %+v", first)
	}

	second, err := f.Fetch(context.Background(), srv.URL+"/feed.ics")
	if err != nil {
		t.Fatal(err)
	}
	if !second.FromCache || string(second.Body) != body {
		t.Errorf("expected cached body on 304, got %+v", second)
	}
	if atomic.LoadInt32(&hits) != 2 {
		t.Errorf("expected 2 requests, got %d", hits)
	}
}

func TestFetcherErrorWithoutCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	if _, err := f.Fetch(context.Background(), srv.URL); err == nil {
		t.Error("expected error for 404 without cache")
	}
}

func TestPublicFetcherRefusesLoopback(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	_, err := NewPublicFetcher().Fetch(context.Background(), srv.URL+"/feed.ics")
	if !errors.Is(err, ErrBlockedAddress) {
		t.Errorf("expected ErrBlockedAddress, got %v", err)
	}
	if atomic.LoadInt32(&hits) != 0 {
		t.Error("loopback server was reached")
	}
}

func TestFetchRejectsNonHTTPURLs(t *testing.T) {
	f := NewFetcher(t.TempDir())
	for _, u := range []string{"file:///etc/passwd", "ftp://example.com/feed.ics", "example.com/feed.ics", "http://"} {
		if _, err := f.Fetch(context.Background(), u); !errors.Is(err, ErrUnsupportedURL) {
			t.Errorf("%s: expected ErrUnsupportedURL, got %v", u, err)
		}
	}
}

func TestIsPublicAddr(t *testing.T) {
	for addr, want := range map[string]bool{
		"93.184.216.34":    true,
		"2606:4700::1111":  true,
		"127.0.0.1":        false,
		"::1":              false,
		"10.1.2.3":         false,
		"172.16.0.1":       false,
		"192.168.1.1":      false,
		"169.254.169.254":  false,
		"fe80::1":          false,
		"fd00::1":          false,
		"0.0.0.0":          false,
		"100.64.0.1":       false,
		"224.0.0.1":        false,
		"::ffff:127.0.0.1": false,
	} {
		if got := isPublicAddr(netip.MustParseAddr(addr)); got != want {
			t.Errorf("isPublicAddr(%s) = %v, want %v", addr, got, want)
		}
	}
}

func TestRedactURL(t *testing.T) {
	got := redactURL("https://example.com/private/feed.ics?token=abc")
	if got != "https://example.com/...(redacted)" {
		t.Errorf("unexpected redaction %q", got)
	}
}
