package web

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"termcal/internal/config"
	"termcal/internal/model"
	"termcal/internal/refresh"
	"termcal/internal/templates"
	"termcal/internal/validate"
)

const calendarJSON = `{
  "name": "Fall 2025",
  "terms": [{
    "id": "A25",
    "start": "2025-08-18",
    "end": "2025-08-29",
    "courses": [{
      "number": "CS 101",
      "name": "Intro",
      "meetingPatterns": [{"startTime": "09:00", "endTime": "09:50", "weekdays": [1, 4], "location": "SH104"}],
      "except": [],
      "subsections": []
    }],
    "dates": [{"type": "no-class", "date": "2025-08-25", "reason": "Closure"}]
  }]
}`

func newTestServer(t *testing.T, mutate func(*config.Config)) (*Server, *refresh.Store) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.CacheDir = t.TempDir()
	if mutate != nil {
		mutate(cfg)
	}
	reg, err := templates.Builtin()
	if err != nil {
		t.Fatal(err)
	}
	store := refresh.NewStore()
	s := NewServer(cfg, reg, store)
	s.now = func() time.Time { return time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC) }
	return s, store
}

func do(s *Server, method, path, contentType string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, func(c *config.Config) {
		c.BasicAuth = &config.BasicAuthConfig{Username: "u", Password: "p"}
	})
	rec := do(s, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("unexpected health response %d %q", rec.Code, rec.Body.String())
	}
}

func TestBasicAuth(t *testing.T) {
	s, _ := newTestServer(t, func(c *config.Config) {
		c.BasicAuth = &config.BasicAuthConfig{Username: "u", Password: "p"}
	})
	if rec := do(s, http.MethodGet, "/api/feeds", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/feeds", nil)
	req.SetBasicAuth("u", "p")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 with credentials, got %d", rec.Code)
	}
}

func TestValidate(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := do(s, http.MethodPost, "/api/validate", "application/json", []byte(`{"name": "x", "terms": []}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var res validate.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.OK() || res.Errors[0] != "Calendar has no terms." {
		t.Errorf("unexpected result %+v", res)
	}

	if rec := do(s, http.MethodPost, "/api/validate", "application/json", []byte("{")); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad JSON, got %d", rec.Code)
	}
}

func TestGenerate(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := do(s, http.MethodPost, "/api/generate?download=1", "application/json", []byte(calendarJSON))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/calendar") {
		t.Errorf("unexpected content type %q", ct)
	}
	if rec.Header().Get("X-Termcal-Warnings") != "0" {
		t.Errorf("expected no warnings, got %q", rec.Header().Get("X-Termcal-Warnings"))
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "Fall-2025.ics") {
		t.Errorf("unexpected disposition %q", cd)
	}
	if !strings.Contains(rec.Body.String(), "UID:termcal-CS101-20250821T0900-course@termcal.local") {
		t.Errorf("expected Thursday lecture in feed:\n%s", rec.Body.String())
	}
}

func TestGenerateInvalid(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := do(s, http.MethodPost, "/api/generate", "application/json", []byte(`{"name": "x", "terms": []}`))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	var res diagnosticsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if len(res.Errors) == 0 {
		t.Error("expected diagnostics in response")
	}
}

func TestGenerateTooManyEvents(t *testing.T) {
	s, _ := newTestServer(t, func(c *config.Config) { c.MaxDays = 5 })
	rec := do(s, http.MethodPost, "/api/generate", "application/json", []byte(calendarJSON))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", rec.Code)
	}
}

func generated(t *testing.T, s *Server) []byte {
	t.Helper()
	rec := do(s, http.MethodPost, "/api/generate", "application/json", []byte(calendarJSON))
	if rec.Code != http.StatusOK {
		t.Fatalf("generate failed: %d", rec.Code)
	}
	return rec.Body.Bytes()
}

func TestImportFeedBody(t *testing.T) {
	s, _ := newTestServer(t, nil)
	feed := generated(t, s)

	rec := do(s, http.MethodPost, "/api/import/feed", "text/calendar", feed)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var cal model.Calendar
	if err := json.Unmarshal(rec.Body.Bytes(), &cal); err != nil {
		t.Fatal(err)
	}
	if cal.Name != "Fall 2025" || cal.CourseCount() != 1 {
		t.Errorf("unexpected calendar %+v", cal)
	}

	foreign := []byte("BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//Google Inc//Google Calendar 70.9054//EN\r\nEND:VCALENDAR\r\n")
	if rec := do(s, http.MethodPost, "/api/import/feed", "text/calendar", foreign); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for foreign feed, got %d", rec.Code)
	}
}

func TestImportFeedURL(t *testing.T) {
	s, _ := newTestServer(t, func(c *config.Config) { c.AllowPrivateFeeds = true })
	feed := generated(t, s)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/calendar")
		_, _ = w.Write(feed)
	}))
	defer upstream.Close()

	body, _ := json.Marshal(importFeedRequest{URL: upstream.URL + "/fall.ics"})
	rec := do(s, http.MethodPost, "/api/import/feed", "application/json", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	if rec := do(s, http.MethodPost, "/api/import/feed", "application/json", []byte(`{}`)); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without url, got %d", rec.Code)
	}
}

func TestImportFeedURLRefusesLocalAddresses(t *testing.T) {
	s, _ := newTestServer(t, func(c *config.Config) { c.ImportRateLimit.Burst = 20 })
	feed := generated(t, s)

	var hits int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write(feed)
	}))
	defer upstream.Close()

	for _, target := range []string{
		upstream.URL + "/fall.ics",
		"http://169.254.169.254/latest/meta-data/",
		"http://10.0.0.1/feed.ics",
		"file:///etc/passwd",
		"gopher://example.com/",
	} {
		body, _ := json.Marshal(importFeedRequest{URL: target})
		rec := do(s, http.MethodPost, "/api/import/feed", "application/json", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d: %s", target, rec.Code, rec.Body.String())
		}
	}
	if n := atomic.LoadInt32(&hits); n != 0 {
		t.Errorf("upstream was reached %d times", n)
	}
	entries, err := os.ReadDir(s.cfg.CacheDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("expected nothing cached, found %d entries", len(entries))
	}
}

func workbook(t *testing.T, rows [][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatal(err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatal(err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestImportSheet(t *testing.T) {
	s, _ := newTestServer(t, nil)
	xlsx := workbook(t, [][]any{
		{"View My Courses"},
		{"My Enrolled Courses"},
		{"", "Course Listing", "Registration Status", "Section", "Instructional Format", "Meeting Patterns", "Start Date", "End Date"},
		{"", "CS 101 - Intro", "Registered", "CS-101-001 - Intro", "Lecture", "M-W-F | 9:00 AM - 9:50 AM | SH104", "8/25/25", "12/12/25"},
	})

	rec := do(s, http.MethodPost, "/api/import/sheet", "application/octet-stream", xlsx)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var res struct {
		Calendar model.Calendar  `json:"calendar"`
		Warnings []model.Warning `json:"warnings"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Calendar.Name != "2025-2026 Academic Year" || res.Calendar.CourseCount() != 1 {
		t.Errorf("unexpected import %+v", res.Calendar)
	}

	other := workbook(t, [][]any{{"Some other report"}})
	if rec := do(s, http.MethodPost, "/api/import/sheet", "application/octet-stream", other); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for unsupported sheet, got %d", rec.Code)
	}
	if rec := do(s, http.MethodPost, "/api/import/sheet", "application/octet-stream", []byte("nope")); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for non-xlsx body, got %d", rec.Code)
	}
}

func TestImportRateLimit(t *testing.T) {
	s, _ := newTestServer(t, func(c *config.Config) {
		c.ImportRateLimit = config.RateLimitConfig{PerMinute: 1, Burst: 1}
	})
	if rec := do(s, http.MethodPost, "/api/import/feed", "text/calendar", []byte("x")); rec.Code == http.StatusTooManyRequests {
		t.Fatal("first request should not be limited")
	}
	if rec := do(s, http.MethodPost, "/api/import/feed", "text/calendar", []byte("x")); rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", rec.Code)
	}
	// Non-import endpoints are not limited.
	if rec := do(s, http.MethodGet, "/api/feeds", "", nil); rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestFeeds(t *testing.T) {
	s, store := newTestServer(t, nil)
	store.Put(refresh.Feed{ID: "fall", Name: "Fall", Body: "BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n", GeneratedAt: time.Now()})
	store.Put(refresh.Feed{ID: "broken", Name: "Broken", Err: "boom"})

	rec := do(s, http.MethodGet, "/feeds/fall.ics", "", nil)
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Body.String(), "BEGIN:VCALENDAR") {
		t.Errorf("unexpected feed response %d %q", rec.Code, rec.Body.String())
	}
	for _, path := range []string{"/feeds/broken.ics", "/feeds/nope.ics", "/feeds/fall"} {
		if rec := do(s, http.MethodGet, path, "", nil); rec.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, rec.Code)
		}
	}

	rec = do(s, http.MethodGet, "/api/feeds", "", nil)
	var feeds []refresh.Feed
	if err := json.Unmarshal(rec.Body.Bytes(), &feeds); err != nil {
		t.Fatal(err)
	}
	if len(feeds) != 2 || feeds[0].ID != "broken" || feeds[0].Err != "boom" {
		t.Errorf("unexpected feed list %+v", feeds)
	}
	if strings.Contains(rec.Body.String(), "BEGIN:VCALENDAR") {
		t.Error("feed bodies must not be listed")
	}
}

func TestFeedFileName(t *testing.T) {
	for in, want := range map[string]string{
		"Fall 2025":     "Fall-2025.ics",
		"Été/Hiver":     "tHiver.ics",
		"":              "calendar.ics",
		"CS_101-notes!": "CS_101-notes.ics",
	} {
		if got := feedFileName(in); got != want {
			t.Errorf("feedFileName(%q): expected %q, got %q", in, want, got)
		}
	}
}
