package web

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"

	"termcal/internal/codec"
	"termcal/internal/config"
	"termcal/internal/expand"
	"termcal/internal/ics"
	"termcal/internal/importer"
	appLog "termcal/internal/log"
	"termcal/internal/model"
	"termcal/internal/refresh"
	"termcal/internal/sheet"
	"termcal/internal/templates"
	"termcal/internal/validate"
)

const (
	maxCalendarBytes = 4 << 20
	maxSheetBytes    = 16 << 20
)

// Server exposes validation, export and import over HTTP, and serves the
// feeds kept fresh by the refresh loop.
type Server struct {
	cfg      *config.Config
	registry templates.Registry
	store    *refresh.Store
	fetcher  *ics.Fetcher
	limiter  *rate.Limiter
	router   chi.Router
	now      func() time.Time
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, registry templates.Registry, store *refresh.Store) *Server {
	s := &Server{
		cfg:      cfg,
		registry: registry,
		store:    store,
		fetcher:  ics.NewPublicFetcher(),
		limiter: rate.NewLimiter(
			rate.Limit(float64(cfg.ImportRateLimit.PerMinute)/60),
			cfg.ImportRateLimit.Burst,
		),
		router: chi.NewRouter(),
		now:    time.Now,
	}
	if cfg.AllowPrivateFeeds {
		s.fetcher = ics.NewFetcher(cfg.CacheDir)
	}
	s.registerRoutes()
	return s
}

// Handler returns the root http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// StartServer serves until ctx is cancelled, then shuts down gracefully.
func StartServer(ctx context.Context, cfg *config.Config, registry templates.Registry, store *refresh.Store) error {
	s := NewServer(cfg, registry, store)
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	appLog.Info("HTTP server stopped")
	return nil
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		if s.basicAuthEnabled() {
			appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
			r.Use(s.basicAuth)
		}

		r.Route("/api", func(r chi.Router) {
			r.Post("/validate", s.handleValidate)
			r.Post("/generate", s.handleGenerate)
			r.Get("/feeds", s.handleFeeds)

			r.Group(func(r chi.Router) {
				r.Use(s.rateLimit)
				r.Post("/import/feed", s.handleImportFeed)
				r.Post("/import/sheet", s.handleImportSheet)
			})
		})
		r.Get("/feeds/{file}", s.handleFeed)
	})
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password disables auth.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

func (s *Server) basicAuth(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="termcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "too many imports; try again later")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		appLog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleValidate returns the diagnostics for a calendar document.
// Validation failures are data, not errors, so the status is 200.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	cal, ok := readCalendar(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, validate.Validate(cal))
}

type diagnosticsResponse struct {
	Error    string          `json:"error"`
	Errors   []string        `json:"errors"`
	Warnings []model.Warning `json:"warnings"`
}

// handleGenerate turns a calendar document into a feed.
//
// POST /api/generate?download=1
//   - 200 text/calendar on success; warning count in X-Termcal-Warnings
//   - 422 with the diagnostics when the calendar is invalid
//   - 413 when the calendar expands to too many days
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	cal, ok := readCalendar(w, r)
	if !ok {
		return
	}

	res, err := ics.Generate(cal, ics.GenerateOptions{
		Namespace: s.cfg.Namespace,
		Domain:    s.cfg.UIDDomain,
		MaxDays:   s.cfg.MaxDays,
		TZID:      s.cfg.Timezone,
		Stamp:     s.now(),
	})
	var verr *ics.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, diagnosticsResponse{
			Error:    "calendar is invalid",
			Errors:   verr.Errors,
			Warnings: verr.Warnings,
		})
		return
	case errors.Is(err, expand.ErrTooManyEvents):
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("calendar spans more than %d days; shorten its terms", s.cfg.MaxDays))
		return
	case err != nil:
		appLog.Error("api generate failed", err, "calendar", cal.Name)
		writeError(w, http.StatusInternalServerError, "failed to generate feed")
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("X-Termcal-Warnings", strconv.Itoa(len(res.Warnings)))
	if r.URL.Query().Get("download") != "" {
		w.Header().Set("Content-Disposition", `attachment; filename="`+feedFileName(cal.Name)+`"`)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, res.Feed)
}

type importFeedRequest struct {
	URL string `json:"url"`
}

// handleImportFeed recovers a calendar from a previously exported feed,
// either posted raw or fetched from {"url": "..."}.
func (s *Server) handleImportFeed(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCalendarBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "feed too large")
		return
	}

	if isJSON(r) {
		var req importFeedRequest
		if err := json.Unmarshal(body, &req); err != nil || req.URL == "" {
			writeError(w, http.StatusBadRequest, `expected {"url": "..."}`)
			return
		}
		res, err := s.fetcher.Fetch(r.Context(), req.URL)
		if errors.Is(err, ics.ErrUnsupportedURL) || errors.Is(err, ics.ErrBlockedAddress) {
			appLog.Warn("api import feed: url refused", "error", err.Error())
			writeError(w, http.StatusBadRequest, "feed URL must be a public http(s) address")
			return
		}
		if err != nil {
			appLog.Warn("api import feed: fetch failed", "error", err.Error())
			writeError(w, http.StatusBadGateway, "failed to fetch feed")
			return
		}
		body = res.Body
	}

	cal, err := ics.ImportFeed(body)
	if err != nil {
		if errors.Is(err, codec.ErrDecode) {
			writeError(w, http.StatusUnprocessableEntity, "this feed was not exported by termcal or is corrupted")
			return
		}
		appLog.Error("api import feed failed", err)
		writeError(w, http.StatusInternalServerError, "failed to import feed")
		return
	}
	writeJSON(w, http.StatusOK, cal)
}

// handleImportSheet reconstructs a calendar from a registrar .xlsx export
// posted as the raw request body.
func (s *Server) handleImportSheet(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSheetBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "spreadsheet too large")
		return
	}

	grid, err := sheet.ReadGrid(bytes.NewReader(body))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read spreadsheet")
		return
	}

	res, err := importer.Import(grid, s.registry)
	switch {
	case errors.Is(err, importer.ErrUnsupportedFormat), errors.Is(err, importer.ErrNoCourses):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		appLog.Error("api import sheet failed", err)
		writeError(w, http.StatusInternalServerError, "failed to import spreadsheet")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleFeeds(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.List())
}

// handleFeed serves /feeds/{id}.ics from the refresh store.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	id, ok := strings.CutSuffix(chi.URLParam(r, "file"), ".ics")
	if !ok || id == "" {
		http.NotFound(w, r)
		return
	}
	feed, found := s.store.Get(id)
	if !found || feed.Body == "" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Last-Modified", feed.GeneratedAt.UTC().Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, feed.Body)
}

func readCalendar(w http.ResponseWriter, r *http.Request) (model.Calendar, bool) {
	var cal model.Calendar
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCalendarBytes))
	if err := dec.Decode(&cal); err != nil {
		writeError(w, http.StatusBadRequest, "invalid calendar JSON: "+err.Error())
		return model.Calendar{}, false
	}
	return cal, true
}

func isJSON(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/json"
}

// feedFileName makes a download name out of a calendar name.
func feedFileName(name string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r == ' ':
			return '-'
		}
		return -1
	}, name)
	if clean == "" {
		clean = "calendar"
	}
	return clean + ".ics"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
