package refresh

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"termcal/internal/config"
	"termcal/internal/ics"
	"termcal/internal/importer"
	appLog "termcal/internal/log"
	"termcal/internal/model"
	"termcal/internal/sheet"
	"termcal/internal/templates"
)

// Feed is the latest generation result for one configured calendar.
type Feed struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Body        string          `json:"-"`
	Events      int             `json:"events"`
	Warnings    []model.Warning `json:"warnings"`
	GeneratedAt time.Time       `json:"generated_at"`
	RunID       string          `json:"run_id"`
	// Err is the last failure. Body still holds the last good feed, if any.
	Err string `json:"error,omitempty"`
}

// Store keeps generated feeds in memory for the HTTP server.
type Store struct {
	mu    sync.RWMutex
	feeds map[string]Feed
}

func NewStore() *Store {
	return &Store{feeds: make(map[string]Feed)}
}

func (s *Store) Put(f Feed) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feeds[f.ID] = f
}

func (s *Store) Get(id string) (Feed, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.feeds[id]
	return f, ok
}

// List returns every feed ordered by id.
func (s *Store) List() []Feed {
	s.mu.RLock()
	out := make([]Feed, 0, len(s.feeds))
	for _, f := range s.feeds {
		out = append(out, f)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// fail records err for id without dropping the previous body.
func (s *Store) fail(id, name, runID string, at time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.feeds[id]
	f.ID = id
	if f.Name == "" {
		f.Name = name
	}
	f.RunID = runID
	f.GeneratedAt = at
	f.Err = err.Error()
	s.feeds[id] = f
}

// Refresher regenerates every configured calendar into the Store.
type Refresher struct {
	cfg      *config.Config
	registry templates.Registry
	store    *Store
	now      func() time.Time
}

func New(cfg *config.Config, registry templates.Registry, store *Store) *Refresher {
	return &Refresher{
		cfg:      cfg,
		registry: registry,
		store:    store,
		now:      time.Now,
	}
}

// RunOnce regenerates all sources concurrently. Every source is attempted;
// the first failure is returned after all have finished.
func (r *Refresher) RunOnce(ctx context.Context) error {
	runID := uuid.New().String()
	started := r.now()
	appLog.Info("refresh started", "run_id", runID, "sources", len(r.cfg.Calendars))

	var eg errgroup.Group
	for _, src := range r.cfg.Calendars {
		src := src
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := r.refreshSource(src, runID); err != nil {
				appLog.Error("refresh: source failed", err, "run_id", runID, "id", src.ID, "path", src.Path)
				r.store.fail(src.ID, src.Name, runID, r.now(), err)
				return fmt.Errorf("%s: %w", src.ID, err)
			}
			return nil
		})
	}
	err := eg.Wait()

	appLog.Info("refresh finished",
		"run_id", runID,
		"duration_ms", r.now().Sub(started).Milliseconds(),
		"ok", err == nil,
	)
	return err
}

func (r *Refresher) refreshSource(src config.CalendarSource, runID string) error {
	cal, importWarnings, err := LoadSource(src, r.registry)
	if err != nil {
		return err
	}

	res, err := ics.Generate(cal, ics.GenerateOptions{
		Namespace: r.cfg.Namespace,
		Domain:    r.cfg.UIDDomain,
		MaxDays:   r.cfg.MaxDays,
		TZID:      r.cfg.Timezone,
		Stamp:     r.now(),
	})
	if err != nil {
		return err
	}

	if r.cfg.OutputDir != "" {
		if err := writeFeedFile(r.cfg.OutputDir, src.ID, res.Feed); err != nil {
			return err
		}
	}

	warnings := make([]model.Warning, 0, len(importWarnings)+len(res.Warnings))
	warnings = append(warnings, importWarnings...)
	warnings = append(warnings, res.Warnings...)
	r.store.Put(Feed{
		ID:          src.ID,
		Name:        cal.Name,
		Body:        res.Feed,
		Events:      len(res.Events),
		Warnings:    warnings,
		GeneratedAt: r.now(),
		RunID:       runID,
	})
	appLog.Debug("refresh: source generated", "run_id", runID, "id", src.ID, "events", len(res.Events))
	return nil
}

// Start schedules RunOnce on the configured cron spec and stops the
// scheduler when ctx is cancelled.
func (r *Refresher) Start(ctx context.Context) (*cron.Cron, error) {
	c := cron.New(cron.WithSeconds())
	_, err := c.AddFunc(r.cfg.RefreshCron, func() {
		if err := r.RunOnce(ctx); err != nil {
			appLog.Warn("scheduled refresh had failures", "error", err.Error())
		}
	})
	if err != nil {
		return nil, fmt.Errorf("refresh: invalid cron spec %q: %w", r.cfg.RefreshCron, err)
	}
	c.Start()
	appLog.Info("refresh scheduler started", "spec", r.cfg.RefreshCron)

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
		appLog.Info("refresh scheduler stopped")
	}()
	return c, nil
}

// LoadSource loads a configured calendar, applying its name override.
func LoadSource(src config.CalendarSource, registry templates.Registry) (model.Calendar, []model.Warning, error) {
	cal, warnings, err := LoadCalendar(src.Path, registry)
	if err != nil {
		return model.Calendar{}, nil, err
	}
	if src.Name != "" {
		cal.Name = src.Name
	}
	return cal, warnings, nil
}

// LoadCalendar reads a calendar from disk. The format follows the file
// extension: .xlsx is a registrar export, .ics a previously generated
// feed, anything else calendar JSON.
func LoadCalendar(path string, registry templates.Registry) (model.Calendar, []model.Warning, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Calendar{}, nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		grid, err := sheet.ReadGrid(bytes.NewReader(data))
		if err != nil {
			return model.Calendar{}, nil, err
		}
		res, err := importer.Import(grid, registry)
		if err != nil {
			return model.Calendar{}, nil, err
		}
		return res.Calendar, res.Warnings, nil
	case ".ics":
		cal, err := ics.ImportFeed(data)
		return cal, nil, err
	default:
		var cal model.Calendar
		if err := json.Unmarshal(data, &cal); err != nil {
			return model.Calendar{}, nil, fmt.Errorf("parse calendar %s: %w", filepath.Base(path), err)
		}
		return cal, nil, nil
	}
}

func writeFeedFile(dir, id, body string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, id+".ics")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(body), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
