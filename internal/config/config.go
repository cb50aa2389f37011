package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where the service looks for its config when neither
// --config nor TERMCAL_CONFIG is given.
const DefaultPath = "/etc/termcal/config.yaml"

// CalendarSource is one calendar file regenerated by the refresh loop.
type CalendarSource struct {
	// ID is used in the feed URL (/feeds/{id}.ics) and in logs.
	ID string `yaml:"id" json:"id"`
	// Name overrides the calendar's own name when non-empty.
	Name string `yaml:"name" json:"name"`
	// Path points to a calendar JSON document or a registrar .xlsx export.
	Path string `yaml:"path" json:"path"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// RateLimitConfig bounds how often the import endpoints may be hit.
type RateLimitConfig struct {
	// PerMinute is the sustained number of imports allowed per minute.
	PerMinute int `yaml:"per_minute" json:"per_minute"`
	Burst     int `yaml:"burst" json:"burst"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Namespace prefixes event UIDs and names the product id.
	Namespace string `yaml:"namespace" json:"namespace"`
	// UIDDomain is the right-hand side of every event UID.
	UIDDomain string `yaml:"uid_domain" json:"uid_domain"`

	// Timezone is the IANA zone attached to timed events as TZID
	// (e.g. "America/Los_Angeles"). Empty writes floating times.
	Timezone string `yaml:"timezone" json:"timezone"`

	// MaxDays caps how many term days one calendar may expand to.
	MaxDays int `yaml:"max_days" json:"max_days"`

	// RefreshCron is a six-field cron spec (with seconds) for regenerating
	// configured calendars, e.g. "0 */15 * * * *".
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// OutputDir, if set, receives <id>.ics for every refreshed calendar.
	OutputDir string `yaml:"output_dir" json:"output_dir"`
	// CacheDir holds fetched feeds for import-by-URL from the CLI, and
	// from the API when AllowPrivateFeeds is set.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`
	// AllowPrivateFeeds lets POST /api/import/feed fetch loopback and
	// private-network URLs and cache them under CacheDir. Off by default:
	// the API then only reaches public addresses and caches nothing.
	AllowPrivateFeeds bool `yaml:"allow_private_feeds" json:"allow_private_feeds"`
	// TemplatesPath, if set, replaces the built-in template registry.
	TemplatesPath string `yaml:"templates" json:"templates"`

	Calendars []CalendarSource `yaml:"calendars" json:"calendars"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	ImportRateLimit RateLimitConfig `yaml:"import_rate_limit" json:"import_rate_limit"`
}

const (
	defaultListen      = "127.0.0.1:8080"
	defaultNamespace   = "termcal"
	defaultUIDDomain   = "termcal.local"
	defaultMaxDays     = 1000
	defaultRefreshCron = "0 */15 * * * *"
	defaultCacheDir    = "./var/feed-cache"
	defaultPerMinute   = 30
	defaultBurst       = 5
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values with defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Namespace == "" {
		c.Namespace = defaultNamespace
	}
	if c.UIDDomain == "" {
		c.UIDDomain = defaultUIDDomain
	}
	if c.MaxDays <= 0 {
		c.MaxDays = defaultMaxDays
	}
	if strings.TrimSpace(c.RefreshCron) == "" {
		c.RefreshCron = defaultRefreshCron
	}
	if c.CacheDir == "" {
		c.CacheDir = defaultCacheDir
	}
	if c.Calendars == nil {
		c.Calendars = []CalendarSource{}
	}
	for i := range c.Calendars {
		if c.Calendars[i].ID == "" {
			base := filepath.Base(c.Calendars[i].Path)
			c.Calendars[i].ID = strings.TrimSuffix(base, filepath.Ext(base))
		}
	}
	if c.ImportRateLimit.PerMinute <= 0 {
		c.ImportRateLimit.PerMinute = defaultPerMinute
	}
	if c.ImportRateLimit.Burst <= 0 {
		c.ImportRateLimit.Burst = defaultBurst
	}
}

// Load loads configuration from the given YAML path.
//
// If the file does not exist a default config is written there with 0600
// permissions and returned. Otherwise the YAML is read and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Caller decides whether an unwritable default is fatal.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory (0700) if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".termcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save delegates to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}

// Source returns the configured calendar with the given id.
func (c *Config) Source(id string) (CalendarSource, bool) {
	for _, s := range c.Calendars {
		if s.ID == id {
			return s, true
		}
	}
	return CalendarSource{}, false
}
