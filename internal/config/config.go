package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"hearingcal/internal/schedule"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions.

// BusinessHoursConfig holds the local-time scheduling window as "HH:MM".
type BusinessHoursConfig struct {
	Start string `yaml:"start" json:"start"`
	End   string `yaml:"end" json:"end"`
}

// RouteConfig is one entry of the static travel-time matrix. Routes are
// symmetric: A->B and B->A share one entry.
type RouteConfig struct {
	From    string `yaml:"from" json:"from"`
	To      string `yaml:"to" json:"to"`
	Minutes int    `yaml:"minutes" json:"minutes"`
}

// TravelHTTPConfig configures the optional routing endpoint used for pairs
// missing from the static matrix. Disabled when BaseURL is empty.
type TravelHTTPConfig struct {
	BaseURL        string  `yaml:"base_url" json:"base_url"`
	TimeoutSeconds int     `yaml:"timeout_seconds" json:"timeout_seconds"`
	RatePerSecond  float64 `yaml:"rate_per_second" json:"rate_per_second"`
}

// TravelConfig groups travel-time provider settings.
type TravelConfig struct {
	// TimeoutSeconds bounds a single provider estimate during validation.
	TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds"`
	// CacheTTLMinutes controls how long successful estimates are reused.
	CacheTTLMinutes int              `yaml:"cache_ttl_minutes" json:"cache_ttl_minutes"`
	Matrix          []RouteConfig    `yaml:"matrix" json:"matrix"`
	HTTP            TravelHTTPConfig `yaml:"http" json:"http"`
}

// FeedConfig describes a single ICS subscription attached to an owner's
// calendar (e.g. a court docket export).
type FeedConfig struct {
	Owner string `yaml:"owner" json:"owner"`
	// ID is an internal identifier used for de-dup and logging.
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
	URL  string `yaml:"url" json:"url"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone owners' calendars are kept in
	// (e.g. "Asia/Kolkata"). Candidate times are interpreted in it.
	Timezone string `yaml:"timezone" json:"timezone"`

	// LogLevel is one of DEBUG, INFO, WARN, ERROR.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// Database is the SQLite file path. Empty keeps everything in memory.
	Database string `yaml:"database" json:"database"`

	// CacheDir holds the ICS feed HTTP cache.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	BusinessHours BusinessHoursConfig `yaml:"business_hours" json:"business_hours"`

	Travel TravelConfig `yaml:"travel" json:"travel"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *")
	// for maintenance: travel cache purge and feed prefetch.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	Feeds []FeedConfig `yaml:"feeds" json:"feeds"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen        = "127.0.0.1:8080"
	defaultTimezone      = "Asia/Kolkata"
	defaultLogLevel      = "INFO"
	defaultCacheDir      = "/var/lib/hearingcal/ics-cache"
	defaultBusinessStart = "09:30"
	defaultBusinessEnd   = "15:30"
	defaultRefreshCron   = "*/15 * * * *"
	defaultTravelTimeout = 3
	defaultCacheTTL      = 60
	defaultHTTPTimeout   = 5
	defaultHTTPRate      = 5
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:   defaultListen,
		Timezone: defaultTimezone,
		LogLevel: defaultLogLevel,
		Database: "/var/lib/hearingcal/hearingcal.db",
		CacheDir: defaultCacheDir,
		BusinessHours: BusinessHoursConfig{
			Start: defaultBusinessStart,
			End:   defaultBusinessEnd,
		},
		Travel: TravelConfig{
			TimeoutSeconds:  defaultTravelTimeout,
			CacheTTLMinutes: defaultCacheTTL,
			Matrix:          []RouteConfig{},
			HTTP: TravelHTTPConfig{
				TimeoutSeconds: defaultHTTPTimeout,
				RatePerSecond:  defaultHTTPRate,
			},
		},
		RefreshCron: defaultRefreshCron,
		Feeds:       []FeedConfig{},
		BasicAuth:   nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.CacheDir == "" {
		c.CacheDir = defaultCacheDir
	}
	if c.BusinessHours.Start == "" {
		c.BusinessHours.Start = defaultBusinessStart
	}
	if c.BusinessHours.End == "" {
		c.BusinessHours.End = defaultBusinessEnd
	}
	if c.Travel.TimeoutSeconds <= 0 {
		c.Travel.TimeoutSeconds = defaultTravelTimeout
	}
	if c.Travel.CacheTTLMinutes <= 0 {
		c.Travel.CacheTTLMinutes = defaultCacheTTL
	}
	if c.Travel.Matrix == nil {
		c.Travel.Matrix = []RouteConfig{}
	}
	if c.Travel.HTTP.TimeoutSeconds <= 0 {
		c.Travel.HTTP.TimeoutSeconds = defaultHTTPTimeout
	}
	if c.Travel.HTTP.RatePerSecond <= 0 {
		c.Travel.HTTP.RatePerSecond = defaultHTTPRate
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefreshCron
	}
	if c.Feeds == nil {
		c.Feeds = []FeedConfig{}
	}
	for i := range c.Feeds {
		if c.Feeds[i].ID != "" {
			continue
		}
		if c.Feeds[i].Name != "" {
			c.Feeds[i].ID = c.Feeds[i].Name
		} else {
			c.Feeds[i].ID = c.Feeds[i].URL
		}
	}
}

// Validate reports configuration values that cannot be defaulted away.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	for i, r := range c.Travel.Matrix {
		if r.From == "" || r.To == "" {
			return fmt.Errorf("config: travel.matrix[%d]: from and to are required", i)
		}
		if r.Minutes < 0 {
			return fmt.Errorf("config: travel.matrix[%d]: negative minutes", i)
		}
	}
	seen := make(map[string]bool, len(c.Feeds))
	for i, f := range c.Feeds {
		if f.Owner == "" || f.URL == "" {
			return fmt.Errorf("config: feeds[%d]: owner and url are required", i)
		}
		if seen[f.ID] {
			return fmt.Errorf("config: feeds[%d]: duplicate id %q", i, f.ID)
		}
		seen[f.ID] = true
	}
	if _, err := schedule.ParseBusinessHours(c.BusinessHours.Start, c.BusinessHours.End); err != nil {
		return fmt.Errorf("config: business_hours: %w", err)
	}
	if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		return fmt.Errorf("config: refresh %q: %w", c.RefreshCron, err)
	}
	return nil
}

// TravelTimeout is Travel.TimeoutSeconds as a duration.
func (c *Config) TravelTimeout() time.Duration {
	return time.Duration(c.Travel.TimeoutSeconds) * time.Second
}

// TravelCacheTTL is Travel.CacheTTLMinutes as a duration.
func (c *Config) TravelCacheTTL() time.Duration {
	return time.Duration(c.Travel.CacheTTLMinutes) * time.Minute
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
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

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
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

	tmp, err := os.CreateTemp(dir, ".hearingcal-config-*.tmp")
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

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
