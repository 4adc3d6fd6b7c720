package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadCreatesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.BusinessHours.Start != "09:30" || cfg.BusinessHours.End != "15:30" {
		t.Errorf("unexpected default business hours: %+v", cfg.BusinessHours)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("expected config file to be written: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("config perms = %o, want 600", perm)
	}
}

func TestLoadNormalizesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := []byte(`
listen: "0.0.0.0:9000"
travel:
  matrix:
    - from: "High Court"
      to: "District Court"
      minutes: 25
feeds:
  - owner: "adv-mehta"
    url: "https://example.com/docket.ics"
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Listen != "0.0.0.0:9000" {
		t.Errorf("Listen = %q", cfg.Listen)
	}
	if cfg.Timezone != defaultTimezone {
		t.Errorf("Timezone = %q, want default", cfg.Timezone)
	}
	if got := cfg.TravelTimeout(); got != 3*time.Second {
		t.Errorf("TravelTimeout = %v, want 3s", got)
	}
	if len(cfg.Travel.Matrix) != 1 || cfg.Travel.Matrix[0].Minutes != 25 {
		t.Errorf("unexpected matrix: %+v", cfg.Travel.Matrix)
	}
	if cfg.Feeds[0].ID != "https://example.com/docket.ics" {
		t.Errorf("feed id not defaulted: %q", cfg.Feeds[0].ID)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }},
		{"route without endpoint", func(c *Config) {
			c.Travel.Matrix = []RouteConfig{{From: "A", Minutes: 5}}
		}},
		{"negative route", func(c *Config) {
			c.Travel.Matrix = []RouteConfig{{From: "A", To: "B", Minutes: -1}}
		}},
		{"feed without owner", func(c *Config) {
			c.Feeds = []FeedConfig{{URL: "https://example.com/a.ics"}}
		}},
		{"duplicate feed id", func(c *Config) {
			c.Feeds = []FeedConfig{
				{Owner: "a", ID: "x", URL: "https://example.com/a.ics"},
				{Owner: "b", ID: "x", URL: "https://example.com/b.ics"},
			}
		}},
		{"inverted business hours", func(c *Config) {
			c.BusinessHours = BusinessHoursConfig{Start: "15:30", End: "09:30"}
		}},
		{"bad refresh schedule", func(c *Config) { c.RefreshCron = "every five minutes" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("expected validation error")
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.Database = ""
	cfg.BusinessHours.End = "16:00"

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.BusinessHours.End != "16:00" {
		t.Errorf("BusinessHours.End = %q, want 16:00", loaded.BusinessHours.End)
	}
	if loaded.Database != "" {
		t.Errorf("Database = %q, want empty", loaded.Database)
	}
}
