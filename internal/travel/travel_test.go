package travel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"hearingcal/internal/clock"
	"hearingcal/internal/config"
)

func TestMatrixIsSymmetric(t *testing.T) {
	m, err := NewMatrix([]Route{{From: "Court A", To: "Court B", Duration: 30 * time.Minute}})
	if err != nil {
		t.Fatalf("NewMatrix: %v", err)
	}
	ctx := context.Background()

	for _, p := range [][2]string{{"Court A", "Court B"}, {"Court B", "Court A"}} {
		d, err := m.Estimate(ctx, p[0], p[1])
		if err != nil || d != 30*time.Minute {
			t.Errorf("Estimate(%s, %s) = %v, %v", p[0], p[1], d, err)
		}
	}
	if d, err := m.Estimate(ctx, "Court C", "Court C"); err != nil || d != 0 {
		t.Errorf("same location = %v, %v; want 0", d, err)
	}
	if _, err := m.Estimate(ctx, "Court A", "Court C"); !errors.Is(err, ErrUnknownRoute) {
		t.Errorf("expected ErrUnknownRoute, got %v", err)
	}
}

func TestNewMatrixRejectsBadRoutes(t *testing.T) {
	if _, err := NewMatrix([]Route{{From: "A", Duration: time.Minute}}); err == nil {
		t.Errorf("expected error for empty location")
	}
	if _, err := NewMatrix([]Route{{From: "A", To: "B", Duration: -time.Minute}}); err == nil {
		t.Errorf("expected error for negative duration")
	}
}

type countingProvider struct {
	calls atomic.Int32
	d     time.Duration
	err   error
}

func (c *countingProvider) Estimate(context.Context, string, string) (time.Duration, error) {
	c.calls.Add(1)
	return c.d, c.err
}

func TestChainFallsThrough(t *testing.T) {
	ctx := context.Background()
	first := &countingProvider{err: ErrUnknownRoute}
	second := &countingProvider{d: 12 * time.Minute}

	d, err := Chain{first, nil, second}.Estimate(ctx, "A", "B")
	if err != nil || d != 12*time.Minute {
		t.Fatalf("Estimate = %v, %v", d, err)
	}
	if first.calls.Load() != 1 || second.calls.Load() != 1 {
		t.Errorf("calls = %d, %d", first.calls.Load(), second.calls.Load())
	}

	failing := &countingProvider{err: errors.New("backend down")}
	if _, err := (Chain{failing}).Estimate(ctx, "A", "B"); err == nil || err.Error() != "backend down" {
		t.Errorf("expected last error, got %v", err)
	}
}

func TestCachedHonorsTTL(t *testing.T) {
	ctx := context.Background()
	clk := clock.Fake(time.Date(2026, 11, 2, 9, 0, 0, 0, time.UTC))
	inner := &countingProvider{d: 20 * time.Minute}
	c := NewCached(inner, time.Hour, clk)

	for i := 0; i < 3; i++ {
		if d, err := c.Estimate(ctx, "A", "B"); err != nil || d != 20*time.Minute {
			t.Fatalf("Estimate = %v, %v", d, err)
		}
	}
	// Reverse direction shares the entry.
	_, _ = c.Estimate(ctx, "B", "A")
	if n := inner.calls.Load(); n != 1 {
		t.Errorf("inner calls = %d, want 1", n)
	}

	clk.Advance(2 * time.Hour)
	if removed := c.Purge(); removed != 1 {
		t.Errorf("Purge removed %d, want 1", removed)
	}
	_, _ = c.Estimate(ctx, "A", "B")
	if n := inner.calls.Load(); n != 2 {
		t.Errorf("inner calls after expiry = %d, want 2", n)
	}
}

func TestCachedDoesNotCacheErrors(t *testing.T) {
	inner := &countingProvider{err: errors.New("timeout")}
	c := NewCached(inner, time.Hour, nil)
	for i := 0; i < 2; i++ {
		if _, err := c.Estimate(context.Background(), "A", "B"); err == nil {
			t.Fatalf("expected error")
		}
	}
	if inner.calls.Load() != 2 || c.Len() != 0 {
		t.Errorf("errors were cached: calls=%d len=%d", inner.calls.Load(), c.Len())
	}
}

func TestHTTPProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		from, to := r.URL.Query().Get("from"), r.URL.Query().Get("to")
		switch {
		case from == "Court A" && to == "Court B":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"seconds": 1800}`)
		case from == "Court A" && to == "Court X":
			http.NotFound(w, r)
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(HTTPConfig{BaseURL: srv.URL + "/route", RatePerSecond: 100})
	if err != nil {
		t.Fatalf("NewHTTPProvider: %v", err)
	}
	ctx := context.Background()

	d, err := p.Estimate(ctx, "Court A", "Court B")
	if err != nil || d != 30*time.Minute {
		t.Errorf("Estimate = %v, %v; want 30m", d, err)
	}
	if _, err := p.Estimate(ctx, "Court A", "Court X"); !errors.Is(err, ErrUnknownRoute) {
		t.Errorf("expected ErrUnknownRoute, got %v", err)
	}
	if _, err := p.Estimate(ctx, "Court B", "Court C"); err == nil {
		t.Errorf("expected error on 500")
	}
	if d, err := p.Estimate(ctx, "Court A", "Court A"); err != nil || d != 0 {
		t.Errorf("same location = %v, %v", d, err)
	}
}

func TestHTTPProviderHonorsContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	p, err := NewHTTPProvider(HTTPConfig{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewHTTPProvider: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := p.Estimate(ctx, "A", "B"); err == nil {
		t.Errorf("expected error on cancelled context")
	}
}

func TestNewHTTPProviderValidatesURL(t *testing.T) {
	for _, bad := range []string{"", "ftp://example.com", "://bad"} {
		if _, err := NewHTTPProvider(HTTPConfig{BaseURL: bad}); err == nil {
			t.Errorf("NewHTTPProvider(%q) should fail", bad)
		}
	}
}

func TestFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Travel.Matrix = []config.RouteConfig{{From: "Court A", To: "Court B", Minutes: 30}}

	p, cache, err := FromConfig(cfg, nil)
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	d, err := p.Estimate(context.Background(), "Court B", "Court A")
	if err != nil || d != 30*time.Minute {
		t.Errorf("Estimate = %v, %v", d, err)
	}
	if cache.Len() != 1 {
		t.Errorf("cache.Len = %d, want 1", cache.Len())
	}
}
