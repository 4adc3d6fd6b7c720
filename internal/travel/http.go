package travel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	appLog "hearingcal/internal/log"
)

// HTTPConfig configures an HTTPProvider.
type HTTPConfig struct {
	// BaseURL is queried as BaseURL?from=<a>&to=<b> and must answer
	// {"seconds": N}. Status 404 means the backend knows no route.
	BaseURL string

	// Timeout bounds a single request. Defaults to 5s.
	Timeout time.Duration

	// RatePerSecond limits outbound requests. Defaults to 5.
	RatePerSecond float64

	// Client overrides the HTTP client (tests).
	Client *http.Client
}

// HTTPProvider estimates travel time through a JSON routing endpoint.
type HTTPProvider struct {
	base    *url.URL
	client  *http.Client
	limiter *rate.Limiter
}

type estimateResponse struct {
	Seconds *float64 `json:"seconds"`
}

// NewHTTPProvider validates cfg and returns a provider.
func NewHTTPProvider(cfg HTTPConfig) (*HTTPProvider, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("travel: http base URL is empty")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("travel: http base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("travel: http base URL %q must be http or https", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 5
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	burst := int(cfg.RatePerSecond)
	if burst < 1 {
		burst = 1
	}
	return &HTTPProvider{
		base:    base,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst),
	}, nil
}

// Estimate implements Provider.
func (p *HTTPProvider) Estimate(ctx context.Context, from, to string) (time.Duration, error) {
	if from == to {
		return 0, nil
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("travel: rate limit: %w", err)
	}

	u := *p.base
	q := u.Query()
	q.Set("from", from)
	q.Set("to", to)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("travel: request %s -> %s: %w", from, to, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return 0, fmt.Errorf("%w: %s -> %s", ErrUnknownRoute, from, to)
	default:
		return 0, fmt.Errorf("travel: routing backend returned %s", resp.Status)
	}

	var body estimateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body); err != nil {
		return 0, fmt.Errorf("travel: decode estimate: %w", err)
	}
	if body.Seconds == nil || *body.Seconds < 0 {
		return 0, fmt.Errorf("travel: routing backend returned no usable seconds for %s -> %s", from, to)
	}

	d := time.Duration(*body.Seconds * float64(time.Second))
	appLog.Debug("travel estimate fetched", "from", from, "to", to, "seconds", *body.Seconds)
	return d, nil
}
