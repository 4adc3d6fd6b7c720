package travel

import (
	"time"

	"hearingcal/internal/clock"
	"hearingcal/internal/config"
	appLog "hearingcal/internal/log"
)

// FromConfig assembles the provider stack described by cfg: the static
// matrix first, then the HTTP backend when configured, all behind a TTL
// cache. The cache is returned separately so maintenance jobs can purge it.
func FromConfig(cfg *config.Config, clk clock.Clock) (Provider, *Cached, error) {
	routes := make([]Route, 0, len(cfg.Travel.Matrix))
	for _, r := range cfg.Travel.Matrix {
		routes = append(routes, Route{
			From:     r.From,
			To:       r.To,
			Duration: time.Duration(r.Minutes) * time.Minute,
		})
	}
	matrix, err := NewMatrix(routes)
	if err != nil {
		return nil, nil, err
	}

	chain := Chain{matrix}
	if cfg.Travel.HTTP.BaseURL != "" {
		hp, err := NewHTTPProvider(HTTPConfig{
			BaseURL:       cfg.Travel.HTTP.BaseURL,
			Timeout:       time.Duration(cfg.Travel.HTTP.TimeoutSeconds) * time.Second,
			RatePerSecond: cfg.Travel.HTTP.RatePerSecond,
		})
		if err != nil {
			return nil, nil, err
		}
		chain = append(chain, hp)
	}

	cached := NewCached(chain, cfg.TravelCacheTTL(), clk)
	appLog.Info("travel providers configured",
		"matrix_routes", matrix.Len(),
		"http_backend", cfg.Travel.HTTP.BaseURL != "",
		"cache_ttl", cfg.TravelCacheTTL().String(),
	)
	return cached, cached, nil
}
