// Package travel provides concrete travel-time estimators for the
// scheduling engine: a static route table, an HTTP routing backend, a TTL
// cache and a fallback chain.
package travel

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnknownRoute is returned when a provider has no estimate for a pair.
var ErrUnknownRoute = errors.New("travel: unknown route")

// Provider is the estimator contract shared by every implementation here.
// It matches schedule.TravelProvider.
type Provider interface {
	Estimate(ctx context.Context, from, to string) (time.Duration, error)
}

// Route is one symmetric entry of a Matrix.
type Route struct {
	From     string
	To       string
	Duration time.Duration
}

// Matrix is a static, symmetric route table. Location names are matched
// exactly.
type Matrix struct {
	routes map[routeKey]time.Duration
}

// routeKey is an unordered location pair.
type routeKey struct{ a, b string }

func keyFor(from, to string) routeKey {
	if from > to {
		from, to = to, from
	}
	return routeKey{a: from, b: to}
}

// NewMatrix builds a Matrix. Later duplicates of the same pair win.
func NewMatrix(routes []Route) (*Matrix, error) {
	m := &Matrix{routes: make(map[routeKey]time.Duration, len(routes))}
	for i, r := range routes {
		if r.From == "" || r.To == "" {
			return nil, fmt.Errorf("travel: route %d: empty location", i)
		}
		if r.Duration < 0 {
			return nil, fmt.Errorf("travel: route %d (%s -> %s): negative duration", i, r.From, r.To)
		}
		m.routes[keyFor(r.From, r.To)] = r.Duration
	}
	return m, nil
}

// Estimate implements Provider.
func (m *Matrix) Estimate(_ context.Context, from, to string) (time.Duration, error) {
	if from == to {
		return 0, nil
	}
	d, ok := m.routes[keyFor(from, to)]
	if !ok {
		return 0, fmt.Errorf("%w: %s -> %s", ErrUnknownRoute, from, to)
	}
	return d, nil
}

// Len reports how many routes the table holds.
func (m *Matrix) Len() int {
	return len(m.routes)
}

// Chain asks each provider in order and returns the first success. If all
// fail, the last error is returned.
type Chain []Provider

// Estimate implements Provider.
func (c Chain) Estimate(ctx context.Context, from, to string) (time.Duration, error) {
	if from == to {
		return 0, nil
	}
	err := fmt.Errorf("%w: %s -> %s", ErrUnknownRoute, from, to)
	for _, p := range c {
		if p == nil {
			continue
		}
		d, perr := p.Estimate(ctx, from, to)
		if perr == nil {
			return d, nil
		}
		err = perr
		if ctx.Err() != nil {
			break
		}
	}
	return 0, err
}
