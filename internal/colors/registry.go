// Package colors maps an owner's locations to display colors.
//
// The registry is the only persistent state the calendar view reads for
// coloring. Entries are created, updated and removed explicitly by the
// owner; lookups never create entries and fall back to DefaultColor.
package colors

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"hearingcal/internal/appointment"
	appLog "hearingcal/internal/log"
)

var (
	// ErrEmptyLocation is returned when setting a color for "".
	ErrEmptyLocation = errors.New("colors: location is empty")
	// ErrStoreUnavailable wraps persistence failures. Callers may retry.
	ErrStoreUnavailable = errors.New("colors: store unavailable")
)

// Store persists (owner, location) -> color entries. The registry hands it
// normalized keys, which it compares exactly, including case.
type Store interface {
	GetColor(ctx context.Context, owner, location string) (Color, bool, error)
	PutColor(ctx context.Context, owner, location string, c Color) error
	DeleteColor(ctx context.Context, owner, location string) error
	ListColors(ctx context.Context, owner string) (map[string]Color, error)
}

// Registry is the owner-scoped color registry. Safe for concurrent use;
// writes to the same (owner, location) key are serialized.
type Registry struct {
	store Store

	mu    sync.Mutex
	locks map[entryKey]*keyLock
}

type entryKey struct {
	owner    string
	location string
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewRegistry wraps store.
func NewRegistry(store Store) *Registry {
	return &Registry{
		store: store,
		locks: make(map[entryKey]*keyLock),
	}
}

// GetColor returns the mapped color or DefaultColor. It never fails: a
// store read error is logged and the default returned.
func (r *Registry) GetColor(ctx context.Context, owner, location string) Color {
	location = appointment.NormalizeLocation(location)
	if location == "" {
		return DefaultColor
	}
	c, ok, err := r.store.GetColor(ctx, owner, location)
	if err != nil {
		appLog.Error("color lookup failed; using default", err, "owner", owner, "location", location)
		return DefaultColor
	}
	if !ok {
		return DefaultColor
	}
	return c
}

// SetColor upserts one entry. Keys are normalized the way appointment
// locations are, so surrounding whitespace never splits an entry.
func (r *Registry) SetColor(ctx context.Context, owner, location string, c Color) error {
	location = appointment.NormalizeLocation(location)
	if location == "" {
		return ErrEmptyLocation
	}
	unlock := r.lock(owner, location)
	defer unlock()

	if err := r.store.PutColor(ctx, owner, location, c); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	appLog.Debug("location color set", "owner", owner, "location", location, "color", c.String())
	return nil
}

// RemoveColor deletes an entry. Removing an absent entry is not an error.
func (r *Registry) RemoveColor(ctx context.Context, owner, location string) error {
	location = appointment.NormalizeLocation(location)
	if location == "" {
		return nil
	}
	unlock := r.lock(owner, location)
	defer unlock()

	if err := r.store.DeleteColor(ctx, owner, location); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// ListColors returns every entry for owner.
func (r *Registry) ListColors(ctx context.Context, owner string) (map[string]Color, error) {
	m, err := r.store.ListColors(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if m == nil {
		m = map[string]Color{}
	}
	return m, nil
}

// lock takes the per-key write lock and returns its release func. Lock
// entries are dropped once nobody holds or waits on them.
func (r *Registry) lock(owner, location string) func() {
	k := entryKey{owner: owner, location: location}

	r.mu.Lock()
	l, ok := r.locks[k]
	if !ok {
		l = &keyLock{}
		r.locks[k] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		r.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, k)
		}
		r.mu.Unlock()
	}
}
