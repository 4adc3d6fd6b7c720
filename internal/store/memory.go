package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"hearingcal/internal/appointment"
)

// Memory is an in-process Appointments implementation. It is used when no
// database path is configured and by tests.
type Memory struct {
	loc *time.Location

	mu        sync.Mutex
	byID      map[string]appointment.Appointment
	revisions map[dayKey]Revision
}

type dayKey struct {
	owner string
	day   string
}

var _ Appointments = (*Memory)(nil)

func NewMemory(loc *time.Location) *Memory {
	if loc == nil {
		loc = time.Local
	}
	return &Memory{
		loc:       loc,
		byID:      make(map[string]appointment.Appointment),
		revisions: make(map[dayKey]Revision),
	}
}

func (m *Memory) Name() string { return "appointments" }

func (m *Memory) key(owner string, t time.Time) dayKey {
	return dayKey{owner: owner, day: appointment.DayKey(t.In(m.loc))}
}

func (m *Memory) ListForOwnerOnDate(ctx context.Context, owner string, day time.Time) ([]appointment.Appointment, Revision, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := m.key(owner, day)
	return m.dayLocked(k), m.revisions[k], nil
}

func (m *Memory) InsertIfNonConflicting(ctx context.Context, a appointment.Appointment, expected Revision, check CheckFunc) (appointment.Appointment, error) {
	if a.ID != "" {
		return appointment.Appointment{}, fmt.Errorf("store: insert: appointment already has id %q", a.ID)
	}
	if err := ctx.Err(); err != nil {
		return appointment.Appointment{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	k := m.key(a.OwnerID, a.Start)
	if current := m.revisions[k]; current != expected {
		return appointment.Appointment{}, staleRevision(expected, current)
	}
	if check != nil {
		if res := check(a, m.dayLocked(k)); !res.Valid {
			return appointment.Appointment{}, &ConflictError{Result: res}
		}
	}

	a = a.WithID(appointment.NewID())
	a.Participants = slices.Clone(a.Participants)
	m.byID[a.ID] = a
	m.revisions[k]++
	return a, nil
}

func (m *Memory) Get(ctx context.Context, owner, id string) (appointment.Appointment, error) {
	if err := ctx.Err(); err != nil {
		return appointment.Appointment{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok || a.OwnerID != owner {
		return appointment.Appointment{}, ErrNotFound
	}
	return a, nil
}

func (m *Memory) Delete(ctx context.Context, owner, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok || a.OwnerID != owner {
		return ErrNotFound
	}
	delete(m.byID, id)
	m.revisions[m.key(owner, a.Start)]++
	return nil
}

func (m *Memory) Appointments(ctx context.Context, owner string, from, to time.Time) ([]appointment.Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []appointment.Appointment
	for _, a := range m.byID {
		if a.OwnerID == owner && a.Start.Before(to) && a.End.After(from) {
			out = append(out, a)
		}
	}
	sortAppointments(out)
	return out, nil
}

func (m *Memory) dayLocked(k dayKey) []appointment.Appointment {
	var out []appointment.Appointment
	for _, a := range m.byID {
		if a.OwnerID == k.owner && appointment.DayKey(a.Start.In(m.loc)) == k.day {
			out = append(out, a)
		}
	}
	sortAppointments(out)
	return out
}

func sortAppointments(as []appointment.Appointment) {
	slices.SortFunc(as, func(a, b appointment.Appointment) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		if c := a.End.Compare(b.End); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
