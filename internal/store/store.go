// Package store persists appointments and location colors.
//
// The one operation that needs care is InsertIfNonConflicting. Two
// requests validating the same owner's day concurrently can both pass
// validation before either writes. Every (owner, day) therefore carries a
// revision counter that each write bumps; an insert succeeds only if the
// revision the caller validated against is still current and the
// commit-time check still passes, both inside one write transaction.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hearingcal/internal/appointment"
	"hearingcal/internal/schedule"
)

var (
	// ErrConflict is matched by every *ConflictError.
	ErrConflict = errors.New("store: conflicting appointment")
	// ErrNotFound is returned when an appointment does not exist for the owner.
	ErrNotFound = errors.New("store: appointment not found")
)

// Revision identifies one version of an owner's day. It starts at 0 and
// grows with every insert or delete on that day.
type Revision int64

// CheckFunc re-validates the candidate against the rows read inside the
// write transaction. It must not block on I/O.
type CheckFunc func(candidate appointment.Appointment, existing []appointment.Appointment) schedule.Result

// ConflictError reports a stale day revision or a failed commit-time check.
// A stale revision means the day moved on, not that the candidate clashes.
type ConflictError struct {
	Result schedule.Result
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("store: conflict (%s): %s", e.Result.ReasonCode, e.Result.Message)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// Appointments is the persistence contract the booking service relies on.
type Appointments interface {
	// ListForOwnerOnDate returns the owner's appointments on the calendar
	// date of day and the day's current revision.
	ListForOwnerOnDate(ctx context.Context, owner string, day time.Time) ([]appointment.Appointment, Revision, error)

	// InsertIfNonConflicting assigns an ID and stores a, provided the
	// day's revision still equals expected and check passes. Otherwise it
	// returns a *ConflictError and writes nothing.
	InsertIfNonConflicting(ctx context.Context, a appointment.Appointment, expected Revision, check CheckFunc) (appointment.Appointment, error)

	Get(ctx context.Context, owner, id string) (appointment.Appointment, error)
	Delete(ctx context.Context, owner, id string) error

	// Appointments returns the owner's appointments intersecting
	// [from, to). It makes the store usable as a calendar source.
	Appointments(ctx context.Context, owner string, from, to time.Time) ([]appointment.Appointment, error)
}

func staleRevision(expected, current Revision) *ConflictError {
	return &ConflictError{Result: schedule.StoreConflict(fmt.Sprintf(
		"another change to this day was saved after the appointment was validated (revision %d, now %d); it may not clash, but validate it again before saving",
		expected, current,
	))}
}
