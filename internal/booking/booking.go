// Package booking runs the two-phase validate/commit protocol.
//
// Validation (including travel estimates) runs without holding any store
// lock. The commit then asks the store to insert only if the owner's day is
// unchanged since it was read and the static and overlap rules still hold
// against the rows seen inside the write transaction.
package booking

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"hearingcal/internal/appointment"
	appLog "hearingcal/internal/log"
	"hearingcal/internal/schedule"
	"hearingcal/internal/store"
)

// Commitments supplies read-only appointments that the owner cannot move,
// such as imported court dockets. They count as existing schedule entries
// but are never written to the store.
type Commitments interface {
	Name() string
	Appointments(ctx context.Context, owner string, from, to time.Time) ([]appointment.Appointment, error)
}

// Service books appointments for owners.
type Service struct {
	store  store.Appointments
	engine *schedule.Engine
	extra  []Commitments
}

func NewService(s store.Appointments, e *schedule.Engine, extra ...Commitments) *Service {
	return &Service{store: s, engine: e, extra: extra}
}

// Validate checks candidate against the owner's current day without an
// override. Nothing is persisted.
func (s *Service) Validate(ctx context.Context, candidate appointment.Appointment) (schedule.Result, error) {
	rows, external, _, err := s.day(ctx, candidate)
	if err != nil {
		return schedule.Result{}, err
	}
	return s.engine.ValidateAgainstSchedule(ctx, candidate, append(rows, external...), schedule.Options{})
}

// Create validates and persists candidate. The returned Result explains a
// refusal; err is reserved for infrastructure failures and cancellation.
// On success the stored appointment carries its new ID and the Result is
// the validation outcome (OK or TRAVEL_UNKNOWN, or OK after an override).
func (s *Service) Create(ctx context.Context, candidate appointment.Appointment, override bool) (appointment.Appointment, schedule.Result, error) {
	if candidate.ID != "" {
		return appointment.Appointment{}, schedule.Result{}, fmt.Errorf("%w: new appointment must not carry an id", appointment.ErrInvalidAppointment)
	}

	rows, external, rev, err := s.day(ctx, candidate)
	if err != nil {
		return appointment.Appointment{}, schedule.Result{}, err
	}
	existing := append(slices.Clip(rows), external...)
	res, err := s.engine.ValidateAgainstSchedule(ctx, candidate, existing, schedule.Options{OverrideTravelWarning: override})
	if err != nil {
		return appointment.Appointment{}, schedule.Result{}, err
	}
	if !res.Valid {
		return appointment.Appointment{}, res, nil
	}

	check := func(c appointment.Appointment, rows []appointment.Appointment) schedule.Result {
		return s.engine.CheckSchedule(c, append(slices.Clip(rows), external...))
	}

	saved, err := s.store.InsertIfNonConflicting(ctx, candidate, rev, check)
	if err != nil {
		var ce *store.ConflictError
		if errors.As(err, &ce) {
			appLog.Info("booking rejected at commit",
				"owner", candidate.OwnerID,
				"title", candidate.Title,
				"reason", string(ce.Result.ReasonCode),
			)
			return appointment.Appointment{}, ce.Result, nil
		}
		return appointment.Appointment{}, schedule.Result{}, err
	}

	appLog.Info("appointment booked",
		"id", saved.ID,
		"owner", saved.OwnerID,
		"start", saved.Start.Format(time.RFC3339),
		"override", override,
		"reason", string(res.ReasonCode),
	)
	return saved, res, nil
}

// Delete removes one of the owner's appointments.
func (s *Service) Delete(ctx context.Context, owner, id string) error {
	if err := s.store.Delete(ctx, owner, id); err != nil {
		return err
	}
	appLog.Info("appointment deleted", "id", id, "owner", owner)
	return nil
}

// day returns the stored appointments on candidate's date, the external
// commitments on that date, and the store revision.
func (s *Service) day(ctx context.Context, candidate appointment.Appointment) (rows, external []appointment.Appointment, rev store.Revision, err error) {
	rows, rev, err = s.store.ListForOwnerOnDate(ctx, candidate.OwnerID, candidate.Start)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("booking: load schedule: %w", err)
	}

	from := appointment.DateOf(candidate.Start)
	to := from.AddDate(0, 0, 1)
	for _, src := range s.extra {
		ext, err := src.Appointments(ctx, candidate.OwnerID, from, to)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, nil, 0, ctxErr
			}
			appLog.Error("external commitments unavailable; validating without them", err,
				"source", src.Name(),
				"owner", candidate.OwnerID,
			)
			continue
		}
		for _, a := range ext {
			a.OwnerID = candidate.OwnerID
			a.Kind = appointment.KindExternal
			external = append(external, a)
		}
	}
	return rows, external, rev, nil
}
