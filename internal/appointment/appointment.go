// Package appointment defines the schedulable unit shared by the
// validator, the conflict engine, the stores and the calendar view.
package appointment

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidAppointment is returned by the constructors for partial or
// malformed input.
var ErrInvalidAppointment = errors.New("invalid appointment")

// Kind classifies an appointment. New kinds are added as constants; nothing
// in the validation engine branches on Kind.
type Kind string

const (
	KindHearing Kind = "HEARING"
	KindTask    Kind = "TASK"
	// KindExternal marks commitments imported from subscribed ICS feeds.
	KindExternal Kind = "EXTERNAL"
)

// Appointment is a single commitment on an owner's calendar.
type Appointment struct {
	// ID is assigned by persistence and immutable afterwards.
	ID      string `json:"id,omitempty"`
	OwnerID string `json:"ownerId"`
	Kind    Kind   `json:"kind"`
	Title   string `json:"title"`
	// Location may be empty for kinds that do not need physical presence.
	Location string    `json:"location,omitempty"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`

	// Display metadata; opaque to the engine.
	CaseReference string   `json:"caseReference,omitempty"`
	Status        string   `json:"status,omitempty"`
	Note          string   `json:"note,omitempty"`
	Participants  []string `json:"participants,omitempty"`
}

// Fields carries constructor input. It mirrors Appointment minus the
// identity and kind, which callers never choose.
type Fields struct {
	OwnerID       string
	Title         string
	Location      string
	Start         time.Time
	End           time.Time
	CaseReference string
	Status        string
	Note          string
	Participants  []string
}

// NewHearing builds a hearing. Hearings always take place somewhere, so a
// location is required.
func NewHearing(f Fields) (Appointment, error) {
	if strings.TrimSpace(f.Location) == "" {
		return Appointment{}, fmt.Errorf("%w: hearing requires a location", ErrInvalidAppointment)
	}
	return build(KindHearing, f)
}

// NewTask builds a task. An empty location marks a task that can be done
// from anywhere.
func NewTask(f Fields) (Appointment, error) {
	return build(KindTask, f)
}

// New builds an appointment of an arbitrary kind with the same boundary
// checks as NewTask. Feed importers use it for KindExternal.
func New(kind Kind, f Fields) (Appointment, error) {
	if kind == "" {
		return Appointment{}, fmt.Errorf("%w: kind is required", ErrInvalidAppointment)
	}
	return build(kind, f)
}

func build(kind Kind, f Fields) (Appointment, error) {
	switch {
	case strings.TrimSpace(f.OwnerID) == "":
		return Appointment{}, fmt.Errorf("%w: owner is required", ErrInvalidAppointment)
	case strings.TrimSpace(f.Title) == "":
		return Appointment{}, fmt.Errorf("%w: title is required", ErrInvalidAppointment)
	case f.Start.IsZero() || f.End.IsZero():
		return Appointment{}, fmt.Errorf("%w: start and end are required", ErrInvalidAppointment)
	case !SameDate(f.Start, f.End.In(f.Start.Location())):
		return Appointment{}, fmt.Errorf("%w: start and end must fall on the same date", ErrInvalidAppointment)
	}

	var participants []string
	if len(f.Participants) > 0 {
		participants = append([]string(nil), f.Participants...)
	}

	return Appointment{
		OwnerID:       f.OwnerID,
		Kind:          kind,
		Title:         strings.TrimSpace(f.Title),
		Location:      NormalizeLocation(f.Location),
		Start:         f.Start,
		End:           f.End.In(f.Start.Location()),
		CaseReference: f.CaseReference,
		Status:        f.Status,
		Note:          f.Note,
		Participants:  participants,
	}, nil
}

// NewID returns a fresh opaque identifier.
func NewID() string {
	return uuid.NewString()
}

// WithID returns a copy carrying id. An appointment that already has an ID
// keeps it.
func (a Appointment) WithID(id string) Appointment {
	if a.ID != "" {
		return a
	}
	a.ID = id
	return a
}

// Date is the calendar date of Start, at midnight in Start's location.
func (a Appointment) Date() time.Time {
	return DateOf(a.Start)
}

// Duration is End - Start.
func (a Appointment) Duration() time.Duration {
	return a.End.Sub(a.Start)
}

// NormalizeLocation is the canonical form of a location name. Appointments
// and color registry keys both go through it; case is preserved.
func NormalizeLocation(s string) string {
	return strings.TrimSpace(s)
}

// Overlaps reports whether the half-open intervals [Start, End) intersect.
func (a Appointment) Overlaps(b Appointment) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// Equal compares appointments by identity.
func Equal(a, b Appointment) bool {
	return a.ID == b.ID
}

// DateOf truncates t to midnight in its own location.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// SameDate reports whether a and b fall on the same calendar date, each
// read in its own location.
func SameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// DayKey formats the calendar date of t as YYYY-MM-DD.
func DayKey(t time.Time) string {
	return t.Format(time.DateOnly)
}
