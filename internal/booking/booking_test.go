package booking

import (
	"context"
	"errors"
	"testing"
	"time"

	"hearingcal/internal/appointment"
	"hearingcal/internal/clock"
	"hearingcal/internal/schedule"
	"hearingcal/internal/store"
)

var ist = time.FixedZone("IST", 5*3600+1800)

func at(h, m int) time.Time {
	return time.Date(2026, 11, 3, h, m, 0, 0, ist)
}

type routes map[[2]string]time.Duration

func (r routes) Estimate(_ context.Context, from, to string) (time.Duration, error) {
	if d, ok := r[[2]string{from, to}]; ok {
		return d, nil
	}
	if d, ok := r[[2]string{to, from}]; ok {
		return d, nil
	}
	return 0, errors.New("no route")
}

type docket []appointment.Appointment

func (d docket) Name() string { return "docket" }

func (d docket) Appointments(_ context.Context, _ string, from, to time.Time) ([]appointment.Appointment, error) {
	var out []appointment.Appointment
	for _, a := range d {
		if a.Start.Before(to) && a.End.After(from) {
			out = append(out, a)
		}
	}
	return out, nil
}

type brokenSource struct{}

func (brokenSource) Name() string { return "broken" }
func (brokenSource) Appointments(context.Context, string, time.Time, time.Time) ([]appointment.Appointment, error) {
	return nil, errors.New("feed down")
}

func hearing(t *testing.T, title, loc string, start, end time.Time) appointment.Appointment {
	t.Helper()
	a, err := appointment.NewHearing(appointment.Fields{
		OwnerID:  "adv-rao",
		Title:    title,
		Location: loc,
		Start:    start,
		End:      end,
	})
	if err != nil {
		t.Fatalf("NewHearing: %v", err)
	}
	return a
}

func newService(s store.Appointments, extra ...Commitments) *Service {
	e := schedule.NewEngine(schedule.EngineConfig{
		Provider: routes{
			{"Court A", "Court B"}: 30 * time.Minute,
		},
		ProviderTimeout: 50 * time.Millisecond,
		Clock:           clock.Fake(time.Date(2026, 11, 2, 8, 0, 0, 0, ist)),
	})
	return NewService(s, e, extra...)
}

func TestCreateThenOverlapIsRejected(t *testing.T) {
	ctx := context.Background()
	svc := newService(store.NewMemory(ist))

	saved, res, err := svc.Create(ctx, hearing(t, "Bail", "Court A", at(10, 0), at(11, 0)), false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !res.Valid || saved.ID == "" {
		t.Fatalf("first booking refused: %+v", res)
	}

	_, res, err = svc.Create(ctx, hearing(t, "Motion", "Court A", at(10, 30), at(11, 30)), true)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if res.Valid || res.ReasonCode != schedule.ReasonOverlap {
		t.Fatalf("overlap with override = %+v, want OVERLAP", res)
	}
}

func TestTravelShortfallNeedsOverride(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory(ist)
	svc := newService(mem)

	if _, _, err := svc.Create(ctx, hearing(t, "Bail", "Court A", at(10, 0), at(11, 0)), false); err != nil {
		t.Fatalf("Create: %v", err)
	}
	next := hearing(t, "Motion", "Court B", at(11, 5), at(11, 30))

	res, err := svc.Validate(ctx, next)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.ReasonCode != schedule.ReasonInsufficientTravelTime || res.AvailableGapSeconds != 300 || res.RequiredTravelSeconds != 1800 {
		t.Fatalf("Validate = %+v", res)
	}

	_, res, err = svc.Create(ctx, next, false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if res.Valid {
		t.Fatalf("shortfall booked without override")
	}

	saved, res, err := svc.Create(ctx, next, true)
	if err != nil {
		t.Fatalf("Create with override: %v", err)
	}
	if !res.Valid || saved.ID == "" {
		t.Fatalf("override refused: %+v", res)
	}
	day, _, _ := mem.ListForOwnerOnDate(ctx, "adv-rao", at(10, 0))
	if len(day) != 2 {
		t.Errorf("stored %d appointments, want 2", len(day))
	}
}

func TestTravelUnknownIsBooked(t *testing.T) {
	ctx := context.Background()
	svc := newService(store.NewMemory(ist))

	if _, _, err := svc.Create(ctx, hearing(t, "Bail", "Court A", at(10, 0), at(11, 0)), false); err != nil {
		t.Fatalf("Create: %v", err)
	}
	saved, res, err := svc.Create(ctx, hearing(t, "Site visit", "Registry", at(11, 5), at(11, 30)), false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !res.Valid || res.ReasonCode != schedule.ReasonTravelUnknown || saved.ID == "" {
		t.Fatalf("got %+v, want booked with TRAVEL_UNKNOWN", res)
	}
}

func TestExternalCommitmentsCount(t *testing.T) {
	ctx := context.Background()
	listed := hearing(t, "Cause list item 14", "Court A", at(10, 0), at(11, 0))
	listed.OwnerID = ""
	svc := newService(store.NewMemory(ist), brokenSource{}, docket{listed})

	call, err := appointment.NewTask(appointment.Fields{
		OwnerID: "adv-rao",
		Title:   "Client call",
		Start:   at(10, 30),
		End:     at(10, 45),
	})
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}
	_, res, err := svc.Create(ctx, call, false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if res.ReasonCode != schedule.ReasonOverlap {
		t.Fatalf("got %+v, want OVERLAP against docket entry", res)
	}

	saved, res, err := svc.Create(ctx, hearing(t, "Conference", "Court A", at(11, 15), at(12, 0)), false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !res.Valid || saved.ID == "" {
		t.Fatalf("non-overlapping booking refused: %+v", res)
	}
}

// racingStore lets another booking commit between the read and the insert.
type racingStore struct {
	*store.Memory
	t     *testing.T
	raced bool
}

func (r *racingStore) InsertIfNonConflicting(ctx context.Context, a appointment.Appointment, expected store.Revision, check store.CheckFunc) (appointment.Appointment, error) {
	if !r.raced {
		r.raced = true
		other := hearing(r.t, "Other clerk's booking", "Court B", at(10, 0), at(11, 0))
		if _, err := r.Memory.InsertIfNonConflicting(ctx, other, expected, check); err != nil {
			r.t.Fatalf("racing insert: %v", err)
		}
	}
	return r.Memory.InsertIfNonConflicting(ctx, a, expected, check)
}

func TestLostRaceReportsStoreConflict(t *testing.T) {
	ctx := context.Background()
	rs := &racingStore{Memory: store.NewMemory(ist), t: t}
	svc := newService(rs)

	saved, res, err := svc.Create(ctx, hearing(t, "Bail", "Court A", at(10, 0), at(11, 0)), false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if res.Valid || res.ReasonCode != schedule.ReasonStoreConflict {
		t.Fatalf("got %+v, want STORE_CONFLICT", res)
	}
	if saved.ID != "" {
		t.Errorf("conflicting booking returned id %q", saved.ID)
	}
}

func TestCreateRejectsPresetID(t *testing.T) {
	svc := newService(store.NewMemory(ist))
	a := hearing(t, "Bail", "Court A", at(10, 0), at(11, 0)).WithID("chosen")
	if _, _, err := svc.Create(context.Background(), a, false); !errors.Is(err, appointment.ErrInvalidAppointment) {
		t.Fatalf("err = %v, want ErrInvalidAppointment", err)
	}
}

func TestCreateCancelled(t *testing.T) {
	mem := store.NewMemory(ist)
	svc := newService(mem)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, _, err := svc.Create(ctx, hearing(t, "Bail", "Court A", at(10, 0), at(11, 0)), false); err == nil {
		t.Fatalf("cancelled Create succeeded")
	}
	day, _, _ := mem.ListForOwnerOnDate(context.Background(), "adv-rao", at(10, 0))
	if len(day) != 0 {
		t.Errorf("cancelled Create persisted %d rows", len(day))
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	svc := newService(store.NewMemory(ist))
	saved, _, err := svc.Create(ctx, hearing(t, "Bail", "Court A", at(10, 0), at(11, 0)), false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := svc.Delete(ctx, "adv-rao", saved.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := svc.Delete(ctx, "adv-rao", saved.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second Delete: %v", err)
	}
	// The slot is free again.
	if _, res, _ := svc.Create(ctx, hearing(t, "Bail again", "Court B", at(10, 0), at(11, 0)), false); !res.Valid {
		t.Errorf("rebooking refused: %+v", res)
	}
}
