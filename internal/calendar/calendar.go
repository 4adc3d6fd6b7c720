// Package calendar merges an owner's appointments from several sources
// into one chronologically ordered, color-annotated view.
package calendar

import (
	"cmp"
	"context"
	"fmt"
	"iter"
	"slices"
	"time"

	"hearingcal/internal/appointment"
	"hearingcal/internal/colors"
	appLog "hearingcal/internal/log"
)

// Source provides an owner's appointments intersecting [from, to).
type Source interface {
	Name() string
	Appointments(ctx context.Context, owner string, from, to time.Time) ([]appointment.Appointment, error)
}

// ColorLookup resolves a location to its display color. It must not fail;
// unknown locations get colors.DefaultColor.
type ColorLookup interface {
	GetColor(ctx context.Context, owner, location string) colors.Color
}

// DisplayEvent is an appointment with its resolved color.
type DisplayEvent struct {
	appointment.Appointment
	Color colors.Color `json:"color"`
}

// optional marks a source whose failures degrade the view instead of
// failing it.
type optional struct{ Source }

// Optional wraps src so BuildView logs and skips its errors.
func Optional(src Source) Source {
	return optional{src}
}

// View is an immutable snapshot of one owner's calendar window. Colors
// are resolved while iterating, so a color change shows up on the next
// walk without rebuilding the view.
type View struct {
	// ctx is the build request's context, reused for lazy color lookups.
	ctx    context.Context
	owner  string
	from   time.Time
	to     time.Time
	lookup ColorLookup
	items  []appointment.Appointment
}

// BuildView collects every source's appointments for owner intersecting
// [from, to) and orders them by start, then kind, then ID. Inputs are
// copied, never modified.
func BuildView(ctx context.Context, owner string, from, to time.Time, lookup ColorLookup, sources ...Source) (*View, error) {
	if !to.After(from) {
		return nil, fmt.Errorf("calendar: empty window %s..%s", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}

	var items []appointment.Appointment
	for _, src := range sources {
		got, err := src.Appointments(ctx, owner, from, to)
		if err != nil {
			if _, ok := src.(optional); ok && ctx.Err() == nil {
				appLog.Error("calendar source failed; continuing without it", err, "source", src.Name(), "owner", owner)
				continue
			}
			return nil, fmt.Errorf("calendar: source %s: %w", src.Name(), err)
		}
		for _, a := range got {
			if a.OwnerID != owner || !a.Start.Before(to) || !a.End.After(from) {
				continue
			}
			a.Participants = slices.Clone(a.Participants)
			items = append(items, a)
		}
	}

	slices.SortStableFunc(items, func(a, b appointment.Appointment) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Kind, b.Kind); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	return &View{ctx: ctx, owner: owner, from: from, to: to, lookup: lookup, items: items}, nil
}

// Owner is the owner the view was built for.
func (v *View) Owner() string { return v.owner }

// Window returns the view's half-open range.
func (v *View) Window() (from, to time.Time) { return v.from, v.to }

// Len is the number of events in the view.
func (v *View) Len() int { return len(v.items) }

// All yields every event in order. Each call walks the snapshot afresh.
func (v *View) All() iter.Seq[DisplayEvent] {
	return v.filter(func(appointment.Appointment) bool { return true })
}

// Day yields the events starting on day's calendar date.
func (v *View) Day(day time.Time) iter.Seq[DisplayEvent] {
	return v.filter(func(a appointment.Appointment) bool {
		return appointment.SameDate(a.Start, day.In(a.Start.Location()))
	})
}

// Between yields the events intersecting [from, to).
func (v *View) Between(from, to time.Time) iter.Seq[DisplayEvent] {
	return v.filter(func(a appointment.Appointment) bool {
		return a.Start.Before(to) && a.End.After(from)
	})
}

// Collect materializes All.
func (v *View) Collect() []DisplayEvent {
	out := make([]DisplayEvent, 0, len(v.items))
	for e := range v.All() {
		out = append(out, e)
	}
	return out
}

// Days lists the distinct calendar dates that have events, in order.
func (v *View) Days() []time.Time {
	var out []time.Time
	for _, a := range v.items {
		d := a.Date()
		if n := len(out); n > 0 && out[n-1].Equal(d) {
			continue
		}
		out = append(out, d)
	}
	return out
}

func (v *View) filter(keep func(appointment.Appointment) bool) iter.Seq[DisplayEvent] {
	return func(yield func(DisplayEvent) bool) {
		for _, a := range v.items {
			if !keep(a) {
				continue
			}
			if !yield(DisplayEvent{Appointment: a, Color: v.color(a.Location)}) {
				return
			}
		}
	}
}

func (v *View) color(location string) colors.Color {
	if v.lookup == nil {
		return colors.DefaultColor
	}
	return v.lookup.GetColor(v.ctx, v.owner, location)
}

// MonthRange returns [first of month, first of next month) in loc.
func MonthRange(year int, month time.Month, loc *time.Location) (from, to time.Time) {
	from = time.Date(year, month, 1, 0, 0, 0, 0, loc)
	return from, from.AddDate(0, 1, 0)
}

// StaticSource serves a fixed slice.
type StaticSource struct {
	Label string
	Items []appointment.Appointment
}

func (s StaticSource) Name() string { return s.Label }

func (s StaticSource) Appointments(_ context.Context, owner string, from, to time.Time) ([]appointment.Appointment, error) {
	var out []appointment.Appointment
	for _, a := range s.Items {
		if a.OwnerID == owner && a.Start.Before(to) && a.End.After(from) {
			out = append(out, a)
		}
	}
	return out, nil
}
