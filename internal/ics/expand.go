package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "hearingcal/internal/log"
)

const defaultMaxOccurrences = 5000

// Occurrence is one concrete instance of an Event.
type Occurrence struct {
	Feed Feed
	UID  string
	// Instance distinguishes occurrences of the same recurring UID.
	Instance string

	Summary     string
	Description string
	Location    string
	AllDay      bool

	Start time.Time
	End   time.Time
}

// ExpandOptions bounds an expansion.
type ExpandOptions struct {
	// Location is the zone occurrences are converted into. Nil means
	// time.Local.
	Location *time.Location

	// From and To form the half-open window [From, To).
	From time.Time
	To   time.Time

	// MaxOccurrences caps each recurring event. Zero means 5000.
	MaxOccurrences int
}

// Expand turns parsed events into the occurrences intersecting the
// window, applying RRULE, EXDATE and RECURRENCE-ID overrides.
func Expand(events []Event, opts ExpandOptions) ([]Occurrence, error) {
	if opts.To.Before(opts.From) {
		return nil, errors.New("ics: expand window ends before it starts")
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.MaxOccurrences <= 0 {
		opts.MaxOccurrences = defaultMaxOccurrences
	}

	base := make(map[string][]Event)
	overrides := make(map[string][]Event)
	var order []string
	for _, ev := range events {
		if ev.RecurrenceID != nil {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
			continue
		}
		if _, seen := base[ev.UID]; !seen {
			order = append(order, ev.UID)
		}
		base[ev.UID] = append(base[ev.UID], ev)
	}

	var out []Occurrence
	for _, uid := range order {
		for _, ev := range base[uid] {
			if ev.RRule == "" {
				out = appendIfInWindow(out, applyOverride(ev, overrides[uid], ev.Start), opts)
				continue
			}
			out = expandRecurring(out, ev, overrides[uid], opts)
		}
	}
	return out, nil
}

func expandRecurring(out []Occurrence, ev Event, overrides []Event, opts ExpandOptions) []Occurrence {
	r, err := rrule.StrToRRule(ev.RRule)
	if err != nil {
		appLog.Warn("ics rrule unparseable; event skipped", "uid", ev.UID, "rrule", ev.RRule, "err", err)
		return out
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	// Widen the lower bound by the event length so an instance that
	// started before From but is still running is included.
	length := ev.End.Sub(ev.Start)
	from := opts.From.Add(-length).In(ev.Start.Location())
	to := opts.To.In(ev.Start.Location())
	starts := set.Between(from, to, true)
	if len(starts) > opts.MaxOccurrences {
		appLog.Warn("ics occurrences truncated", "uid", ev.UID, "cap", opts.MaxOccurrences)
		starts = starts[:opts.MaxOccurrences]
	}

	for _, s := range starts {
		inst := ev
		inst.Start = s
		inst.End = s.Add(length)
		out = appendIfInWindow(out, applyOverride(inst, overrides, s), opts)
	}
	return out
}

// applyOverride returns the overriding VEVENT for the instance starting at
// start, or inst itself.
func applyOverride(inst Event, overrides []Event, start time.Time) Event {
	for _, ov := range overrides {
		if ov.RecurrenceID.Equal(start) {
			return ov
		}
	}
	return inst
}

func appendIfInWindow(out []Occurrence, ev Event, opts ExpandOptions) []Occurrence {
	if !ev.Start.Before(opts.To) || !ev.End.After(opts.From) {
		return out
	}
	start := ev.Start.In(opts.Location)
	instance := start.Format(time.RFC3339)
	if ev.RecurrenceID != nil {
		instance = ev.RecurrenceID.In(opts.Location).Format(time.RFC3339)
	}
	return append(out, Occurrence{
		Feed:        ev.Feed,
		UID:         ev.UID,
		Instance:    instance,
		Summary:     ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		AllDay:      ev.AllDay,
		Start:       start,
		End:         ev.End.In(opts.Location),
	})
}
