// Package schedule decides whether a candidate appointment fits on an
// owner's calendar.
//
// Validation runs in two layers. ValidateStatic checks per-appointment
// rules (past dates, business hours, ordering). The Engine additionally
// checks the candidate against the owner's schedule for that day: time
// overlaps are hard failures, travel-time shortfalls between consecutive
// appointments at different locations are soft failures the caller may
// override. The engine holds no mutable state and is safe for concurrent
// use.
package schedule

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"hearingcal/internal/appointment"
	"hearingcal/internal/clock"
	appLog "hearingcal/internal/log"
)

const defaultProviderTimeout = 3 * time.Second

// TravelProvider estimates door-to-door travel time between two named
// locations. Implementations must return 0 for identical locations and
// must honor ctx.
type TravelProvider interface {
	Estimate(ctx context.Context, from, to string) (time.Duration, error)
}

// EngineConfig controls an Engine. Zero values select defaults.
type EngineConfig struct {
	// Provider may be nil, in which case every travel pair is reported as
	// TRAVEL_UNKNOWN.
	Provider TravelProvider

	Hours BusinessHours

	// ProviderTimeout bounds each Estimate call. Defaults to 3s.
	ProviderTimeout time.Duration

	Clock clock.Clock
}

// Options are per-call switches.
type Options struct {
	// OverrideTravelWarning skips the travel feasibility check. It never
	// affects static rules or overlap detection.
	OverrideTravelWarning bool
}

// Engine validates candidates against an owner's existing schedule.
type Engine struct {
	provider TravelProvider
	hours    BusinessHours
	timeout  time.Duration
	clock    clock.Clock
}

// NewEngine constructs an Engine, filling defaults for zero fields.
func NewEngine(cfg EngineConfig) *Engine {
	e := &Engine{
		provider: cfg.Provider,
		hours:    cfg.Hours,
		timeout:  cfg.ProviderTimeout,
		clock:    cfg.Clock,
	}
	if e.hours.isZero() {
		e.hours = DefaultBusinessHours
	}
	if e.timeout <= 0 {
		e.timeout = defaultProviderTimeout
	}
	if e.clock == nil {
		e.clock = clock.Real()
	}
	return e
}

// Hours returns the business window the engine enforces.
func (e *Engine) Hours() BusinessHours {
	return e.hours
}

// ValidateStatic runs the per-appointment rules against the engine's clock
// and business hours.
func (e *Engine) ValidateStatic(candidate appointment.Appointment) Result {
	res, _ := ValidateStatic(candidate, e.clock.Now(), e.hours)
	return res
}

// ValidateAgainstSchedule validates candidate against the owner's other
// appointments on the same date.
//
// The returned error is non-nil only when ctx is done before validation
// finishes; the Result is then meaningless and nothing must be persisted.
// Provider failures and timeouts are not errors: the affected pair is
// treated as feasible and the result downgraded to TRAVEL_UNKNOWN.
func (e *Engine) ValidateAgainstSchedule(ctx context.Context, candidate appointment.Appointment, existing []appointment.Appointment, opts Options) (Result, error) {
	if res := e.CheckSchedule(candidate, existing); !res.Valid {
		return res, nil
	}
	if opts.OverrideTravelWarning {
		return OK(), nil
	}

	seq := Schedule(candidate, existing)

	var unknown *pair
	for _, p := range adjacentPairs(seq) {
		if !needsTravel(p.from, p.to) {
			continue
		}
		gap := p.to.Start.Sub(p.from.End)
		required, err := e.estimate(ctx, p.from.Location, p.to.Location)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Result{}, fmt.Errorf("schedule: validation cancelled: %w", ctxErr)
			}
			appLog.Warn("travel estimate unavailable; treating pair as feasible",
				"err", err,
				"from", p.from.Location,
				"to", p.to.Location,
			)
			if unknown == nil {
				pp := p
				unknown = &pp
			}
			continue
		}
		if gap < required {
			return Result{
				Valid:                 false,
				ReasonCode:            ReasonInsufficientTravelTime,
				Message:               shortfallMessage(p, required, gap),
				RequiredTravelSeconds: ceilSeconds(required),
				AvailableGapSeconds:   int(gap / time.Second),
			}, nil
		}
	}

	if unknown != nil {
		return Result{
			Valid:      true,
			ReasonCode: ReasonTravelUnknown,
			Message: fmt.Sprintf(
				"travel time from %s to %s could not be determined; check that %q can be reached after %q",
				unknown.from.Location, unknown.to.Location, unknown.to.Title, unknown.from.Title,
			),
		}, nil
	}
	return OK(), nil
}

// CheckSchedule runs the static rules and the overlap check only. It never
// calls the travel provider, so stores can run it inside a write
// transaction as the commit-time guard.
func (e *Engine) CheckSchedule(candidate appointment.Appointment, existing []appointment.Appointment) Result {
	if res, ok := ValidateStatic(candidate, e.clock.Now(), e.hours); !ok {
		return res
	}
	return checkOverlap(Schedule(candidate, existing))
}

// Schedule returns the candidate's day in chronological order: the
// candidate plus every other appointment of the same owner on the same
// date, sorted by start, then end, then ID. An existing entry with the
// candidate's ID is replaced by the candidate. Inputs are not modified.
func Schedule(candidate appointment.Appointment, existing []appointment.Appointment) []appointment.Appointment {
	seq := make([]appointment.Appointment, 0, len(existing)+1)
	for _, a := range existing {
		if candidate.ID != "" && a.ID == candidate.ID {
			continue
		}
		if a.OwnerID != candidate.OwnerID || !appointment.SameDate(a.Start.In(candidate.Start.Location()), candidate.Start) {
			continue
		}
		seq = append(seq, a)
	}
	slices.SortStableFunc(seq, compareChronological)
	idx, _ := slices.BinarySearchFunc(seq, candidate, compareChronological)
	return slices.Insert(seq, idx, candidate)
}

func compareChronological(a, b appointment.Appointment) int {
	if c := a.Start.Compare(b.Start); c != 0 {
		return c
	}
	if c := a.End.Compare(b.End); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// checkOverlap walks adjacent pairs of the ordered day and reports the
// first one where the earlier entry runs past the start of the next. Any
// overlap on the day surfaces as at least one adjacent overlap.
func checkOverlap(seq []appointment.Appointment) Result {
	for _, p := range adjacentPairs(seq) {
		if !p.from.End.After(p.to.Start) {
			continue
		}
		return fail(ReasonOverlap, fmt.Sprintf(
			"%q (%s–%s) overlaps %q (%s–%s)",
			p.from.Title, p.from.Start.Format("15:04"), p.from.End.Format("15:04"),
			p.to.Title, p.to.Start.Format("15:04"), p.to.End.Format("15:04"),
		))
	}
	return OK()
}

type pair struct {
	from appointment.Appointment
	to   appointment.Appointment
}

// adjacentPairs returns every consecutive pair of seq in chronological order.
func adjacentPairs(seq []appointment.Appointment) []pair {
	if len(seq) < 2 {
		return nil
	}
	out := make([]pair, 0, len(seq)-1)
	for i := 1; i < len(seq); i++ {
		out = append(out, pair{from: seq[i-1], to: seq[i]})
	}
	return out
}

func needsTravel(from, to appointment.Appointment) bool {
	return from.Location != "" && to.Location != "" && from.Location != to.Location
}

// estimate calls the provider under the engine's timeout. The call runs in
// its own goroutine so a provider that ignores ctx is abandoned rather
// than waited on.
func (e *Engine) estimate(ctx context.Context, from, to string) (time.Duration, error) {
	if from == to {
		return 0, nil
	}
	if e.provider == nil {
		return 0, errors.New("no travel provider configured")
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type estimate struct {
		d   time.Duration
		err error
	}
	done := make(chan estimate, 1)
	go func() {
		d, err := e.provider.Estimate(callCtx, from, to)
		done <- estimate{d: d, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return 0, r.err
		}
		if r.d < 0 {
			return 0, fmt.Errorf("provider returned negative travel time %v", r.d)
		}
		return r.d, nil
	case <-callCtx.Done():
		return 0, fmt.Errorf("travel estimate %s -> %s: %w", from, to, callCtx.Err())
	}
}

func shortfallMessage(p pair, required, gap time.Duration) string {
	return fmt.Sprintf(
		"travelling from %s to %s takes about %s, but only %s separates %q (ends %s) and %q (starts %s)",
		p.from.Location, p.to.Location, humanDuration(required), humanDuration(gap),
		p.from.Title, p.from.End.Format("15:04"), p.to.Title, p.to.Start.Format("15:04"),
	)
}

func humanDuration(d time.Duration) string {
	if d <= 0 {
		return "no time"
	}
	mins := int(math.Ceil(d.Minutes()))
	if mins < 60 {
		return fmt.Sprintf("%d min", mins)
	}
	if mins%60 == 0 {
		return fmt.Sprintf("%d h", mins/60)
	}
	return fmt.Sprintf("%d h %d min", mins/60, mins%60)
}

func ceilSeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}
