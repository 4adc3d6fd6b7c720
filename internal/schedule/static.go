package schedule

import (
	"fmt"
	"time"

	"hearingcal/internal/appointment"
)

// ValidateStatic applies the per-appointment rules that do not depend on
// the rest of the schedule. Rules run in order and the first failure wins:
//
//  1. the appointment date is not before now's date (PAST_DATE)
//  2. start and end both lie inside the business window (OUTSIDE_BUSINESS_HOURS)
//  3. start is before end (INVALID_RANGE)
//
// Dates and wall-clock times are read in the location of a.Start. Nothing
// is clamped or coerced. The bool is true when every rule passes.
func ValidateStatic(a appointment.Appointment, now time.Time, hours BusinessHours) (Result, bool) {
	if hours.isZero() {
		hours = DefaultBusinessHours
	}
	loc := a.Start.Location()

	day := appointment.DateOf(a.Start)
	today := appointment.DateOf(now.In(loc))
	if day.Before(today) {
		return fail(ReasonPastDate, fmt.Sprintf(
			"%q is scheduled on %s, which is before today (%s)",
			a.Title, appointment.DayKey(day), appointment.DayKey(today),
		)), false
	}

	windowOpen := hours.Start.On(day)
	windowClose := hours.End.On(day)
	end := a.End.In(loc)

	if a.Start.Before(windowOpen) || !a.Start.Before(windowClose) {
		return fail(ReasonOutsideBusinessHours, fmt.Sprintf(
			"%q starts at %s, outside business hours %s",
			a.Title, a.Start.Format("15:04"), hours,
		)), false
	}
	if end.After(windowClose) || end.Before(windowOpen) {
		return fail(ReasonOutsideBusinessHours, fmt.Sprintf(
			"%q ends at %s, outside business hours %s",
			a.Title, describeEnd(end, day), hours,
		)), false
	}

	if !a.Start.Before(a.End) {
		return fail(ReasonInvalidRange, fmt.Sprintf(
			"%q must end after it starts (%s–%s)",
			a.Title, a.Start.Format("15:04"), end.Format("15:04"),
		)), false
	}

	return OK(), true
}

func describeEnd(end, day time.Time) string {
	if appointment.SameDate(end, day) {
		return end.Format("15:04")
	}
	return end.Format("2006-01-02 15:04")
}
