package ics

import (
	"iter"
	"time"

	ical "github.com/arran4/golang-ical"

	"hearingcal/internal/calendar"
)

const productID = "-//hearingcal//calendar export//EN"

// Encode renders events as an iCalendar document. Each VEVENT carries the
// event's location color in the COLOR property.
func Encode(name string, events iter.Seq[calendar.DisplayEvent], stamp time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if name != "" {
		cal.SetXWRCalName(name)
	}

	for e := range events {
		ve := cal.AddEvent(e.ID + "@hearingcal")
		ve.SetDtStampTime(stamp.UTC())
		ve.SetStartAt(e.Start.UTC())
		ve.SetEndAt(e.End.UTC())
		ve.SetSummary(e.Title)
		if e.Location != "" {
			ve.SetLocation(e.Location)
		}
		if desc := description(e); desc != "" {
			ve.SetDescription(desc)
		}
		ve.SetProperty(ical.ComponentProperty("CATEGORIES"), string(e.Kind))
		ve.SetProperty(ical.ComponentProperty("COLOR"), e.Color.String())
	}
	return cal.Serialize()
}

func description(e calendar.DisplayEvent) string {
	var out string
	add := func(label, v string) {
		if v == "" {
			return
		}
		if out != "" {
			out += "\n"
		}
		out += label + v
	}
	add("Case: ", e.CaseReference)
	add("Status: ", e.Status)
	add("", e.Note)
	return out
}
