package schedule

import (
	"fmt"
	"time"
)

// ClockTime is a local wall-clock time of day.
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClockTime parses "HH:MM" (24-hour).
func ParseClockTime(s string) (ClockTime, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return ClockTime{}, fmt.Errorf("schedule: clock time %q: %w", s, err)
	}
	return ClockTime{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// On anchors the clock time to the calendar date of day, in day's location.
func (c ClockTime) On(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, c.Hour, c.Minute, 0, 0, day.Location())
}

func (c ClockTime) minutes() int {
	return c.Hour*60 + c.Minute
}

// BusinessHours is the daily window appointments must fit in. Start is the
// earliest permitted start; End is the latest permitted end.
type BusinessHours struct {
	Start ClockTime
	End   ClockTime
}

// DefaultBusinessHours is 09:30–15:30 local time.
var DefaultBusinessHours = BusinessHours{
	Start: ClockTime{Hour: 9, Minute: 30},
	End:   ClockTime{Hour: 15, Minute: 30},
}

// ParseBusinessHours builds a window from two "HH:MM" strings.
func ParseBusinessHours(start, end string) (BusinessHours, error) {
	s, err := ParseClockTime(start)
	if err != nil {
		return BusinessHours{}, err
	}
	e, err := ParseClockTime(end)
	if err != nil {
		return BusinessHours{}, err
	}
	if e.minutes() <= s.minutes() {
		return BusinessHours{}, fmt.Errorf("schedule: business hours end %s is not after start %s", e, s)
	}
	return BusinessHours{Start: s, End: e}, nil
}

func (h BusinessHours) String() string {
	return h.Start.String() + "–" + h.End.String()
}

func (h BusinessHours) isZero() bool {
	return h == BusinessHours{}
}
