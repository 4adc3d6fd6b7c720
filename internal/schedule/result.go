package schedule

// ReasonCode classifies a validation outcome.
type ReasonCode string

const (
	ReasonOK                     ReasonCode = "OK"
	ReasonPastDate               ReasonCode = "PAST_DATE"
	ReasonOutsideBusinessHours   ReasonCode = "OUTSIDE_BUSINESS_HOURS"
	ReasonInvalidRange           ReasonCode = "INVALID_RANGE"
	ReasonOverlap                ReasonCode = "OVERLAP"
	ReasonInsufficientTravelTime ReasonCode = "INSUFFICIENT_TRAVEL_TIME"
	ReasonTravelUnknown          ReasonCode = "TRAVEL_UNKNOWN"
	ReasonStoreConflict          ReasonCode = "STORE_CONFLICT"
)

// Overridable reports whether the caller may resubmit with an explicit
// override flag. Only travel shortfalls qualify.
func (c ReasonCode) Overridable() bool {
	return c == ReasonInsufficientTravelTime
}

// Hard reports whether the outcome blocks submission unconditionally.
func (c ReasonCode) Hard() bool {
	switch c {
	case ReasonPastDate, ReasonOutsideBusinessHours, ReasonInvalidRange,
		ReasonOverlap, ReasonStoreConflict:
		return true
	}
	return false
}

// Static reports whether the code comes from per-appointment rules that do
// not depend on the rest of the schedule.
func (c ReasonCode) Static() bool {
	switch c {
	case ReasonPastDate, ReasonOutsideBusinessHours, ReasonInvalidRange:
		return true
	}
	return false
}

// Result is the advisory outcome of a validation. It is never persisted.
type Result struct {
	Valid                 bool       `json:"valid"`
	ReasonCode            ReasonCode `json:"reasonCode"`
	Message               string     `json:"message"`
	RequiredTravelSeconds int        `json:"requiredTravelSeconds"`
	AvailableGapSeconds   int        `json:"availableGapSeconds"`
}

// OK is the passing result.
func OK() Result {
	return Result{Valid: true, ReasonCode: ReasonOK}
}

func fail(code ReasonCode, msg string) Result {
	return Result{Valid: false, ReasonCode: code, Message: msg}
}

// StoreConflict is the result reported when a commit-time check loses a
// race against another write for the same owner and date.
func StoreConflict(msg string) Result {
	if msg == "" {
		msg = "the schedule changed after this appointment was validated; validate it again before saving"
	}
	return fail(ReasonStoreConflict, msg)
}
