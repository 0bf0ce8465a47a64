package quota

import "time"

const (
	DefaultWindowStart = 7
	DefaultWindowEnd   = 24
	DefaultTimezone    = "America/Chicago"
)

// BatchLimit spreads the remaining daily quota over the hours left in the
// window: ceil(remaining / hoursLeft), never below 1. hoursLeft is clamped to 1.
// Callers skip the sender entirely when remaining <= 0.
func BatchLimit(remaining, hoursLeft int) int {
	hoursLeft = max(hoursLeft, 1)
	if remaining <= 0 {
		return 1
	}
	return max((remaining+hoursLeft-1)/hoursLeft, 1)
}

// Window is the daily sending window [Start, End) in local hours of Location.
// End may be 24 to mean midnight.
type Window struct {
	Start    int
	End      int
	Location *time.Location
}

func (w Window) local(t time.Time) time.Time {
	if w.Location == nil {
		return t.UTC()
	}
	return t.In(w.Location)
}

// Contains reports whether t falls inside the sending window.
func (w Window) Contains(t time.Time) bool {
	return w.ContainsHour(w.local(t).Hour())
}

func (w Window) ContainsHour(hour int) bool {
	return hour >= w.Start && hour < w.End
}

// HoursLeft is the number of whole hours from t's local hour to the window end, at least 1.
func (w Window) HoursLeft(t time.Time) int {
	return max(w.End-w.local(t).Hour(), 1)
}
