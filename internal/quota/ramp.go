// Package quota holds the sending-quota and pacing math: ramp curves,
// hour-based pacing, sender identity generation and the per-sender ledger.
//
// Everything except Ledger is pure and free of I/O.
package quota

import (
	"math"
	"time"

	"github.com/unclebandit/outreach-driver/internal/model"
)

// Ramp maps a campaign day index to a quota.
type Ramp interface {
	Quota(dayIndex int) int
}

// LinearRamp interpolates from StartQuota on day 0 to EndQuota on day RampDays.
type LinearRamp model.RampConfig

func (r LinearRamp) Quota(dayIndex int) int {
	if dayIndex < 0 {
		return 0
	}
	if r.RampDays <= 0 || dayIndex >= r.RampDays {
		return r.EndQuota
	}
	progress := float64(dayIndex) / float64(r.RampDays)
	q := float64(r.StartQuota) + progress*float64(r.EndQuota-r.StartQuota)
	return max(int(math.Floor(q)), 0)
}

const (
	DefaultPowerLawBase     = 250
	DefaultPowerLawCap      = 1000
	DefaultPowerLawExponent = 1.5
)

// PowerLawRamp is the global daily ceiling: floor(min(Base * n^Exponent, Cap))
// where n = max(1, dayIndex+1).
type PowerLawRamp struct {
	Base     float64
	Cap      float64
	Exponent float64
}

// DefaultPowerLaw returns the 250 * n^1.5 ramp capped at 1000.
func DefaultPowerLaw() PowerLawRamp {
	return PowerLawRamp{
		Base:     DefaultPowerLawBase,
		Cap:      DefaultPowerLawCap,
		Exponent: DefaultPowerLawExponent,
	}
}

func (r PowerLawRamp) Quota(dayIndex int) int {
	if dayIndex < 0 {
		return 0
	}
	n := float64(max(1, dayIndex+1))
	q := math.Min(r.Base*math.Pow(n, r.Exponent), r.Cap)
	return max(int(math.Floor(q)), 0)
}

// DayIndex returns the number of whole calendar days between start and now,
// both taken as dates in loc. The start date itself is day 0.
func DayIndex(start, now time.Time, loc *time.Location) int {
	s := startOfDay(start, loc)
	n := startOfDay(now, loc)
	// Build UTC midnights from the calendar fields so DST shifts don't skew the count.
	su := time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, time.UTC)
	nu := time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, time.UTC)
	return int(nu.Sub(su).Hours() / 24)
}

// DayBounds returns [midnight, next midnight) of the day containing t in loc.
func DayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	from := startOfDay(t, loc)
	return from, from.AddDate(0, 0, 1)
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
