// Package handover implements the satellite-link handover window
// check: a connection migration is only attempted within a short
// margin around a small set of fixed seconds-of-minute, grounded on
// picoquic/sat_utils.c's picoquic_check_handover.
package handover

import "time"

// intervals are the seconds-of-minute a handover window opens at,
// copied from SL_HANDOVER_INTERVALS in sat_utils.h.
var intervals = [4]int{12, 27, 42, 57}

// DefaultMargin is the default tolerance around an interval within
// which a timestamp still counts as "in the handover window", copied
// from sat_utils.h's MARGIN constant (100ms).
const DefaultMargin = 100 * time.Millisecond

// Checker decides whether a given instant falls inside a handover
// window. The zero value uses DefaultMargin.
type Checker struct {
	Margin time.Duration
}

// InWindow reports whether t falls within Margin of any configured
// seconds-of-minute interval (spec's supplemented handover feature,
// grounded on sat_utils.c: "ts mod 60s within margin of any interval").
func (c Checker) InWindow(t time.Time) bool {
	margin := c.Margin
	if margin <= 0 {
		margin = DefaultMargin
	}
	secOfMinute := time.Duration(t.Second())*time.Second + time.Duration(t.Nanosecond())
	minuteDur := 60 * time.Second
	for _, iv := range intervals {
		target := time.Duration(iv) * time.Second
		d := secOfMinute - target
		if d < 0 {
			d = -d
		}
		// Circular distance on the 60-second dial handles wraparound
		// near the minute boundary (e.g. interval 57 and a timestamp at
		// 0:00:00.05 of the next minute).
		if wrapped := minuteDur - d; wrapped < d {
			d = wrapped
		}
		if d <= margin {
			return true
		}
	}
	return false
}

// InWindowNow reports whether the given instant (usually time.Now(),
// supplied by the caller rather than called here, per this module's
// no-direct-clock-access convention) is within the default handover
// window.
func InWindowNow(t time.Time) bool {
	return Checker{}.InWindow(t)
}

// NextWindow returns the next interval instant (one of the configured
// seconds-of-minute, on the whole second) at or after t, useful for a
// caller that wants to schedule a migration attempt rather than poll.
// The margin is not applied: for a t already inside a window but past
// its interval, the following interval is returned.
func NextWindow(t time.Time) time.Time {
	minute := t.Truncate(time.Minute)
	best := time.Time{}
	for cycle := 0; cycle < 2; cycle++ {
		base := minute.Add(time.Duration(cycle) * time.Minute)
		for _, iv := range intervals {
			candidate := base.Add(time.Duration(iv) * time.Second)
			if candidate.Before(t) {
				continue
			}
			if best.IsZero() || candidate.Before(best) {
				best = candidate
			}
		}
	}
	return best
}
