// Package expiry computes access-grant expiry dates using calendar-day
// arithmetic. Absent validity means unlimited access.
package expiry

import (
	"strconv"
	"strings"
	"time"

	"github.com/coursekit/enroll/internal/policy"
)

// Window is the slice of a grant the calculator needs: whether it is
// currently active and when it lapses (nil = unlimited).
type Window struct {
	Active bool
	Expiry *time.Time
}

// ResolveValidityDays picks the validity length for an offering.
// validityDays wins when set; otherwise the legacy access-days string
// is parsed. A non-numeric legacy value counts as absent. The second
// return is false when no validity could be resolved (unlimited).
func ResolveValidityDays(validityDays *int, legacyAccessDays *string) (int, bool) {
	if validityDays != nil {
		return *validityDays, true
	}
	if legacyAccessDays == nil {
		return 0, false
	}
	raw := strings.TrimSpace(*legacyAccessDays)
	if raw == "" {
		return 0, false
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return parsed, true
}

// ComputeExpiry returns the expiry for a grant starting at base.
// nil means unlimited. A non-positive validity yields base unchanged,
// a zero-length grant used by free tiers.
func ComputeExpiry(base time.Time, validityDays *int, legacyAccessDays *string) *time.Time {
	days, ok := ResolveValidityDays(validityDays, legacyAccessDays)
	if !ok {
		return nil
	}
	if days <= 0 {
		result := base
		return &result
	}
	result := AddDays(base, days)
	return &result
}

// DetermineBaseDate picks the date a new validity window starts from.
// A still-active destination grant with a future expiry wins: access
// purchased through a gateway offering extends from that offering's
// expiry. Otherwise STACK extends an active current grant from its
// expiry, and RESET always starts from now.
func DetermineBaseDate(now time.Time, current, destination *Window, behavior policy.ActiveRepurchaseBehavior) time.Time {
	if destination != nil && destination.Active && destination.Expiry != nil && destination.Expiry.After(now) {
		return *destination.Expiry
	}
	if behavior == policy.BehaviorStack && current != nil && current.Active && current.Expiry != nil && current.Expiry.After(now) {
		return *current.Expiry
	}
	return now
}

// AddDays advances a date by calendar days, not fixed 24h increments,
// so DST transitions and month lengths behave like a wall calendar.
func AddDays(t time.Time, days int) time.Time {
	return t.AddDate(0, 0, days)
}

// CalendarDaysBetween counts whole calendar days from one date to
// another, ignoring time of day. Negative when to precedes from.
func CalendarDaysBetween(from, to time.Time) int {
	f := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	t := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(t.Sub(f) / (24 * time.Hour))
}
