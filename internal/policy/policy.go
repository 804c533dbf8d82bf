// Package policy parses per-offering enrollment policy blobs into a
// fully populated config. Resolution never fails: missing or malformed
// input degrades to the permissive legacy behavior.
package policy

import (
	"encoding/json"
	"strings"
)

// ActiveRepurchaseBehavior controls how a repurchase while a grant is
// still active extends access.
type ActiveRepurchaseBehavior string

const (
	// BehaviorStack extends from the current expiry.
	BehaviorStack ActiveRepurchaseBehavior = "STACK"
	// BehaviorReset extends from the purchase date.
	BehaviorReset ActiveRepurchaseBehavior = "RESET"
)

// ReenrollmentPolicy gates how soon a learner may re-enter an offering.
type ReenrollmentPolicy struct {
	Configured                   bool
	AllowReenrollmentAfterExpiry bool
	GapInDays                    int
	ActiveRepurchaseBehavior     ActiveRepurchaseBehavior
}

// OnExpiryPolicy controls behavior when a plan's window lapses.
type OnExpiryPolicy struct {
	EnableAutoRenewal bool
}

// EnrollmentPolicy is the resolved, fully defaulted policy for one offering.
type EnrollmentPolicy struct {
	Reenrollment ReenrollmentPolicy
	OnExpiry     OnExpiryPolicy
}

// GapEnforced reports whether a minimum re-enrollment gap applies.
func (p EnrollmentPolicy) GapEnforced() bool {
	r := p.Reenrollment
	return r.Configured && !r.AllowReenrollmentAfterExpiry && r.GapInDays > 0
}

// Default returns the permissive legacy policy: re-enroll immediately,
// auto-renewal on, repurchase stacks.
func Default() EnrollmentPolicy {
	return EnrollmentPolicy{
		Reenrollment: ReenrollmentPolicy{
			Configured:                   false,
			AllowReenrollmentAfterExpiry: true,
			GapInDays:                    0,
			ActiveRepurchaseBehavior:     BehaviorStack,
		},
		OnExpiry: OnExpiryPolicy{EnableAutoRenewal: true},
	}
}

type wirePolicy struct {
	Reenrollment *wireReenrollment `json:"reenrollmentPolicy"`
	OnExpiry     *wireOnExpiry     `json:"onExpiry"`
}

type wireReenrollment struct {
	AllowReenrollmentAfterExpiry *bool   `json:"allowReenrollmentAfterExpiry"`
	ReenrollmentGapInDays        *int    `json:"reenrollmentGapInDays"`
	ActiveRepurchaseBehavior     *string `json:"activeRepurchaseBehavior"`
}

type wireOnExpiry struct {
	EnableAutoRenewal *bool `json:"enableAutoRenewal"`
}

// Resolve parses a raw policy blob. The returned policy is always fully
// populated. degraded is true when the blob was present but could not
// be parsed, so callers can log and, in batch flows, treat the offering
// as having no usable policy.
func Resolve(blob []byte) (EnrollmentPolicy, bool) {
	resolved := Default()

	trimmed := strings.TrimSpace(string(blob))
	if trimmed == "" || trimmed == "null" {
		return resolved, false
	}

	var wire wirePolicy
	if err := json.Unmarshal([]byte(trimmed), &wire); err != nil {
		return resolved, true
	}

	if wire.Reenrollment != nil {
		resolved.Reenrollment.Configured = true
		if wire.Reenrollment.AllowReenrollmentAfterExpiry != nil {
			resolved.Reenrollment.AllowReenrollmentAfterExpiry = *wire.Reenrollment.AllowReenrollmentAfterExpiry
		}
		if wire.Reenrollment.ReenrollmentGapInDays != nil {
			resolved.Reenrollment.GapInDays = *wire.Reenrollment.ReenrollmentGapInDays
		}
		if wire.Reenrollment.ActiveRepurchaseBehavior != nil {
			resolved.Reenrollment.ActiveRepurchaseBehavior = normalizeBehavior(*wire.Reenrollment.ActiveRepurchaseBehavior)
		}
	}
	if wire.OnExpiry != nil && wire.OnExpiry.EnableAutoRenewal != nil {
		resolved.OnExpiry.EnableAutoRenewal = *wire.OnExpiry.EnableAutoRenewal
	}

	return resolved, false
}

func normalizeBehavior(raw string) ActiveRepurchaseBehavior {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case string(BehaviorReset):
		return BehaviorReset
	default:
		return BehaviorStack
	}
}
