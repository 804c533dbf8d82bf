// Package gap enforces the minimum elapsed time required after a
// grant's end before the same offering can be re-entered.
package gap

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/coursekit/enroll/internal/expiry"
	obslogger "github.com/coursekit/enroll/internal/observability/logger"
	"github.com/coursekit/enroll/internal/policy"
	"go.uber.org/zap"
)

// HistoryRecord is the prior-grant evidence the validator needs: when
// the learner's last terminal grant for the offering ended. A nil
// EndMarker means no usable end could be resolved.
type HistoryRecord struct {
	EndMarker *time.Time
}

// HistoryFinder locates a learner's most recent non-deleted,
// non-abandoned-cart grant for an offering, matching the offering
// directly or through a destination link. Returns nil when none exists.
type HistoryFinder interface {
	LastTerminalGrant(ctx context.Context, orgID, learnerID, offeringID snowflake.ID) (*HistoryRecord, error)
}

// Decision is the outcome of a single gap check.
type Decision struct {
	Allowed    bool
	RetryAfter *time.Time
	GapDays    int
}

// Validator answers whether a candidate enrollment date satisfies the
// offering's configured re-enrollment gap.
type Validator struct {
	history HistoryFinder
}

func NewValidator(history HistoryFinder) *Validator {
	return &Validator{history: history}
}

// Validate checks one offering. Policy without an enforced gap allows
// immediately; so does a learner with no prior grant or a grant whose
// end cannot be resolved.
func (v *Validator) Validate(ctx context.Context, orgID, learnerID, offeringID snowflake.ID, pol policy.EnrollmentPolicy, candidate time.Time) (Decision, error) {
	if !pol.GapEnforced() {
		return Decision{Allowed: true}, nil
	}

	record, err := v.history.LastTerminalGrant(ctx, orgID, learnerID, offeringID)
	if err != nil {
		return Decision{}, err
	}
	if record == nil || record.EndMarker == nil {
		return Decision{Allowed: true}, nil
	}

	gapDays := pol.Reenrollment.GapInDays
	daysSince := expiry.CalendarDaysBetween(*record.EndMarker, candidate)
	if daysSince >= gapDays {
		return Decision{Allowed: true}, nil
	}

	retryAfter := expiry.AddDays(*record.EndMarker, gapDays)
	return Decision{Allowed: false, RetryAfter: &retryAfter, GapDays: gapDays}, nil
}

// Candidate is one offering in a multi-offering purchase intent.
type Candidate struct {
	OfferingID snowflake.ID
	Policy     policy.EnrollmentPolicy
}

// Result pairs a candidate with its decision. Err is set when the
// lookup for that offering failed; such offerings land in the blocked
// partition without affecting their siblings.
type Result struct {
	OfferingID snowflake.ID
	Decision   Decision
	Err        error
}

// ValidateAll partitions candidates into allowed and blocked in one
// pass. Each offering is evaluated independently; one blocked or
// failing offering never short-circuits the rest.
func (v *Validator) ValidateAll(ctx context.Context, orgID, learnerID snowflake.ID, candidates []Candidate, candidate time.Time) (allowed, blocked []Result) {
	for _, c := range candidates {
		decision, err := v.Validate(ctx, orgID, learnerID, c.OfferingID, c.Policy, candidate)
		result := Result{OfferingID: c.OfferingID, Decision: decision, Err: err}
		if err != nil {
			obslogger.FromContext(ctx).Warn("gap.validate_failed",
				zap.Int64("offering_id", c.OfferingID.Int64()),
				zap.Error(err),
			)
			blocked = append(blocked, result)
			continue
		}
		if decision.Allowed {
			allowed = append(allowed, result)
		} else {
			blocked = append(blocked, result)
		}
	}
	return allowed, blocked
}
