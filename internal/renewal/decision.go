// Package renewal decides whether a lapsing billing plan should be
// auto-renewed and drives the payment submission and its confirmed
// outcome.
package renewal

import (
	"strings"

	plandomain "github.com/coursekit/enroll/internal/plan/domain"
	"github.com/coursekit/enroll/internal/policy"
)

// AutoRenewalEnabled combines the plan's offering policies. One
// offering opting out disables auto-renewal for the whole plan; absent
// policies default to enabled.
func AutoRenewalEnabled(policies []policy.EnrollmentPolicy) bool {
	for _, p := range policies {
		if !p.OnExpiry.EnableAutoRenewal {
			return false
		}
	}
	return true
}

// ShouldAttemptPayment is the renewal gate. All must hold: the plan is
// a SUBSCRIPTION (one-time, free and donation plans are never
// auto-renewed), its vendor is a real gateway (MANUAL requires a
// human), and no offering policy disables auto-renewal.
func ShouldAttemptPayment(plan *plandomain.BillingPlan, policies []policy.EnrollmentPolicy) bool {
	if plan == nil || plan.PlanType != plandomain.TypeSubscription {
		return false
	}
	vendor := strings.ToUpper(strings.TrimSpace(plan.Vendor))
	if vendor == "" || vendor == plandomain.VendorManual {
		return false
	}
	return AutoRenewalEnabled(policies)
}
