// Package domain defines the payment boundary. Submission is
// asynchronous: the gateway acknowledges, and the outcome arrives
// later through a webhook.
package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

var (
	// ErrManualVendor marks plans paid outside any gateway. They are
	// never auto-charged.
	ErrManualVendor = errors.New("manual_vendor_requires_human_payment")
	// ErrVendorUnsupported means no adapter is registered for the
	// plan's vendor.
	ErrVendorUnsupported = errors.New("vendor_unsupported")
	// ErrBoundaryFailure wraps gateway-side submission failures.
	ErrBoundaryFailure = errors.New("payment_boundary_failure")
)

// InitiateRequest carries the context a gateway needs to collect a
// renewal payment.
type InitiateRequest struct {
	OrderRef      string
	PlanID        snowflake.ID
	Amount        int64
	Currency      string
	CustomerName  string
	CustomerEmail string
	Description   string
	VendorContext map[string]interface{}
}

// SubmissionAck is the synchronous half of an initiation. RedirectURL
// is set by hosted-checkout vendors.
type SubmissionAck struct {
	OrderRef    string
	RedirectURL string
}

type Boundary interface {
	Initiate(ctx context.Context, req InitiateRequest) (*SubmissionAck, error)
}
