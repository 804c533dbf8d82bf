package adapters

import (
	"strings"

	paymentdomain "github.com/coursekit/enroll/internal/payment/domain"
)

// Registry routes a plan's vendor string to its gateway adapter.
type Registry struct {
	boundaries map[string]paymentdomain.Boundary
}

func NewRegistry(boundaries map[string]paymentdomain.Boundary) *Registry {
	normalized := make(map[string]paymentdomain.Boundary, len(boundaries))
	for vendor, boundary := range boundaries {
		normalized[strings.ToUpper(strings.TrimSpace(vendor))] = boundary
	}
	return &Registry{boundaries: normalized}
}

func (r *Registry) ForVendor(vendor string) (paymentdomain.Boundary, error) {
	key := strings.ToUpper(strings.TrimSpace(vendor))
	if key == "MANUAL" || key == "" {
		return nil, paymentdomain.ErrManualVendor
	}
	boundary, ok := r.boundaries[key]
	if !ok {
		return nil, paymentdomain.ErrVendorUnsupported
	}
	return boundary, nil
}
