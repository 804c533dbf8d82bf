package payment

import (
	"github.com/coursekit/enroll/internal/config"
	"github.com/coursekit/enroll/internal/payment/adapters"
	paymentdomain "github.com/coursekit/enroll/internal/payment/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("payment",
	fx.Provide(NewRegistry),
)

func NewRegistry(cfg config.Config) *adapters.Registry {
	return adapters.NewRegistry(map[string]paymentdomain.Boundary{
		adapters.VendorMidtrans: adapters.NewMidtransBoundary(cfg),
	})
}
