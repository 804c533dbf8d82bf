package grant

import (
	"github.com/coursekit/enroll/internal/gap"
	"github.com/coursekit/enroll/internal/grant/repository"
	"github.com/coursekit/enroll/internal/grant/service"
	"go.uber.org/fx"
)

var Module = fx.Module("grant",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewHistoryFinder),
	fx.Provide(gap.NewValidator),
	fx.Provide(service.NewService),
)
