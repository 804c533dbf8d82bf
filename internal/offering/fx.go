package offering

import (
	"github.com/coursekit/enroll/internal/offering/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("offering",
	fx.Provide(repository.Provide),
)
