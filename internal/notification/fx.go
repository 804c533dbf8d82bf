package notification

import (
	"github.com/coursekit/enroll/internal/notification/repository"
	"github.com/coursekit/enroll/internal/notification/service"
	"go.uber.org/fx"
)

var Module = fx.Module("notification",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewEmailSender),
	fx.Provide(service.NewOutbox),
)
