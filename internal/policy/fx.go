package policy

import "go.uber.org/fx"

var Module = fx.Module("policy",
	fx.Provide(NewCachedResolver),
)
