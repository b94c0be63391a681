package loyalty

import (
	"go.uber.org/fx"
)

var Module = fx.Module("loyalty.service",
	fx.Provide(NewService),
	fx.Invoke(RegisterRoutes),
)
