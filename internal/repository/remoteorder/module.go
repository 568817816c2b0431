package remoteorder

import "go.uber.org/fx"

// Module provides the shadow record repository to Fx.
var Module = fx.Provide(NewRepository)
