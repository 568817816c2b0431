package remoteorder

import "go.uber.org/fx"

// Module provides the remote order query service to Fx.
var Module = fx.Provide(NewService)
