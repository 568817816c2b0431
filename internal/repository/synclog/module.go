package synclog

import "go.uber.org/fx"

// Module provides the sync log repository to Fx.
var Module = fx.Provide(NewRepository)
