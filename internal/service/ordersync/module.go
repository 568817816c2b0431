package ordersync

import "go.uber.org/fx"

// Module provides the order sync executor to Fx.
var Module = fx.Provide(NewService)
