package http

import (
	"go.uber.org/fx"

	remoteordertransport "github.com/Additional-Code/mesbridge/internal/transport/http/remoteorder"
)

// Module aggregates all HTTP transport handlers.
var Module = fx.Options(
	remoteordertransport.Module,
)
