package app

import (
	"go.uber.org/fx"

	"github.com/Additional-Code/mesbridge/internal/cache"
	"github.com/Additional-Code/mesbridge/internal/config"
	"github.com/Additional-Code/mesbridge/internal/database"
	"github.com/Additional-Code/mesbridge/internal/logger"
	"github.com/Additional-Code/mesbridge/internal/mapper"
	"github.com/Additional-Code/mesbridge/internal/messaging"
	"github.com/Additional-Code/mesbridge/internal/observability"
	"github.com/Additional-Code/mesbridge/internal/remote"
	remotememory "github.com/Additional-Code/mesbridge/internal/remote/memory"
	"github.com/Additional-Code/mesbridge/internal/remote/sqlserver"
	repositoryremoteorder "github.com/Additional-Code/mesbridge/internal/repository/remoteorder"
	repositorysalesorder "github.com/Additional-Code/mesbridge/internal/repository/salesorder"
	repositorysynclog "github.com/Additional-Code/mesbridge/internal/repository/synclog"
	"github.com/Additional-Code/mesbridge/internal/scheduler"
	grpcserver "github.com/Additional-Code/mesbridge/internal/server/grpc"
	httpserver "github.com/Additional-Code/mesbridge/internal/server/http"
	servicedispatch "github.com/Additional-Code/mesbridge/internal/service/dispatch"
	serviceordersync "github.com/Additional-Code/mesbridge/internal/service/ordersync"
	servicereconcile "github.com/Additional-Code/mesbridge/internal/service/reconcile"
	serviceremoteorder "github.com/Additional-Code/mesbridge/internal/service/remoteorder"
	transporthttp "github.com/Additional-Code/mesbridge/internal/transport/http"
	"github.com/Additional-Code/mesbridge/internal/worker"
	workerordersync "github.com/Additional-Code/mesbridge/internal/worker/ordersync"
)

// Remote registers the remote order drivers behind the multiplexer.
var Remote = fx.Options(
	remote.Module,
	sqlserver.Module,
	remotememory.Module,
)

// Core provides the foundational modules shared across executables.
var Core = fx.Options(
	config.Module,
	cache.Module,
	database.Module,
	logger.Module,
	messaging.Module,
	observability.Module,
	Remote,
	mapper.Module,
	repositorysalesorder.Module,
	repositoryremoteorder.Module,
	repositorysynclog.Module,
	serviceordersync.Module,
	serviceremoteorder.Module,
	servicereconcile.Module,
	servicedispatch.Module,
)

// HTTP wires the HTTP and gRPC health transports on top of the core modules.
var HTTP = fx.Options(
	Core,
	httpserver.Module,
	grpcserver.Module,
	transporthttp.Module,
)

// Worker runs sync jobs from the bus and the periodic reconciler.
var Worker = fx.Options(
	Core,
	worker.Module,
	workerordersync.Module,
	scheduler.Module,
)

// Module is the default application wiring (HTTP only).
var Module = HTTP
