package app

import (
	"go.uber.org/fx"

	"github.com/Additional-Code/tally/internal/cache"
	"github.com/Additional-Code/tally/internal/config"
	"github.com/Additional-Code/tally/internal/database"
	"github.com/Additional-Code/tally/internal/logger"
	"github.com/Additional-Code/tally/internal/messaging"
	"github.com/Additional-Code/tally/internal/observability"
	"github.com/Additional-Code/tally/internal/repository/ledger"
	grpcserver "github.com/Additional-Code/tally/internal/server/grpc"
	httpserver "github.com/Additional-Code/tally/internal/server/http"
	"github.com/Additional-Code/tally/internal/service/settlement"
	transporthttp "github.com/Additional-Code/tally/internal/transport/http"
	"github.com/Additional-Code/tally/internal/worker"
	workersettlement "github.com/Additional-Code/tally/internal/worker/settlement"
)

// Core provides the foundational modules shared across executables.
var Core = fx.Options(
	config.Module,
	cache.Module,
	database.Module,
	logger.Module,
	messaging.Module,
	observability.Module,
	ledger.Module,
	settlement.Module,
)

// HTTP wires the HTTP and gRPC servers on top of the core modules.
var HTTP = fx.Options(
	Core,
	httpserver.Module,
	grpcserver.Module,
	transporthttp.Module,
)

// Worker exposes background worker processing of settlement events.
var Worker = fx.Options(
	Core,
	worker.Module,
	workersettlement.Module,
	fx.Invoke(func(*observability.Manager) {}),
)

// Module is the default application wiring (HTTP only).
var Module = HTTP
