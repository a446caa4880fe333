package http

import (
	"go.uber.org/fx"

	tabtransport "github.com/Additional-Code/tally/internal/transport/http/tab"
)

// Module aggregates all HTTP transport handlers.
var Module = fx.Options(
	tabtransport.Module,
)
