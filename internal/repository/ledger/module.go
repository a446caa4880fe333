package ledger

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/tally/internal/database"
)

// Module provides the ledger Store, bun-backed unless the database driver
// is "memory".
var Module = fx.Provide(NewStore)

// NewStore picks the Store implementation matching the opened connections.
func NewStore(conns *database.Connections, logger *zap.Logger) Store {
	if !conns.Enabled() {
		logger.Warn("using in-memory ledger; data is lost on exit")
		return NewMemory()
	}
	return NewRepository(conns)
}
