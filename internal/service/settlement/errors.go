package settlement

import (
	"errors"

	"github.com/Additional-Code/tally/internal/repository/ledger"
	core "github.com/Additional-Code/tally/internal/settlement"
	"github.com/Additional-Code/tally/pkg/errorbank"
)

// Error codes exposed to callers through errorbank details.
const (
	CodeNothingToSettle        = "NothingToSettle"
	CodeInvalidSelection       = "InvalidSelection"
	CodeAmountExceedsRemaining = "AmountExceedsRemaining"
	CodeItemAlreadySettled     = "ItemAlreadySettled"
	CodeConcurrentUpdate       = "ConcurrentUpdate"
	CodeStoreUnavailable       = "StoreUnavailable"
	CodeInconsistentState      = "InconsistentState"
	CodeNotFound               = "NotFound"
)

// toAppError classifies err for transports. Anything the domain does not
// recognise is treated as a transient store failure.
func toAppError(err error) *errorbank.AppError {
	if err == nil {
		return nil
	}
	var appErr *errorbank.AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	switch {
	case errors.Is(err, core.ErrNothingToSettle):
		return errorbank.Unprocessable("table has nothing left to settle", errorbank.WithCause(err), errorbank.WithCode(CodeNothingToSettle))
	case errors.Is(err, core.ErrInvalidSelection):
		return errorbank.Unprocessable(err.Error(), errorbank.WithCause(err), errorbank.WithCode(CodeInvalidSelection))
	case errors.Is(err, core.ErrAmountExceedsRemaining):
		return errorbank.Unprocessable(err.Error(), errorbank.WithCause(err), errorbank.WithCode(CodeAmountExceedsRemaining))
	case errors.Is(err, core.ErrItemAlreadySettled):
		return errorbank.Conflict("item was just paid by someone else; reload the tab", errorbank.WithCause(err), errorbank.WithCode(CodeItemAlreadySettled))
	case errors.Is(err, ledger.ErrStaleOrder):
		return errorbank.Conflict("tab changed while settling; reload the tab", errorbank.WithCause(err), errorbank.WithCode(CodeConcurrentUpdate))
	case errors.Is(err, ledger.ErrNotFound):
		return errorbank.NotFound("record not found", errorbank.WithCause(err), errorbank.WithCode(CodeNotFound))
	case errors.Is(err, core.ErrInconsistentState):
		return errorbank.Internal("settlement state is inconsistent; the tab must be reloaded", errorbank.WithCause(err), errorbank.WithCode(CodeInconsistentState))
	default:
		return errorbank.Unavailable("ledger store unavailable; retry later", errorbank.WithCause(err), errorbank.WithCode(CodeStoreUnavailable))
	}
}
