package settlement

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Additional-Code/tally/internal/entity"
)

// Resolution is the validated outcome of a settlement request.
type Resolution struct {
	Mode    entity.SettlementMode
	Amount  decimal.Decimal
	ItemIDs []int64
	Split   *Split
}

// ItemsCount is the number of items the payment settles; zero outside by-items.
func (r Resolution) ItemsCount() int {
	if r.Mode != entity.ModeByItems {
		return 0
	}
	return len(r.ItemIDs)
}

// Resolve validates req against b and computes the amount to collect. session
// is the active by-people split, if any; it is ignored by the other modes and
// replaced when its head count differs from the request. Resolve never mutates.
func Resolve(b Balance, req Request, session *Split) (Resolution, error) {
	if b.Settled() {
		return Resolution{}, ErrNothingToSettle
	}

	switch r := req.(type) {
	case Full:
		return Resolution{Mode: entity.ModeFull, Amount: b.TotalRemaining}, nil
	case ByItems:
		return resolveItems(b, r)
	case ByPeople:
		return resolvePeople(b, r, session)
	case ByValue:
		return resolveValue(b, r)
	case nil:
		return Resolution{}, fmt.Errorf("%w: missing settlement mode", ErrInvalidSelection)
	default:
		return Resolution{}, fmt.Errorf("%w: unsupported settlement mode %q", ErrInvalidSelection, req.Mode())
	}
}

func resolveItems(b Balance, r ByItems) (Resolution, error) {
	if len(r.ItemIDs) == 0 {
		return Resolution{}, fmt.Errorf("%w: no items selected", ErrInvalidSelection)
	}

	unpaid := make(map[int64]decimal.Decimal, len(b.UnpaidItems))
	for _, it := range b.UnpaidItems {
		unpaid[it.ItemID] = it.Subtotal
	}

	seen := make(map[int64]struct{}, len(r.ItemIDs))
	ids := make([]int64, 0, len(r.ItemIDs))
	amount := decimal.Zero
	for _, id := range r.ItemIDs {
		if _, dup := seen[id]; dup {
			return Resolution{}, fmt.Errorf("%w: item %d selected twice", ErrInvalidSelection, id)
		}
		seen[id] = struct{}{}
		subtotal, ok := unpaid[id]
		if !ok {
			return Resolution{}, fmt.Errorf("%w: item %d is paid or not on this table", ErrInvalidSelection, id)
		}
		ids = append(ids, id)
		amount = amount.Add(subtotal)
	}

	if amount.GreaterThan(b.TotalRemaining) {
		return Resolution{}, fmt.Errorf("%w: items total %s, remaining %s", ErrAmountExceedsRemaining, Format(amount), Format(b.TotalRemaining))
	}
	return Resolution{Mode: entity.ModeByItems, Amount: amount, ItemIDs: ids}, nil
}

func resolvePeople(b Balance, r ByPeople, session *Split) (Resolution, error) {
	split, err := NewSplit(b.TotalOriginal, r.People)
	if err != nil {
		return Resolution{}, err
	}
	if session != nil && session.People == r.People && session.Share.IsPositive() {
		split = *session
	}

	amount := minDecimal(split.Share, b.TotalRemaining)
	if split.PaidPeople(b.TotalPaid) >= split.People-1 &&
		b.TotalRemaining.GreaterThan(split.Share) &&
		b.TotalRemaining.Sub(split.Share).LessThanOrEqual(split.roundingSlack()) {
		amount = b.TotalRemaining
	}
	return Resolution{Mode: entity.ModeByPeople, Amount: amount, Split: &split}, nil
}

func resolveValue(b Balance, r ByValue) (Resolution, error) {
	if !r.Amount.IsPositive() {
		return Resolution{}, fmt.Errorf("%w: amount must be positive", ErrInvalidSelection)
	}
	if !HasCurrencyPrecision(r.Amount) {
		return Resolution{}, fmt.Errorf("%w: amount %s has sub-cent precision", ErrInvalidSelection, r.Amount.String())
	}
	if r.Amount.GreaterThan(b.TotalRemaining) {
		return Resolution{}, fmt.Errorf("%w: requested %s, remaining %s", ErrAmountExceedsRemaining, Format(r.Amount), Format(b.TotalRemaining))
	}
	return Resolution{Mode: entity.ModeByValue, Amount: r.Amount}, nil
}
