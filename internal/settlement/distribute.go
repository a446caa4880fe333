package settlement

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Allocation is one order's share of a proportional payment.
type Allocation struct {
	OrderID    int64
	PaidBefore decimal.Decimal
	Amount     decimal.Decimal
}

// PaidAfter is the order's paid amount once the allocation is applied.
func (a Allocation) PaidAfter() decimal.Decimal {
	return a.PaidBefore.Add(a.Amount)
}

// Distribute splits amount across orders in proportion to what each order
// still has outstanding, in whole cents. Floors go to every order first; the
// leftover cents go to the last order, spilling backwards when an order is
// full. The allocations always sum to amount exactly and never push an order
// past its total.
func Distribute(amount decimal.Decimal, orders []OrderBalance) ([]Allocation, error) {
	want := toCents(amount)
	if want <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidSelection)
	}

	caps := make([]int64, len(orders))
	var capacity int64
	for i, o := range orders {
		caps[i] = toCents(o.Outstanding())
		capacity += caps[i]
	}
	if want > capacity {
		return nil, fmt.Errorf("%w: cannot place %s across orders with %s outstanding", ErrInconsistentState, Format(amount), Format(fromCents(capacity)))
	}

	shares := make([]int64, len(orders))
	var placed int64
	total := decimal.NewFromInt(capacity)
	for i := range orders {
		if caps[i] == 0 {
			continue
		}
		share := decimal.NewFromInt(want).Mul(decimal.NewFromInt(caps[i])).Div(total).Floor().IntPart()
		if share > caps[i] {
			share = caps[i]
		}
		shares[i] = share
		placed += share
	}

	leftover := want - placed
	for i := len(orders) - 1; i >= 0 && leftover > 0; i-- {
		room := caps[i] - shares[i]
		if room <= 0 {
			continue
		}
		if room > leftover {
			room = leftover
		}
		shares[i] += room
		leftover -= room
	}

	allocations := make([]Allocation, 0, len(orders))
	for i, o := range orders {
		if shares[i] == 0 {
			continue
		}
		allocations = append(allocations, Allocation{
			OrderID:    o.OrderID,
			PaidBefore: o.PaidAmount,
			Amount:     fromCents(shares[i]),
		})
	}
	return allocations, nil
}
