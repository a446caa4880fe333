package settlement

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Additional-Code/tally/internal/entity"
)

// UnpaidItem is an outstanding line item annotated with its owning order.
type UnpaidItem struct {
	ItemID    int64
	OrderID   int64
	ProductID int64
	Quantity  int
	UnitPrice decimal.Decimal
	Subtotal  decimal.Decimal
	CreatedAt time.Time
}

// OrderBalance is the per-order breakdown of a tab.
type OrderBalance struct {
	OrderID    int64
	Status     entity.OrderStatus
	Total      decimal.Decimal
	ItemsValue decimal.Decimal
	PaidItems  decimal.Decimal
	PaidAmount decimal.Decimal
}

// Outstanding is how much more the order can absorb through proportional payments.
// It never exceeds Total - PaidAmount and excludes value already settled per item.
func (o OrderBalance) Outstanding() decimal.Decimal {
	out := o.ItemsValue.Sub(o.PaidItems).Sub(o.PaidAmount)
	out = minDecimal(out, o.Total.Sub(o.PaidAmount))
	if out.IsNegative() {
		return decimal.Zero
	}
	return out
}

// Balance is a snapshot of a table's tab derived from source records.
type Balance struct {
	TotalOriginal  decimal.Decimal
	PaidViaItems   decimal.Decimal
	PaidViaOrders  decimal.Decimal
	TotalPaid      decimal.Decimal
	TotalRemaining decimal.Decimal
	UnpaidItems    []UnpaidItem
	Orders         []OrderBalance
}

// PaidItemsTotal is the value settled through by-items payments.
func (b Balance) PaidItemsTotal() decimal.Decimal {
	return b.PaidViaItems
}

// Settled reports whether the remaining balance is within tolerance.
func (b Balance) Settled() bool {
	return b.TotalRemaining.LessThanOrEqual(Tolerance)
}

// OrderIDs returns the ids of the aggregated orders in input order.
func (b Balance) OrderIDs() []int64 {
	ids := make([]int64, 0, len(b.Orders))
	for _, o := range b.Orders {
		ids = append(ids, o.OrderID)
	}
	return ids
}

// Aggregate derives a Balance from orders and their items. Cancelled orders and
// items of orders not in the list are ignored. It is a pure function.
func Aggregate(orders []entity.Order, items []entity.OrderItem) Balance {
	b := Balance{
		TotalOriginal: decimal.Zero,
		PaidViaItems:  decimal.Zero,
		PaidViaOrders: decimal.Zero,
		UnpaidItems:   []UnpaidItem{},
		Orders:        make([]OrderBalance, 0, len(orders)),
	}

	index := make(map[int64]int, len(orders))
	for _, o := range orders {
		if o.Status == entity.OrderStatusCancelled {
			continue
		}
		if _, dup := index[o.ID]; dup {
			continue
		}
		index[o.ID] = len(b.Orders)
		b.Orders = append(b.Orders, OrderBalance{
			OrderID:    o.ID,
			Status:     o.Status,
			Total:      o.Total,
			ItemsValue: decimal.Zero,
			PaidItems:  decimal.Zero,
			PaidAmount: o.PaidAmount,
		})
		b.PaidViaOrders = b.PaidViaOrders.Add(o.PaidAmount)
	}

	sorted := make([]entity.OrderItem, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	for _, it := range sorted {
		pos, ok := index[it.OrderID]
		if !ok {
			continue
		}
		ob := &b.Orders[pos]
		ob.ItemsValue = ob.ItemsValue.Add(it.Subtotal)
		b.TotalOriginal = b.TotalOriginal.Add(it.Subtotal)
		if it.IsPaid {
			ob.PaidItems = ob.PaidItems.Add(it.Subtotal)
			b.PaidViaItems = b.PaidViaItems.Add(it.Subtotal)
			continue
		}
		b.UnpaidItems = append(b.UnpaidItems, UnpaidItem{
			ItemID:    it.ID,
			OrderID:   it.OrderID,
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			Subtotal:  it.Subtotal,
			CreatedAt: it.CreatedAt,
		})
	}

	b.TotalPaid = b.PaidViaItems.Add(b.PaidViaOrders)
	b.TotalRemaining = b.TotalOriginal.Sub(b.TotalPaid)
	if b.TotalRemaining.IsNegative() {
		b.TotalRemaining = decimal.Zero
	}
	return b
}

// Verify checks the invariants that must hold after any mutation.
func (b Balance) Verify() error {
	if b.TotalPaid.Sub(b.TotalOriginal).GreaterThan(Tolerance) {
		return fmt.Errorf("%w: paid %s exceeds original %s", ErrInconsistentState, Format(b.TotalPaid), Format(b.TotalOriginal))
	}
	for _, o := range b.Orders {
		if o.PaidAmount.IsNegative() {
			return fmt.Errorf("%w: order %d has negative paid amount %s", ErrInconsistentState, o.OrderID, Format(o.PaidAmount))
		}
		if o.PaidAmount.GreaterThan(o.Total) {
			return fmt.Errorf("%w: order %d paid %s over total %s", ErrInconsistentState, o.OrderID, Format(o.PaidAmount), Format(o.Total))
		}
	}
	return nil
}
