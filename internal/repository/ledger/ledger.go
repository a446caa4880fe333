// Package ledger persists orders, order items and payments for the
// settlement engine.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Additional-Code/tally/internal/entity"
)

var (
	// ErrNotFound is returned when a record is missing.
	ErrNotFound = errors.New("ledger record not found")
	// ErrStaleOrder is returned when a guarded order update finds the row changed.
	ErrStaleOrder = errors.New("order changed concurrently")
)

// Reader is the read side of the ledger.
type Reader interface {
	ListOpenOrdersForTable(ctx context.Context, table int) ([]entity.Order, error)
	ListItemsForOrders(ctx context.Context, orderIDs []int64) ([]entity.OrderItem, error)
	ListPaymentsForOrders(ctx context.Context, orderIDs []int64) ([]entity.Payment, error)
	GetOrder(ctx context.Context, id int64) (*entity.Order, error)
	GetItem(ctx context.Context, id int64) (*entity.OrderItem, error)
}

// Writer is the write side of the ledger.
type Writer interface {
	// CreateOrder stores an order with its items, deriving subtotals and the order total.
	CreateOrder(ctx context.Context, order *entity.Order, items []entity.OrderItem) error
	// UpdateOrder applies patch; guarded patches fail with ErrStaleOrder.
	UpdateOrder(ctx context.Context, id int64, patch OrderPatch) error
	// MarkItemPaid flags an unpaid item as paid. It fails with
	// settlement.ErrItemAlreadySettled when the item is already paid.
	MarkItemPaid(ctx context.Context, id int64, paidAt time.Time, method entity.PaymentMethod) error
	// DeleteUnpaidItem removes an item that is still unpaid.
	DeleteUnpaidItem(ctx context.Context, id int64) error
	InsertPayment(ctx context.Context, payment *entity.Payment) error
}

// Store is a ledger that can group operations into one atomic unit.
type Store interface {
	Reader
	Writer
	// RunInTx runs fn against a transactional view. Any error rolls back
	// every write made through tx. Nested calls join the outer transaction.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}

// OrderPatch describes an order update. Nil fields are left untouched.
type OrderPatch struct {
	PaidAmount *decimal.Decimal
	Total      *decimal.Decimal
	Status     *entity.OrderStatus

	// ExpectPaidAmount applies the patch only while the stored paid amount equals it.
	ExpectPaidAmount *decimal.Decimal
	// ExpectOpen applies the patch only while the order is pending or ready.
	ExpectOpen bool
}

func prepareOrder(order *entity.Order, items []entity.OrderItem, now time.Time) {
	total := decimal.Zero
	for i := range items {
		it := &items[i]
		it.Subtotal = it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))).Round(2)
		it.IsPaid = false
		it.PaidAt = nil
		it.PaymentMethod = ""
		if it.CreatedAt.IsZero() {
			it.CreatedAt = now
		}
		total = total.Add(it.Subtotal)
	}
	order.Total = total
	order.PaidAmount = decimal.Zero
	if order.Status == "" {
		order.Status = entity.OrderStatusPending
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
}
