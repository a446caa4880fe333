package entity

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusReady     OrderStatus = "ready"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// OpenOrderStatuses lists the statuses of orders still holding a table.
var OpenOrderStatuses = []OrderStatus{OrderStatusPending, OrderStatusReady}

// Open reports whether the order still counts against its table.
func (s OrderStatus) Open() bool {
	return s == OrderStatusPending || s == OrderStatusReady
}

// Order is one check opened for a table.
type Order struct {
	bun.BaseModel `bun:"table:orders"`

	ID          int64           `bun:",pk,autoincrement"`
	TableNumber *int            `bun:"table_number"`
	Total       decimal.Decimal `bun:"total,type:numeric(12,2),notnull"`
	PaidAmount  decimal.Decimal `bun:"paid_amount,type:numeric(12,2),notnull"`
	Status      OrderStatus     `bun:"status,notnull"`
	CreatedAt   time.Time       `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time       `bun:"updated_at,nullzero"`
}
