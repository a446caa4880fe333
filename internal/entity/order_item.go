package entity

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// OrderItem is one line of an order. Subtotal is fixed when the item is created.
type OrderItem struct {
	bun.BaseModel `bun:"table:order_items"`

	ID            int64           `bun:",pk,autoincrement"`
	OrderID       int64           `bun:"order_id,notnull"`
	ProductID     int64           `bun:"product_id,notnull"`
	Quantity      int             `bun:"quantity,notnull"`
	UnitPrice     decimal.Decimal `bun:"unit_price,type:numeric(12,2),notnull"`
	Subtotal      decimal.Decimal `bun:"subtotal,type:numeric(12,2),notnull"`
	IsPaid        bool            `bun:"is_paid,notnull,default:false"`
	PaidAt        *time.Time      `bun:"paid_at"`
	PaymentMethod PaymentMethod   `bun:"payment_method,nullzero"`
	CreatedAt     time.Time       `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP"`
}
