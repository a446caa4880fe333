package entity

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// PaymentMethod is how the money was handed over.
type PaymentMethod string

const (
	PaymentMethodCash       PaymentMethod = "cash"
	PaymentMethodCard       PaymentMethod = "card"
	PaymentMethodQRTransfer PaymentMethod = "qr_transfer"
)

// Valid reports whether m is a supported payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodCard, PaymentMethodQRTransfer:
		return true
	default:
		return false
	}
}

// SettlementMode names the strategy used to compute a payment amount.
type SettlementMode string

const (
	ModeFull     SettlementMode = "full"
	ModeByItems  SettlementMode = "by_items"
	ModeByPeople SettlementMode = "by_people"
	ModeByValue  SettlementMode = "by_value"
)

// Payment is an append-only audit record of one settlement action.
// OrderID points at a representative order of the table; the amount is table scoped.
type Payment struct {
	bun.BaseModel `bun:"table:payments"`

	ID          int64           `bun:",pk,autoincrement"`
	TableNumber int             `bun:"table_number,notnull"`
	OrderID     int64           `bun:"order_id,notnull"`
	Amount      decimal.Decimal `bun:"amount,type:numeric(12,2),notnull"`
	Method      PaymentMethod   `bun:"method,notnull"`
	Mode        SettlementMode  `bun:"mode,notnull"`
	ItemsCount  int             `bun:"items_count,notnull"`
	CreatedAt   time.Time       `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP"`
}
