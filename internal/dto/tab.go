package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentRequest is the body of a settlement action. Only the fields of the
// chosen mode may be set.
type PaymentRequest struct {
	Mode    string           `json:"mode"`
	Method  string           `json:"method"`
	ItemIDs []int64          `json:"item_ids,omitempty"`
	People  *int             `json:"people,omitempty"`
	Amount  *decimal.Decimal `json:"amount,omitempty"`
}

// TabResponse represents a table's balance as exposed via transport layers.
// Money is rendered with exactly two fractional digits.
type TabResponse struct {
	TableNumber    int                    `json:"table_number"`
	TotalOriginal  string                 `json:"total_original"`
	PaidViaItems   string                 `json:"paid_via_items"`
	PaidViaOrders  string                 `json:"paid_via_orders"`
	TotalPaid      string                 `json:"total_paid"`
	TotalRemaining string                 `json:"total_remaining"`
	Settled        bool                   `json:"settled"`
	Orders         []OrderBalanceResponse `json:"orders"`
	UnpaidItems    []ItemResponse         `json:"unpaid_items"`
	Split          *SplitResponse         `json:"split,omitempty"`
	Payments       []PaymentResponse      `json:"payments,omitempty"`
}

// OrderBalanceResponse is one order of a tab.
type OrderBalanceResponse struct {
	ID         int64  `json:"id"`
	Status     string `json:"status"`
	Total      string `json:"total"`
	PaidAmount string `json:"paid_amount"`
	PaidItems  string `json:"paid_items"`
}

// ItemResponse is an unpaid line item.
type ItemResponse struct {
	ID        int64     `json:"id"`
	OrderID   int64     `json:"order_id"`
	ProductID int64     `json:"product_id"`
	Quantity  int       `json:"quantity"`
	UnitPrice string    `json:"unit_price"`
	Subtotal  string    `json:"subtotal"`
	CreatedAt time.Time `json:"created_at"`
}

// SplitResponse is the progress of a by-people split.
type SplitResponse struct {
	People         int    `json:"people"`
	PerPersonShare string `json:"per_person_share"`
	PaidPeople     int    `json:"paid_people_count"`
}

// PaymentResponse is one audit record.
type PaymentResponse struct {
	ID          int64     `json:"id"`
	TableNumber int       `json:"table_number"`
	OrderID     int64     `json:"order_id"`
	Amount      string    `json:"amount"`
	Method      string    `json:"method"`
	Mode        string    `json:"mode"`
	ItemsCount  int       `json:"items_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// ReceiptResponse is returned after a settlement action commits.
type ReceiptResponse struct {
	Payment        PaymentResponse `json:"payment"`
	TotalPaid      string          `json:"total_paid"`
	TotalRemaining string          `json:"total_remaining"`
	Closed         bool            `json:"closed"`
	ClosedOrderIDs []int64         `json:"closed_order_ids,omitempty"`
	Split          *SplitResponse  `json:"split,omitempty"`
}

// ReconciliationResponse compares recorded payments with the ledger.
type ReconciliationResponse struct {
	TableNumber   int    `json:"table_number"`
	PaymentsCount int    `json:"payments_count"`
	PaymentsTotal string `json:"payments_total"`
	TotalPaid     string `json:"total_paid"`
	Difference    string `json:"difference"`
	Balanced      bool   `json:"balanced"`
}
