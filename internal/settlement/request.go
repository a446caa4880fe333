package settlement

import (
	"github.com/shopspring/decimal"

	"github.com/Additional-Code/tally/internal/entity"
)

// Request is one settlement strategy with exactly the input it needs.
// The concrete types are Full, ByItems, ByPeople and ByValue.
type Request interface {
	Mode() entity.SettlementMode
	isRequest()
}

// Full collects the whole remaining balance.
type Full struct{}

// ByItems collects the subtotals of the selected unpaid items.
type ByItems struct {
	ItemIDs []int64
}

// ByPeople collects one equal share of the original total.
type ByPeople struct {
	People int
}

// ByValue collects an arbitrary amount.
type ByValue struct {
	Amount decimal.Decimal
}

func (Full) Mode() entity.SettlementMode     { return entity.ModeFull }
func (ByItems) Mode() entity.SettlementMode  { return entity.ModeByItems }
func (ByPeople) Mode() entity.SettlementMode { return entity.ModeByPeople }
func (ByValue) Mode() entity.SettlementMode  { return entity.ModeByValue }

func (Full) isRequest()     {}
func (ByItems) isRequest()  {}
func (ByPeople) isRequest() {}
func (ByValue) isRequest()  {}
