package dto

import (
	"fmt"

	"github.com/Additional-Code/tally/internal/entity"
	service "github.com/Additional-Code/tally/internal/service/settlement"
	core "github.com/Additional-Code/tally/internal/settlement"
	"github.com/Additional-Code/tally/pkg/errorbank"
)

// ToSettlement maps the payload onto one settlement case, rejecting fields
// that do not belong to the chosen mode.
func (p PaymentRequest) ToSettlement() (core.Request, error) {
	mode := entity.SettlementMode(p.Mode)
	var foreign []string
	reject := func(field string, set bool) {
		if set {
			foreign = append(foreign, field)
		}
	}

	var req core.Request
	switch mode {
	case entity.ModeFull:
		reject("item_ids", p.ItemIDs != nil)
		reject("people", p.People != nil)
		reject("amount", p.Amount != nil)
		req = core.Full{}
	case entity.ModeByItems:
		reject("people", p.People != nil)
		reject("amount", p.Amount != nil)
		if len(p.ItemIDs) == 0 {
			return nil, errorbank.BadRequest("item_ids is required for by_items", errorbank.WithCode(service.CodeInvalidSelection))
		}
		req = core.ByItems{ItemIDs: p.ItemIDs}
	case entity.ModeByPeople:
		reject("item_ids", p.ItemIDs != nil)
		reject("amount", p.Amount != nil)
		if p.People == nil {
			return nil, errorbank.BadRequest("people is required for by_people", errorbank.WithCode(service.CodeInvalidSelection))
		}
		req = core.ByPeople{People: *p.People}
	case entity.ModeByValue:
		reject("item_ids", p.ItemIDs != nil)
		reject("people", p.People != nil)
		if p.Amount == nil {
			return nil, errorbank.BadRequest("amount is required for by_value", errorbank.WithCode(service.CodeInvalidSelection))
		}
		req = core.ByValue{Amount: *p.Amount}
	default:
		return nil, errorbank.BadRequest(fmt.Sprintf("unknown mode %q", p.Mode), errorbank.WithCode(service.CodeInvalidSelection))
	}

	if len(foreign) > 0 {
		return nil, errorbank.BadRequest(
			fmt.Sprintf("fields not allowed for %s", mode),
			errorbank.WithCode(service.CodeInvalidSelection),
			errorbank.WithDetail("fields", foreign),
		)
	}
	return req, nil
}
