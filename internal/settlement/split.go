package settlement

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Split is a by-people session. Share is fixed when the session starts and
// does not shrink as payments accumulate.
type Split struct {
	People int             `json:"people"`
	Share  decimal.Decimal `json:"share"`
}

// NewSplit divides the original total into people equal shares rounded to the cent.
func NewSplit(totalOriginal decimal.Decimal, people int) (Split, error) {
	if people < 2 {
		return Split{}, fmt.Errorf("%w: need at least 2 people, got %d", ErrInvalidSelection, people)
	}
	share := totalOriginal.Div(decimal.NewFromInt(int64(people))).Round(currencyScale)
	if !share.IsPositive() {
		return Split{}, fmt.Errorf("%w: %s cannot be split between %d people", ErrInvalidSelection, Format(totalOriginal), people)
	}
	return Split{People: people, Share: share}, nil
}

// PaidPeople is the number of shares covered so far, floor(totalPaid / share),
// capped at People.
func (s Split) PaidPeople(totalPaid decimal.Decimal) int {
	if !s.Share.IsPositive() {
		return 0
	}
	n := int(totalPaid.Div(s.Share).Floor().IntPart())
	if n > s.People {
		return s.People
	}
	if n < 0 {
		return 0
	}
	return n
}

// roundingSlack is the largest gap between the last share and the remainder
// that the last payer absorbs: one cent per person.
func (s Split) roundingSlack() decimal.Decimal {
	return fromCents(int64(s.People))
}
