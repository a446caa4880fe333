package dto

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	service "github.com/Additional-Code/tally/internal/service/settlement"
	core "github.com/Additional-Code/tally/internal/settlement"
	"github.com/Additional-Code/tally/pkg/errorbank"
)

func TestToSettlement(t *testing.T) {
	three := 3
	amount := decimal.RequireFromString("12.50")

	cases := []struct {
		name string
		in   PaymentRequest
		want core.Request
	}{
		{"full", PaymentRequest{Mode: "full"}, core.Full{}},
		{"by items", PaymentRequest{Mode: "by_items", ItemIDs: []int64{4, 5}}, core.ByItems{ItemIDs: []int64{4, 5}}},
		{"by people", PaymentRequest{Mode: "by_people", People: &three}, core.ByPeople{People: 3}},
		{"by value", PaymentRequest{Mode: "by_value", Amount: &amount}, core.ByValue{Amount: amount}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.in.ToSettlement()
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestToSettlementRejects(t *testing.T) {
	three := 3
	amount := decimal.NewFromInt(1)

	cases := []struct {
		name    string
		in      PaymentRequest
		foreign []string
	}{
		{"unknown mode", PaymentRequest{Mode: "by_vibes"}, nil},
		{"missing items", PaymentRequest{Mode: "by_items"}, nil},
		{"missing people", PaymentRequest{Mode: "by_people"}, nil},
		{"missing amount", PaymentRequest{Mode: "by_value"}, nil},
		{"full with extras", PaymentRequest{Mode: "full", People: &three, Amount: &amount}, []string{"people", "amount"}},
		{"items with people", PaymentRequest{Mode: "by_items", ItemIDs: []int64{1}, People: &three}, []string{"people"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.in.ToSettlement()
			appErr := errorbank.From(err)
			require.NotNil(t, appErr)
			assert.Equal(t, errorbank.KindBadRequest, appErr.Kind())
			assert.Equal(t, service.CodeInvalidSelection, appErr.Code())
			if tc.foreign != nil {
				assert.Equal(t, tc.foreign, appErr.Details()["fields"])
			}
		})
	}
}
