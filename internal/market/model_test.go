package market

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func validOrder() *Order {
	return &Order{
		ID:                  uuid.New(),
		MemberID:            uuid.New(),
		EnergySourceID:      uuid.New(),
		Side:                OrderSideBuy,
		Quantity:            d("50"),
		LimitPrice:          d("0.12"),
		PartialFillsAllowed: true,
	}
}

func TestValidateAdmission(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	tests := []struct {
		name   string
		mutate func(*Order)
		want   string
	}{
		{"valid", func(o *Order) {}, ""},
		{"invalid side", func(o *Order) { o.Side = "HOLD" }, RejectReasonSide},
		{"zero quantity", func(o *Order) { o.Quantity = decimal.Zero }, RejectReasonQuantity},
		{"negative quantity", func(o *Order) { o.Quantity = d("-1") }, RejectReasonQuantity},
		{"below minimum", func(o *Order) { o.MinimumOrderSize = d("100") }, RejectReasonBelowMinimum},
		{"above maximum", func(o *Order) { o.MaximumOrderSize = d("10") }, RejectReasonAboveMaximum},
		{"zero price", func(o *Order) { o.LimitPrice = decimal.Zero }, RejectReasonPrice},
		{"expiry in past", func(o *Order) { o.ExpiresAt = &past }, RejectReasonExpiry},
		{"expiry in future ok", func(o *Order) { o.ExpiresAt = &future }, ""},
		{"iceberg without visible", func(o *Order) { o.Iceberg = true }, RejectReasonIceberg},
		{"iceberg visible above quantity", func(o *Order) {
			o.Iceberg = true
			o.IcebergVisibleQuantity = d("60")
		}, RejectReasonIceberg},
		{"iceberg valid", func(o *Order) {
			o.Iceberg = true
			o.IcebergVisibleQuantity = d("10")
		}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := validOrder()
			tt.mutate(o)
			assert.Equal(t, tt.want, ValidateAdmission(o, now))
		})
	}
}

func TestOrderRemainingAndTerminal(t *testing.T) {
	o := validOrder()
	o.Status = OrderStatusPartial
	o.FilledQuantity = d("20")
	assert.True(t, o.Remaining().Equal(d("30")))
	assert.False(t, o.IsTerminal())
	assert.True(t, o.IsActive())

	o.Status = OrderStatusFilled
	assert.True(t, o.IsTerminal())
	assert.False(t, o.IsActive())
}

func TestAverageFillPrice(t *testing.T) {
	matches := []*Match{
		{Quantity: d("40"), Price: d("0.10")},
		{Quantity: d("10"), Price: d("0.15")},
	}
	// (40*0.10 + 10*0.15) / 50 = 0.11
	assert.True(t, AverageFillPrice(matches).Equal(d("0.11")))
	assert.True(t, AverageFillPrice(nil).IsZero())
}

func TestMatchAmount(t *testing.T) {
	m := &Match{Quantity: d("50"), Price: d("0.10")}
	assert.True(t, m.Amount().Equal(d("5")))
}

func TestRejectionError(t *testing.T) {
	err := Rejected(RejectReasonFillOrKill)
	assert.Equal(t, RejectReasonFillOrKill, RejectionReasonOf(err))
	assert.Empty(t, RejectionReasonOf(ErrOrderNotFound))
}
