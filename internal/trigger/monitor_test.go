package trigger

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/enercoop/gridmatch/internal/market"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func armedOrder(sourceID uuid.UUID, side, stopLoss, takeProfit string) *market.Order {
	o := &market.Order{
		ID:             uuid.New(),
		EnergySourceID: sourceID,
		Side:           side,
		Quantity:       d("10"),
		LimitPrice:     d("0.10"),
	}
	if stopLoss != "" {
		o.StopLossPrice = d(stopLoss)
	}
	if takeProfit != "" {
		o.TakeProfitPrice = d(takeProfit)
	}
	return o
}

func TestMonitorDirections(t *testing.T) {
	tests := []struct {
		name       string
		side       string
		stopLoss   string
		takeProfit string
		price      string
		fires      bool
		kind       Kind
	}{
		{"buy stop-loss fires at or below stop", market.OrderSideBuy, "0.08", "", "0.07", true, KindStopLoss},
		{"buy stop-loss fires at stop exactly", market.OrderSideBuy, "0.08", "", "0.08", true, KindStopLoss},
		{"buy stop-loss holds above stop", market.OrderSideBuy, "0.08", "", "0.09", false, 0},
		{"buy take-profit fires at or above take", market.OrderSideBuy, "", "0.15", "0.16", true, KindTakeProfit},
		{"buy take-profit holds below take", market.OrderSideBuy, "", "0.15", "0.14", false, 0},
		{"sell stop-loss fires at or above stop", market.OrderSideSell, "0.20", "", "0.21", true, KindStopLoss},
		{"sell stop-loss holds below stop", market.OrderSideSell, "0.20", "", "0.19", false, 0},
		{"sell take-profit fires at or below take", market.OrderSideSell, "", "0.05", "0.04", true, KindTakeProfit},
		{"sell take-profit holds above take", market.OrderSideSell, "", "0.05", "0.06", false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMonitor(zap.NewNop())
			sourceID := uuid.New()
			o := armedOrder(sourceID, tt.side, tt.stopLoss, tt.takeProfit)
			m.Arm(o)

			fired := m.Evaluate(sourceID, d(tt.price))
			if !tt.fires {
				assert.Empty(t, fired)
				assert.Equal(t, 1, m.ArmedCount())
				return
			}
			require.Len(t, fired, 1)
			assert.Equal(t, o.ID, fired[0].OrderID)
			assert.Equal(t, tt.kind, fired[0].Kind)
			assert.Equal(t, 0, m.ArmedCount(), "fired conditions are one-shot")
		})
	}
}

func TestMonitorArmIgnoresUntriggeredOrders(t *testing.T) {
	m := NewMonitor(zap.NewNop())
	m.Arm(armedOrder(uuid.New(), market.OrderSideBuy, "", ""))
	assert.Equal(t, 0, m.ArmedCount())
}

func TestMonitorDisarm(t *testing.T) {
	m := NewMonitor(zap.NewNop())
	sourceID := uuid.New()
	o := armedOrder(sourceID, market.OrderSideBuy, "0.08", "")
	m.Arm(o)
	m.Disarm(sourceID, o.ID)

	assert.Equal(t, 0, m.ArmedCount())
	assert.Empty(t, m.Evaluate(sourceID, d("0.01")))
}

func TestMonitorScopedToSource(t *testing.T) {
	m := NewMonitor(zap.NewNop())
	srcA := uuid.New()
	srcB := uuid.New()
	m.Arm(armedOrder(srcA, market.OrderSideBuy, "0.08", ""))

	assert.Empty(t, m.Evaluate(srcB, d("0.01")), "tick on another source must not fire")
	assert.Equal(t, 1, m.ArmedCount())

	p, ok := m.LastPrice(srcB)
	require.True(t, ok)
	assert.True(t, p.Equal(d("0.01")))
}
