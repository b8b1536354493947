package repository

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enercoop/gridmatch/internal/market"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func order(sourceID uuid.UUID, side, qty, price string, seq uint64) *market.Order {
	return &market.Order{
		ID:             uuid.New(),
		MemberID:       uuid.New(),
		EnergySourceID: sourceID,
		Side:           side,
		Quantity:       d(qty),
		LimitPrice:     d(price),
		Status:         market.OrderStatusPending,
		Sequence:       seq,
	}
}

func TestMemoryRepositoryOrderLifecycle(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()

	o := order(uuid.New(), market.OrderSideBuy, "50", "0.10", 1)
	require.NoError(t, r.CreateOrder(ctx, o))

	got, err := r.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)

	// Mutating the returned copy must not leak into the store.
	got.Status = market.OrderStatusFilled
	again, err := r.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, market.OrderStatusPending, again.Status)

	o.Status = market.OrderStatusCancelled
	require.NoError(t, r.UpdateOrder(ctx, o))
	again, err = r.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, market.OrderStatusCancelled, again.Status)

	_, err = r.GetOrder(ctx, uuid.New())
	assert.ErrorIs(t, err, market.ErrOrderNotFound)
}

func TestMemoryRepositoryDuplicateReference(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()

	first := order(uuid.New(), market.OrderSideBuy, "50", "0.10", 1)
	first.ExternalReference = "ref-1"
	require.NoError(t, r.CreateOrder(ctx, first))

	dup := order(uuid.New(), market.OrderSideBuy, "50", "0.10", 2)
	dup.ExternalReference = "ref-1"
	assert.ErrorIs(t, r.CreateOrder(ctx, dup), market.ErrDuplicateReference)

	got, err := r.GetOrderByReference(ctx, "ref-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
}

func TestMemoryRepositoryActiveOrdersSorted(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	sourceID := uuid.New()

	late := order(sourceID, market.OrderSideSell, "10", "0.10", 5)
	early := order(sourceID, market.OrderSideSell, "10", "0.10", 2)
	cheap := order(sourceID, market.OrderSideSell, "10", "0.09", 9)
	done := order(sourceID, market.OrderSideSell, "10", "0.01", 1)
	done.Status = market.OrderStatusFilled
	other := order(uuid.New(), market.OrderSideSell, "10", "0.01", 1)
	for _, o := range []*market.Order{late, early, cheap, done, other} {
		require.NoError(t, r.CreateOrder(ctx, o))
	}

	active, err := r.ActiveOrdersBySource(ctx, sourceID)
	require.NoError(t, err)
	require.Len(t, active, 3, "terminal and foreign orders excluded")
	assert.Equal(t, cheap.ID, active[0].ID)
	assert.Equal(t, early.ID, active[1].ID)
	assert.Equal(t, late.ID, active[2].ID)
}

func TestMemoryRepositorySettlementTracking(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()

	m := &market.Match{
		ID:          uuid.New(),
		BuyOrderID:  uuid.New(),
		SellOrderID: uuid.New(),
		Quantity:    d("10"),
		Price:       d("0.10"),
	}
	require.NoError(t, r.CreateMatch(ctx, m))

	settled, err := r.IsMatchSettled(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, settled)

	pending, err := r.PendingSettlementMatches(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, r.MarkMatchSettlementFailed(ctx, m.ID, "ledger down"))
	assert.Equal(t, 1, r.SettlementRetries(m.ID))

	require.NoError(t, r.MarkMatchSettled(ctx, m.ID))
	settled, err = r.IsMatchSettled(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, settled)

	pending, err = r.PendingSettlementMatches(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	forBuy, err := r.MatchesForOrder(ctx, m.BuyOrderID)
	require.NoError(t, err)
	require.Len(t, forBuy, 1)
	assert.Equal(t, m.ID, forBuy[0].ID)
}
