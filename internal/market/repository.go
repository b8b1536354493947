package market

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the durable store for orders and matches. It is the system
// of record; order books are caches rebuilt from it. Writes for orders of a
// given energy source are only issued by that source's owner goroutine.
type Repository interface {
	CreateOrder(ctx context.Context, order *Order) error
	UpdateOrder(ctx context.Context, order *Order) error
	GetOrder(ctx context.Context, id uuid.UUID) (*Order, error)
	// GetOrderByReference resolves an order by its caller-supplied
	// external reference (idempotency key).
	GetOrderByReference(ctx context.Context, ref string) (*Order, error)
	// ActiveOrdersBySource returns all PENDING/PARTIAL orders for the
	// source, ordered by price-time priority within each side (bids by
	// price descending, asks ascending, then sequence ascending). Used
	// for book reconstruction.
	ActiveOrdersBySource(ctx context.Context, sourceID uuid.UUID) ([]*Order, error)

	CreateMatch(ctx context.Context, match *Match) error
	GetMatch(ctx context.Context, id uuid.UUID) (*Match, error)
	MatchesForOrder(ctx context.Context, orderID uuid.UUID) ([]*Match, error)

	// MarkMatchSettled records that the ledger accepted the match's
	// postings. Settling an already settled match is a no-op.
	MarkMatchSettled(ctx context.Context, matchID uuid.UUID) error
	// MarkMatchSettlementFailed records the latest failure reason and
	// bumps the retry counter; the match stays pending.
	MarkMatchSettlementFailed(ctx context.Context, matchID uuid.UUID, reason string) error
	// PendingSettlementMatches lists matches not yet settled, oldest
	// first, for retry scheduling and operator inspection.
	PendingSettlementMatches(ctx context.Context) ([]*Match, error)
	// IsMatchSettled reports whether the match has been settled.
	IsMatchSettled(ctx context.Context, matchID uuid.UUID) (bool, error)
}

// SourceResolver answers whether an energy source id is known. The energy
// source registry itself (names, capacity, members) is external CRUD.
type SourceResolver interface {
	SourceExists(ctx context.Context, sourceID uuid.UUID) (bool, error)
}

// SourceResolverFunc adapts a function to the SourceResolver interface.
type SourceResolverFunc func(ctx context.Context, sourceID uuid.UUID) (bool, error)

func (f SourceResolverFunc) SourceExists(ctx context.Context, sourceID uuid.UUID) (bool, error) {
	return f(ctx, sourceID)
}
