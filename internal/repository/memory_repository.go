// Package repository provides the durable order/match stores: a GORM
// implementation for production and an in-memory implementation for tests
// and embedded use.
package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/enercoop/gridmatch/internal/market"
)

// MemoryRepository is a thread-safe in-memory market.Repository.
type MemoryRepository struct {
	mu          sync.RWMutex
	orders      map[uuid.UUID]*market.Order
	ordersByRef map[string]uuid.UUID
	matches     map[uuid.UUID]*market.Match
	matchOrder  []uuid.UUID // creation order, for settlement FIFO
	byOrder     map[uuid.UUID][]uuid.UUID
	settled     map[uuid.UUID]bool
	failures    map[uuid.UUID]settlementFailure
}

type settlementFailure struct {
	reason  string
	retries int
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		orders:      make(map[uuid.UUID]*market.Order),
		ordersByRef: make(map[string]uuid.UUID),
		matches:     make(map[uuid.UUID]*market.Match),
		byOrder:     make(map[uuid.UUID][]uuid.UUID),
		settled:     make(map[uuid.UUID]bool),
		failures:    make(map[uuid.UUID]settlementFailure),
	}
}

func cloneOrder(o *market.Order) *market.Order {
	c := *o
	if o.ExpiresAt != nil {
		t := *o.ExpiresAt
		c.ExpiresAt = &t
	}
	if o.MatchedAt != nil {
		t := *o.MatchedAt
		c.MatchedAt = &t
	}
	if o.FilledAt != nil {
		t := *o.FilledAt
		c.FilledAt = &t
	}
	if len(o.LinkedOrderIDs) > 0 {
		c.LinkedOrderIDs = append([]uuid.UUID(nil), o.LinkedOrderIDs...)
	}
	return &c
}

func (r *MemoryRepository) CreateOrder(ctx context.Context, order *market.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if order.ExternalReference != "" {
		if _, ok := r.ordersByRef[order.ExternalReference]; ok {
			return market.ErrDuplicateReference
		}
		r.ordersByRef[order.ExternalReference] = order.ID
	}
	r.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r *MemoryRepository) UpdateOrder(ctx context.Context, order *market.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[order.ID]; !ok {
		return market.ErrOrderNotFound
	}
	r.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r *MemoryRepository) GetOrder(ctx context.Context, id uuid.UUID) (*market.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, market.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (r *MemoryRepository) GetOrderByReference(ctx context.Context, ref string) (*market.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.ordersByRef[ref]
	if !ok {
		return nil, market.ErrOrderNotFound
	}
	return cloneOrder(r.orders[id]), nil
}

func (r *MemoryRepository) ActiveOrdersBySource(ctx context.Context, sourceID uuid.UUID) ([]*market.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*market.Order
	for _, o := range r.orders {
		if o.EnergySourceID == sourceID && o.IsActive() {
			out = append(out, cloneOrder(o))
		}
	}
	// Price-time priority within each side: bids by price descending,
	// asks ascending, sequence as the tie-break.
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Side != b.Side {
			return a.Side == market.OrderSideBuy
		}
		if !a.LimitPrice.Equal(b.LimitPrice) {
			if a.IsBuy() {
				return a.LimitPrice.GreaterThan(b.LimitPrice)
			}
			return a.LimitPrice.LessThan(b.LimitPrice)
		}
		return a.Sequence < b.Sequence
	})
	return out, nil
}

func (r *MemoryRepository) CreateMatch(ctx context.Context, match *market.Match) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := *match
	r.matches[match.ID] = &m
	r.matchOrder = append(r.matchOrder, match.ID)
	r.byOrder[match.BuyOrderID] = append(r.byOrder[match.BuyOrderID], match.ID)
	r.byOrder[match.SellOrderID] = append(r.byOrder[match.SellOrderID], match.ID)
	return nil
}

func (r *MemoryRepository) GetMatch(ctx context.Context, id uuid.UUID) (*market.Match, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.matches[id]
	if !ok {
		return nil, market.ErrMatchNotFound
	}
	c := *m
	return &c, nil
}

func (r *MemoryRepository) MatchesForOrder(ctx context.Context, orderID uuid.UUID) ([]*market.Match, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.byOrder[orderID]
	out := make([]*market.Match, 0, len(ids))
	for _, id := range ids {
		c := *r.matches[id]
		out = append(out, &c)
	}
	return out, nil
}

func (r *MemoryRepository) MarkMatchSettled(ctx context.Context, matchID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.matches[matchID]; !ok {
		return market.ErrMatchNotFound
	}
	r.settled[matchID] = true
	delete(r.failures, matchID)
	return nil
}

func (r *MemoryRepository) MarkMatchSettlementFailed(ctx context.Context, matchID uuid.UUID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.matches[matchID]; !ok {
		return market.ErrMatchNotFound
	}
	f := r.failures[matchID]
	f.reason = reason
	f.retries++
	r.failures[matchID] = f
	return nil
}

func (r *MemoryRepository) PendingSettlementMatches(ctx context.Context) ([]*market.Match, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*market.Match
	for _, id := range r.matchOrder {
		if !r.settled[id] {
			c := *r.matches[id]
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *MemoryRepository) IsMatchSettled(ctx context.Context, matchID uuid.UUID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.matches[matchID]; !ok {
		return false, market.ErrMatchNotFound
	}
	return r.settled[matchID], nil
}

// SettlementRetries reports the failure counter for a match, for tests.
func (r *MemoryRepository) SettlementRetries(matchID uuid.UUID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.failures[matchID].retries
}
