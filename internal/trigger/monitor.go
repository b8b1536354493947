// Package trigger tracks stop-loss and take-profit conditions on resting
// orders and evaluates them against price feed ticks. The registry is safe
// for concurrent reads; conversion of a triggered order happens on the
// owning source's goroutine, never here.
package trigger

import (
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/enercoop/gridmatch/internal/market"
)

// Kind distinguishes the condition that fired.
type Kind int

const (
	KindStopLoss Kind = iota
	KindTakeProfit
)

func (k Kind) String() string {
	if k == KindStopLoss {
		return "stop_loss"
	}
	return "take_profit"
}

// condition is one armed stop/take pair for a resting order.
type condition struct {
	orderID    uuid.UUID
	sourceID   uuid.UUID
	side       string
	stopLoss   decimal.Decimal
	takeProfit decimal.Decimal
}

// Fired reports a triggered order and which condition fired.
type Fired struct {
	OrderID uuid.UUID
	Kind    Kind
	Price   decimal.Decimal
}

// Monitor is the stop-loss/take-profit condition registry.
type Monitor struct {
	logger *zap.Logger

	mu         sync.RWMutex
	bySource   map[uuid.UUID]map[uuid.UUID]*condition
	lastPrices map[uuid.UUID]decimal.Decimal
}

// NewMonitor creates an empty monitor.
func NewMonitor(logger *zap.Logger) *Monitor {
	return &Monitor{
		logger:     logger.Named("trigger"),
		bySource:   make(map[uuid.UUID]map[uuid.UUID]*condition),
		lastPrices: make(map[uuid.UUID]decimal.Decimal),
	}
}

// Arm registers the order's stop/take condition, if it has one.
func (m *Monitor) Arm(order *market.Order) {
	if !order.HasTrigger() {
		return
	}
	c := &condition{
		orderID:    order.ID,
		sourceID:   order.EnergySourceID,
		side:       order.Side,
		stopLoss:   order.StopLossPrice,
		takeProfit: order.TakeProfitPrice,
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.bySource[order.EnergySourceID]
	if !ok {
		src = make(map[uuid.UUID]*condition)
		m.bySource[order.EnergySourceID] = src
	}
	src[order.ID] = c
	m.logger.Debug("armed trigger condition",
		zap.String("order_id", order.ID.String()),
		zap.String("side", order.Side),
		zap.String("stop_loss", order.StopLossPrice.String()),
		zap.String("take_profit", order.TakeProfitPrice.String()))
}

// Disarm removes the order's condition. Safe to call when none is armed.
func (m *Monitor) Disarm(sourceID, orderID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if src, ok := m.bySource[sourceID]; ok {
		delete(src, orderID)
		if len(src) == 0 {
			delete(m.bySource, sourceID)
		}
	}
}

// Evaluate applies a price tick and returns the conditions that fired.
// Buy stop-loss: price <= stop. Buy take-profit: price >= take.
// Sell stop-loss: price >= stop. Sell take-profit: price <= take.
func (m *Monitor) Evaluate(sourceID uuid.UUID, price decimal.Decimal) []Fired {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastPrices[sourceID] = price

	src := m.bySource[sourceID]
	if len(src) == 0 {
		return nil
	}
	var fired []Fired
	for _, c := range src {
		kind, ok := c.check(price)
		if !ok {
			continue
		}
		fired = append(fired, Fired{OrderID: c.orderID, Kind: kind, Price: price})
	}
	// Fired conditions are one-shot: remove them so an order cannot
	// re-trigger while its conversion is in flight.
	for _, f := range fired {
		delete(src, f.OrderID)
	}
	if len(src) == 0 {
		delete(m.bySource, sourceID)
	}
	return fired
}

func (c *condition) check(price decimal.Decimal) (Kind, bool) {
	if c.side == market.OrderSideBuy {
		if c.stopLoss.IsPositive() && price.LessThanOrEqual(c.stopLoss) {
			return KindStopLoss, true
		}
		if c.takeProfit.IsPositive() && price.GreaterThanOrEqual(c.takeProfit) {
			return KindTakeProfit, true
		}
		return 0, false
	}
	if c.stopLoss.IsPositive() && price.GreaterThanOrEqual(c.stopLoss) {
		return KindStopLoss, true
	}
	if c.takeProfit.IsPositive() && price.LessThanOrEqual(c.takeProfit) {
		return KindTakeProfit, true
	}
	return 0, false
}

// LastPrice returns the most recent tick seen for the source.
func (m *Monitor) LastPrice(sourceID uuid.UUID) (decimal.Decimal, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.lastPrices[sourceID]
	return p, ok
}

// ArmedCount returns the number of armed conditions across all sources.
func (m *Monitor) ArmedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, src := range m.bySource {
		n += len(src)
	}
	return n
}
