package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/enercoop/gridmatch/internal/market"
	"github.com/enercoop/gridmatch/internal/orderbook"
	"github.com/enercoop/gridmatch/pkg/metrics"
)

type cmdKind int

const (
	cmdSubmit cmdKind = iota
	cmdCancel
	cmdTick
	cmdSweep
	cmdDepth
)

// command is one serialized request to a source owner. Every command carries
// a response channel; the caller decides how long to wait for admission to
// the queue, the owner always answers.
type command struct {
	kind    cmdKind
	order   *market.Order
	orderID uuid.UUID
	price   decimal.Decimal
	depth   int
	resp    chan cmdResult
}

type cmdResult struct {
	orderID uuid.UUID
	err     error
	bids    []orderbook.Level
	asks    []orderbook.Level
	expired int
}

// sourceOwner serializes all mutation of one energy source's book and the
// orders in it. Admission, matching, cancellation, trigger conversion and
// expiry sweeps for the source run one at a time on its goroutine; different
// sources proceed in parallel.
type sourceOwner struct {
	sourceID uuid.UUID
	book     *orderbook.Book
	cmds     chan command
	eng      *Engine
	logger   *zap.Logger
}

func newSourceOwner(eng *Engine, sourceID uuid.UUID) *sourceOwner {
	return &sourceOwner{
		sourceID: sourceID,
		book:     orderbook.New(sourceID),
		cmds:     make(chan command, eng.cfg.QueueSize),
		eng:      eng,
		logger:   eng.logger.With(zap.String("energy_source_id", sourceID.String())),
	}
}

// rebuild reconstructs the book from the repository's active orders and
// re-arms their trigger conditions. Called once, on the owner goroutine,
// before the first command is served.
func (so *sourceOwner) rebuild(ctx context.Context) {
	orders, err := so.eng.repo.ActiveOrdersBySource(ctx, so.sourceID)
	if err != nil {
		so.logger.Error("book rebuild failed, starting empty", zap.Error(err))
		return
	}
	for _, o := range orders {
		so.book.Add(o)
		so.eng.monitor.Arm(o)
	}
	if len(orders) > 0 {
		so.logger.Info("order book rebuilt", zap.Int("orders", len(orders)))
	}
}

func (so *sourceOwner) run(ctx context.Context) {
	defer so.eng.wg.Done()
	so.rebuild(ctx)
	for {
		select {
		case <-ctx.Done():
			so.drain()
			return
		case cmd, ok := <-so.cmds:
			if !ok {
				return
			}
			so.handle(ctx, cmd)
		}
	}
}

// drain answers queued commands with ErrEngineStopped during shutdown.
func (so *sourceOwner) drain() {
	for {
		select {
		case cmd := <-so.cmds:
			cmd.resp <- cmdResult{err: market.ErrEngineStopped}
		default:
			return
		}
	}
}

func (so *sourceOwner) handle(ctx context.Context, cmd command) {
	switch cmd.kind {
	case cmdSubmit:
		id, err := so.submit(ctx, cmd.order)
		cmd.resp <- cmdResult{orderID: id, err: err}
	case cmdCancel:
		cmd.resp <- cmdResult{orderID: cmd.orderID, err: so.cancel(ctx, cmd.orderID)}
	case cmdTick:
		so.tick(ctx, cmd.price)
		cmd.resp <- cmdResult{}
	case cmdSweep:
		n := so.sweep(ctx)
		cmd.resp <- cmdResult{expired: n}
	case cmdDepth:
		bids, asks := so.book.Depth(cmd.depth)
		cmd.resp <- cmdResult{bids: bids, asks: asks}
	}
}

// submit runs admission for a validated order and the matching pass that
// follows it. The order arrives already persisted as PENDING.
func (so *sourceOwner) submit(ctx context.Context, order *market.Order) (uuid.UUID, error) {
	so.expireLazily(ctx)

	// The order is persisted before this command is queued. When its
	// arrival created the owner, rebuild has loaded a clone of it from the
	// repository; evict that copy so this pointer is the only live
	// instance of the order.
	so.book.Remove(order.ID)
	so.eng.monitor.Disarm(so.sourceID, order.ID)

	if err := so.matchIncoming(ctx, order); err != nil {
		return order.ID, err
	}

	if order.IsActive() {
		so.book.Add(order)
		so.eng.monitor.Arm(order)
	}
	return order.ID, nil
}

// matchIncoming pairs the incoming order against the book while prices
// cross. Fill-or-kill is all-or-nothing: the plan is validated before any
// match is committed. An order that disallows partial fills rests untouched
// unless the plan covers it entirely.
func (so *sourceOwner) matchIncoming(ctx context.Context, order *market.Order) error {
	now := so.eng.clock.Now()
	fills, shortfall := planFills(so.book, order, now)

	if order.FillOrKill && shortfall.IsPositive() {
		order.Status = market.OrderStatusRejected
		order.RejectionReason = market.RejectReasonFillOrKill
		order.UpdatedAt = now
		if err := so.eng.repo.UpdateOrder(ctx, order); err != nil {
			so.logger.Error("failed to persist fill-or-kill rejection", zap.Error(err))
		}
		metrics.OrdersRejected.WithLabelValues(market.RejectReasonFillOrKill).Inc()
		return market.Rejected(market.RejectReasonFillOrKill)
	}
	if !order.PartialFillsAllowed && !order.FillOrKill && shortfall.IsPositive() {
		// Rests for a future full fill.
		return nil
	}

	for _, f := range fills {
		so.commitFill(ctx, order, f, now)
	}
	return nil
}

// commitFill applies one planned fill: creates the match record, advances
// fill state on both orders, updates the book (including iceberg refresh),
// and hands the match to settlement and the event publisher.
func (so *sourceOwner) commitFill(ctx context.Context, taker *market.Order, f plannedFill, now time.Time) {
	maker := f.counter.Order

	buy, sell := taker, maker
	if !taker.IsBuy() {
		buy, sell = maker, taker
	}
	match := &market.Match{
		ID:             uuid.New(),
		EnergySourceID: so.sourceID,
		BuyOrderID:     buy.ID,
		SellOrderID:    sell.ID,
		BuyerID:        buy.MemberID,
		SellerID:       sell.MemberID,
		Quantity:       f.qty,
		Price:          f.price,
		MatchedAt:      now,
	}
	if err := so.eng.repo.CreateMatch(ctx, match); err != nil {
		so.logger.Error("failed to persist match", zap.Error(err),
			zap.String("match_id", match.ID.String()))
	}

	so.applyFillToOrder(ctx, taker, f.qty, now)
	so.applyFillToOrder(ctx, maker, f.qty, now)
	so.book.ApplyFill(f.counter, f.qty)

	if maker.Status == market.OrderStatusFilled {
		so.eng.monitor.Disarm(so.sourceID, maker.ID)
		so.cancelLinked(ctx, maker, now)
	}
	if taker.Status == market.OrderStatusFilled {
		so.eng.monitor.Disarm(so.sourceID, taker.ID)
		so.cancelLinked(ctx, taker, now)
	}

	metrics.MatchesCreated.Inc()
	so.eng.settler.Enqueue(match)
	if so.eng.publisher != nil {
		if err := so.eng.publisher.PublishMatch(ctx, match); err != nil {
			so.logger.Warn("match event publish failed", zap.Error(err),
				zap.String("match_id", match.ID.String()))
		}
	}
	so.logger.Debug("match created",
		zap.String("match_id", match.ID.String()),
		zap.String("buy_order_id", buy.ID.String()),
		zap.String("sell_order_id", sell.ID.String()),
		zap.String("quantity", f.qty.String()),
		zap.String("price", f.price.String()))
}

func (so *sourceOwner) applyFillToOrder(ctx context.Context, o *market.Order, qty decimal.Decimal, now time.Time) {
	o.FilledQuantity = o.FilledQuantity.Add(qty)
	o.UpdatedAt = now
	if o.MatchedAt == nil {
		t := now
		o.MatchedAt = &t
	}
	if o.FilledQuantity.GreaterThanOrEqual(o.Quantity) {
		o.Status = market.OrderStatusFilled
		t := now
		o.FilledAt = &t
	} else {
		o.Status = market.OrderStatusPartial
	}
	if err := so.eng.repo.UpdateOrder(ctx, o); err != nil {
		so.logger.Error("failed to persist order fill state", zap.Error(err),
			zap.String("order_id", o.ID.String()))
	}
}

// cancel transitions a PENDING/PARTIAL order to CANCELLED. The current
// persisted status is the precondition; a concurrently filled order reports
// ErrAlreadyTerminal rather than last-writer-wins.
func (so *sourceOwner) cancel(ctx context.Context, orderID uuid.UUID) error {
	so.expireLazily(ctx)

	order, err := so.lookupOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.IsTerminal() {
		return market.ErrAlreadyTerminal
	}
	now := so.eng.clock.Now()
	so.cancelOrder(ctx, order, now)
	so.cancelLinked(ctx, order, now)
	return nil
}

func (so *sourceOwner) cancelOrder(ctx context.Context, order *market.Order, now time.Time) {
	order.Status = market.OrderStatusCancelled
	order.UpdatedAt = now
	so.book.Remove(order.ID)
	so.eng.monitor.Disarm(so.sourceID, order.ID)
	if err := so.eng.repo.UpdateOrder(ctx, order); err != nil {
		so.logger.Error("failed to persist cancellation", zap.Error(err),
			zap.String("order_id", order.ID.String()))
	}
	metrics.OrdersCancelled.Inc()
	so.logger.Debug("order cancelled", zap.String("order_id", order.ID.String()))
}

// cancelLinked cancels still-active linked orders (one-cancels-other) after
// an order fills or is cancelled.
func (so *sourceOwner) cancelLinked(ctx context.Context, order *market.Order, now time.Time) {
	for _, linkedID := range order.LinkedOrderIDs {
		linked, err := so.lookupOrder(ctx, linkedID)
		if err != nil || linked.IsTerminal() {
			continue
		}
		so.cancelOrder(ctx, linked, now)
	}
}

// lookupOrder prefers the book's live copy over a repository read so fill
// state observed inside the owner loop is always current.
func (so *sourceOwner) lookupOrder(ctx context.Context, orderID uuid.UUID) (*market.Order, error) {
	if e, ok := so.book.Get(orderID); ok {
		return e.Order, nil
	}
	return so.eng.repo.GetOrder(ctx, orderID)
}

// tick evaluates armed stop/take-profit conditions against the price and
// converts each triggered order into a marketable limit order, atomically
// with respect to the order's book position: removal, repricing, matching
// and re-resting all happen inside this owner pass.
func (so *sourceOwner) tick(ctx context.Context, price decimal.Decimal) {
	so.expireLazily(ctx)

	fired := so.eng.monitor.Evaluate(so.sourceID, price)
	for _, f := range fired {
		entry, ok := so.book.Get(f.OrderID)
		if !ok {
			continue
		}
		order := entry.Order
		now := so.eng.clock.Now()

		// Clear the trigger fields first so the order can never fire
		// again, then reprice to cross the book immediately.
		order.StopLossPrice = decimal.Zero
		order.TakeProfitPrice = decimal.Zero
		so.book.Remove(order.ID)

		if order.IsBuy() {
			if ask, ok := so.book.BestAsk(); ok && order.LimitPrice.LessThan(ask.Order.LimitPrice) {
				order.LimitPrice = ask.Order.LimitPrice
			}
		} else {
			if bid, ok := so.book.BestBid(); ok && order.LimitPrice.GreaterThan(bid.Order.LimitPrice) {
				order.LimitPrice = bid.Order.LimitPrice
			}
		}
		order.UpdatedAt = now
		if err := so.eng.repo.UpdateOrder(ctx, order); err != nil {
			so.logger.Error("failed to persist trigger conversion", zap.Error(err),
				zap.String("order_id", order.ID.String()))
		}
		metrics.TriggersFired.WithLabelValues(f.Kind.String()).Inc()
		so.logger.Info("trigger fired, order converted to marketable",
			zap.String("order_id", order.ID.String()),
			zap.String("kind", f.Kind.String()),
			zap.String("tick_price", f.Price.String()),
			zap.String("new_limit_price", order.LimitPrice.String()))

		if err := so.matchIncoming(ctx, order); err != nil {
			continue
		}
		if order.IsActive() {
			so.book.Add(order)
		}
	}
}

// sweep transitions every resting order whose expiry has passed to EXPIRED.
// No match is created for expired orders.
func (so *sourceOwner) sweep(ctx context.Context) int {
	return so.expireLazily(ctx)
}

func (so *sourceOwner) expireLazily(ctx context.Context) int {
	now := so.eng.clock.Now()
	expired := so.book.ExpiredOrders(now)
	for _, o := range expired {
		o.Status = market.OrderStatusExpired
		o.UpdatedAt = now
		so.book.Remove(o.ID)
		so.eng.monitor.Disarm(so.sourceID, o.ID)
		if err := so.eng.repo.UpdateOrder(ctx, o); err != nil {
			so.logger.Error("failed to persist expiry", zap.Error(err),
				zap.String("order_id", o.ID.String()))
		}
		metrics.OrdersExpired.Inc()
		so.logger.Debug("order expired", zap.String("order_id", o.ID.String()))
	}
	return len(expired)
}
