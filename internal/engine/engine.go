// Package engine exposes the energy trading core: order admission,
// price-time-priority matching per energy source, cancellation, stop/take
// trigger conversion and expiry. All mutation of one source's book is
// serialized on that source's owner goroutine; sources run in parallel.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/enercoop/gridmatch/internal/market"
	"github.com/enercoop/gridmatch/internal/orderbook"
	"github.com/enercoop/gridmatch/internal/trigger"
	"github.com/enercoop/gridmatch/pkg/metrics"
)

// Settler receives committed matches for asynchronous posting to the ledger.
// Matching never blocks on settlement.
type Settler interface {
	Enqueue(match *market.Match)
}

// MatchPublisher publishes committed matches for downstream consumers.
type MatchPublisher interface {
	PublishMatch(ctx context.Context, match *market.Match) error
}

// Config tunes the engine's owner queues and admission waits.
type Config struct {
	// QueueSize is the per-source command queue depth.
	QueueSize int
	// SubmitTimeout bounds the wait for a source owner to accept a
	// command; on expiry the caller gets a retryable busy error.
	SubmitTimeout time.Duration
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		QueueSize:     1024,
		SubmitTimeout: 2 * time.Second,
	}
}

// Engine is the matching core facade.
type Engine struct {
	logger    *zap.Logger
	repo      market.Repository
	sources   market.SourceResolver
	monitor   *trigger.Monitor
	settler   Settler
	publisher MatchPublisher
	clock     market.Clock
	cfg       Config

	seq atomic.Uint64

	ownersMu sync.RWMutex
	owners   map[uuid.UUID]*sourceOwner

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped atomic.Bool
}

// New creates an engine. publisher may be nil when event publishing is
// disabled.
func New(logger *zap.Logger, repo market.Repository, sources market.SourceResolver,
	monitor *trigger.Monitor, settler Settler, publisher MatchPublisher,
	clock market.Clock, cfg Config) *Engine {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = DefaultConfig().SubmitTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		logger:    logger.Named("engine"),
		repo:      repo,
		sources:   sources,
		monitor:   monitor,
		settler:   settler,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		owners:    make(map[uuid.UUID]*sourceOwner),
		ctx:       ctx,
		cancel:    cancel,
	}
	// Seed admission sequence numbers past anything persisted earlier so
	// rebuilt books and new admissions stay totally ordered.
	e.seq.Store(uint64(clock.Now().UnixNano()))
	return e
}

// Stop shuts the engine down; queued commands are answered with
// ErrEngineStopped.
func (e *Engine) Stop() {
	if !e.stopped.CompareAndSwap(false, true) {
		return
	}
	e.cancel()
	e.wg.Wait()
	e.logger.Info("engine stopped")
}

func (e *Engine) owner(sourceID uuid.UUID) *sourceOwner {
	e.ownersMu.RLock()
	so, ok := e.owners[sourceID]
	e.ownersMu.RUnlock()
	if ok {
		return so
	}
	e.ownersMu.Lock()
	defer e.ownersMu.Unlock()
	if so, ok = e.owners[sourceID]; ok {
		return so
	}
	so = newSourceOwner(e, sourceID)
	e.owners[sourceID] = so
	e.wg.Add(1)
	go so.run(e.ctx)
	return so
}

// dispatch enqueues a command with a bounded wait and waits for the result.
func (e *Engine) dispatch(so *sourceOwner, cmd command) (cmdResult, error) {
	if e.stopped.Load() {
		return cmdResult{}, market.ErrEngineStopped
	}
	timer := time.NewTimer(e.cfg.SubmitTimeout)
	defer timer.Stop()
	select {
	case so.cmds <- cmd:
	case <-timer.C:
		metrics.SourceBusyRejections.Inc()
		return cmdResult{}, market.ErrSourceBusy
	case <-e.ctx.Done():
		return cmdResult{}, market.ErrEngineStopped
	}
	select {
	case res := <-cmd.resp:
		return res, res.err
	case <-e.ctx.Done():
		return cmdResult{}, market.ErrEngineStopped
	}
}

// SubmitOrder validates and admits an order. On success the order id is
// returned and the matching pass has already run; on validation failure the
// order is persisted as REJECTED and a RejectionError is returned.
func (e *Engine) SubmitOrder(ctx context.Context, order *market.Order) (uuid.UUID, error) {
	now := e.clock.Now()
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	order.FilledQuantity = decimal.Zero
	order.CreatedAt = now
	order.UpdatedAt = now
	order.Sequence = e.seq.Add(1)

	// Idempotent resubmission by external reference.
	if order.ExternalReference != "" {
		if existing, err := e.repo.GetOrderByReference(ctx, order.ExternalReference); err == nil && existing != nil {
			return existing.ID, nil
		}
	}

	if reason := market.ValidateAdmission(order, now); reason != "" {
		return order.ID, e.rejectAtAdmission(ctx, order, reason)
	}
	ok, err := e.sources.SourceExists(ctx, order.EnergySourceID)
	if err != nil {
		return order.ID, err
	}
	if !ok {
		return order.ID, e.rejectAtAdmission(ctx, order, market.RejectReasonUnknownSource)
	}

	order.Status = market.OrderStatusPending
	if err := e.repo.CreateOrder(ctx, order); err != nil {
		return order.ID, err
	}
	metrics.OrdersSubmitted.Inc()

	res, err := e.dispatch(e.owner(order.EnergySourceID), command{
		kind:  cmdSubmit,
		order: order,
		resp:  make(chan cmdResult, 1),
	})
	if err != nil {
		return order.ID, err
	}
	return res.orderID, nil
}

// rejectAtAdmission persists a rejected order without touching any book.
func (e *Engine) rejectAtAdmission(ctx context.Context, order *market.Order, reason string) error {
	order.Status = market.OrderStatusRejected
	order.RejectionReason = reason
	if err := e.repo.CreateOrder(ctx, order); err != nil {
		e.logger.Error("failed to persist rejected order", zap.Error(err),
			zap.String("order_id", order.ID.String()))
	}
	metrics.OrdersRejected.WithLabelValues(reason).Inc()
	return market.Rejected(reason)
}

// CancelOrder cancels a pending or partial order.
func (e *Engine) CancelOrder(ctx context.Context, orderID uuid.UUID) error {
	order, err := e.repo.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	_, err = e.dispatch(e.owner(order.EnergySourceID), command{
		kind:    cmdCancel,
		orderID: orderID,
		resp:    make(chan cmdResult, 1),
	})
	return err
}

// GetOrderStatus returns the order's current status snapshot including its
// fill history.
func (e *Engine) GetOrderStatus(ctx context.Context, orderID uuid.UUID) (*market.OrderStatusSnapshot, error) {
	order, err := e.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	matches, err := e.repo.MatchesForOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &market.OrderStatusSnapshot{
		OrderID:          order.ID,
		Status:           order.Status,
		Quantity:         order.Quantity,
		FilledQuantity:   order.FilledQuantity,
		AverageFillPrice: market.AverageFillPrice(matches),
		RejectionReason:  order.RejectionReason,
		Matches:          matches,
	}, nil
}

// OnPriceTick feeds one price observation to the stop/take-profit monitor
// for the source. Trigger conversion and the resulting matching pass run on
// the source owner.
func (e *Engine) OnPriceTick(sourceID uuid.UUID, price decimal.Decimal) error {
	_, err := e.dispatch(e.owner(sourceID), command{
		kind:  cmdTick,
		price: price,
		resp:  make(chan cmdResult, 1),
	})
	return err
}

// SweepExpired runs an expiry sweep for the source and reports how many
// orders expired.
func (e *Engine) SweepExpired(sourceID uuid.UUID) (int, error) {
	res, err := e.dispatch(e.owner(sourceID), command{
		kind: cmdSweep,
		resp: make(chan cmdResult, 1),
	})
	return res.expired, err
}

// ActiveSources lists sources with live owners, for the sweeper.
func (e *Engine) ActiveSources() []uuid.UUID {
	e.ownersMu.RLock()
	defer e.ownersMu.RUnlock()
	out := make([]uuid.UUID, 0, len(e.owners))
	for id := range e.owners {
		out = append(out, id)
	}
	return out
}

// Depth returns the top price levels of the source's book.
func (e *Engine) Depth(sourceID uuid.UUID, levels int) (bids, asks []orderbook.Level, err error) {
	res, err := e.dispatch(e.owner(sourceID), command{
		kind:  cmdDepth,
		depth: levels,
		resp:  make(chan cmdResult, 1),
	})
	if err != nil {
		return nil, nil, err
	}
	return res.bids, res.asks, nil
}
