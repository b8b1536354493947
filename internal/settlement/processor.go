// Package settlement converts committed matches into wallet ledger postings.
// A match is final once created; settlement failures are retried with
// exponential backoff and never roll back fill state. Matches are delivered
// in creation order; a retried match re-enters the queue after its backoff,
// so later matches may settle first. Postings are independent and idempotent
// per match, so posting order carries no semantics.
package settlement

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/enercoop/gridmatch/internal/ledger"
	"github.com/enercoop/gridmatch/internal/market"
	"github.com/enercoop/gridmatch/pkg/metrics"
)

// Config tunes the settlement processor.
type Config struct {
	// QueueSize bounds the in-flight match queue. When the queue is full
	// the recovery loop picks the match up from the pending set instead.
	QueueSize int
	// FeeRate is the flat fee rate applied to the gross trade value;
	// added to the buyer's debit, subtracted from the seller's credit.
	FeeRate decimal.Decimal
	// InitialBackoff/MaxBackoff bound the retry schedule.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// RecoveryInterval is how often pending matches are re-enqueued
	// (covers crashes and queue overflow).
	RecoveryInterval time.Duration
}

// DefaultConfig returns the settlement defaults.
func DefaultConfig() Config {
	return Config{
		QueueSize:        4096,
		FeeRate:          decimal.Zero,
		InitialBackoff:   500 * time.Millisecond,
		MaxBackoff:       30 * time.Second,
		RecoveryInterval: time.Minute,
	}
}

// Processor consumes matches and posts them to the ledger exactly once.
type Processor struct {
	logger *zap.Logger
	repo   market.Repository
	client ledger.Client
	cfg    Config

	queue chan *market.Match

	mu       sync.Mutex
	attempts map[uuid.UUID]int
	inflight map[uuid.UUID]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewProcessor creates a settlement processor.
func NewProcessor(logger *zap.Logger, repo market.Repository, client ledger.Client, cfg Config) *Processor {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultConfig().InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultConfig().MaxBackoff
	}
	if cfg.RecoveryInterval <= 0 {
		cfg.RecoveryInterval = DefaultConfig().RecoveryInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Processor{
		logger:   logger.Named("settlement"),
		repo:     repo,
		client:   client,
		cfg:      cfg,
		queue:    make(chan *market.Match, cfg.QueueSize),
		attempts: make(map[uuid.UUID]int),
		inflight: make(map[uuid.UUID]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the worker and the pending-settlement recovery loop.
func (p *Processor) Start() {
	p.wg.Add(2)
	go p.worker()
	go p.recoveryLoop()
	p.logger.Info("settlement processor started")
}

// Stop drains nothing; pending matches are durable and picked up on the
// next start.
func (p *Processor) Stop() {
	p.cancel()
	p.wg.Wait()
	p.logger.Info("settlement processor stopped")
}

// Enqueue hands a committed match to settlement. Never blocks the caller:
// on queue overflow the match stays in the durable pending set and the
// recovery loop re-enqueues it.
func (p *Processor) Enqueue(match *market.Match) {
	p.mu.Lock()
	if _, ok := p.inflight[match.ID]; ok {
		p.mu.Unlock()
		return
	}
	p.inflight[match.ID] = struct{}{}
	p.mu.Unlock()

	select {
	case p.queue <- match:
		metrics.PendingSettlements.Inc()
	default:
		p.clearInflight(match.ID)
		p.logger.Warn("settlement queue full, deferring to recovery",
			zap.String("match_id", match.ID.String()))
	}
}

func (p *Processor) clearInflight(matchID uuid.UUID) {
	p.mu.Lock()
	delete(p.inflight, matchID)
	p.mu.Unlock()
}

func (p *Processor) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case match := <-p.queue:
			p.settle(match)
		}
	}
}

// settle posts one match, retrying transient failures with exponential
// backoff. The retry sleep happens off the worker so a slow ledger does not
// stall settlement of other matches.
func (p *Processor) settle(match *market.Match) {
	ctx, cancelFn := context.WithTimeout(p.ctx, 10*time.Second)
	defer cancelFn()

	settled, err := p.repo.IsMatchSettled(ctx, match.ID)
	if err == nil && settled {
		metrics.PendingSettlements.Dec()
		p.clearInflight(match.ID)
		return
	}

	buyer, seller := p.postings(match)
	err = p.client.PostMatchSettlement(ctx, match.ID, buyer, seller)
	if err == nil {
		if err := p.repo.MarkMatchSettled(ctx, match.ID); err != nil {
			p.logger.Error("ledger accepted settlement but marking failed", zap.Error(err),
				zap.String("match_id", match.ID.String()))
		}
		metrics.SettlementsPosted.Inc()
		metrics.PendingSettlements.Dec()
		p.clearInflight(match.ID)
		p.forgetAttempts(match.ID)
		p.logger.Debug("match settled", zap.String("match_id", match.ID.String()))
		return
	}

	if markErr := p.repo.MarkMatchSettlementFailed(ctx, match.ID, err.Error()); markErr != nil {
		p.logger.Error("failed to record settlement failure", zap.Error(markErr),
			zap.String("match_id", match.ID.String()))
	}
	metrics.SettlementRetries.Inc()

	if !ledger.IsRetryable(err) {
		// Escalate: stays in the pending set for operator intervention,
		// never silently dropped.
		metrics.PendingSettlements.Dec()
		p.clearInflight(match.ID)
		p.logger.Error("non-retryable settlement failure, escalating", zap.Error(err),
			zap.String("match_id", match.ID.String()))
		return
	}

	delay := p.nextBackoff(match.ID)
	p.logger.Warn("settlement failed, retrying",
		zap.Error(err),
		zap.String("match_id", match.ID.String()),
		zap.Duration("backoff", delay))
	time.AfterFunc(delay, func() {
		select {
		case <-p.ctx.Done():
		case p.queue <- match:
		}
	})
}

// postings computes the buyer debit and seller credit for a match.
func (p *Processor) postings(match *market.Match) (ledger.Posting, ledger.Posting) {
	gross := match.Amount()
	fee := gross.Mul(p.cfg.FeeRate)
	buyer := ledger.Posting{
		MemberID: match.BuyerID,
		Side:     ledger.SideBuyerDebit,
		Amount:   gross,
		Fee:      fee,
	}
	seller := ledger.Posting{
		MemberID: match.SellerID,
		Side:     ledger.SideSellerCredit,
		Amount:   gross,
		Fee:      fee,
	}
	return buyer, seller
}

func (p *Processor) nextBackoff(matchID uuid.UUID) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	attempt := p.attempts[matchID]
	p.attempts[matchID] = attempt + 1
	delay := p.cfg.InitialBackoff << attempt
	if delay > p.cfg.MaxBackoff || delay <= 0 {
		delay = p.cfg.MaxBackoff
	}
	return delay
}

func (p *Processor) forgetAttempts(matchID uuid.UUID) {
	p.mu.Lock()
	delete(p.attempts, matchID)
	p.mu.Unlock()
}

// recoveryLoop re-enqueues durable pending matches that are not in flight,
// covering process restarts and queue overflow.
func (p *Processor) recoveryLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.RecoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.recoverPending()
		}
	}
}

func (p *Processor) recoverPending() {
	ctx, cancelFn := context.WithTimeout(p.ctx, 30*time.Second)
	defer cancelFn()
	pending, err := p.repo.PendingSettlementMatches(ctx)
	if err != nil {
		p.logger.Error("failed to load pending settlements", zap.Error(err))
		return
	}
	for _, match := range pending {
		p.Enqueue(match)
	}
}

// PendingSettlements exposes the matches awaiting settlement so an operator
// can intervene.
func (p *Processor) PendingSettlements(ctx context.Context) ([]*market.Match, error) {
	return p.repo.PendingSettlementMatches(ctx)
}
