// Package sweeper periodically expires resting orders whose expires_at has
// passed. The actual transition happens inside each source owner, so sweeps
// never race an in-flight matching pass.
package sweeper

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/enercoop/gridmatch/internal/engine"
	"github.com/enercoop/gridmatch/internal/market"
)

// Sweeper drives periodic expiry sweeps across all active sources.
type Sweeper struct {
	logger   *zap.Logger
	eng      *engine.Engine
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a sweeper. interval defaults to one minute.
func New(logger *zap.Logger, eng *engine.Engine, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Sweeper{
		logger:   logger.Named("sweeper"),
		eng:      eng,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the sweep loop.
func (s *Sweeper) Start() {
	s.wg.Add(1)
	go s.run()
	s.logger.Info("expiry sweeper started", zap.Duration("interval", s.interval))
}

// Stop halts the sweep loop.
func (s *Sweeper) Stop() {
	s.cancel()
	s.wg.Wait()
	s.logger.Info("expiry sweeper stopped")
}

func (s *Sweeper) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce()
		}
	}
}

// SweepOnce sweeps every active source once and returns the number of
// orders expired.
func (s *Sweeper) SweepOnce() int {
	total := 0
	for _, sourceID := range s.eng.ActiveSources() {
		n, err := s.eng.SweepExpired(sourceID)
		if err != nil {
			if err != market.ErrEngineStopped {
				s.logger.Warn("expiry sweep failed",
					zap.String("energy_source_id", sourceID.String()),
					zap.Error(err))
			}
			continue
		}
		total += n
	}
	if total > 0 {
		s.logger.Info("expiry sweep completed", zap.Int("expired", total))
	}
	return total
}
