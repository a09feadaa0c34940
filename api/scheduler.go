/*
scheduler.go - Retired code purge scheduler

PURPOSE:
  Deleted vouchers leave a tombstone that keeps their code out of
  circulation for the retention window. This scheduler periodically drops
  tombstones older than that window so the codes become mintable again.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on Start
  - Can be restarted after Stop
  - Each run is a single Engine.PurgeRetiredCodes call

USAGE:
  scheduler := NewRetentionScheduler(engine, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/superlink/voucher-engine/voucher"
	"go.uber.org/zap"
)

// RetentionScheduler purges retired codes on an interval.
type RetentionScheduler struct {
	Engine        *voucher.Engine
	Logger        *zap.Logger
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewRetentionScheduler creates a new scheduler with an hourly interval.
func NewRetentionScheduler(engine *voucher.Engine, logger *zap.Logger) *RetentionScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetentionScheduler{
		Engine:        engine,
		Logger:        logger,
		CheckInterval: time.Hour,
		Enabled:       true,
	}
}

// Start begins the scheduler.
func (rs *RetentionScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled || rs.CheckInterval <= 0 {
		rs.Logger.Info("retention scheduler disabled")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.stop = make(chan struct{})
	rs.wg.Add(1)
	go rs.run(rs.ticker, rs.stop)

	rs.Logger.Info("retention scheduler started", zap.Duration("interval", rs.CheckInterval))
}

// Stop stops the scheduler and waits for an in-flight purge.
func (rs *RetentionScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		rs.ticker = nil
		rs.Logger.Info("retention scheduler stopped")
	}
}

func (rs *RetentionScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer rs.wg.Done()

	rs.RunOnce(context.Background())

	for {
		select {
		case <-ticker.C:
			rs.RunOnce(context.Background())
		case <-stop:
			return
		}
	}
}

// RunOnce performs one purge and returns the number of codes released.
func (rs *RetentionScheduler) RunOnce(ctx context.Context) int {
	n, err := rs.Engine.PurgeRetiredCodes(ctx)
	if err != nil {
		rs.Logger.Error("retired code purge failed", zap.Error(err))
		return 0
	}
	rs.Logger.Debug("retired codes purged", zap.Int("count", n))
	return n
}
