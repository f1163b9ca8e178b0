// Package scheduler runs periodic refreshes in the background.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Refresher is anything that can refresh all of its accounts.
type Refresher interface {
	RefreshAll(ctx context.Context) error
}

type Scheduler struct {
	refresher Refresher
	interval  time.Duration
	timeout   time.Duration
	logger    *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns a scheduler that calls r.RefreshAll every interval. Each run is
// bounded by timeout when it is positive.
func New(r Refresher, interval, timeout time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	return &Scheduler{refresher: r, interval: interval, timeout: timeout, logger: logger}
}

// Start refreshes once right away and then on every tick until ctx ends or
// Stop is called. Starting a running scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.run(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.run(ctx)
			}
		}
	}()
}

// Stop cancels a running refresh and waits for the loop to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	started := time.Now()
	if err := s.refresher.RefreshAll(ctx); err != nil {
		s.logger.Warn("scheduled refresh failed", "err", err, "elapsed", time.Since(started))
		return
	}
	s.logger.Info("scheduled refresh finished", "elapsed", time.Since(started))
}
