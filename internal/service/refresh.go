package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"swapi-archive/internal/logger"
)

// Runner performs one ingestion run.
type Runner interface {
	Run(ctx context.Context) (*RunResult, error)
}

// RefreshConfig holds configuration for the refresh scheduler.
type RefreshConfig struct {
	// Interval is how often the snapshot is rebuilt.
	Interval time.Duration

	// InitialDelay postpones the first run after Start. Negative skips the
	// initial run and waits for the first tick.
	InitialDelay time.Duration
}

// RefreshScheduler rebuilds the snapshot periodically.
type RefreshScheduler struct {
	runner    Runner
	config    RefreshConfig
	ticker    *time.Ticker
	stopCh    chan struct{}
	stopOnce  sync.Once
	isRunning bool
	mu        sync.Mutex
	wg        sync.WaitGroup
	logger    *zap.Logger
}

// NewRefreshScheduler creates a new refresh scheduler.
func NewRefreshScheduler(runner Runner, config RefreshConfig, log *zap.Logger) *RefreshScheduler {
	if config.Interval <= 0 {
		config.Interval = 24 * time.Hour
	}

	return &RefreshScheduler{
		runner: runner,
		config: config,
		stopCh: make(chan struct{}),
		logger: logger.OrNop(log).Named("refresh"),
	}
}

// Start begins the refresh loop.
func (s *RefreshScheduler) Start() {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.ticker = time.NewTicker(s.config.Interval)
	s.mu.Unlock()

	s.logger.Info("refresh scheduler started",
		zap.Duration("interval", s.config.Interval),
		zap.Duration("initial_delay", s.config.InitialDelay))

	s.wg.Add(1)
	go s.run()
}

// run is the main refresh loop.
func (s *RefreshScheduler) run() {
	defer s.wg.Done()

	if s.config.InitialDelay >= 0 {
		timer := time.NewTimer(s.config.InitialDelay)
		select {
		case <-timer.C:
			s.runRefresh()
		case <-s.stopCh:
			timer.Stop()
			s.logger.Info("refresh scheduler stopped")
			return
		}
	}

	for {
		select {
		case <-s.ticker.C:
			s.runRefresh()
		case <-s.stopCh:
			s.logger.Info("refresh scheduler stopped")
			return
		}
	}
}

// runRefresh performs one run and logs its outcome.
func (s *RefreshScheduler) runRefresh() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	result, err := s.runner.Run(ctx)
	switch {
	case errors.Is(err, ErrRunInProgress):
		s.logger.Info("skipping refresh, a run is already in progress")
	case err != nil:
		s.logger.Error("scheduled refresh failed", zap.Error(err))
	default:
		s.logger.Info("scheduled refresh complete",
			zap.String("run_id", result.RunID),
			zap.Int("persisted", result.Persisted))
	}
}

// Stop stops the scheduler and waits for an in-flight refresh to return.
func (s *RefreshScheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
		s.isRunning = false
		s.mu.Unlock()
	})
	s.wg.Wait()
}

// RunNow triggers an immediate refresh outside the schedule.
func (s *RefreshScheduler) RunNow(ctx context.Context) (*RunResult, error) {
	return s.runner.Run(ctx)
}
