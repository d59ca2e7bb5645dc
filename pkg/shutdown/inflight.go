package shutdown

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// InFlightTracker counts running work, such as settlement batches, so
// shutdown can wait for it. Once Shutdown starts, Add refuses new work.
type InFlightTracker struct {
	wg       sync.WaitGroup
	mu       sync.Mutex
	closing  bool
	inflight int
	logger   *zap.Logger
	name     string
}

// NewInFlightTracker creates a new in-flight work tracker
func NewInFlightTracker(name string, logger *zap.Logger) *InFlightTracker {
	return &InFlightTracker{
		logger: logger,
		name:   name,
	}
}

// Add registers one unit of work.
// Returns false if shutdown has been initiated.
func (ift *InFlightTracker) Add() bool {
	ift.mu.Lock()
	defer ift.mu.Unlock()

	if ift.closing {
		return false
	}
	ift.inflight++
	ift.wg.Add(1)
	return true
}

// Done marks one unit of work finished
func (ift *InFlightTracker) Done() {
	ift.mu.Lock()
	ift.inflight--
	ift.mu.Unlock()
	ift.wg.Done()
}

// InFlight returns the number of running units
func (ift *InFlightTracker) InFlight() int {
	ift.mu.Lock()
	defer ift.mu.Unlock()
	return ift.inflight
}

// IsShuttingDown returns true if shutdown has been initiated
func (ift *InFlightTracker) IsShuttingDown() bool {
	ift.mu.Lock()
	defer ift.mu.Unlock()
	return ift.closing
}

// Shutdown rejects new work and waits for running work or ctx, whichever comes first
func (ift *InFlightTracker) Shutdown(ctx context.Context) error {
	ift.mu.Lock()
	ift.closing = true
	running := ift.inflight
	ift.mu.Unlock()

	ift.logger.Info("Waiting for in-flight work",
		zap.String("tracker", ift.name),
		zap.Int("in_flight", running),
	)

	done := make(chan struct{})
	go func() {
		ift.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		ift.logger.Info("All in-flight work completed",
			zap.String("tracker", ift.name),
		)
		return nil
	case <-ctx.Done():
		ift.logger.Warn("Shutdown timeout - some work may be incomplete",
			zap.String("tracker", ift.name),
			zap.Int("in_flight", ift.InFlight()),
		)
		return ctx.Err()
	}
}

// BackgroundWorker runs one long-lived loop, such as the settlement
// scheduler, and stops it by cancelling its context.
type BackgroundWorker struct {
	name   string
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBackgroundWorker creates a worker whose context derives from parent
func NewBackgroundWorker(parent context.Context, name string, logger *zap.Logger) *BackgroundWorker {
	ctx, cancel := context.WithCancel(parent)

	return &BackgroundWorker{
		name:   name,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start runs work on its own goroutine. work must return once ctx is done.
func (bw *BackgroundWorker) Start(work func(ctx context.Context)) {
	bw.wg.Add(1)

	go func() {
		defer bw.wg.Done()

		bw.logger.Info("Background worker started", zap.String("worker", bw.name))
		work(bw.ctx)
		bw.logger.Info("Background worker stopped", zap.String("worker", bw.name))
	}()
}

// Shutdown cancels the worker and waits for it to return or ctx, whichever comes first
func (bw *BackgroundWorker) Shutdown(ctx context.Context) error {
	bw.cancel()

	done := make(chan struct{})
	go func() {
		bw.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		bw.logger.Warn("Background worker shutdown timeout",
			zap.String("worker", bw.name),
		)
		return ctx.Err()
	}
}
