package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ticker runs a job on a fixed interval until stopped. The concrete workers
// embed it and supply the job.
type ticker struct {
	name     string
	interval time.Duration
	runFirst bool
	job      func(ctx context.Context) error
	logger   *zap.Logger

	mu        sync.RWMutex
	cancel    context.CancelFunc
	done      chan struct{}
	isRunning bool
	runs      int
	failures  int
	lastRun   time.Time
	lastError error
}

// Start begins the polling loop
func (t *ticker) Start(ctx context.Context) error {
	if t.interval <= 0 {
		return fmt.Errorf("%s: interval must be positive", t.name)
	}

	t.mu.Lock()
	if t.isRunning {
		t.mu.Unlock()
		return fmt.Errorf("%s already running", t.name)
	}

	var loopCtx context.Context
	loopCtx, t.cancel = context.WithCancel(ctx)
	t.done = make(chan struct{})
	t.isRunning = true
	t.mu.Unlock()

	t.logger.Info("Worker loop started",
		zap.String("worker_name", t.name),
		zap.Duration("interval", t.interval),
		zap.Bool("run_on_start", t.runFirst))

	go t.loop(loopCtx)
	return nil
}

// Stop cancels the loop and waits for an in-flight run to finish
func (t *ticker) Stop() error {
	t.mu.Lock()
	if !t.isRunning {
		t.mu.Unlock()
		return nil
	}
	t.isRunning = false
	cancel, done := t.cancel, t.done
	t.mu.Unlock()

	cancel()
	<-done

	t.mu.RLock()
	defer t.mu.RUnlock()
	t.logger.Info("Worker loop stopped",
		zap.String("worker_name", t.name),
		zap.Int("runs", t.runs),
		zap.Int("failures", t.failures))
	return nil
}

// Name returns the worker name for identification
func (t *ticker) Name() string {
	return t.name
}

// Stats reports how many runs completed and how many of them failed
func (t *ticker) Stats() (runs, failures int, lastError error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.runs, t.failures, t.lastError
}

func (t *ticker) loop(ctx context.Context) {
	defer close(t.done)

	if t.runFirst {
		t.runOnce(ctx)
	}

	tick := time.NewTicker(t.interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			t.logger.Debug("Worker loop context cancelled", zap.String("worker_name", t.name))
			return
		case <-tick.C:
			t.runOnce(ctx)
		}
	}
}

func (t *ticker) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	err := t.job(ctx)

	t.mu.Lock()
	t.runs++
	t.lastRun = time.Now()
	t.lastError = err
	if err != nil {
		t.failures++
	}
	t.mu.Unlock()

	if err != nil {
		t.logger.Error("Worker run failed",
			zap.String("worker_name", t.name),
			zap.Error(err))
	}
}
