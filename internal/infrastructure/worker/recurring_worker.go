package worker

import (
	"context"
	"errors"
	"time"

	"github.com/garyjia/invoice-lifecycle/internal/application/service"
	"go.uber.org/zap"
)

// RecurringWorkerConfig holds configuration for the recurring invoice worker
type RecurringWorkerConfig struct {
	Interval   time.Duration
	RunOnStart bool
	Timeout    time.Duration
}

// DefaultRecurringWorkerConfig returns default configuration
func DefaultRecurringWorkerConfig() RecurringWorkerConfig {
	return RecurringWorkerConfig{
		Interval:   24 * time.Hour,
		RunOnStart: true,
		Timeout:    10 * time.Minute,
	}
}

// RecurringWorker triggers recurring invoice generation on a schedule
type RecurringWorker struct {
	ticker
	generator service.RecurringService
}

// NewRecurringWorker creates a new recurring invoice worker
func NewRecurringWorker(config RecurringWorkerConfig, generator service.RecurringService, logger *zap.Logger) *RecurringWorker {
	w := &RecurringWorker{generator: generator}
	w.ticker = ticker{
		name:     "RecurringWorker",
		interval: config.Interval,
		runFirst: config.RunOnStart,
		logger:   logger,
	}
	w.job = func(ctx context.Context) error {
		if config.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, config.Timeout)
			defer cancel()
		}
		return w.generate(ctx)
	}
	return w
}

func (w *RecurringWorker) generate(ctx context.Context) error {
	res := w.generator.GenerateRecurringInvoices(ctx)
	if !res.Success {
		return errors.New(res.Message)
	}

	report := res.Result
	w.logger.Info("Scheduled recurring generation completed",
		zap.Time("date", report.Date),
		zap.Int("candidates", report.Candidates),
		zap.Strings("generated", report.Generated),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed))
	return nil
}
