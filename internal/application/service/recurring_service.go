package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/invoice-lifecycle/internal/application/port"
	"github.com/garyjia/invoice-lifecycle/internal/domain/entity"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BatchMode selects the transaction scope of a generation run
type BatchMode string

const (
	// BatchAtomic runs the whole batch in one transaction; any failure rolls everything back
	BatchAtomic BatchMode = "atomic"
	// BatchIsolated commits each source invoice on its own; failures are counted and skipped
	BatchIsolated BatchMode = "isolated"
)

// ParseBatchMode maps a configuration value to a BatchMode; empty means atomic
func ParseBatchMode(s string) (BatchMode, error) {
	switch BatchMode(s) {
	case "", BatchAtomic:
		return BatchAtomic, nil
	case BatchIsolated:
		return BatchIsolated, nil
	}
	return "", fmt.Errorf("unknown recurring batch mode %q", s)
}

// GenerationReport summarizes one run of the recurring generator
type GenerationReport struct {
	Date       time.Time `json:"date"`
	Mode       BatchMode `json:"mode"`
	Candidates int       `json:"candidates"`
	Generated  []string  `json:"generated"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
}

// RecurringService produces the daily instances of recurring invoices
type RecurringService interface {
	GenerateRecurringInvoices(ctx context.Context) Result[*GenerationReport]

	// ListInstances returns the ledger of a recurring invoice owned by userID, oldest first
	ListInstances(ctx context.Context, userID, sourceInvoiceID string) Result[[]*entity.RecurringInvoice]
}

type recurringServiceImpl struct {
	uow    port.UnitOfWork
	ids    IDAllocator
	clock  port.Clock
	mode   BatchMode
	logger *zap.Logger
}

// NewRecurringService creates a new RecurringService
func NewRecurringService(uow port.UnitOfWork, ids IDAllocator, clock port.Clock, mode BatchMode, logger *zap.Logger) RecurringService {
	if mode == "" {
		mode = BatchAtomic
	}
	return &recurringServiceImpl{
		uow:    uow,
		ids:    ids,
		clock:  clock,
		mode:   mode,
		logger: logger,
	}
}

// GenerateRecurringInvoices creates today's instance for every due recurring invoice that
// has none yet. Running it again on the same day generates nothing new.
func (s *recurringServiceImpl) GenerateRecurringInvoices(ctx context.Context) (res Result[*GenerationReport]) {
	defer recoverInto(s.logger, "GenerateRecurringInvoices", &res)

	now := s.clock.Now()
	report := &GenerationReport{
		Date:      entity.DateOnly(now),
		Mode:      s.mode,
		Generated: []string{},
	}
	s.logger.Info("Starting recurring invoice generation",
		zap.Time("date", report.Date),
		zap.String("mode", string(s.mode)))

	var err error
	if s.mode == BatchIsolated {
		err = s.runIsolated(ctx, report, now)
	} else {
		err = s.runAtomic(ctx, report, now)
	}
	if err != nil {
		s.logger.Error("Recurring invoice generation failed",
			zap.Time("date", report.Date),
			zap.Error(err))
		return Result[*GenerationReport]{
			Kind:    KindPersistence,
			Message: fmt.Sprintf("An error occurred: %v", err),
			Result:  report,
		}
	}

	s.logger.Info("Recurring invoice generation finished",
		zap.Int("candidates", report.Candidates),
		zap.Int("generated", len(report.Generated)),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed))
	return Ok("Recurring invoices generated successfully.", report)
}

func (s *recurringServiceImpl) runAtomic(ctx context.Context, report *GenerationReport, now time.Time) error {
	var generated []string
	skipped := 0

	err := s.uow.WithTransaction(ctx, func(txCtx context.Context) error {
		due, err := s.dueSources(txCtx, report.Date)
		if err != nil {
			return err
		}
		report.Candidates = len(due)

		for _, source := range due {
			if err := txCtx.Err(); err != nil {
				return err
			}
			instance, err := s.generate(txCtx, source, report.Date, now)
			if err != nil {
				return fmt.Errorf("source invoice %s: %w", source.ID, err)
			}
			if instance == nil {
				skipped++
				continue
			}
			generated = append(generated, instance.FrontendID)
		}
		return nil
	})
	if err != nil {
		report.Failed = report.Candidates
		return err
	}

	report.Generated = append(report.Generated, generated...)
	report.Skipped = skipped
	return nil
}

func (s *recurringServiceImpl) runIsolated(ctx context.Context, report *GenerationReport, now time.Time) error {
	due, err := s.dueSources(ctx, report.Date)
	if err != nil {
		return err
	}
	report.Candidates = len(due)

	for _, source := range due {
		if err := ctx.Err(); err != nil {
			return err
		}

		var instance *entity.Invoice
		err := s.uow.WithTransaction(ctx, func(txCtx context.Context) error {
			var err error
			instance, err = s.generate(txCtx, source, report.Date, now)
			return err
		})
		switch {
		case errors.Is(err, entity.ErrDuplicate):
			// a concurrent run recorded the same day first
			report.Skipped++
		case err != nil:
			report.Failed++
			s.logger.Error("Failed to generate recurring invoice",
				zap.String("source_invoice_id", source.ID),
				zap.Error(err))
		case instance == nil:
			report.Skipped++
		default:
			report.Generated = append(report.Generated, instance.FrontendID)
		}
	}
	return nil
}

// ListInstances returns the ledger rows recorded for sourceInvoiceID
func (s *recurringServiceImpl) ListInstances(ctx context.Context, userID, sourceInvoiceID string) (res Result[[]*entity.RecurringInvoice]) {
	defer recoverInto(s.logger, "ListInstances", &res)

	if userID == "" {
		return Fail[[]*entity.RecurringInvoice](KindUnauthorized, "User ID is required.")
	}

	source, err := s.uow.Invoices().GetByID(ctx, sourceInvoiceID, port.LoadOptions{})
	if errors.Is(err, entity.ErrNotFound) || (err == nil && !source.IsOwnedBy(userID)) {
		return Fail[[]*entity.RecurringInvoice](KindNotFound, "The invoice doesn't exist")
	}
	if err != nil {
		s.logger.Error("Failed to load recurring source", zap.String("invoice_id", sourceInvoiceID), zap.Error(err))
		return failed[[]*entity.RecurringInvoice](err)
	}

	instances, err := s.uow.RecurringInvoices().ListBySource(ctx, sourceInvoiceID)
	if err != nil {
		s.logger.Error("Failed to list recurring instances", zap.String("invoice_id", sourceInvoiceID), zap.Error(err))
		return failed[[]*entity.RecurringInvoice](err)
	}
	if instances == nil {
		instances = []*entity.RecurringInvoice{}
	}
	return Ok("Recurring instances retrieved successfully.", instances)
}

// dueSources lists recurring invoices whose cadence falls on day
func (s *recurringServiceImpl) dueSources(ctx context.Context, day time.Time) ([]*entity.Invoice, error) {
	candidates, err := s.uow.Invoices().ListRecurringCandidates(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("list recurring candidates: %w", err)
	}

	due := make([]*entity.Invoice, 0, len(candidates))
	for _, candidate := range candidates {
		if candidate.IsRecurrenceDue(day) {
			due = append(due, candidate)
		}
	}
	return due, nil
}

// generate creates the instance of source for day and records it in the ledger.
// It returns nil when the ledger already holds an instance for (source, day).
func (s *recurringServiceImpl) generate(ctx context.Context, source *entity.Invoice, day, now time.Time) (*entity.Invoice, error) {
	existing, err := s.uow.RecurringInvoices().Find(ctx, source.ID, day)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.logger.Info("Recurring invoice already generated",
			zap.String("source_invoice_id", source.ID),
			zap.String("generated_invoice_id", existing.GeneratedInvoiceID),
			zap.Time("date", day))
		return nil, nil
	}

	frontendID, seq, err := s.ids.Next(ctx, source.UserID)
	if err != nil {
		return nil, fmt.Errorf("allocate invoice id: %w", err)
	}

	instance := newInstance(source, day, now)
	instance.FrontendID = frontendID
	instance.FrontendSeq = seq
	if err := insertInvoice(ctx, s.uow, instance); err != nil {
		return nil, err
	}

	record := &entity.RecurringInvoice{
		SourceInvoiceID:    source.ID,
		GeneratedInvoiceID: instance.ID,
		RecurrenceDate:     day,
		Status:             instance.Status,
		Total:              instance.Total,
		CreatedAt:          now,
	}
	if err := s.uow.RecurringInvoices().Create(ctx, record); err != nil {
		return nil, fmt.Errorf("record recurrence: %w", err)
	}

	source.RecurrenceCount++
	source.UpdatedAt = now
	if err := s.uow.Invoices().Update(ctx, source); err != nil {
		return nil, fmt.Errorf("update recurrence count: %w", err)
	}

	s.logger.Info("Recurring invoice generated",
		zap.String("source_invoice_id", source.ID),
		zap.String("invoice_id", instance.ID),
		zap.String("frontend_id", instance.FrontendID))
	return instance, nil
}

// newInstance snapshots source as a Pending, non-recurring invoice dated day.
// Addresses and items are copied into new rows owned by the instance.
func newInstance(source *entity.Invoice, day, now time.Time) *entity.Invoice {
	instance := *source
	instance.ID = uuid.NewString()
	instance.FrontendID = ""
	instance.FrontendSeq = 0
	instance.CreatedAt = day
	instance.Status = entity.InvoiceStatusPending
	instance.RecurrenceCount = 0
	instance.UpdatedAt = now
	instance.ClearRecurrence()
	instance.RecomputePaymentDue()

	instance.SenderAddressID, instance.ClientAddressID = 0, 0
	instance.SenderAddress = copyAddress(source.SenderAddress)
	instance.ClientAddress = copyAddress(source.ClientAddress)

	instance.Items = make([]*entity.Item, 0, len(source.Items))
	for _, item := range source.Items {
		instance.Items = append(instance.Items, entity.NewItem(item.Name, item.Quantity, item.UnitPrice))
	}
	instance.RecalculateTotal()
	return &instance
}

func copyAddress(a *entity.Address) *entity.Address {
	if a == nil {
		return nil
	}
	c := *a
	c.ID = 0
	return &c
}
