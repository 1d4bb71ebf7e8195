package service

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/garyjia/invoice-lifecycle/internal/application/port"
	"github.com/garyjia/invoice-lifecycle/internal/domain/entity"
	"github.com/garyjia/invoice-lifecycle/internal/domain/workflow"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// IDAllocator issues per-user invoice identifiers
type IDAllocator interface {
	Next(ctx context.Context, userID string) (string, int64, error)
}

// PageRequest selects one page of a listing. Page is 1-based.
type PageRequest struct {
	Page     int `form:"page" json:"page"`
	PageSize int `form:"page_size" json:"page_size"`
}

func (p PageRequest) normalize() PageRequest {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize <= 0 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	return p
}

// InvoicePage is one page of a user's invoices
type InvoicePage struct {
	Invoices   []*entity.Invoice `json:"invoices"`
	Page       int               `json:"page"`
	PageSize   int               `json:"page_size"`
	TotalCount int               `json:"total_count"`
	TotalPages int               `json:"total_pages"`
}

// InvoiceService owns creation, edit, status transitions and deletion of invoices
type InvoiceService interface {
	CreateInvoice(ctx context.Context, userID string, req CreateInvoiceRequest) Result[string]
	GetInvoice(ctx context.Context, userID, invoiceID string) Result[*entity.Invoice]
	ListInvoices(ctx context.Context, userID string, page PageRequest) Result[*InvoicePage]
	EditInvoice(ctx context.Context, userID, invoiceID string, req EditInvoiceRequest) Result[bool]
	MarkAsPaid(ctx context.Context, userID, invoiceID string) Result[bool]
	MarkAsPending(ctx context.Context, userID, invoiceID string) Result[bool]
	DeleteInvoice(ctx context.Context, userID, invoiceID string) Result[bool]
	ExportInvoices(ctx context.Context, userID string, w io.Writer) Result[int]
}

type invoiceServiceImpl struct {
	uow       port.UnitOfWork
	ids       IDAllocator
	clock     port.Clock
	exporter  port.StatementExporter
	lifecycle workflow.StateMachineBuilder
	logger    *zap.Logger
}

// NewInvoiceService creates a new InvoiceService. exporter may be nil when statements are not served.
func NewInvoiceService(
	uow port.UnitOfWork,
	ids IDAllocator,
	clock port.Clock,
	exporter port.StatementExporter,
	logger *zap.Logger,
) InvoiceService {
	return &invoiceServiceImpl{
		uow:       uow,
		ids:       ids,
		clock:     clock,
		exporter:  exporter,
		lifecycle: workflow.NewInvoiceLifecycle(),
		logger:    logger,
	}
}

// CreateInvoice validates the request, allocates a FrontendID and writes the
// addresses, invoice and items in one transaction
func (s *invoiceServiceImpl) CreateInvoice(ctx context.Context, userID string, req CreateInvoiceRequest) (res Result[string]) {
	defer recoverInto(s.logger, "CreateInvoice", &res)

	if userID == "" {
		return Fail[string](KindUnauthorized, "User ID is required.")
	}

	period, endDate, f := req.recurrence()
	if f != nil {
		return Fail[string](f.Kind, f.Message)
	}

	now := s.clock.Now()
	createdAt, f := creationDate(req.CreatedAt, now)
	if f != nil {
		return Fail[string](f.Kind, f.Message)
	}
	if endDate != nil && endDate.Before(createdAt) {
		return Fail[string](KindValidation, "RecurrenceEndDate cannot be earlier than the invoice date.")
	}

	items, f := req.validate()
	if f != nil {
		return Fail[string](f.Kind, f.Message)
	}

	frontendID, seq, err := s.ids.Next(ctx, userID)
	if err != nil {
		s.logger.Error("Failed to allocate invoice id", zap.String("user_id", userID), zap.Error(err))
		return Fail[string](KindPersistence, fmt.Sprintf("An error occurred: %v", err))
	}

	invoice := &entity.Invoice{
		ID:                uuid.NewString(),
		FrontendID:        frontendID,
		FrontendSeq:       seq,
		UserID:            userID,
		CreatedAt:         createdAt,
		Description:       req.Description,
		PaymentTerms:      req.PaymentTerms,
		ClientName:        req.ClientName,
		ClientEmail:       req.ClientEmail,
		Status:            entity.StatusFromReady(req.IsReady),
		IsRecurring:       req.IsRecurring,
		RecurrencePeriod:  period,
		RecurrenceEndDate: endDate,
		SenderAddress:     req.SenderAddress.toEntity(),
		ClientAddress:     req.ClientAddress.toEntity(),
		Items:             items,
		UpdatedAt:         now,
	}
	invoice.RecomputePaymentDue()
	invoice.RecalculateTotal()

	err = s.uow.WithTransaction(ctx, func(txCtx context.Context) error {
		return insertInvoice(txCtx, s.uow, invoice)
	})
	if err != nil {
		s.logger.Error("Failed to create invoice",
			zap.String("user_id", userID),
			zap.String("frontend_id", frontendID),
			zap.Error(err))
		return failed[string](err)
	}

	s.logger.Info("Invoice created",
		zap.String("invoice_id", invoice.ID),
		zap.String("frontend_id", invoice.FrontendID),
		zap.String("user_id", userID),
		zap.String("status", string(invoice.Status)))
	return Ok("Invoice succesfully created", invoice.FrontendID)
}

// insertInvoice writes both addresses, the invoice row and its items.
// Must run inside a transaction.
func insertInvoice(ctx context.Context, uow port.UnitOfWork, invoice *entity.Invoice) error {
	if invoice.SenderAddress == nil || invoice.ClientAddress == nil {
		return fmt.Errorf("invoice %s: both addresses are required", invoice.FrontendID)
	}
	if err := uow.Addresses().Create(ctx, invoice.SenderAddress); err != nil {
		return fmt.Errorf("create sender address: %w", err)
	}
	if err := uow.Addresses().Create(ctx, invoice.ClientAddress); err != nil {
		return fmt.Errorf("create client address: %w", err)
	}
	invoice.SenderAddressID = invoice.SenderAddress.ID
	invoice.ClientAddressID = invoice.ClientAddress.ID

	if err := uow.Invoices().Create(ctx, invoice); err != nil {
		return fmt.Errorf("create invoice: %w", err)
	}
	if err := uow.Items().CreateMany(ctx, invoice.ID, invoice.Items); err != nil {
		return fmt.Errorf("create items: %w", err)
	}
	return nil
}

// GetInvoice returns the invoice with items and addresses. Invoices of other users
// are reported as not found.
func (s *invoiceServiceImpl) GetInvoice(ctx context.Context, userID, invoiceID string) (res Result[*entity.Invoice]) {
	defer recoverInto(s.logger, "GetInvoice", &res)

	invoice, err := s.uow.Invoices().GetByID(ctx, invoiceID, port.LoadAll)
	if errors.Is(err, entity.ErrNotFound) {
		return Fail[*entity.Invoice](KindNotFound, "The invoice doesn't exist")
	}
	if err != nil {
		s.logger.Error("Failed to get invoice", zap.String("invoice_id", invoiceID), zap.Error(err))
		return failed[*entity.Invoice](err)
	}

	if !invoice.IsOwnedBy(userID) {
		s.logger.Warn("Invoice requested by non-owner",
			zap.String("invoice_id", invoiceID),
			zap.String("user_id", userID))
		return Fail[*entity.Invoice](KindNotFound, "The invoice doesn't exist")
	}
	return Ok("Invoice succesfully returned", invoice)
}

// ListInvoices returns one page of the user's invoices, newest first
func (s *invoiceServiceImpl) ListInvoices(ctx context.Context, userID string, page PageRequest) (res Result[*InvoicePage]) {
	defer recoverInto(s.logger, "ListInvoices", &res)

	if userID == "" {
		return Fail[*InvoicePage](KindUnauthorized, "User ID is required.")
	}

	page = page.normalize()
	invoices, total, err := s.uow.Invoices().ListByUser(ctx, userID, port.ListOptions{
		Limit:  page.PageSize,
		Offset: (page.Page - 1) * page.PageSize,
		Load:   port.LoadAll,
	})
	if err != nil {
		s.logger.Error("Failed to list invoices", zap.String("user_id", userID), zap.Error(err))
		return failed[*InvoicePage](err)
	}
	if invoices == nil {
		invoices = []*entity.Invoice{}
	}

	return Ok("Invoices retrieved successfully.", &InvoicePage{
		Invoices:   invoices,
		Page:       page.Page,
		PageSize:   page.PageSize,
		TotalCount: total,
		TotalPages: (total + page.PageSize - 1) / page.PageSize,
	})
}

// EditInvoice replaces the editable fields of a Draft invoice. Addresses are swapped only
// when their values change, and the replaced address is deleted in the same transaction.
// Items are replaced wholesale.
func (s *invoiceServiceImpl) EditInvoice(ctx context.Context, userID, invoiceID string, req EditInvoiceRequest) (res Result[bool]) {
	defer recoverInto(s.logger, "EditInvoice", &res)

	now := s.clock.Now()

	err := s.uow.WithTransaction(ctx, func(txCtx context.Context) error {
		invoice, err := s.uow.Invoices().GetByID(txCtx, invoiceID, port.LoadOptions{Addresses: true})
		if errors.Is(err, entity.ErrNotFound) {
			return fail(KindNotFound, "Invoice not found.")
		}
		if err != nil {
			return err
		}
		if !invoice.IsOwnedBy(userID) {
			return fail(KindUnauthorized, "Unauthorized to edit this invoice")
		}

		if !invoice.Status.IsEditable() {
			return fail(KindConflict, fmt.Sprintf("%s invoices cannot be edited.", invoice.Status))
		}

		// the payload is judged only once the caller may edit this invoice
		items, f := req.validate()
		if f != nil {
			return f
		}
		sender := req.SenderAddress.toEntity()
		client := req.ClientAddress.toEntity()

		// computed fields first, persisted state after
		createdAt, f := editedDate(req.CreatedAt, invoice.CreatedAt, now)
		if f != nil {
			return f
		}
		status := invoice.Status
		if req.IsReady {
			next, err := s.fire(txCtx, invoice.Status, workflow.TriggerSend)
			if err != nil {
				return err
			}
			status = next
		}

		invoice.CreatedAt = createdAt
		invoice.PaymentTerms = req.PaymentTerms
		invoice.RecomputePaymentDue()
		invoice.Description = req.Description
		invoice.ClientName = req.ClientName
		invoice.ClientEmail = req.ClientEmail
		invoice.Status = status
		invoice.Items = items
		invoice.RecalculateTotal()
		invoice.UpdatedAt = now

		var replaced []int64
		if !entity.SameAddress(invoice.SenderAddress, sender) {
			if err := s.uow.Addresses().Create(txCtx, sender); err != nil {
				return fmt.Errorf("create sender address: %w", err)
			}
			replaced = append(replaced, invoice.SenderAddressID)
			invoice.SenderAddressID = sender.ID
			invoice.SenderAddress = sender
		}
		if !entity.SameAddress(invoice.ClientAddress, client) {
			if err := s.uow.Addresses().Create(txCtx, client); err != nil {
				return fmt.Errorf("create client address: %w", err)
			}
			replaced = append(replaced, invoice.ClientAddressID)
			invoice.ClientAddressID = client.ID
			invoice.ClientAddress = client
		}

		if err := s.uow.Invoices().Update(txCtx, invoice); err != nil {
			return fmt.Errorf("update invoice: %w", err)
		}
		if _, err := s.uow.Items().DeleteByInvoiceID(txCtx, invoice.ID); err != nil {
			return fmt.Errorf("delete items: %w", err)
		}
		if err := s.uow.Items().CreateMany(txCtx, invoice.ID, invoice.Items); err != nil {
			return fmt.Errorf("create items: %w", err)
		}

		// a replaced address still referenced elsewhere aborts the edit
		for _, id := range replaced {
			if err := s.uow.Addresses().Delete(txCtx, id); err != nil {
				return fmt.Errorf("delete replaced address %d: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		s.logAbort("Failed to edit invoice", invoiceID, userID, err)
		return failed[bool](err)
	}

	s.logger.Info("Invoice updated", zap.String("invoice_id", invoiceID), zap.String("user_id", userID))
	return Ok("Invoice updated successfully.", true)
}

// MarkAsPaid moves a Pending invoice to Paid
func (s *invoiceServiceImpl) MarkAsPaid(ctx context.Context, userID, invoiceID string) (res Result[bool]) {
	defer recoverInto(s.logger, "MarkAsPaid", &res)
	return s.transition(ctx, userID, invoiceID, workflow.TriggerPay, transitionMessages{
		done:    "Invoice marked as paid successfully.",
		already: "Invoice is already marked as paid.",
	})
}

// MarkAsPending moves a Draft invoice to Pending
func (s *invoiceServiceImpl) MarkAsPending(ctx context.Context, userID, invoiceID string) (res Result[bool]) {
	defer recoverInto(s.logger, "MarkAsPending", &res)
	return s.transition(ctx, userID, invoiceID, workflow.TriggerSend, transitionMessages{
		done:    "Invoice marked as pending successfully.",
		already: "Invoice is already marked as pending.",
	})
}

type transitionMessages struct {
	done    string
	already string
}

type transitionOutcome int

const (
	outcomeChanged transitionOutcome = iota
	outcomeUnchanged
	outcomeRejected
)

// transition fires trigger against the invoice's lifecycle. A rejected transition is
// a benign caller mistake: the envelope reports success with KindInvalidTransition.
func (s *invoiceServiceImpl) transition(ctx context.Context, userID, invoiceID string, trigger workflow.Trigger, msgs transitionMessages) Result[bool] {
	var outcome transitionOutcome
	var from entity.InvoiceStatus

	err := s.uow.WithTransaction(ctx, func(txCtx context.Context) error {
		invoice, err := s.uow.Invoices().GetByID(txCtx, invoiceID, port.LoadOptions{})
		if errors.Is(err, entity.ErrNotFound) {
			return fail(KindNotFound, "Invoice not found.")
		}
		if err != nil {
			return err
		}
		if !invoice.IsOwnedBy(userID) {
			return fail(KindUnauthorized, "Unauthorized to modify this invoice")
		}
		from = invoice.Status

		next, err := s.fire(txCtx, invoice.Status, trigger)
		if errors.Is(err, workflow.ErrInvalidTransition) {
			outcome = outcomeRejected
			return nil
		}
		if err != nil {
			return err
		}
		if next == invoice.Status {
			outcome = outcomeUnchanged
			return nil
		}

		invoice.Status = next
		invoice.UpdatedAt = s.clock.Now()
		if err := s.uow.Invoices().Update(txCtx, invoice); err != nil {
			return fmt.Errorf("update invoice status: %w", err)
		}
		outcome = outcomeChanged
		return nil
	})
	if err != nil {
		s.logAbort("Failed to change invoice status", invoiceID, userID, err)
		return failed[bool](err)
	}

	fields := []zap.Field{
		zap.String("invoice_id", invoiceID),
		zap.String("from", string(from)),
		zap.String("trigger", trigger.String()),
	}
	switch outcome {
	case outcomeRejected:
		s.logger.Info("Invoice status transition rejected", fields...)
		return Noop(KindInvalidTransition, "Invalid Operation.", true)
	case outcomeUnchanged:
		s.logger.Info("Invoice status already reached", fields...)
		return Ok(msgs.already, true)
	}
	s.logger.Info("Invoice status changed", fields...)
	return Ok(msgs.done, true)
}

// fire runs trigger on a fresh lifecycle machine positioned at status
func (s *invoiceServiceImpl) fire(ctx context.Context, status entity.InvoiceStatus, trigger workflow.Trigger) (entity.InvoiceStatus, error) {
	machine, err := s.lifecycle.Build(workflow.State(status))
	if err != nil {
		return status, err
	}
	if _, err := machine.Fire(ctx, trigger); err != nil {
		return status, err
	}
	return entity.InvoiceStatus(machine.State()), nil
}

// DeleteInvoice removes the invoice and its items, then each of its addresses that
// no other invoice references
func (s *invoiceServiceImpl) DeleteInvoice(ctx context.Context, userID, invoiceID string) (res Result[bool]) {
	defer recoverInto(s.logger, "DeleteInvoice", &res)

	err := s.uow.WithTransaction(ctx, func(txCtx context.Context) error {
		invoice, err := s.uow.Invoices().GetByID(txCtx, invoiceID, port.LoadOptions{})
		if errors.Is(err, entity.ErrNotFound) {
			return fail(KindNotFound, "Invoice not found")
		}
		if err != nil {
			return err
		}
		if !invoice.IsOwnedBy(userID) {
			return fail(KindUnauthorized, "Unauthorized to delete this invoice")
		}

		if err := s.uow.Invoices().Delete(txCtx, invoice.ID); err != nil {
			return fmt.Errorf("delete invoice: %w", err)
		}

		for _, addressID := range uniqueIDs(invoice.SenderAddressID, invoice.ClientAddressID) {
			refs, err := s.uow.Addresses().CountReferences(txCtx, addressID)
			if err != nil {
				return err
			}
			if refs > 0 {
				s.logger.Info("Address still referenced, kept",
					zap.Int64("address_id", addressID),
					zap.Int("references", refs))
				continue
			}
			if err := s.uow.Addresses().Delete(txCtx, addressID); err != nil {
				return fmt.Errorf("delete address %d: %w", addressID, err)
			}
		}
		return nil
	})
	if err != nil {
		s.logAbort("Failed to delete invoice", invoiceID, userID, err)
		return failed[bool](err)
	}

	s.logger.Info("Invoice deleted", zap.String("invoice_id", invoiceID), zap.String("user_id", userID))
	return Ok("Invoice deleted successfully", true)
}

// ExportInvoices writes a statement of every invoice of the user and returns how many were written
func (s *invoiceServiceImpl) ExportInvoices(ctx context.Context, userID string, w io.Writer) (res Result[int]) {
	defer recoverInto(s.logger, "ExportInvoices", &res)

	if s.exporter == nil {
		return Fail[int](KindValidation, "Statement export is not configured.")
	}
	if userID == "" {
		return Fail[int](KindUnauthorized, "User ID is required.")
	}

	invoices, _, err := s.uow.Invoices().ListByUser(ctx, userID, port.ListOptions{Load: port.LoadAll})
	if err != nil {
		s.logger.Error("Failed to load invoices for export", zap.String("user_id", userID), zap.Error(err))
		return failed[int](err)
	}

	if err := s.exporter.Export(ctx, w, userID, invoices); err != nil {
		s.logger.Error("Failed to export invoices", zap.String("user_id", userID), zap.Error(err))
		return Fail[int](KindPersistence, fmt.Sprintf("An error occurred: %v", err))
	}
	return Ok("Invoices exported successfully.", len(invoices))
}

// logAbort logs expected failures at info and unexpected ones at error
func (s *invoiceServiceImpl) logAbort(msg, invoiceID, userID string, err error) {
	var f *Failure
	if errors.As(err, &f) {
		s.logger.Info(msg,
			zap.String("invoice_id", invoiceID),
			zap.String("user_id", userID),
			zap.String("kind", string(f.Kind)),
			zap.String("reason", f.Message))
		return
	}
	s.logger.Error(msg, zap.String("invoice_id", invoiceID), zap.String("user_id", userID), zap.Error(err))
}

func uniqueIDs(ids ...int64) []int64 {
	out := make([]int64, 0, len(ids))
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if id == 0 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// recoverInto converts a panic into a Persistence envelope. The transaction bracket
// has already rolled back by the time the panic reaches here.
func recoverInto[T any](logger *zap.Logger, op string, res *Result[T]) {
	if p := recover(); p != nil {
		logger.Error("Operation panicked",
			zap.String("operation", op),
			zap.Any("panic", p),
			zap.Stack("stack"))
		*res = Fail[T](KindPersistence, fmt.Sprintf("An error occurred: %v", p))
	}
}
