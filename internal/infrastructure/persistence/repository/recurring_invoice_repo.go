package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/invoice-lifecycle/internal/application/port"
	"github.com/garyjia/invoice-lifecycle/internal/domain/entity"
	"github.com/garyjia/invoice-lifecycle/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// recurrence dates are calendar dates, stored without a time component
const recurrenceDateLayout = "2006-01-02"

// RecurringInvoiceRepository implements port.RecurringInvoiceRepository
type RecurringInvoiceRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewRecurringInvoiceRepository creates a new recurrence ledger repository
func NewRecurringInvoiceRepository(db *sqlite.DB, logger *zap.Logger) *RecurringInvoiceRepository {
	return &RecurringInvoiceRepository{
		db:     db,
		logger: logger,
	}
}

// Create appends a ledger row
func (r *RecurringInvoiceRepository) Create(ctx context.Context, ri *entity.RecurringInvoice) error {
	query := `
		INSERT INTO recurring_invoices (
			source_invoice_id, generated_invoice_id, recurrence_date, status, total, created_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.Executor(ctx).ExecContext(ctx, query,
		ri.SourceInvoiceID,
		ri.GeneratedInvoiceID,
		ri.RecurrenceDate.Format(recurrenceDateLayout),
		string(ri.Status),
		ri.Total,
		ri.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("recurrence of %s on %s: %w",
				ri.SourceInvoiceID, ri.RecurrenceDate.Format(recurrenceDateLayout), entity.ErrDuplicate)
		}
		r.logger.Error("Failed to create recurring invoice record",
			zap.String("source_invoice_id", ri.SourceInvoiceID),
			zap.Error(err))
		return fmt.Errorf("failed to create recurring invoice record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	ri.ID = id
	return nil
}

// Find returns the ledger row for (sourceInvoiceID, day), or nil when there is none
func (r *RecurringInvoiceRepository) Find(ctx context.Context, sourceInvoiceID string, day time.Time) (*entity.RecurringInvoice, error) {
	query := `
		SELECT id, source_invoice_id, generated_invoice_id, recurrence_date, status, total, created_at
		FROM recurring_invoices
		WHERE source_invoice_id = ? AND recurrence_date = ?
	`

	ri, err := scanRecurringInvoice(r.db.Executor(ctx).QueryRowContext(ctx, query,
		sourceInvoiceID, day.Format(recurrenceDateLayout)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to find recurring invoice record",
			zap.String("source_invoice_id", sourceInvoiceID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to find recurring invoice record: %w", err)
	}
	return ri, nil
}

// ListBySource returns every instance recorded for a source invoice, oldest first
func (r *RecurringInvoiceRepository) ListBySource(ctx context.Context, sourceInvoiceID string) ([]*entity.RecurringInvoice, error) {
	query := `
		SELECT id, source_invoice_id, generated_invoice_id, recurrence_date, status, total, created_at
		FROM recurring_invoices
		WHERE source_invoice_id = ?
		ORDER BY recurrence_date
	`

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, sourceInvoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query recurring invoice records: %w", err)
	}
	defer rows.Close()

	var records []*entity.RecurringInvoice
	for rows.Next() {
		ri, err := scanRecurringInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recurring invoice record: %w", err)
		}
		records = append(records, ri)
	}
	return records, rows.Err()
}

func scanRecurringInvoice(row rowScanner) (*entity.RecurringInvoice, error) {
	var ri entity.RecurringInvoice
	var day, status string

	if err := row.Scan(
		&ri.ID,
		&ri.SourceInvoiceID,
		&ri.GeneratedInvoiceID,
		&day,
		&status,
		&ri.Total,
		&ri.CreatedAt,
	); err != nil {
		return nil, err
	}

	parsed, err := time.Parse(recurrenceDateLayout, day)
	if err != nil {
		return nil, fmt.Errorf("invalid recurrence date %q: %w", day, err)
	}
	ri.RecurrenceDate = parsed
	ri.Status = entity.InvoiceStatus(status)
	ri.CreatedAt = ri.CreatedAt.UTC()
	return &ri, nil
}

var _ port.RecurringInvoiceRepository = (*RecurringInvoiceRepository)(nil)
