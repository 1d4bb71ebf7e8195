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

const invoiceColumns = `
	id, frontend_id, frontend_seq, user_id, created_at, payment_due, description,
	payment_terms, client_name, client_email, status, total, is_recurring,
	recurrence_period, recurrence_end_date, recurrence_count,
	sender_address_id, client_address_id, updated_at`

// InvoiceRepository implements port.InvoiceRepository
type InvoiceRepository struct {
	db        *sqlite.DB
	items     *ItemRepository
	addresses *AddressRepository
	logger    *zap.Logger
}

// NewInvoiceRepository creates a new invoice repository. The item and address
// repositories serve eager loading.
func NewInvoiceRepository(db *sqlite.DB, items *ItemRepository, addresses *AddressRepository, logger *zap.Logger) *InvoiceRepository {
	return &InvoiceRepository{
		db:        db,
		items:     items,
		addresses: addresses,
		logger:    logger,
	}
}

// Create inserts the invoice row
func (r *InvoiceRepository) Create(ctx context.Context, invoice *entity.Invoice) error {
	query := `INSERT INTO invoices (` + invoiceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	period, endDate := recurrenceArgs(invoice)
	_, err := r.db.Executor(ctx).ExecContext(ctx, query,
		invoice.ID,
		invoice.FrontendID,
		invoice.FrontendSeq,
		invoice.UserID,
		invoice.CreatedAt,
		invoice.PaymentDue,
		invoice.Description,
		invoice.PaymentTerms,
		invoice.ClientName,
		invoice.ClientEmail,
		string(invoice.Status),
		invoice.Total,
		invoice.IsRecurring,
		period,
		endDate,
		invoice.RecurrenceCount,
		invoice.SenderAddressID,
		invoice.ClientAddressID,
		invoice.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("invoice %s for user %s: %w", invoice.FrontendID, invoice.UserID, entity.ErrDuplicate)
		}
		r.logger.Error("Failed to create invoice",
			zap.String("id", invoice.ID),
			zap.String("frontend_id", invoice.FrontendID),
			zap.Error(err))
		return fmt.Errorf("failed to create invoice: %w", err)
	}
	return nil
}

// GetByID retrieves an invoice and the relations named in opts
func (r *InvoiceRepository) GetByID(ctx context.Context, id string, opts port.LoadOptions) (*entity.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = ?`

	invoice, err := scanInvoice(r.db.Executor(ctx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("invoice %s: %w", id, entity.ErrNotFound)
	}
	if err != nil {
		r.logger.Error("Failed to get invoice", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}

	if err := r.load(ctx, invoice, opts); err != nil {
		return nil, err
	}
	return invoice, nil
}

// ListByUser returns a page of the user's invoices, newest first, plus the total count
func (r *InvoiceRepository) ListByUser(ctx context.Context, userID string, opts port.ListOptions) ([]*entity.Invoice, int, error) {
	exec := r.db.Executor(ctx)

	var total int
	if err := exec.QueryRowContext(ctx, `SELECT COUNT(*) FROM invoices WHERE user_id = ?`, userID).Scan(&total); err != nil {
		r.logger.Error("Failed to count invoices", zap.String("user_id", userID), zap.Error(err))
		return nil, 0, fmt.Errorf("failed to count invoices: %w", err)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = -1
	}
	query := `SELECT ` + invoiceColumns + ` FROM invoices
		WHERE user_id = ?
		ORDER BY created_at DESC, frontend_seq DESC
		LIMIT ? OFFSET ?`

	invoices, err := r.query(ctx, query, userID, limit, opts.Offset)
	if err != nil {
		return nil, 0, err
	}

	for _, invoice := range invoices {
		if err := r.load(ctx, invoice, opts.Load); err != nil {
			return nil, 0, err
		}
	}
	return invoices, total, nil
}

// ListRecurringCandidates returns recurring invoices whose end date has not passed day.
// Items and addresses are loaded because instances copy them.
func (r *InvoiceRepository) ListRecurringCandidates(ctx context.Context, day time.Time) ([]*entity.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices
		WHERE is_recurring = 1 AND recurrence_end_date >= ?
		ORDER BY created_at, id`

	invoices, err := r.query(ctx, query, entity.DateOnly(day))
	if err != nil {
		return nil, err
	}

	for _, invoice := range invoices {
		if err := r.load(ctx, invoice, port.LoadAll); err != nil {
			return nil, err
		}
	}
	return invoices, nil
}

// Update writes every mutable column
func (r *InvoiceRepository) Update(ctx context.Context, invoice *entity.Invoice) error {
	query := `
		UPDATE invoices SET
			created_at = ?, payment_due = ?, description = ?, payment_terms = ?,
			client_name = ?, client_email = ?, status = ?, total = ?, is_recurring = ?,
			recurrence_period = ?, recurrence_end_date = ?, recurrence_count = ?,
			sender_address_id = ?, client_address_id = ?, updated_at = ?
		WHERE id = ?
	`

	period, endDate := recurrenceArgs(invoice)
	result, err := r.db.Executor(ctx).ExecContext(ctx, query,
		invoice.CreatedAt,
		invoice.PaymentDue,
		invoice.Description,
		invoice.PaymentTerms,
		invoice.ClientName,
		invoice.ClientEmail,
		string(invoice.Status),
		invoice.Total,
		invoice.IsRecurring,
		period,
		endDate,
		invoice.RecurrenceCount,
		invoice.SenderAddressID,
		invoice.ClientAddressID,
		invoice.UpdatedAt,
		invoice.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update invoice", zap.String("id", invoice.ID), zap.Error(err))
		return fmt.Errorf("failed to update invoice: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("invoice %s: %w", invoice.ID, entity.ErrNotFound)
	}
	return nil
}

// Delete removes the invoice row; items go with it
func (r *InvoiceRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.Executor(ctx).ExecContext(ctx, `DELETE FROM invoices WHERE id = ?`, id)
	if err != nil {
		r.logger.Error("Failed to delete invoice", zap.String("id", id), zap.Error(err))
		return fmt.Errorf("failed to delete invoice: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("invoice %s: %w", id, entity.ErrNotFound)
	}
	return nil
}

// MaxFrontendSeq returns the highest counter persisted for userID
func (r *InvoiceRepository) MaxFrontendSeq(ctx context.Context, userID string) (int64, error) {
	var seq sql.NullInt64
	err := r.db.Executor(ctx).QueryRowContext(ctx,
		`SELECT MAX(frontend_seq) FROM invoices WHERE user_id = ?`, userID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to read max frontend seq: %w", err)
	}
	return seq.Int64, nil
}

// MaxFrontendSeqByUser returns the highest persisted counter of every user
func (r *InvoiceRepository) MaxFrontendSeqByUser(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.Executor(ctx).QueryContext(ctx,
		`SELECT user_id, MAX(frontend_seq) FROM invoices GROUP BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to read max frontend seq by user: %w", err)
	}
	defer rows.Close()

	result := make(map[string]int64)
	for rows.Next() {
		var userID string
		var seq int64
		if err := rows.Scan(&userID, &seq); err != nil {
			return nil, fmt.Errorf("failed to scan frontend seq: %w", err)
		}
		result[userID] = seq
	}
	return result, rows.Err()
}

func (r *InvoiceRepository) query(ctx context.Context, query string, args ...interface{}) ([]*entity.Invoice, error) {
	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to query invoices", zap.Error(err))
		return nil, fmt.Errorf("failed to query invoices: %w", err)
	}
	defer rows.Close()

	var invoices []*entity.Invoice
	for rows.Next() {
		invoice, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		invoices = append(invoices, invoice)
	}
	return invoices, rows.Err()
}

func (r *InvoiceRepository) load(ctx context.Context, invoice *entity.Invoice, opts port.LoadOptions) error {
	if opts.Items {
		items, err := r.items.GetByInvoiceID(ctx, invoice.ID)
		if err != nil {
			return err
		}
		invoice.Items = items
	}

	if opts.Addresses {
		sender, err := r.addresses.GetByID(ctx, invoice.SenderAddressID)
		if err != nil {
			return err
		}
		client, err := r.addresses.GetByID(ctx, invoice.ClientAddressID)
		if err != nil {
			return err
		}
		invoice.SenderAddress = sender
		invoice.ClientAddress = client
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInvoice(row rowScanner) (*entity.Invoice, error) {
	var invoice entity.Invoice
	var status string
	var period sql.NullString
	var endDate sql.NullTime

	err := row.Scan(
		&invoice.ID,
		&invoice.FrontendID,
		&invoice.FrontendSeq,
		&invoice.UserID,
		&invoice.CreatedAt,
		&invoice.PaymentDue,
		&invoice.Description,
		&invoice.PaymentTerms,
		&invoice.ClientName,
		&invoice.ClientEmail,
		&status,
		&invoice.Total,
		&invoice.IsRecurring,
		&period,
		&endDate,
		&invoice.RecurrenceCount,
		&invoice.SenderAddressID,
		&invoice.ClientAddressID,
		&invoice.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	invoice.Status = entity.InvoiceStatus(status)
	if period.Valid {
		p := entity.RecurrencePeriod(period.String)
		invoice.RecurrencePeriod = &p
	}
	if endDate.Valid {
		t := endDate.Time.UTC()
		invoice.RecurrenceEndDate = &t
	}
	invoice.CreatedAt = invoice.CreatedAt.UTC()
	invoice.PaymentDue = invoice.PaymentDue.UTC()
	invoice.UpdatedAt = invoice.UpdatedAt.UTC()
	return &invoice, nil
}

func recurrenceArgs(invoice *entity.Invoice) (interface{}, interface{}) {
	var period, endDate interface{}
	if invoice.RecurrencePeriod != nil {
		period = string(*invoice.RecurrencePeriod)
	}
	if invoice.RecurrenceEndDate != nil {
		endDate = *invoice.RecurrenceEndDate
	}
	return period, endDate
}

var _ port.InvoiceRepository = (*InvoiceRepository)(nil)
