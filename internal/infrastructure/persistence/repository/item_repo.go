package repository

import (
	"context"
	"fmt"

	"github.com/garyjia/invoice-lifecycle/internal/application/port"
	"github.com/garyjia/invoice-lifecycle/internal/domain/entity"
	"github.com/garyjia/invoice-lifecycle/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// ItemRepository implements port.ItemRepository
type ItemRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewItemRepository creates a new invoice item repository
func NewItemRepository(db *sqlite.DB, logger *zap.Logger) *ItemRepository {
	return &ItemRepository{
		db:     db,
		logger: logger,
	}
}

// CreateMany inserts items for invoiceID and sets their IDs
func (r *ItemRepository) CreateMany(ctx context.Context, invoiceID string, items []*entity.Item) error {
	query := `INSERT INTO items (invoice_id, name, quantity, unit_price, total) VALUES (?, ?, ?, ?, ?)`

	exec := r.db.Executor(ctx)
	for _, item := range items {
		item.InvoiceID = invoiceID
		result, err := exec.ExecContext(ctx, query,
			item.InvoiceID,
			item.Name,
			item.Quantity,
			item.UnitPrice,
			item.Total,
		)
		if err != nil {
			r.logger.Error("Failed to create invoice item",
				zap.String("invoice_id", invoiceID),
				zap.String("name", item.Name),
				zap.Error(err))
			return fmt.Errorf("failed to create invoice item: %w", err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		item.ID = id
	}
	return nil
}

// GetByInvoiceID returns the items of an invoice in insertion order
func (r *ItemRepository) GetByInvoiceID(ctx context.Context, invoiceID string) ([]*entity.Item, error) {
	query := `
		SELECT id, invoice_id, name, quantity, unit_price, total
		FROM items
		WHERE invoice_id = ?
		ORDER BY id
	`

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, invoiceID)
	if err != nil {
		r.logger.Error("Failed to query invoice items", zap.String("invoice_id", invoiceID), zap.Error(err))
		return nil, fmt.Errorf("failed to query invoice items: %w", err)
	}
	defer rows.Close()

	var items []*entity.Item
	for rows.Next() {
		var item entity.Item
		if err := rows.Scan(
			&item.ID,
			&item.InvoiceID,
			&item.Name,
			&item.Quantity,
			&item.UnitPrice,
			&item.Total,
		); err != nil {
			return nil, fmt.Errorf("failed to scan invoice item: %w", err)
		}
		items = append(items, &item)
	}
	return items, rows.Err()
}

// DeleteByInvoiceID removes every item of an invoice and returns how many were removed
func (r *ItemRepository) DeleteByInvoiceID(ctx context.Context, invoiceID string) (int64, error) {
	result, err := r.db.Executor(ctx).ExecContext(ctx, `DELETE FROM items WHERE invoice_id = ?`, invoiceID)
	if err != nil {
		r.logger.Error("Failed to delete invoice items", zap.String("invoice_id", invoiceID), zap.Error(err))
		return 0, fmt.Errorf("failed to delete invoice items: %w", err)
	}
	return result.RowsAffected()
}

var _ port.ItemRepository = (*ItemRepository)(nil)
