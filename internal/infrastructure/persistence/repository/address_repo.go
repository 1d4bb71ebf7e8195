package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/garyjia/invoice-lifecycle/internal/application/port"
	"github.com/garyjia/invoice-lifecycle/internal/domain/entity"
	"github.com/garyjia/invoice-lifecycle/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// AddressRepository implements port.AddressRepository
type AddressRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewAddressRepository creates a new address repository
func NewAddressRepository(db *sqlite.DB, logger *zap.Logger) *AddressRepository {
	return &AddressRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts the address and sets its ID
func (r *AddressRepository) Create(ctx context.Context, address *entity.Address) error {
	query := `INSERT INTO addresses (street, city, post_code, country) VALUES (?, ?, ?, ?)`

	result, err := r.db.Executor(ctx).ExecContext(ctx, query,
		address.Street,
		address.City,
		address.PostCode,
		address.Country,
	)
	if err != nil {
		r.logger.Error("Failed to create address", zap.Error(err))
		return fmt.Errorf("failed to create address: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	address.ID = id
	return nil
}

// GetByID retrieves an address by ID
func (r *AddressRepository) GetByID(ctx context.Context, id int64) (*entity.Address, error) {
	query := `SELECT id, street, city, post_code, country FROM addresses WHERE id = ?`

	var address entity.Address
	err := r.db.Executor(ctx).QueryRowContext(ctx, query, id).Scan(
		&address.ID,
		&address.Street,
		&address.City,
		&address.PostCode,
		&address.Country,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("address %d: %w", id, entity.ErrNotFound)
	}
	if err != nil {
		r.logger.Error("Failed to get address", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get address: %w", err)
	}
	return &address, nil
}

// Delete removes the address. The foreign keys on invoices refuse while it is referenced.
func (r *AddressRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.Executor(ctx).ExecContext(ctx, `DELETE FROM addresses WHERE id = ?`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("address %d: %w", id, entity.ErrAddressInUse)
		}
		r.logger.Error("Failed to delete address", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to delete address: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("address %d: %w", id, entity.ErrNotFound)
	}
	return nil
}

// CountReferences returns how many invoices use the address as sender or client
func (r *AddressRepository) CountReferences(ctx context.Context, id int64) (int, error) {
	query := `SELECT COUNT(*) FROM invoices WHERE sender_address_id = ? OR client_address_id = ?`

	var count int
	if err := r.db.Executor(ctx).QueryRowContext(ctx, query, id, id).Scan(&count); err != nil {
		r.logger.Error("Failed to count address references", zap.Int64("id", id), zap.Error(err))
		return 0, fmt.Errorf("failed to count address references: %w", err)
	}
	return count, nil
}

var _ port.AddressRepository = (*AddressRepository)(nil)
