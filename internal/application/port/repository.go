package port

import (
	"context"
	"time"

	"github.com/garyjia/invoice-lifecycle/internal/domain/entity"
)

// LoadOptions declares which related entities a read eagerly loads.
// Nothing is fetched implicitly.
type LoadOptions struct {
	Items     bool
	Addresses bool
}

// LoadAll eagerly loads items and both addresses
var LoadAll = LoadOptions{Items: true, Addresses: true}

// ListOptions controls paginated listing
type ListOptions struct {
	Limit  int
	Offset int
	Load   LoadOptions
}

// InvoiceRepository defines persistence operations for Invoice
type InvoiceRepository interface {
	// Create inserts the invoice row. Items and addresses are written by their own repositories.
	Create(ctx context.Context, invoice *entity.Invoice) error

	// GetByID returns entity.ErrNotFound when the invoice does not exist
	GetByID(ctx context.Context, id string, opts LoadOptions) (*entity.Invoice, error)

	// ListByUser returns one page of a user's invoices, newest first, and the total count
	ListByUser(ctx context.Context, userID string, opts ListOptions) ([]*entity.Invoice, int, error)

	// ListRecurringCandidates returns recurring invoices whose end date is on or after day
	ListRecurringCandidates(ctx context.Context, day time.Time) ([]*entity.Invoice, error)

	// Update writes every mutable column of the invoice row
	Update(ctx context.Context, invoice *entity.Invoice) error

	// Delete removes the invoice; its items are removed by cascade
	Delete(ctx context.Context, id string) error

	// MaxFrontendSeq returns the highest allocated counter for one user, 0 if none
	MaxFrontendSeq(ctx context.Context, userID string) (int64, error)

	// MaxFrontendSeqByUser returns the highest allocated counter per user
	MaxFrontendSeqByUser(ctx context.Context) (map[string]int64, error)
}

// ItemRepository defines persistence operations for Item
type ItemRepository interface {
	CreateMany(ctx context.Context, invoiceID string, items []*entity.Item) error
	GetByInvoiceID(ctx context.Context, invoiceID string) ([]*entity.Item, error)
	DeleteByInvoiceID(ctx context.Context, invoiceID string) (int64, error)
}

// AddressRepository defines persistence operations for Address
type AddressRepository interface {
	Create(ctx context.Context, address *entity.Address) error
	GetByID(ctx context.Context, id int64) (*entity.Address, error)

	// Delete returns entity.ErrAddressInUse when an invoice still references the address
	Delete(ctx context.Context, id int64) error

	// CountReferences returns how many invoices point at the address
	CountReferences(ctx context.Context, id int64) (int, error)
}

// RecurringInvoiceRepository defines persistence operations for the recurrence ledger
type RecurringInvoiceRepository interface {
	// Create returns entity.ErrDuplicate when (source, date) was already recorded
	Create(ctx context.Context, ri *entity.RecurringInvoice) error

	// Find returns nil, nil when no row exists for the pair
	Find(ctx context.Context, sourceInvoiceID string, day time.Time) (*entity.RecurringInvoice, error)

	ListBySource(ctx context.Context, sourceInvoiceID string) ([]*entity.RecurringInvoice, error)
}

// Tx is an open transaction started by UnitOfWork.Begin
type Tx interface {
	Commit() error
	Rollback() error
}

// TransactionManager handles database transactions
type TransactionManager interface {
	// Begin starts a transaction and returns a context carrying it.
	// Repository calls made with that context join the transaction.
	Begin(ctx context.Context) (context.Context, Tx, error)

	// WithTransaction runs fn inside a transaction. It commits when fn returns nil and
	// rolls back on error, panic or context cancellation. Nested calls join the outer transaction.
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// UnitOfWork groups the transaction boundary with the entity repositories
type UnitOfWork interface {
	TransactionManager

	Invoices() InvoiceRepository
	Items() ItemRepository
	Addresses() AddressRepository
	RecurringInvoices() RecurringInvoiceRepository
}
