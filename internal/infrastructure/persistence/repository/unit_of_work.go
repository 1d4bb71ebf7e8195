package repository

import (
	"github.com/garyjia/invoice-lifecycle/internal/application/port"
	"github.com/garyjia/invoice-lifecycle/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// UnitOfWork exposes the repositories over one database. Every repository
// resolves its executor from the context, so calls made with a transactional
// context share that transaction.
type UnitOfWork struct {
	*sqlite.DB

	invoices  *InvoiceRepository
	items     *ItemRepository
	addresses *AddressRepository
	recurring *RecurringInvoiceRepository
}

// NewUnitOfWork wires the repositories to db
func NewUnitOfWork(db *sqlite.DB, logger *zap.Logger) *UnitOfWork {
	items := NewItemRepository(db, logger)
	addresses := NewAddressRepository(db, logger)
	return &UnitOfWork{
		DB:        db,
		invoices:  NewInvoiceRepository(db, items, addresses, logger),
		items:     items,
		addresses: addresses,
		recurring: NewRecurringInvoiceRepository(db, logger),
	}
}

func (u *UnitOfWork) Invoices() port.InvoiceRepository { return u.invoices }

func (u *UnitOfWork) Items() port.ItemRepository { return u.items }

func (u *UnitOfWork) Addresses() port.AddressRepository { return u.addresses }

func (u *UnitOfWork) RecurringInvoices() port.RecurringInvoiceRepository { return u.recurring }

var _ port.UnitOfWork = (*UnitOfWork)(nil)
