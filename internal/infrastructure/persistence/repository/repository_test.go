package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/garyjia/invoice-lifecycle/internal/application/port"
	"github.com/garyjia/invoice-lifecycle/internal/domain/entity"
	"github.com/garyjia/invoice-lifecycle/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/invoice-lifecycle/pkg/database"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var day = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

func newTestUnitOfWork(t *testing.T) *UnitOfWork {
	t.Helper()
	logger := zap.NewNop()

	db, err := database.New(database.Config{Path: filepath.Join(t.TempDir(), "invoices.db")}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = database.NewMigrator(db, logger).Run()
	require.NoError(t, err)

	return NewUnitOfWork(sqlite.NewDB(db.DB, logger), logger)
}

func seedInvoice(t *testing.T, uow *UnitOfWork, userID string, seq int64, mutate func(*entity.Invoice)) *entity.Invoice {
	t.Helper()
	ctx := context.Background()

	sender := &entity.Address{Street: "1 Sender St", City: "London", PostCode: "E1", Country: "UK"}
	client := &entity.Address{Street: "9 Client Rd", City: "Leeds", PostCode: "LS1", Country: "UK"}
	require.NoError(t, uow.Addresses().Create(ctx, sender))
	require.NoError(t, uow.Addresses().Create(ctx, client))

	invoice := &entity.Invoice{
		ID:              uuid.NewString(),
		FrontendID:      fmt.Sprintf("INV-%06d", seq),
		FrontendSeq:     seq,
		UserID:          userID,
		CreatedAt:       day,
		PaymentTerms:    14,
		ClientName:      "Acme",
		ClientEmail:     "billing@acme.test",
		Status:          entity.InvoiceStatusDraft,
		SenderAddressID: sender.ID,
		ClientAddressID: client.ID,
		Items: []*entity.Item{
			entity.NewItem("Design", 2, decimal.RequireFromString("150.50")),
			entity.NewItem("Hosting", 1, decimal.RequireFromString("20")),
		},
		UpdatedAt: day,
	}
	invoice.RecomputePaymentDue()
	invoice.RecalculateTotal()
	if mutate != nil {
		mutate(invoice)
	}

	require.NoError(t, uow.Invoices().Create(ctx, invoice))
	require.NoError(t, uow.Items().CreateMany(ctx, invoice.ID, invoice.Items))
	return invoice
}

func TestInvoiceRepository_CreateAndLoad(t *testing.T) {
	uow := newTestUnitOfWork(t)
	ctx := context.Background()
	created := seedInvoice(t, uow, "alice", 1, nil)

	got, err := uow.Invoices().GetByID(ctx, created.ID, port.LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "alice", got.UserID)
	assert.True(t, got.Total.Equal(decimal.RequireFromString("321")))
	assert.True(t, got.PaymentDue.Equal(day.AddDate(0, 0, 14)))
	assert.Nil(t, got.Items, "relations are not loaded implicitly")
	assert.Nil(t, got.SenderAddress)

	got, err = uow.Invoices().GetByID(ctx, created.ID, port.LoadAll)
	require.NoError(t, err)
	require.Len(t, got.Items, 2)
	assert.Equal(t, "Design", got.Items[0].Name)
	assert.True(t, got.Items[0].Total.Equal(decimal.RequireFromString("301")))
	require.NotNil(t, got.SenderAddress)
	assert.Equal(t, "London", got.SenderAddress.City)
	assert.Equal(t, "Leeds", got.ClientAddress.City)
}

func TestInvoiceRepository_GetByIDNotFound(t *testing.T) {
	uow := newTestUnitOfWork(t)
	_, err := uow.Invoices().GetByID(context.Background(), "missing", port.LoadAll)
	assert.ErrorIs(t, err, entity.ErrNotFound)
}

func TestInvoiceRepository_DuplicateFrontendIDRejected(t *testing.T) {
	uow := newTestUnitOfWork(t)
	ctx := context.Background()
	first := seedInvoice(t, uow, "alice", 1, nil)

	dup := *first
	dup.ID = uuid.NewString()
	err := uow.Invoices().Create(ctx, &dup)
	assert.ErrorIs(t, err, entity.ErrDuplicate)

	// the same frontend id under another user is fine
	dup.UserID = "bob"
	assert.NoError(t, uow.Invoices().Create(ctx, &dup))
}

func TestInvoiceRepository_RecurrenceRoundTrip(t *testing.T) {
	uow := newTestUnitOfWork(t)
	ctx := context.Background()

	period := entity.RecurrenceWeekly
	end := day.AddDate(0, 1, 0)
	created := seedInvoice(t, uow, "alice", 1, func(inv *entity.Invoice) {
		inv.IsRecurring = true
		inv.RecurrencePeriod = &period
		inv.RecurrenceEndDate = &end
	})

	got, err := uow.Invoices().GetByID(ctx, created.ID, port.LoadOptions{})
	require.NoError(t, err)
	assert.True(t, got.IsRecurring)
	require.NotNil(t, got.RecurrencePeriod)
	assert.Equal(t, entity.RecurrenceWeekly, *got.RecurrencePeriod)
	require.NotNil(t, got.RecurrenceEndDate)
	assert.True(t, got.RecurrenceEndDate.Equal(end))
}

func TestInvoiceRepository_RecurrenceCheckConstraint(t *testing.T) {
	uow := newTestUnitOfWork(t)
	ctx := context.Background()
	created := seedInvoice(t, uow, "alice", 1, nil)

	created.IsRecurring = true
	assert.Error(t, uow.Invoices().Update(ctx, created), "recurring without period and end date")
}

func TestInvoiceRepository_ListByUserPaginates(t *testing.T) {
	uow := newTestUnitOfWork(t)
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		seedInvoice(t, uow, "alice", i, nil)
	}
	seedInvoice(t, uow, "bob", 1, nil)

	page, total, err := uow.Invoices().ListByUser(ctx, "alice", port.ListOptions{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, int64(4), page[0].FrontendSeq)
	assert.Equal(t, int64(3), page[1].FrontendSeq)

	all, _, err := uow.Invoices().ListByUser(ctx, "alice", port.ListOptions{Load: port.LoadOptions{Items: true}})
	require.NoError(t, err)
	assert.Len(t, all, 5)
	for _, inv := range all {
		assert.Equal(t, "alice", inv.UserID)
		assert.Len(t, inv.Items, 2)
	}
}

func TestInvoiceRepository_ListRecurringCandidates(t *testing.T) {
	uow := newTestUnitOfWork(t)
	ctx := context.Background()

	daily := entity.RecurrenceDaily
	future := day.AddDate(0, 0, 5)
	past := day.AddDate(0, 0, -1)

	active := seedInvoice(t, uow, "alice", 1, func(inv *entity.Invoice) {
		inv.IsRecurring = true
		inv.RecurrencePeriod = &daily
		inv.RecurrenceEndDate = &future
	})
	endsToday := seedInvoice(t, uow, "alice", 2, func(inv *entity.Invoice) {
		inv.IsRecurring = true
		inv.RecurrencePeriod = &daily
		inv.RecurrenceEndDate = &day
	})
	seedInvoice(t, uow, "alice", 3, func(inv *entity.Invoice) {
		inv.IsRecurring = true
		inv.RecurrencePeriod = &daily
		inv.RecurrenceEndDate = &past
	})
	seedInvoice(t, uow, "alice", 4, nil)

	candidates, err := uow.Invoices().ListRecurringCandidates(ctx, day)
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	ids := []string{candidates[0].ID, candidates[1].ID}
	assert.ElementsMatch(t, []string{active.ID, endsToday.ID}, ids)
	assert.Len(t, candidates[0].Items, 2, "candidates carry items for copying")
	assert.NotNil(t, candidates[0].SenderAddress)
}

func TestInvoiceRepository_MaxFrontendSeq(t *testing.T) {
	uow := newTestUnitOfWork(t)
	ctx := context.Background()

	seq, err := uow.Invoices().MaxFrontendSeq(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, seq)

	seedInvoice(t, uow, "alice", 3, nil)
	seedInvoice(t, uow, "alice", 7, nil)
	seedInvoice(t, uow, "bob", 2, nil)

	seq, err = uow.Invoices().MaxFrontendSeq(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(7), seq)

	byUser, err := uow.Invoices().MaxFrontendSeqByUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"alice": 7, "bob": 2}, byUser)
}

func TestInvoiceRepository_DeleteCascadesItems(t *testing.T) {
	uow := newTestUnitOfWork(t)
	ctx := context.Background()
	created := seedInvoice(t, uow, "alice", 1, nil)

	require.NoError(t, uow.Invoices().Delete(ctx, created.ID))

	items, err := uow.Items().GetByInvoiceID(ctx, created.ID)
	require.NoError(t, err)
	assert.Empty(t, items)

	assert.ErrorIs(t, uow.Invoices().Delete(ctx, created.ID), entity.ErrNotFound)
}

func TestAddressRepository_RestrictiveDelete(t *testing.T) {
	uow := newTestUnitOfWork(t)
	ctx := context.Background()
	created := seedInvoice(t, uow, "alice", 1, nil)

	refs, err := uow.Addresses().CountReferences(ctx, created.SenderAddressID)
	require.NoError(t, err)
	assert.Equal(t, 1, refs)

	err = uow.Addresses().Delete(ctx, created.SenderAddressID)
	assert.ErrorIs(t, err, entity.ErrAddressInUse)

	require.NoError(t, uow.Invoices().Delete(ctx, created.ID))
	require.NoError(t, uow.Addresses().Delete(ctx, created.SenderAddressID))

	_, err = uow.Addresses().GetByID(ctx, created.SenderAddressID)
	assert.ErrorIs(t, err, entity.ErrNotFound)
}

func TestItemRepository_DeleteByInvoiceID(t *testing.T) {
	uow := newTestUnitOfWork(t)
	ctx := context.Background()
	created := seedInvoice(t, uow, "alice", 1, nil)

	n, err := uow.Items().DeleteByInvoiceID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestRecurringInvoiceRepository_LedgerUniqueness(t *testing.T) {
	uow := newTestUnitOfWork(t)
	ctx := context.Background()

	record := &entity.RecurringInvoice{
		SourceInvoiceID:    "src",
		GeneratedInvoiceID: "gen-1",
		RecurrenceDate:     day,
		Status:             entity.InvoiceStatusPending,
		Total:              decimal.RequireFromString("99.90"),
		CreatedAt:          day,
	}
	require.NoError(t, uow.RecurringInvoices().Create(ctx, record))
	assert.NotZero(t, record.ID)

	dup := *record
	dup.GeneratedInvoiceID = "gen-2"
	assert.ErrorIs(t, uow.RecurringInvoices().Create(ctx, &dup), entity.ErrDuplicate)

	found, err := uow.RecurringInvoices().Find(ctx, "src", day.Add(15*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "gen-1", found.GeneratedInvoiceID)
	assert.True(t, found.RecurrenceDate.Equal(day))
	assert.True(t, found.Total.Equal(decimal.RequireFromString("99.9")))

	missing, err := uow.RecurringInvoices().Find(ctx, "src", day.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Nil(t, missing)

	next := *record
	next.RecurrenceDate = day.AddDate(0, 0, 1)
	require.NoError(t, uow.RecurringInvoices().Create(ctx, &next))

	history, err := uow.RecurringInvoices().ListBySource(ctx, "src")
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestUnitOfWork_RollbackDiscardsWrites(t *testing.T) {
	uow := newTestUnitOfWork(t)
	ctx := context.Background()
	var addressID int64

	err := uow.WithTransaction(ctx, func(txCtx context.Context) error {
		address := &entity.Address{Street: "x"}
		if err := uow.Addresses().Create(txCtx, address); err != nil {
			return err
		}
		addressID = address.ID
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	_, err = uow.Addresses().GetByID(ctx, addressID)
	assert.ErrorIs(t, err, entity.ErrNotFound)
}

func TestUnitOfWork_CommitAndNestedJoin(t *testing.T) {
	uow := newTestUnitOfWork(t)
	ctx := context.Background()
	var outer, inner int64

	err := uow.WithTransaction(ctx, func(txCtx context.Context) error {
		assert.True(t, sqlite.InTransaction(txCtx))
		a := &entity.Address{Street: "outer"}
		if err := uow.Addresses().Create(txCtx, a); err != nil {
			return err
		}
		outer = a.ID
		return uow.WithTransaction(txCtx, func(nested context.Context) error {
			b := &entity.Address{Street: "inner"}
			if err := uow.Addresses().Create(nested, b); err != nil {
				return err
			}
			inner = b.ID
			return nil
		})
	})
	require.NoError(t, err)

	_, err = uow.Addresses().GetByID(ctx, outer)
	assert.NoError(t, err)
	_, err = uow.Addresses().GetByID(ctx, inner)
	assert.NoError(t, err)
}

func TestUnitOfWork_PanicRollsBack(t *testing.T) {
	uow := newTestUnitOfWork(t)
	ctx := context.Background()
	var addressID int64

	assert.Panics(t, func() {
		_ = uow.WithTransaction(ctx, func(txCtx context.Context) error {
			address := &entity.Address{Street: "boom"}
			_ = uow.Addresses().Create(txCtx, address)
			addressID = address.ID
			panic("boom")
		})
	})

	_, err := uow.Addresses().GetByID(ctx, addressID)
	assert.ErrorIs(t, err, entity.ErrNotFound)
}

func TestUnitOfWork_CancelledContextRollsBack(t *testing.T) {
	uow := newTestUnitOfWork(t)
	ctx, cancel := context.WithCancel(context.Background())
	var addressID int64

	err := uow.WithTransaction(ctx, func(txCtx context.Context) error {
		address := &entity.Address{Street: "cancelled"}
		if err := uow.Addresses().Create(txCtx, address); err != nil {
			return err
		}
		addressID = address.ID
		cancel()
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)

	_, err = uow.Addresses().GetByID(context.Background(), addressID)
	assert.ErrorIs(t, err, entity.ErrNotFound)
}

func TestUnitOfWork_ConcurrentTransactionsSerialize(t *testing.T) {
	uow := newTestUnitOfWork(t)
	ctx := context.Background()

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- uow.WithTransaction(ctx, func(txCtx context.Context) error {
				return uow.Addresses().Create(txCtx, &entity.Address{Street: "concurrent"})
			})
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}

	var count int
	require.NoError(t, uow.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM addresses").Scan(&count))
	assert.Equal(t, writers, count)
}
