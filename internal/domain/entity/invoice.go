package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Invoice represents a billing document owned by a single user
type Invoice struct {
	ID                string            `json:"id"`
	FrontendID        string            `json:"frontend_id"`
	FrontendSeq       int64             `json:"-"`
	UserID            string            `json:"user_id"`
	CreatedAt         time.Time         `json:"created_at"`
	PaymentDue        time.Time         `json:"payment_due"`
	Description       string            `json:"description"`
	PaymentTerms      int               `json:"payment_terms"`
	ClientName        string            `json:"client_name"`
	ClientEmail       string            `json:"client_email"`
	Status            InvoiceStatus     `json:"status"`
	Total             decimal.Decimal   `json:"total"`
	IsRecurring       bool              `json:"is_recurring"`
	RecurrencePeriod  *RecurrencePeriod `json:"recurrence_period,omitempty"`
	RecurrenceEndDate *time.Time        `json:"recurrence_end_date,omitempty"`
	RecurrenceCount   int               `json:"recurrence_count"`
	SenderAddressID   int64             `json:"sender_address_id"`
	ClientAddressID   int64             `json:"client_address_id"`
	SenderAddress     *Address          `json:"sender_address,omitempty"`
	ClientAddress     *Address          `json:"client_address,omitempty"`
	Items             []*Item           `json:"items,omitempty"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// Item is a single invoice line
type Item struct {
	ID        int64           `json:"id"`
	InvoiceID string          `json:"invoice_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Total     decimal.Decimal `json:"total"`
}

// Address is referenced by invoices as sender or client address.
// Rows are deleted restrictively: the database refuses while any invoice still points at them.
type Address struct {
	ID       int64  `json:"id"`
	Street   string `json:"street"`
	City     string `json:"city"`
	PostCode string `json:"post_code"`
	Country  string `json:"country"`
}

// RecurringInvoice is a ledger row recording that a source invoice produced
// an instance on a given calendar date. (SourceInvoiceID, RecurrenceDate) is unique.
type RecurringInvoice struct {
	ID                 int64           `json:"id"`
	SourceInvoiceID    string          `json:"source_invoice_id"`
	GeneratedInvoiceID string          `json:"generated_invoice_id"`
	RecurrenceDate     time.Time       `json:"recurrence_date"`
	Status             InvoiceStatus   `json:"status"`
	Total              decimal.Decimal `json:"total"`
	CreatedAt          time.Time       `json:"created_at"`
}

// NewItem builds an item with its line total computed
func NewItem(name string, quantity int, unitPrice decimal.Decimal) *Item {
	item := &Item{
		Name:      name,
		Quantity:  quantity,
		UnitPrice: unitPrice,
	}
	item.Recalculate()
	return item
}

// Recalculate sets Total = Quantity x UnitPrice
func (i *Item) Recalculate() {
	i.Total = i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Equal reports whether two addresses carry the same field values. IDs are ignored.
func (a Address) Equal(other Address) bool {
	return a.Street == other.Street &&
		a.City == other.City &&
		a.PostCode == other.PostCode &&
		a.Country == other.Country
}

// SameAddress compares two possibly nil addresses by value
func SameAddress(a, b *Address) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// PaymentDueFor returns createdAt + terms days
func PaymentDueFor(createdAt time.Time, terms int) time.Time {
	return createdAt.AddDate(0, 0, terms)
}

// RecomputePaymentDue restores the PaymentDue invariant after CreatedAt or PaymentTerms change
func (inv *Invoice) RecomputePaymentDue() {
	inv.PaymentDue = PaymentDueFor(inv.CreatedAt, inv.PaymentTerms)
}

// RecalculateTotal recomputes every item total and the invoice total
func (inv *Invoice) RecalculateTotal() {
	total := decimal.Zero
	for _, item := range inv.Items {
		item.Recalculate()
		total = total.Add(item.Total)
	}
	inv.Total = total
}

// IsOwnedBy reports whether userID owns the invoice
func (inv *Invoice) IsOwnedBy(userID string) bool {
	return userID != "" && inv.UserID == userID
}

// ClearRecurrence drops the recurrence fields so the invariant holds for non-recurring invoices
func (inv *Invoice) ClearRecurrence() {
	inv.IsRecurring = false
	inv.RecurrencePeriod = nil
	inv.RecurrenceEndDate = nil
}

// DateOnly truncates t to midnight UTC of its calendar date
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
