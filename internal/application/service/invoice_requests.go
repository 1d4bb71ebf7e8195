package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/invoice-lifecycle/internal/domain/entity"
	"github.com/garyjia/invoice-lifecycle/pkg/utils"
	"github.com/shopspring/decimal"
)

// AddressInput is the incoming form of an address
type AddressInput struct {
	Street   string `json:"street"`
	City     string `json:"city"`
	PostCode string `json:"post_code"`
	Country  string `json:"country"`
}

func (a AddressInput) toEntity() *entity.Address {
	return &entity.Address{
		Street:   utils.SanitizeString(a.Street),
		City:     utils.SanitizeString(a.City),
		PostCode: utils.SanitizeString(a.PostCode),
		Country:  utils.SanitizeString(a.Country),
	}
}

// ItemInput is the incoming form of an invoice line
type ItemInput struct {
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// InvoiceFields are the client-editable fields shared by create and edit
type InvoiceFields struct {
	Description   string       `json:"description"`
	PaymentTerms  int          `json:"payment_terms"`
	ClientName    string       `json:"client_name"`
	ClientEmail   string       `json:"client_email"`
	IsReady       bool         `json:"is_ready"`
	SenderAddress AddressInput `json:"sender_address"`
	ClientAddress AddressInput `json:"client_address"`
	Items         []ItemInput  `json:"items"`
}

// CreateInvoiceRequest is the payload of CreateInvoice.
// CreatedAt is optional; when set it must not be earlier than today.
type CreateInvoiceRequest struct {
	InvoiceFields
	CreatedAt         string `json:"created_at,omitempty"`
	IsRecurring       bool   `json:"is_recurring"`
	RecurrencePeriod  string `json:"recurrence_period,omitempty"`
	RecurrenceEndDate string `json:"recurrence_end_date,omitempty"`
}

// EditInvoiceRequest is the payload of EditInvoice
type EditInvoiceRequest struct {
	InvoiceFields
	CreatedAt string `json:"created_at,omitempty"`
}

// validate checks the shared fields and builds the items
func (f InvoiceFields) validate() ([]*entity.Item, *Failure) {
	if f.PaymentTerms < 0 {
		return nil, fail(KindValidation, "Payment terms cannot be negative.")
	}
	if strings.TrimSpace(f.ClientName) == "" {
		return nil, fail(KindValidation, "Client name is required.")
	}
	if err := utils.ValidateEmail(strings.TrimSpace(f.ClientEmail)); err != nil {
		return nil, fail(KindValidation, "A valid client email is required.")
	}

	items := make([]*entity.Item, 0, len(f.Items))
	for i, in := range f.Items {
		name := utils.SanitizeString(in.Name)
		switch {
		case name == "":
			return nil, fail(KindValidation, fmt.Sprintf("Item %d: name is required.", i+1))
		case in.Quantity <= 0:
			return nil, fail(KindValidation, fmt.Sprintf("Item %d: quantity must be positive.", i+1))
		case in.UnitPrice.IsNegative():
			return nil, fail(KindValidation, fmt.Sprintf("Item %d: unit price cannot be negative.", i+1))
		}
		items = append(items, entity.NewItem(name, in.Quantity, in.UnitPrice))
	}
	return items, nil
}

// recurrence parses the recurrence fields. Non-recurring requests yield nil values.
func (r CreateInvoiceRequest) recurrence() (*entity.RecurrencePeriod, *time.Time, *Failure) {
	if !r.IsRecurring {
		return nil, nil, nil
	}

	if strings.TrimSpace(r.RecurrencePeriod) == "" {
		return nil, nil, fail(KindValidation, "RecurrencePeriod is required for a recurring invoice.")
	}
	period, err := entity.ParseRecurrencePeriod(r.RecurrencePeriod)
	if err != nil {
		return nil, nil, fail(KindValidation, "RecurrencePeriod must be Daily, Weekly or Monthly.")
	}

	end, err := utils.ParseDate(r.RecurrenceEndDate)
	if err != nil {
		return nil, nil, fail(KindValidation, "Valid RecurrenceEndDate is required for a recurring invoice.")
	}
	end = entity.DateOnly(end)
	return &period, &end, nil
}

// creationDate resolves the invoice date. An empty value means today; an explicit
// value must parse and must not be strictly earlier than today.
func creationDate(value string, now time.Time) (time.Time, *Failure) {
	today := entity.DateOnly(now)
	if strings.TrimSpace(value) == "" {
		return today, nil
	}

	parsed, err := utils.ParseDate(value)
	if err != nil {
		return time.Time{}, fail(KindValidation, "Invalid date format provided.")
	}
	parsed = entity.DateOnly(parsed)
	if parsed.Before(today) {
		return time.Time{}, fail(KindValidation, "Cannot create an invoice with a date in the past.")
	}
	return parsed, nil
}

// editedDate resolves the invoice date on edit. Keeping the current date is always
// allowed; moving it follows the creation rule.
func editedDate(value string, current, now time.Time) (time.Time, *Failure) {
	if strings.TrimSpace(value) == "" {
		return current, nil
	}

	parsed, err := utils.ParseDate(value)
	if err != nil {
		return time.Time{}, fail(KindValidation, "Invalid date format provided.")
	}
	if entity.DateOnly(parsed).Equal(entity.DateOnly(current)) {
		return current, nil
	}
	return creationDate(value, now)
}
