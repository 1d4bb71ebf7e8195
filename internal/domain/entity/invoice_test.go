package entity

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestAddress_Equal(t *testing.T) {
	base := Address{ID: 1, Street: "19 Union Terrace", City: "London", PostCode: "E1 3EZ", Country: "United Kingdom"}

	t.Run("ignores ids", func(t *testing.T) {
		other := base
		other.ID = 99
		assert.True(t, base.Equal(other))
	})

	t.Run("detects each field", func(t *testing.T) {
		for _, mutate := range []func(*Address){
			func(a *Address) { a.Street = "84 Church Way" },
			func(a *Address) { a.City = "Bradford" },
			func(a *Address) { a.PostCode = "BD1 9PB" },
			func(a *Address) { a.Country = "France" },
		} {
			other := base
			mutate(&other)
			assert.False(t, base.Equal(other))
		}
	})

	t.Run("nil handling", func(t *testing.T) {
		assert.True(t, SameAddress(nil, nil))
		assert.False(t, SameAddress(&base, nil))
		assert.False(t, SameAddress(nil, &base))
	})
}

func TestInvoice_RecomputePaymentDue(t *testing.T) {
	inv := &Invoice{CreatedAt: date(2026, 10, 19), PaymentTerms: 14}
	inv.RecomputePaymentDue()
	assert.Equal(t, date(2026, 11, 2), inv.PaymentDue)

	inv.PaymentTerms = 30
	inv.RecomputePaymentDue()
	assert.Equal(t, date(2026, 11, 18), inv.PaymentDue)
}

func TestInvoice_RecalculateTotal(t *testing.T) {
	inv := &Invoice{Items: []*Item{
		NewItem("Banner Design", 1, decimal.RequireFromString("156.00")),
		NewItem("Email Design", 2, decimal.RequireFromString("200.00")),
	}}
	inv.RecalculateTotal()

	assert.True(t, decimal.RequireFromString("556.00").Equal(inv.Total))
	assert.True(t, decimal.RequireFromString("400.00").Equal(inv.Items[1].Total))
}

func TestStatusFromReady(t *testing.T) {
	assert.Equal(t, InvoiceStatusPending, StatusFromReady(true))
	assert.Equal(t, InvoiceStatusDraft, StatusFromReady(false))
	assert.True(t, InvoiceStatusDraft.IsEditable())
	assert.False(t, InvoiceStatusPending.IsEditable())
	assert.False(t, InvoiceStatusPaid.IsEditable())
}

func TestParseRecurrencePeriod(t *testing.T) {
	p, err := ParseRecurrencePeriod("weekly")
	require.NoError(t, err)
	assert.Equal(t, RecurrenceWeekly, p)

	_, err = ParseRecurrencePeriod("fortnightly")
	assert.ErrorIs(t, err, ErrInvalidRecurrencePeriod)
}

func TestRecurrencePeriod_DueOn(t *testing.T) {
	start := date(2026, 1, 31) // a Saturday

	tests := []struct {
		name   string
		period RecurrencePeriod
		day    time.Time
		want   bool
	}{
		{"daily before start", RecurrenceDaily, date(2026, 1, 30), false},
		{"daily on start", RecurrenceDaily, start, true},
		{"daily later", RecurrenceDaily, date(2026, 3, 4), true},
		{"weekly same weekday", RecurrenceWeekly, date(2026, 2, 7), true},
		{"weekly other weekday", RecurrenceWeekly, date(2026, 2, 8), false},
		{"monthly clamps to month end", RecurrenceMonthly, date(2026, 2, 28), true},
		{"monthly wrong day", RecurrenceMonthly, date(2026, 2, 27), false},
		{"monthly full month", RecurrenceMonthly, date(2026, 3, 31), true},
		{"unknown period", RecurrencePeriod("Yearly"), date(2027, 1, 31), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.period.DueOn(start, tt.day))
		})
	}
}

func TestInvoice_IsRecurrenceDue(t *testing.T) {
	weekly := RecurrenceWeekly
	today := date(2026, 10, 19)
	yesterday := today.AddDate(0, 0, -1)
	nextMonth := today.AddDate(0, 1, 0)

	inv := &Invoice{
		CreatedAt:         today.AddDate(0, 0, -7),
		IsRecurring:       true,
		RecurrencePeriod:  &weekly,
		RecurrenceEndDate: &nextMonth,
	}
	assert.True(t, inv.IsRecurrenceDue(today))

	inv.RecurrenceEndDate = &yesterday
	assert.False(t, inv.IsRecurrenceDue(today))

	inv.RecurrenceEndDate = &nextMonth
	inv.ClearRecurrence()
	assert.False(t, inv.IsRecurrenceDue(today))
}
