package entity

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// InvoiceStatus is the lifecycle status of an invoice
type InvoiceStatus string

const (
	InvoiceStatusDraft   InvoiceStatus = "Draft"
	InvoiceStatusPending InvoiceStatus = "Pending"
	InvoiceStatusPaid    InvoiceStatus = "Paid"
)

// IsValid reports whether the status is known
func (s InvoiceStatus) IsValid() bool {
	switch s {
	case InvoiceStatusDraft, InvoiceStatusPending, InvoiceStatusPaid:
		return true
	}
	return false
}

// IsEditable reports whether invoice fields may still change. Only drafts are editable.
func (s InvoiceStatus) IsEditable() bool {
	return s == InvoiceStatusDraft
}

// StatusFromReady maps the "ready to send" flag to the initial status
func StatusFromReady(ready bool) InvoiceStatus {
	if ready {
		return InvoiceStatusPending
	}
	return InvoiceStatusDraft
}

// RecurrencePeriod is the cadence of a recurring invoice
type RecurrencePeriod string

const (
	RecurrenceDaily   RecurrencePeriod = "Daily"
	RecurrenceWeekly  RecurrencePeriod = "Weekly"
	RecurrenceMonthly RecurrencePeriod = "Monthly"
)

// ErrInvalidRecurrencePeriod is returned when a period name is unknown
var ErrInvalidRecurrencePeriod = errors.New("invalid recurrence period")

// ParseRecurrencePeriod parses a period name case-insensitively
func ParseRecurrencePeriod(s string) (RecurrencePeriod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "daily":
		return RecurrenceDaily, nil
	case "weekly":
		return RecurrenceWeekly, nil
	case "monthly":
		return RecurrenceMonthly, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRecurrencePeriod, s)
}

// DueOn reports whether an invoice anchored at start with this cadence falls due on day.
// Monthly anchors past the end of a shorter month fall on that month's last day.
func (p RecurrencePeriod) DueOn(start, day time.Time) bool {
	start = DateOnly(start)
	day = DateOnly(day)
	if day.Before(start) {
		return false
	}

	switch p {
	case RecurrenceDaily:
		return true
	case RecurrenceWeekly:
		return start.Weekday() == day.Weekday()
	case RecurrenceMonthly:
		lastDay := time.Date(day.Year(), day.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
		anchor := start.Day()
		if anchor > lastDay {
			anchor = lastDay
		}
		return day.Day() == anchor
	}
	return false
}

// IsRecurrenceDue reports whether the invoice should produce an instance on day:
// it recurs, day is inside [CreatedAt, RecurrenceEndDate] and the cadence matches.
func (inv *Invoice) IsRecurrenceDue(day time.Time) bool {
	if !inv.IsRecurring || inv.RecurrencePeriod == nil || inv.RecurrenceEndDate == nil {
		return false
	}
	if DateOnly(day).After(DateOnly(*inv.RecurrenceEndDate)) {
		return false
	}
	return inv.RecurrencePeriod.DueOn(inv.CreatedAt, day)
}
