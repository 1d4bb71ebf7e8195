// Package export renders invoice statements
package export

import (
	"context"
	"fmt"
	"io"

	"github.com/garyjia/invoice-lifecycle/internal/application/port"
	"github.com/garyjia/invoice-lifecycle/internal/domain/entity"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

const (
	InvoicesSheet = "Invoices"
	ItemsSheet    = "Items"

	dateLayout = "2006-01-02"
)

var invoiceHeader = []interface{}{
	"Invoice", "Status", "Created", "Payment Due", "Terms (days)", "Client",
	"Client Email", "Description", "Recurring", "Period", "Recurrence End", "Total",
}

var itemHeader = []interface{}{"Invoice", "Item", "Quantity", "Unit Price", "Total"}

// XLSXExporter writes a user's invoices as a two-sheet workbook
type XLSXExporter struct {
	logger *zap.Logger
}

// NewXLSXExporter creates a new XLSX statement exporter
func NewXLSXExporter(logger *zap.Logger) *XLSXExporter {
	return &XLSXExporter{logger: logger}
}

// ContentType implements port.StatementExporter
func (e *XLSXExporter) ContentType() string {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

// FileExtension implements port.StatementExporter
func (e *XLSXExporter) FileExtension() string {
	return ".xlsx"
}

// Export implements port.StatementExporter
func (e *XLSXExporter) Export(ctx context.Context, w io.Writer, userID string, invoices []*entity.Invoice) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", InvoicesSheet); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}
	if _, err := f.NewSheet(ItemsSheet); err != nil {
		return fmt.Errorf("failed to create items sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#DDEBF7"}},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	moneyStyle, err := f.NewStyle(&excelize.Style{NumFmt: 4})
	if err != nil {
		return fmt.Errorf("failed to create money style: %w", err)
	}

	if err := e.writeHeader(f, InvoicesSheet, invoiceHeader, headerStyle); err != nil {
		return err
	}
	if err := e.writeHeader(f, ItemsSheet, itemHeader, headerStyle); err != nil {
		return err
	}

	itemRow := 2
	for i, inv := range invoices {
		if err := ctx.Err(); err != nil {
			return err
		}

		row := i + 2
		if err := e.setRow(f, InvoicesSheet, row, invoiceRow(inv)); err != nil {
			return err
		}
		e.setStyle(f, InvoicesSheet, fmt.Sprintf("L%d", row), fmt.Sprintf("L%d", row), moneyStyle)

		for _, item := range inv.Items {
			values := []interface{}{
				inv.FrontendID,
				item.Name,
				item.Quantity,
				item.UnitPrice.InexactFloat64(),
				item.Total.InexactFloat64(),
			}
			if err := e.setRow(f, ItemsSheet, itemRow, values); err != nil {
				return err
			}
			e.setStyle(f, ItemsSheet, fmt.Sprintf("D%d", itemRow), fmt.Sprintf("E%d", itemRow), moneyStyle)
			itemRow++
		}
	}

	if err := f.SetColWidth(InvoicesSheet, "A", "L", 16); err != nil {
		e.logger.Warn("Failed to set column width", zap.Error(err))
	}
	if err := f.SetColWidth(ItemsSheet, "A", "E", 16); err != nil {
		e.logger.Warn("Failed to set column width", zap.Error(err))
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}

	e.logger.Info("Invoice statement exported",
		zap.String("user_id", userID),
		zap.Int("invoices", len(invoices)),
		zap.Int("items", itemRow-2))
	return nil
}

func invoiceRow(inv *entity.Invoice) []interface{} {
	period, end := "", ""
	if inv.RecurrencePeriod != nil {
		period = string(*inv.RecurrencePeriod)
	}
	if inv.RecurrenceEndDate != nil {
		end = inv.RecurrenceEndDate.Format(dateLayout)
	}

	return []interface{}{
		inv.FrontendID,
		string(inv.Status),
		inv.CreatedAt.Format(dateLayout),
		inv.PaymentDue.Format(dateLayout),
		inv.PaymentTerms,
		inv.ClientName,
		inv.ClientEmail,
		inv.Description,
		inv.IsRecurring,
		period,
		end,
		inv.Total.InexactFloat64(),
	}
}

func (e *XLSXExporter) writeHeader(f *excelize.File, sheet string, header []interface{}, style int) error {
	if err := e.setRow(f, sheet, 1, header); err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return fmt.Errorf("failed to resolve header range: %w", err)
	}
	e.setStyle(f, sheet, "A1", last, style)
	return nil
}

func (e *XLSXExporter) setRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("failed to resolve row %d: %w", row, err)
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("failed to write %s row %d: %w", sheet, row, err)
	}
	return nil
}

// setStyle is best effort; a missing style does not invalidate the statement
func (e *XLSXExporter) setStyle(f *excelize.File, sheet, from, to string, style int) {
	if err := f.SetCellStyle(sheet, from, to, style); err != nil {
		e.logger.Warn("Failed to set cell style",
			zap.String("sheet", sheet),
			zap.String("range", from+":"+to),
			zap.Error(err))
	}
}

var _ port.StatementExporter = (*XLSXExporter)(nil)
