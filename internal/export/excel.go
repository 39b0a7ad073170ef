package export

import (
	"fmt"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/ismadtech/invoice-service/internal/models"
)

const sheetName = "Invoices"

var headers = []string{
	"Invoice No", "Invoice Date", "VAT Date", "Customer", "Address",
	"Contract No", "PO No", "Subtotal", "VAT", "Total",
}

// ExcelExporter writes the invoice register as an Excel workbook
type ExcelExporter struct {
	logger *zap.Logger
}

// NewExcelExporter creates a new Excel exporter
func NewExcelExporter(logger *zap.Logger) *ExcelExporter {
	return &ExcelExporter{logger: logger}
}

// WriteRegister renders one row per invoice and returns the workbook bytes
func (e *ExcelExporter) WriteRegister(invoices []models.Invoice) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	for col, h := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, fmt.Errorf("failed to build cell name: %w", err)
		}
		if err := f.SetCellValue(sheetName, cell, h); err != nil {
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
	}

	for row, inv := range invoices {
		values := []interface{}{
			inv.InvoiceNo, inv.InvoiceDate, inv.VatDate, inv.CustomerName,
			inv.CustomerAddress, inv.ContractNo, inv.PoNo,
			inv.Subtotal, inv.VAT, inv.Total,
		}
		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row+2)
			if err != nil {
				return nil, fmt.Errorf("failed to build cell name: %w", err)
			}
			if err := f.SetCellValue(sheetName, cell, v); err != nil {
				return nil, fmt.Errorf("failed to write row: %w", err)
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		e.logger.Error("Failed to write register workbook", zap.Error(err))
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}

	e.logger.Info("Invoice register exported", zap.Int("invoices", len(invoices)))
	return buf.Bytes(), nil
}
