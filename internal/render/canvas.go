package render

import (
	"bytes"
	"fmt"
	"os"

	"github.com/jung-kurt/gofpdf"
	"go.uber.org/zap"

	"github.com/ismadtech/invoice-service/internal/models"
)

// A4 page size in millimeters
const (
	pageWidth  = 210.0
	pageHeight = 297.0
)

// CanvasRenderer draws the invoice directly onto an A4 page over an optional
// background template image. A missing background is tolerated: the page is
// rendered blank.
type CanvasRenderer struct {
	templateImage string
	logger        *zap.Logger
}

// NewCanvasRenderer creates a new canvas renderer
func NewCanvasRenderer(templateImage string, logger *zap.Logger) *CanvasRenderer {
	return &CanvasRenderer{
		templateImage: templateImage,
		logger:        logger,
	}
}

// Render produces the PDF byte stream for the invoice. The invoice is only
// read, never mutated.
func (r *CanvasRenderer) Render(inv *models.Invoice) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()

	if _, err := os.Stat(r.templateImage); err == nil {
		pdf.ImageOptions(r.templateImage, 0, 0, pageWidth, pageHeight, false,
			gofpdf.ImageOptions{}, 0, "")
	} else {
		r.logger.Debug("Background template missing, rendering blank page",
			zap.String("path", r.templateImage))
	}

	pdf.SetFont("Helvetica", "", 10)

	// Header block, top right
	pdf.Text(140, 16, fmt.Sprintf("Invoice No: %s", inv.InvoiceNo))
	pdf.Text(140, 21, fmt.Sprintf("Invoice Date: %s", inv.InvoiceDate))
	pdf.Text(140, 26, fmt.Sprintf("VAT Date: %s", inv.VatDate))

	// Customer block, top left
	pdf.Text(18, 33, fmt.Sprintf("Customer: %s", inv.CustomerName))
	pdf.Text(18, 38, fmt.Sprintf("Address: %s", inv.CustomerAddress))
	if inv.ContractNo != "" {
		pdf.Text(18, 43, fmt.Sprintf("Contract No: %s", inv.ContractNo))
	}
	if inv.PoNo != "" {
		pdf.Text(18, 48, fmt.Sprintf("PO No: %s", inv.PoNo))
	}

	// Item table
	y := 62.0
	pdf.SetFont("Helvetica", "B", 10)
	pdf.Text(18, y, "Description")
	pdf.Text(95, y, "Unit")
	pdf.Text(120, y, "Qty")
	pdf.Text(140, y, "Unit Rate")
	pdf.Text(175, y, "Amount")
	pdf.SetFont("Helvetica", "", 10)

	y += 7
	for _, it := range inv.Items {
		pdf.Text(18, y, it.Description)
		pdf.Text(95, y, it.Unit)
		pdf.Text(120, y, fmt.Sprintf("%d", it.Qty))
		pdf.Text(140, y, FormatMoney(it.UnitRate))
		pdf.Text(175, y, FormatMoney(it.TotalPrice()))
		y += 7
	}

	// Totals block, bottom right
	pdf.Text(140, 250, fmt.Sprintf("Subtotal: %s", FormatMoney(inv.Subtotal)))
	pdf.Text(140, 255, fmt.Sprintf("VAT (7.5%%): %s", FormatMoney(inv.VAT)))
	pdf.Text(140, 260, fmt.Sprintf("Total: %s", FormatMoney(inv.Total)))

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		r.logger.Error("Failed to render invoice PDF", zap.Error(err))
		return nil, fmt.Errorf("failed to render PDF: %w", err)
	}
	return buf.Bytes(), nil
}
