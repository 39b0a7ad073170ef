package render

import (
	"bytes"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"

	wkhtmltopdf "github.com/SebastiaanKlippert/go-wkhtmltopdf"
	"go.uber.org/zap"

	"github.com/ismadtech/invoice-service/internal/models"
)

// HTMLConverter turns rendered HTML into PDF bytes. Implemented by
// WkhtmltopdfConverter; injected so rendering is testable without the
// wkhtmltopdf binary.
type HTMLConverter interface {
	Convert(html string) ([]byte, error)
}

// WkhtmltopdfConverter converts HTML via the wkhtmltopdf binary with A4
// pages, zero margins and local file access enabled.
type WkhtmltopdfConverter struct{}

// Convert runs the conversion and returns the PDF bytes
func (WkhtmltopdfConverter) Convert(html string) ([]byte, error) {
	pdfg, err := wkhtmltopdf.NewPDFGenerator()
	if err != nil {
		return nil, fmt.Errorf("wkhtmltopdf not available: %w", err)
	}

	pdfg.PageSize.Set(wkhtmltopdf.PageSizeA4)
	pdfg.MarginTop.Set(0)
	pdfg.MarginBottom.Set(0)
	pdfg.MarginLeft.Set(0)
	pdfg.MarginRight.Set(0)

	page := wkhtmltopdf.NewPageReader(strings.NewReader(html))
	page.EnableLocalFileAccess.Set(true)
	page.Encoding.Set("UTF-8")
	pdfg.AddPage(page)

	if err := pdfg.Create(); err != nil {
		return nil, fmt.Errorf("failed to convert HTML to PDF: %w", err)
	}
	return pdfg.Bytes(), nil
}

// HTMLRenderer populates the invoice HTML template and hands it to the
// converter. Unlike the canvas strategy, a missing background template
// asset is a hard error here.
type HTMLRenderer struct {
	tmpl          *template.Template
	converter     HTMLConverter
	templateImage string
	companyTIN    string
	logger        *zap.Logger
}

// NewHTMLRenderer parses the invoice template and creates the renderer
func NewHTMLRenderer(templatePath, templateImage, companyTIN string, converter HTMLConverter, logger *zap.Logger) (*HTMLRenderer, error) {
	tmpl, err := template.ParseFiles(templatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to parse invoice template: %w", err)
	}

	return &HTMLRenderer{
		tmpl:          tmpl,
		converter:     converter,
		templateImage: templateImage,
		companyTIN:    companyTIN,
		logger:        logger,
	}, nil
}

// templateItem is one serial-numbered row of the rendered table
type templateItem struct {
	SN          int
	Description string
	Unit        string
	Qty         int64
	Rate        string
	Amount      string
}

// templateContext is the data handed to the HTML template
type templateContext struct {
	TIN             string
	InvoiceNo       string
	InvoiceDate     string
	VatDate         string
	CustomerName    string
	CustomerAddress string
	ContractNo      string
	PoNo            string
	Items           []templateItem
	Subtotal        string
	VAT             string
	Total           string
	// template.URL so the autoescaper keeps the file:// scheme in the
	// CSS url() context instead of replacing it with #ZgotmplZ
	TemplateImage template.URL
}

// Render produces the PDF byte stream for the invoice
func (r *HTMLRenderer) Render(inv *models.Invoice) ([]byte, error) {
	html, err := r.renderHTML(inv)
	if err != nil {
		return nil, err
	}

	pdfBytes, err := r.converter.Convert(html)
	if err != nil {
		r.logger.Error("HTML to PDF conversion failed",
			zap.String("invoice_no", inv.InvoiceNo),
			zap.Error(err))
		return nil, err
	}
	return pdfBytes, nil
}

// renderHTML populates the template; split out for tests
func (r *HTMLRenderer) renderHTML(inv *models.Invoice) (string, error) {
	absImage, err := filepath.Abs(r.templateImage)
	if err != nil {
		return "", fmt.Errorf("failed to resolve template image path: %w", err)
	}
	if _, err := os.Stat(absImage); err != nil {
		return "", fmt.Errorf("template image not found at %s", absImage)
	}

	items := make([]templateItem, 0, len(inv.Items))
	for i, it := range inv.Items {
		items = append(items, templateItem{
			SN:          i + 1,
			Description: it.Description,
			Unit:        it.Unit,
			Qty:         it.Qty,
			Rate:        FormatMoney(it.UnitRate),
			Amount:      FormatMoney(it.TotalPrice()),
		})
	}

	ctx := templateContext{
		TIN:             r.companyTIN,
		InvoiceNo:       inv.InvoiceNo,
		InvoiceDate:     inv.InvoiceDate,
		VatDate:         inv.VatDate,
		CustomerName:    inv.CustomerName,
		CustomerAddress: inv.CustomerAddress,
		ContractNo:      inv.ContractNo,
		PoNo:            inv.PoNo,
		Items:           items,
		Subtotal:        FormatMoney(inv.Subtotal),
		VAT:             FormatMoney(inv.VAT),
		Total:           FormatMoney(inv.Total),
		TemplateImage:   template.URL("file://" + filepath.ToSlash(absImage)),
	}

	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("failed to render invoice template: %w", err)
	}
	return buf.String(), nil
}
