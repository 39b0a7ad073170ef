package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ismadtech/invoice-service/internal/docprep"
	"github.com/ismadtech/invoice-service/internal/export"
	"github.com/ismadtech/invoice-service/internal/extraction"
	"github.com/ismadtech/invoice-service/internal/models"
	"github.com/ismadtech/invoice-service/internal/repository"
	"github.com/ismadtech/invoice-service/internal/storage"
)

// InvoiceRenderer produces a PDF document for a stored invoice.
type InvoiceRenderer interface {
	Render(inv *models.Invoice) ([]byte, error)
}

// DraftCompleter fills draft header fields extraction left empty.
// Implemented by ai.Completer.
type DraftCompleter interface {
	CompleteDraft(ctx context.Context, draft *models.InvoiceDraft, lines []string) error
}

// Handlers bundles the request handlers with their dependencies
type Handlers struct {
	invoices  *repository.InvoiceRepository
	analyzer  extraction.DocumentAnalyzer
	extractor *extraction.Extractor
	completer DraftCompleter // nil when AI completion is disabled
	preparer  *docprep.Preparer
	store     storage.FileStorage
	canvas    InvoiceRenderer
	html      InvoiceRenderer
	exporter  *export.ExcelExporter

	invoicePrefix string
	templateImage string
	logger        *zap.Logger
}

// HandlersConfig carries the dependencies for the HTTP handlers
type HandlersConfig struct {
	Invoices      *repository.InvoiceRepository
	Analyzer      extraction.DocumentAnalyzer
	Extractor     *extraction.Extractor
	Completer     DraftCompleter
	Preparer      *docprep.Preparer
	Store         storage.FileStorage
	Canvas        InvoiceRenderer
	HTML          InvoiceRenderer
	Exporter      *export.ExcelExporter
	InvoicePrefix string
	TemplateImage string
	Logger        *zap.Logger
}

// NewHandlers creates the handler set
func NewHandlers(cfg HandlersConfig) *Handlers {
	return &Handlers{
		invoices:      cfg.Invoices,
		analyzer:      cfg.Analyzer,
		extractor:     cfg.Extractor,
		completer:     cfg.Completer,
		preparer:      cfg.Preparer,
		store:         cfg.Store,
		canvas:        cfg.Canvas,
		html:          cfg.HTML,
		exporter:      cfg.Exporter,
		invoicePrefix: cfg.InvoicePrefix,
		templateImage: cfg.TemplateImage,
		logger:        cfg.Logger,
	}
}

// itemPayload is the wire form of an invoice line item
type itemPayload struct {
	Description string  `json:"description"`
	Unit        string  `json:"unit"`
	Qty         float64 `json:"qty"`
	UnitRate    float64 `json:"unit_rate"`
}

// invoicePayload is the wire form of an invoice create/render request
type invoicePayload struct {
	InvoiceNo       string        `json:"invoice_no"`
	InvoiceDate     string        `json:"invoice_date"`
	VatDate         string        `json:"vat_date"`
	CustomerName    string        `json:"customer_name"`
	CustomerAddress string        `json:"customer_address"`
	ContractNo      string        `json:"contract_no"`
	PoNo            string        `json:"po_no"`
	Items           []itemPayload `json:"items"`
}

func (p *invoicePayload) toInvoice(templateImage string) *models.Invoice {
	today := time.Now().Format("2006-01-02")
	inv := &models.Invoice{
		InvoiceNo:       p.InvoiceNo,
		InvoiceDate:     p.InvoiceDate,
		VatDate:         p.VatDate,
		CustomerName:    p.CustomerName,
		CustomerAddress: p.CustomerAddress,
		ContractNo:      p.ContractNo,
		PoNo:            p.PoNo,
		TemplateImage:   templateImage,
		Items:           toItems(p.Items),
	}
	if inv.InvoiceDate == "" {
		inv.InvoiceDate = today
	}
	if inv.VatDate == "" {
		inv.VatDate = inv.InvoiceDate
	}
	inv.CalculateTotals()
	return inv
}

func toItems(payload []itemPayload) []models.Item {
	items := make([]models.Item, 0, len(payload))
	for _, it := range payload {
		items = append(items, models.Item{
			Description: it.Description,
			Unit:        it.Unit,
			Qty:         int64(it.Qty),
			UnitRate:    it.UnitRate,
		})
	}
	return items
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// ExtractInvoice handles POST /api/v1/invoices/extract.
// It accepts a multipart document upload, runs document analysis and
// returns an editable invoice draft.
func (h *Handlers) ExtractInvoice(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read uploaded file"})
		return
	}

	saved, err := h.store.SaveUpload(header.Filename, data)
	if err != nil {
		h.logger.Error("Failed to store upload", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	prepared, err := h.preparer.Prepare(data, header.Filename)
	if err != nil {
		h.discardUpload(saved.Path)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	blocks, err := h.analyzer.AnalyzeDocument(c.Request.Context(), prepared)
	if err != nil {
		h.logger.Error("Document analysis failed",
			zap.String("filename", header.Filename),
			zap.Error(err))
		h.discardUpload(saved.Path)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	draft := h.extractor.Extract(blocks)
	draft.TemplateURL = saved.PublicURL
	draft.TemplatePath = saved.Path

	// completion runs on the pre-default draft so a recovered field is
	// not shadowed by the synthetic fallbacks
	if h.completer != nil {
		if err := h.completer.CompleteDraft(c.Request.Context(), draft, extraction.LineTexts(blocks)); err != nil {
			h.logger.Warn("AI completion failed, returning draft as extracted", zap.Error(err))
		}
	}
	extraction.ApplyDefaults(draft)

	c.JSON(http.StatusOK, draft)
}

// discardUpload removes a stored asset that no draft ended up referencing
func (h *Handlers) discardUpload(path string) {
	if err := h.store.Remove(path); err != nil {
		h.logger.Warn("Failed to remove orphaned upload",
			zap.String("path", path),
			zap.Error(err))
	}
}

// SaveInvoice handles POST /api/v1/invoices/save.
// It assigns the next sequential invoice number, persists the invoice
// and returns a canvas-rendered PDF as an attachment.
func (h *Handlers) SaveInvoice(c *gin.Context) {
	var payload invoicePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	payload.InvoiceNo = "" // numbering is always server-assigned on save
	inv := payload.toInvoice(h.templateImage)

	if err := h.invoices.CreateNumbered(inv, h.invoicePrefix); err != nil {
		h.logger.Error("Failed to save invoice", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	pdf, err := h.canvas.Render(inv)
	if err != nil {
		h.logger.Error("Failed to render invoice",
			zap.String("invoice_no", inv.InvoiceNo),
			zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	respondPDF(c, inv.InvoiceNo, pdf, "attachment")
}

// CreateAndDownloadInvoice handles POST /api/v1/invoices/create-download.
// Unlike save, the caller may supply the invoice number and dates; the
// PDF is produced by the HTML template strategy.
func (h *Handlers) CreateAndDownloadInvoice(c *gin.Context) {
	var payload invoicePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	inv := payload.toInvoice(h.templateImage)

	var err error
	if inv.InvoiceNo != "" {
		err = h.invoices.Create(inv)
	} else {
		err = h.invoices.CreateNumbered(inv, h.invoicePrefix)
	}
	if err != nil {
		h.logger.Error("Failed to create invoice", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	pdf, err := h.html.Render(inv)
	if err != nil {
		h.logger.Error("Failed to render invoice",
			zap.String("invoice_no", inv.InvoiceNo),
			zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	respondPDF(c, inv.InvoiceNo, pdf, "attachment")
}

// RenderInvoice handles POST /api/v1/invoices/render.
// The invoice identified by invoice_no is created or updated in place,
// its line items replaced and totals recomputed, then rendered inline.
func (h *Handlers) RenderInvoice(c *gin.Context) {
	var payload invoicePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if payload.InvoiceNo == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invoice_no is required"})
		return
	}

	inv, err := h.invoices.GetByInvoiceNo(payload.InvoiceNo)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		inv = payload.toInvoice(h.templateImage)
		if err := h.invoices.Create(inv); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	case err != nil:
		h.logger.Error("Failed to load invoice", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	default:
		// header fields act as create-time defaults; an existing invoice
		// only has its items replaced
		if err := h.invoices.ReplaceItems(inv, toItems(payload.Items)); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	pdf, err := h.html.Render(inv)
	if err != nil {
		h.logger.Error("Failed to render invoice",
			zap.String("invoice_no", inv.InvoiceNo),
			zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	respondPDF(c, inv.InvoiceNo, pdf, "inline")
}

// ListInvoices handles GET /api/v1/invoices
func (h *Handlers) ListInvoices(c *gin.Context) {
	invoices, err := h.invoices.List()
	if err != nil {
		h.logger.Error("Failed to list invoices", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if invoices == nil {
		invoices = []models.Invoice{}
	}
	c.JSON(http.StatusOK, gin.H{
		"invoices": invoices,
		"count":    len(invoices),
	})
}

// ExportRegister handles GET /api/v1/invoices/export
func (h *Handlers) ExportRegister(c *gin.Context) {
	invoices, err := h.invoices.List()
	if err != nil {
		h.logger.Error("Failed to list invoices", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	data, err := h.exporter.WriteRegister(invoices)
	if err != nil {
		h.logger.Error("Failed to build invoice register", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Disposition", `attachment; filename="invoices.xlsx"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}

func respondPDF(c *gin.Context, invoiceNo string, pdf []byte, disposition string) {
	c.Header("Content-Disposition", fmt.Sprintf("%s; filename=%q", disposition, invoiceNo+".pdf"))
	c.Data(http.StatusOK, "application/pdf", pdf)
}
