package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/textract"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ismadtech/invoice-service/internal/docprep"
	"github.com/ismadtech/invoice-service/internal/export"
	"github.com/ismadtech/invoice-service/internal/extraction"
	"github.com/ismadtech/invoice-service/internal/models"
	"github.com/ismadtech/invoice-service/internal/render"
	"github.com/ismadtech/invoice-service/internal/repository"
	"github.com/ismadtech/invoice-service/internal/storage"
	"github.com/ismadtech/invoice-service/pkg/database"
)

// stubAnalyzer returns a canned block graph without calling AWS
type stubAnalyzer struct {
	blocks []*textract.Block
	err    error
}

func (s *stubAnalyzer) AnalyzeDocument(_ context.Context, _ []byte) ([]*textract.Block, error) {
	return s.blocks, s.err
}

// stubConverter stands in for the wkhtmltopdf binary
type stubConverter struct{}

func (stubConverter) Convert(_ string) ([]byte, error) {
	return []byte("%PDF-fake"), nil
}

type testEnv struct {
	router    *gin.Engine
	invoices  *repository.InvoiceRepository
	uploadDir string
}

func newTestEnv(t *testing.T, analyzer extraction.DocumentAnalyzer, completer DraftCompleter) *testEnv {
	t.Helper()

	logger := zap.NewNop()
	db, err := database.New(database.Config{
		Path:            filepath.Join(t.TempDir(), "test.db"),
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Minute,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	migrator := database.NewMigrator(db, logger)
	require.NoError(t, migrator.RunMigrations("../../migrations"))

	items := repository.NewItemRepository(db.DB, logger)
	invoices := repository.NewInvoiceRepository(db, items, logger)

	assetDir := t.TempDir()
	uploadDir := t.TempDir()
	templateImage := filepath.Join(assetDir, "template.jpg")
	require.NoError(t, os.WriteFile(templateImage, []byte("jpg"), 0o644))

	htmlRenderer, err := render.NewHTMLRenderer(
		"../../templates/invoice.html", templateImage, "19839807-0001",
		stubConverter{}, logger)
	require.NoError(t, err)

	handlers := NewHandlers(HandlersConfig{
		Invoices:      invoices,
		Analyzer:      analyzer,
		Completer:     completer,
		Extractor:     extraction.NewExtractor(logger),
		Preparer:      docprep.NewPreparer(false, logger),
		Store:         storage.NewLocalFileStorage(uploadDir, "/media/invoices/", logger),
		Canvas:        render.NewCanvasRenderer(filepath.Join(assetDir, "absent.jpg"), logger),
		HTML:          htmlRenderer,
		Exporter:      export.NewExcelExporter(logger),
		InvoicePrefix: "INV",
		TemplateImage: templateImage,
		Logger:        logger,
	})

	srv := New(Config{Host: "127.0.0.1", Port: 0}, handlers, logger)
	return &testEnv{router: srv.Router(), invoices: invoices, uploadDir: uploadDir}
}

func (e *testEnv) do(t *testing.T, method, path string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) postJSON(t *testing.T, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return e.do(t, http.MethodPost, path, body, "application/json")
}

func uploadRequest(t *testing.T, filename string, content []byte) ([]byte, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return buf.Bytes(), mw.FormDataContentType()
}

// sampleBlocks builds a document graph with an invoice number field and a
// single four-column item row.
func sampleBlocks() []*textract.Block {
	blocks := keyValuePair("no", []string{"Invoice", "No"}, []string{"12345"})
	blocks = append(blocks, itemTable("t1", []string{"Widget", "pcs", "2", "100.0"})...)
	return blocks
}

func wordBlock(id, text string) *textract.Block {
	return &textract.Block{
		Id:        aws.String(id),
		BlockType: aws.String(textract.BlockTypeWord),
		Text:      aws.String(text),
	}
}

func childRel(ids ...string) *textract.Relationship {
	return &textract.Relationship{
		Type: aws.String(textract.RelationshipTypeChild),
		Ids:  aws.StringSlice(ids),
	}
}

func keyValuePair(prefix string, keyWords, valueWords []string) []*textract.Block {
	var blocks []*textract.Block
	var keyIDs, valueIDs []string

	for i, w := range keyWords {
		id := fmt.Sprintf("%s-kw%d", prefix, i)
		blocks = append(blocks, wordBlock(id, w))
		keyIDs = append(keyIDs, id)
	}
	for i, w := range valueWords {
		id := fmt.Sprintf("%s-vw%d", prefix, i)
		blocks = append(blocks, wordBlock(id, w))
		valueIDs = append(valueIDs, id)
	}

	valueID := prefix + "-value"
	blocks = append(blocks, &textract.Block{
		Id:            aws.String(valueID),
		BlockType:     aws.String(textract.BlockTypeKeyValueSet),
		EntityTypes:   aws.StringSlice([]string{textract.EntityTypeValue}),
		Relationships: []*textract.Relationship{childRel(valueIDs...)},
	})

	keyRelIDs := append(append([]string{}, keyIDs...), valueID)
	blocks = append(blocks, &textract.Block{
		Id:            aws.String(prefix + "-key"),
		BlockType:     aws.String(textract.BlockTypeKeyValueSet),
		EntityTypes:   aws.StringSlice([]string{textract.EntityTypeKey}),
		Relationships: []*textract.Relationship{childRel(keyRelIDs...)},
	})

	return blocks
}

func itemTable(prefix string, cellTexts []string) []*textract.Block {
	var blocks []*textract.Block
	var cellIDs []string

	for i, text := range cellTexts {
		wordID := fmt.Sprintf("%s-w%d", prefix, i)
		cellID := fmt.Sprintf("%s-c%d", prefix, i)
		blocks = append(blocks, wordBlock(wordID, text))
		blocks = append(blocks, &textract.Block{
			Id:            aws.String(cellID),
			BlockType:     aws.String(textract.BlockTypeCell),
			Relationships: []*textract.Relationship{childRel(wordID)},
		})
		cellIDs = append(cellIDs, cellID)
	}

	blocks = append(blocks, &textract.Block{
		Id:            aws.String(prefix + "-table"),
		BlockType:     aws.String(textract.BlockTypeTable),
		Relationships: []*textract.Relationship{childRel(cellIDs...)},
	})
	return blocks
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t, &stubAnalyzer{}, nil)

	w := env.do(t, http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestExtractInvoice_ReturnsDraft(t *testing.T) {
	env := newTestEnv(t, &stubAnalyzer{blocks: sampleBlocks()}, nil)

	body, contentType := uploadRequest(t, "invoice.png", []byte("png-bytes"))
	w := env.do(t, http.MethodPost, "/api/v1/invoices/extract", body, contentType)
	require.Equal(t, http.StatusOK, w.Code)

	var draft struct {
		InvoiceNo    string `json:"invoice_no"`
		Subtotal     float64
		VAT          float64 `json:"vat"`
		Total        float64
		TemplatePath string `json:"template_path"`
		Items        []struct {
			Description string
			Qty         float64
			UnitRate    float64 `json:"unit_rate"`
		}
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &draft))

	assert.Equal(t, "12345", draft.InvoiceNo)
	require.Len(t, draft.Items, 1)
	assert.Equal(t, "Widget", draft.Items[0].Description)
	assert.Equal(t, 2.0, draft.Items[0].Qty)
	assert.Equal(t, 100.0, draft.Items[0].UnitRate)
	assert.Equal(t, 200.0, draft.Subtotal)
	assert.Equal(t, 15.0, draft.VAT)
	assert.Equal(t, 215.0, draft.Total)
	assert.NotEmpty(t, draft.TemplatePath)

	entries, err := os.ReadDir(env.uploadDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

// fillingCompleter fills fixed header fields the way the AI path would
type fillingCompleter struct {
	invoiceNo string
	called    bool
}

func (f *fillingCompleter) CompleteDraft(_ context.Context, draft *models.InvoiceDraft, _ []string) error {
	f.called = true
	if draft.InvoiceNo == "" {
		draft.InvoiceNo = f.invoiceNo
	}
	return nil
}

func TestExtractInvoice_CompletionRunsBeforeDefaults(t *testing.T) {
	// blocks carry items but no invoice number; the completer must see the
	// empty field, not the synthetic INV-<timestamp> fallback
	completer := &fillingCompleter{invoiceNo: "INV-RECOVERED-99"}
	blocks := itemTable("t1", []string{"Widget", "pcs", "2", "100.0"})
	env := newTestEnv(t, &stubAnalyzer{blocks: blocks}, completer)

	body, contentType := uploadRequest(t, "invoice.png", []byte("png-bytes"))
	w := env.do(t, http.MethodPost, "/api/v1/invoices/extract", body, contentType)
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, completer.called)

	var draft struct {
		InvoiceNo   string `json:"invoice_no"`
		InvoiceDate string `json:"invoice_date"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &draft))
	assert.Equal(t, "INV-RECOVERED-99", draft.InvoiceNo)
	assert.Equal(t, time.Now().Format("2006-01-02"), draft.InvoiceDate)
}

func TestExtractInvoice_DefaultsWithoutCompleter(t *testing.T) {
	blocks := itemTable("t1", []string{"Widget", "pcs", "2", "100.0"})
	env := newTestEnv(t, &stubAnalyzer{blocks: blocks}, nil)

	body, contentType := uploadRequest(t, "invoice.png", []byte("png-bytes"))
	w := env.do(t, http.MethodPost, "/api/v1/invoices/extract", body, contentType)
	require.Equal(t, http.StatusOK, w.Code)

	var draft struct {
		InvoiceNo string `json:"invoice_no"`
		VatDate   string `json:"vat_date"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &draft))
	assert.True(t, strings.HasPrefix(draft.InvoiceNo, "INV-"))
	assert.Equal(t, time.Now().Format("2006-01-02"), draft.VatDate)
}

func TestExtractInvoice_NoFile(t *testing.T) {
	env := newTestEnv(t, &stubAnalyzer{}, nil)

	w := env.do(t, http.MethodPost, "/api/v1/invoices/extract", nil, "application/json")
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "No file uploaded")
}

func TestExtractInvoice_AnalysisFailure(t *testing.T) {
	env := newTestEnv(t, &stubAnalyzer{err: fmt.Errorf("document analysis failed: throttled")}, nil)

	body, contentType := uploadRequest(t, "invoice.png", []byte("png-bytes"))
	w := env.do(t, http.MethodPost, "/api/v1/invoices/extract", body, contentType)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "document analysis failed")

	// the stored upload must not be left orphaned
	entries, err := os.ReadDir(env.uploadDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExtractInvoice_UnsupportedTypeDiscardsUpload(t *testing.T) {
	env := newTestEnv(t, &stubAnalyzer{}, nil)

	body, contentType := uploadRequest(t, "invoice.docx", []byte("doc-bytes"))
	w := env.do(t, http.MethodPost, "/api/v1/invoices/extract", body, contentType)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unsupported file type")

	entries, err := os.ReadDir(env.uploadDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSaveInvoice_PersistsAndReturnsPDF(t *testing.T) {
	env := newTestEnv(t, &stubAnalyzer{}, nil)

	w := env.postJSON(t, "/api/v1/invoices/save", map[string]any{
		"customer_name": "Acme Ltd",
		"items": []map[string]any{
			{"description": "Widget", "unit": "pcs", "qty": 2, "unit_rate": 100.0},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))

	expectedNo := fmt.Sprintf("INV-%s-0001", time.Now().Format("20060102"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")
	assert.Contains(t, w.Header().Get("Content-Disposition"), expectedNo+".pdf")
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF")))

	inv, err := env.invoices.GetByInvoiceNo(expectedNo)
	require.NoError(t, err)
	assert.Equal(t, "Acme Ltd", inv.CustomerName)
	assert.Equal(t, 200.0, inv.Subtotal)
	assert.Equal(t, 15.0, inv.VAT)
	assert.Equal(t, 215.0, inv.Total)
	require.Len(t, inv.Items, 1)
}

func TestSaveInvoice_InvalidBody(t *testing.T) {
	env := newTestEnv(t, &stubAnalyzer{}, nil)

	w := env.do(t, http.MethodPost, "/api/v1/invoices/save", []byte("{not json"), "application/json")
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid request body")
}

func TestCreateAndDownload_CallerSuppliedNumber(t *testing.T) {
	env := newTestEnv(t, &stubAnalyzer{}, nil)

	w := env.postJSON(t, "/api/v1/invoices/create-download", map[string]any{
		"invoice_no":    "INV-20240101-0007",
		"invoice_date":  "2024-01-01",
		"customer_name": "Beta Co",
		"items": []map[string]any{
			{"description": "Service", "unit": "hrs", "qty": 3, "unit_rate": 10.005},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "INV-20240101-0007.pdf")
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF")))

	inv, err := env.invoices.GetByInvoiceNo("INV-20240101-0007")
	require.NoError(t, err)
	assert.Equal(t, 30.015, inv.Subtotal)
	assert.Equal(t, "2024-01-01", inv.InvoiceDate)
	assert.Equal(t, "2024-01-01", inv.VatDate)
}

func TestRenderInvoice_UpsertsByNumber(t *testing.T) {
	env := newTestEnv(t, &stubAnalyzer{}, nil)

	payload := map[string]any{
		"invoice_no":    "INV-20240101-0001",
		"customer_name": "Acme Ltd",
		"items": []map[string]any{
			{"description": "Widget", "unit": "pcs", "qty": 2, "unit_rate": 100.0},
		},
	}
	w := env.postJSON(t, "/api/v1/invoices/render", payload)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "inline")

	// re-render the same invoice with different items
	payload["items"] = []map[string]any{
		{"description": "Widget", "unit": "pcs", "qty": 1, "unit_rate": 50.0},
	}
	w = env.postJSON(t, "/api/v1/invoices/render", payload)
	require.Equal(t, http.StatusOK, w.Code)

	inv, err := env.invoices.GetByInvoiceNo("INV-20240101-0001")
	require.NoError(t, err)
	require.Len(t, inv.Items, 1)
	assert.Equal(t, 50.0, inv.Subtotal)
	assert.Equal(t, 3.75, inv.VAT)
	assert.Equal(t, 53.75, inv.Total)
}

func TestRenderInvoice_MissingNumber(t *testing.T) {
	env := newTestEnv(t, &stubAnalyzer{}, nil)

	w := env.postJSON(t, "/api/v1/invoices/render", map[string]any{
		"customer_name": "Acme Ltd",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invoice_no is required")
}

func TestListInvoices(t *testing.T) {
	env := newTestEnv(t, &stubAnalyzer{}, nil)

	w := env.do(t, http.MethodGet, "/api/v1/invoices", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":0`)

	env.postJSON(t, "/api/v1/invoices/save", map[string]any{
		"customer_name": "Acme Ltd",
		"items":         []map[string]any{{"qty": 1, "unit_rate": 10.0}},
	})

	w = env.do(t, http.MethodGet, "/api/v1/invoices", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var out struct {
		Count    int `json:"count"`
		Invoices []struct {
			InvoiceNo string  `json:"invoice_no"`
			Total     float64 `json:"total"`
		} `json:"invoices"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Equal(t, 1, out.Count)
	assert.Equal(t, 10.75, out.Invoices[0].Total)
}

func TestExportRegister(t *testing.T) {
	env := newTestEnv(t, &stubAnalyzer{}, nil)

	env.postJSON(t, "/api/v1/invoices/save", map[string]any{
		"customer_name": "Acme Ltd",
		"items":         []map[string]any{{"qty": 1, "unit_rate": 10.0}},
	})

	w := env.do(t, http.MethodGet, "/api/v1/invoices/export", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "invoices.xlsx")
	// xlsx files are zip archives
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("PK")))
}
