package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/ismadtech/invoice-service/internal/models"
)

// Completer fills header fields the block-graph reducers left empty by
// asking a chat model to read the document's raw text lines. It only ever
// fills blanks; extracted values are never overwritten.
type Completer struct {
	client      *openai.Client
	model       string
	temperature float32
	logger      *zap.Logger
}

// NewCompleter creates a new draft completer
func NewCompleter(apiKey, model string, temperature float32, logger *zap.Logger) *Completer {
	return &Completer{
		client:      openai.NewClient(apiKey),
		model:       model,
		temperature: temperature,
		logger:      logger,
	}
}

// completion is the JSON shape the model is asked to return
type completion struct {
	InvoiceNo       string `json:"invoice_no"`
	InvoiceDate     string `json:"invoice_date"`
	VatDate         string `json:"vat_date"`
	CustomerName    string `json:"customer_name"`
	CustomerAddress string `json:"customer_address"`
	ContractNo      string `json:"contract_no"`
	PoNo            string `json:"po_no"`
}

// CompleteDraft attempts to fill the draft's empty header fields from the
// document's line texts. Failures are soft: the draft is returned untouched
// and the error is left to the caller to log.
func (c *Completer) CompleteDraft(ctx context.Context, draft *models.InvoiceDraft, lines []string) error {
	if !needsCompletion(draft) || len(lines) == 0 {
		return nil
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You are an expert at reading scanned commercial invoices. Extract header fields accurately and respond with valid JSON only.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildPrompt(lines),
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return fmt.Errorf("draft completion failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return fmt.Errorf("no response from completion model")
	}

	var data completion
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &data); err != nil {
		return fmt.Errorf("failed to parse completion response: %w", err)
	}

	filled := applyCompletion(draft, data)
	c.logger.Info("Draft completed from document text", zap.Int("fields_filled", filled))
	return nil
}

// needsCompletion reports whether any header field is still empty
func needsCompletion(d *models.InvoiceDraft) bool {
	return d.InvoiceNo == "" || d.InvoiceDate == "" || d.VatDate == "" ||
		d.CustomerName == "" || d.CustomerAddress == "" ||
		d.ContractNo == "" || d.PoNo == ""
}

// applyCompletion copies completed values into fields that are still empty
// and returns how many were filled
func applyCompletion(d *models.InvoiceDraft, data completion) int {
	filled := 0
	fill := func(dst *string, src string) {
		if *dst == "" && src != "" {
			*dst = strings.TrimSpace(src)
			filled++
		}
	}

	fill(&d.InvoiceNo, data.InvoiceNo)
	fill(&d.InvoiceDate, data.InvoiceDate)
	fill(&d.VatDate, data.VatDate)
	fill(&d.CustomerName, data.CustomerName)
	fill(&d.CustomerAddress, data.CustomerAddress)
	fill(&d.ContractNo, data.ContractNo)
	fill(&d.PoNo, data.PoNo)
	return filled
}

// buildPrompt builds the completion prompt from the document's text lines
func buildPrompt(lines []string) string {
	return fmt.Sprintf(`The following lines were read from a scanned commercial invoice, in document order:

%s

Extract the invoice header fields. Return JSON with exactly this structure:
{
  "invoice_no": "string",
  "invoice_date": "YYYY-MM-DD",
  "vat_date": "YYYY-MM-DD",
  "customer_name": "string",
  "customer_address": "string",
  "contract_no": "string",
  "po_no": "string"
}

Use an empty string for any field that is not present. Extract exactly what
you see; do not invent values.`, strings.Join(lines, "\n"))
}
