package extraction

import (
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/textract"
	"go.uber.org/zap"

	"github.com/ismadtech/invoice-service/internal/models"
)

// itemColumns is the expected table shape: description, unit, qty, unit_rate
const itemColumns = 4

// Extractor re-flattens a Textract block graph into an invoice draft.
// The graph carries no structural guarantee about column order, so the
// field matching and the fixed column grouping are heuristic.
type Extractor struct {
	logger *zap.Logger
}

// NewExtractor creates a new extractor
func NewExtractor(logger *zap.Logger) *Extractor {
	return &Extractor{logger: logger}
}

// Extract derives a structured invoice draft from the block graph. Malformed
// block structure degrades to empty strings and zero numbers; Extract never
// fails on bad OCR output. Fields the reducers could not find stay empty so
// downstream completion can still fill them; call ApplyDefaults afterwards.
func (e *Extractor) Extract(blocks []*textract.Block) *models.InvoiceDraft {
	index := indexBlocks(blocks)

	draft := &models.InvoiceDraft{Items: []models.ItemDraft{}}
	e.applyKeyValues(blocks, index, draft)
	draft.Items = e.collectItems(blocks, index)
	draft.CalculateTotals()

	return draft
}

// ApplyDefaults fills the fields that are still empty after extraction and
// any completion: today's date, the invoice date as VAT date, and a
// timestamp-derived invoice number.
func ApplyDefaults(d *models.InvoiceDraft) {
	applyDefaults(d, time.Now())
}

// indexBlocks builds the id -> block lookup the reducers traverse
func indexBlocks(blocks []*textract.Block) map[string]*textract.Block {
	index := make(map[string]*textract.Block, len(blocks))
	for _, b := range blocks {
		if b != nil && b.Id != nil {
			index[*b.Id] = b
		}
	}
	return index
}

// applyKeyValues reduces KEY_VALUE_SET blocks into the draft's header fields
func (e *Extractor) applyKeyValues(blocks []*textract.Block, index map[string]*textract.Block, draft *models.InvoiceDraft) {
	for _, b := range blocks {
		if b == nil || aws.StringValue(b.BlockType) != textract.BlockTypeKeyValueSet || !hasEntityType(b, textract.EntityTypeKey) {
			continue
		}

		key, value := keyValueTexts(b, index)
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		if key == "" {
			continue
		}

		applyField(draft, key, value)
	}
}

// keyValueTexts walks the key block's relationship edges: child WORD blocks
// spell the key, referenced value blocks spell the value.
func keyValueTexts(key *textract.Block, index map[string]*textract.Block) (string, string) {
	var keyWords, valueWords []string

	for _, rel := range key.Relationships {
		for _, id := range rel.Ids {
			child := index[aws.StringValue(id)]
			if child == nil {
				continue
			}
			switch {
			case aws.StringValue(child.BlockType) == textract.BlockTypeWord:
				keyWords = append(keyWords, aws.StringValue(child.Text))
			case isValueBlock(child):
				valueWords = append(valueWords, wordsOf(child, index)...)
			}
		}
	}

	return strings.Join(keyWords, " "), strings.Join(valueWords, " ")
}

// isValueBlock recognizes the value side of a key/value pair: either a leaf
// block typed VALUE or a KEY_VALUE_SET carrying the VALUE entity type.
func isValueBlock(b *textract.Block) bool {
	bt := aws.StringValue(b.BlockType)
	return bt == "VALUE" || (bt == textract.BlockTypeKeyValueSet && hasEntityType(b, textract.EntityTypeValue))
}

// applyField matches a lower-cased key against the field patterns in fixed
// priority order; the first matching rule wins, unmatched keys are discarded.
func applyField(draft *models.InvoiceDraft, key, value string) {
	switch {
	case strings.Contains(key, "invoice no"):
		draft.InvoiceNo = value
	case strings.Contains(key, "invoice date"):
		draft.InvoiceDate = value
	case strings.Contains(key, "vat date"):
		draft.VatDate = value
	case strings.Contains(key, "customer") && strings.Contains(key, "sold"):
		draft.CustomerName = value
	case strings.Contains(key, "address"):
		draft.CustomerAddress = value
	case strings.Contains(key, "contract"):
		draft.ContractNo = value
	case strings.Contains(key, "po"):
		draft.PoNo = value
	}
}

// collectItems flattens every table's cells into one ordered text sequence
// and groups it into fixed-size rows. A trailing partial row is discarded
// with a warning rather than misaligning fields.
func (e *Extractor) collectItems(blocks []*textract.Block, index map[string]*textract.Block) []models.ItemDraft {
	var cells []string

	for _, b := range blocks {
		if b == nil || aws.StringValue(b.BlockType) != textract.BlockTypeTable {
			continue
		}
		for _, rel := range b.Relationships {
			if aws.StringValue(rel.Type) != textract.RelationshipTypeChild {
				continue
			}
			for _, id := range rel.Ids {
				cell := index[aws.StringValue(id)]
				if cell == nil || aws.StringValue(cell.BlockType) != textract.BlockTypeCell {
					continue
				}
				cells = append(cells, strings.TrimSpace(strings.Join(wordsOf(cell, index), " ")))
			}
		}
	}

	items := make([]models.ItemDraft, 0, len(cells)/itemColumns)
	for i := 0; i+itemColumns <= len(cells); i += itemColumns {
		items = append(items, models.ItemDraft{
			Description: cells[i],
			Unit:        cells[i+1],
			Qty:         SafeFloat(cells[i+2]),
			UnitRate:    SafeFloat(cells[i+3]),
		})
	}

	if rem := len(cells) % itemColumns; rem != 0 {
		e.logger.Warn("Discarding trailing table cells that do not form a full row",
			zap.Int("cells", len(cells)),
			zap.Int("discarded", rem))
	}

	return items
}

// wordsOf collects the texts of a block's descendant WORD blocks in document
// order. A leaf block with no word children contributes its own text.
func wordsOf(b *textract.Block, index map[string]*textract.Block) []string {
	var words []string
	for _, rel := range b.Relationships {
		for _, id := range rel.Ids {
			child := index[aws.StringValue(id)]
			if child == nil {
				continue
			}
			if aws.StringValue(child.BlockType) == textract.BlockTypeWord {
				if t := aws.StringValue(child.Text); t != "" {
					words = append(words, t)
				}
			}
		}
	}
	if len(words) == 0 {
		if t := aws.StringValue(b.Text); t != "" {
			words = append(words, t)
		}
	}
	return words
}

// hasEntityType reports whether the block carries the given entity type
func hasEntityType(b *textract.Block, entityType string) bool {
	for _, et := range b.EntityTypes {
		if aws.StringValue(et) == entityType {
			return true
		}
	}
	return false
}

// LineTexts returns the raw LINE block texts in document order, for
// consumers that want the document as plain text.
func LineTexts(blocks []*textract.Block) []string {
	var lines []string
	for _, b := range blocks {
		if b == nil || aws.StringValue(b.BlockType) != textract.BlockTypeLine {
			continue
		}
		if t := aws.StringValue(b.Text); t != "" {
			lines = append(lines, t)
		}
	}
	return lines
}

// SafeFloat leniently coerces OCR cell text to a number. Thousands
// separators are tolerated; anything unparseable yields 0.
func SafeFloat(s string) float64 {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func applyDefaults(d *models.InvoiceDraft, now time.Time) {
	if d.InvoiceDate == "" {
		d.InvoiceDate = now.Format("2006-01-02")
	}
	if d.VatDate == "" {
		d.VatDate = d.InvoiceDate
	}
	if d.InvoiceNo == "" {
		d.InvoiceNo = "INV-" + now.Format("20060102150405")
	}
}
