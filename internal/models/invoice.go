package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// VATRate is the fixed value-added tax rate applied to the subtotal (7.5%).
const VATRate = 0.075

var vatRate = decimal.NewFromFloat(VATRate)

// Invoice represents a commercial invoice with derived totals
type Invoice struct {
	ID              int64     `json:"id"`
	InvoiceNo       string    `json:"invoice_no"`
	InvoiceDate     string    `json:"invoice_date"` // ISO date (YYYY-MM-DD)
	VatDate         string    `json:"vat_date"`     // ISO date (YYYY-MM-DD)
	CustomerName    string    `json:"customer_name"`
	CustomerAddress string    `json:"customer_address"`
	ContractNo      string    `json:"contract_no"`
	PoNo            string    `json:"po_no"`
	Subtotal        float64   `json:"subtotal"`
	VAT             float64   `json:"vat"`
	Total           float64   `json:"total"`
	TemplateImage   string    `json:"template_image"` // background asset path
	CreatedAt       time.Time `json:"created_at"`
	Items           []Item    `json:"items"`
}

// Item is one line of an invoice, owned by exactly one invoice
type Item struct {
	ID          int64   `json:"id"`
	InvoiceID   int64   `json:"invoice_id"`
	Description string  `json:"description"`
	Unit        string  `json:"unit"`
	Qty         int64   `json:"qty"`
	UnitRate    float64 `json:"unit_rate"`
}

// TotalPrice returns qty * unit_rate. Computed on read, never persisted.
func (i Item) TotalPrice() float64 {
	return decimal.NewFromInt(i.Qty).Mul(decimal.NewFromFloat(i.UnitRate)).InexactFloat64()
}

// CalculateTotals re-sums the attached items and overwrites the derived
// monetary fields. An empty item set yields all zeros.
func (inv *Invoice) CalculateTotals() {
	sum := decimal.Zero
	for _, it := range inv.Items {
		sum = sum.Add(decimal.NewFromInt(it.Qty).Mul(decimal.NewFromFloat(it.UnitRate)))
	}
	inv.Subtotal, inv.VAT, inv.Total = deriveTotals(sum)
}

// InvoiceDraft is the pre-persistence invoice shape produced by extraction.
// Quantities stay floating here; they are coerced on save.
type InvoiceDraft struct {
	InvoiceNo       string      `json:"invoice_no"`
	InvoiceDate     string      `json:"invoice_date"`
	VatDate         string      `json:"vat_date"`
	CustomerName    string      `json:"customer_name"`
	CustomerAddress string      `json:"customer_address"`
	ContractNo      string      `json:"contract_no"`
	PoNo            string      `json:"po_no"`
	Items           []ItemDraft `json:"items"`
	Subtotal        float64     `json:"subtotal"`
	VAT             float64     `json:"vat"`
	Total           float64     `json:"total"`
	TemplateURL     string      `json:"template_url,omitempty"`
	TemplatePath    string      `json:"template_path,omitempty"`
}

// ItemDraft is one extracted line item before coercion
type ItemDraft struct {
	Description string  `json:"description"`
	Unit        string  `json:"unit"`
	Qty         float64 `json:"qty"`
	UnitRate    float64 `json:"unit_rate"`
}

// CalculateTotals derives subtotal, VAT and total from the draft items
func (d *InvoiceDraft) CalculateTotals() {
	sum := decimal.Zero
	for _, it := range d.Items {
		sum = sum.Add(decimal.NewFromFloat(it.Qty).Mul(decimal.NewFromFloat(it.UnitRate)))
	}
	d.Subtotal, d.VAT, d.Total = deriveTotals(sum)
}

// deriveTotals applies the VAT invariants to an exact subtotal. VAT and the
// grand total round half away from zero to two decimal places; the subtotal
// is reported unrounded.
func deriveTotals(subtotal decimal.Decimal) (float64, float64, float64) {
	vat := subtotal.Mul(vatRate).Round(2)
	total := subtotal.Add(vat).Round(2)
	return subtotal.InexactFloat64(), vat.InexactFloat64(), total.InexactFloat64()
}
