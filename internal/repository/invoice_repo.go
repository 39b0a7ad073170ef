package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/ismadtech/invoice-service/internal/models"
	"github.com/ismadtech/invoice-service/pkg/database"
)

// ErrNotFound is returned when no invoice matches the lookup
var ErrNotFound = errors.New("invoice not found")

// maxNumberRetries bounds the renumber loop on invoice_no conflicts.
// Concurrent requests creating invoices on the same day can race the
// read-modify-write of the daily sequence; the UNIQUE constraint turns the
// race into a conflict we recover from here.
const maxNumberRetries = 5

// InvoiceRepository handles invoice database operations
type InvoiceRepository struct {
	db     *database.DB
	items  *ItemRepository
	logger *zap.Logger
}

// NewInvoiceRepository creates a new invoice repository
func NewInvoiceRepository(db *database.DB, items *ItemRepository, logger *zap.Logger) *InvoiceRepository {
	return &InvoiceRepository{
		db:     db,
		items:  items,
		logger: logger,
	}
}

// NextInvoiceNo computes the next number in today's sequence for the given
// prefix: PREFIX-YYYYMMDD-NNNN, starting at 0001 when the day has no
// invoices yet. Lexicographic max equals numeric max while the sequence
// stays four digits.
func (r *InvoiceRepository) NextInvoiceNo(prefix string) (string, error) {
	base := fmt.Sprintf("%s-%s-", prefix, time.Now().Format("20060102"))

	var last string
	err := r.db.QueryRow(
		`SELECT invoice_no FROM invoices WHERE invoice_no LIKE ? ORDER BY invoice_no DESC LIMIT 1`,
		base+"%",
	).Scan(&last)

	seq := 1
	switch {
	case err == sql.ErrNoRows:
		// first invoice of the day
	case err != nil:
		r.logger.Error("Failed to query last invoice number", zap.Error(err))
		return "", fmt.Errorf("failed to query last invoice number: %w", err)
	default:
		parts := strings.Split(last, "-")
		if n, perr := strconv.Atoi(parts[len(parts)-1]); perr == nil {
			seq = n + 1
		}
	}

	return fmt.Sprintf("%s%04d", base, seq), nil
}

// Create persists an invoice and its items in a single transaction. The
// invoice must already carry a number; use CreateNumbered to generate one.
func (r *InvoiceRepository) Create(inv *models.Invoice) error {
	return r.db.WithTransaction(func(tx *sql.Tx) error {
		return r.insert(tx, inv)
	})
}

// CreateNumbered generates a per-day invoice number and persists the invoice
// and its items. On a UNIQUE conflict (a concurrent request claimed the same
// number) it regenerates and retries a bounded number of times.
func (r *InvoiceRepository) CreateNumbered(inv *models.Invoice, prefix string) error {
	var lastErr error
	for attempt := 0; attempt < maxNumberRetries; attempt++ {
		no, err := r.NextInvoiceNo(prefix)
		if err != nil {
			return err
		}
		inv.InvoiceNo = no

		lastErr = r.Create(inv)
		if lastErr == nil {
			return nil
		}
		if !isUniqueConflict(lastErr) {
			return lastErr
		}

		r.logger.Warn("Invoice number conflict, regenerating",
			zap.String("invoice_no", no),
			zap.Int("attempt", attempt+1))
	}
	return fmt.Errorf("failed to allocate invoice number after %d attempts: %w", maxNumberRetries, lastErr)
}

// insert writes the invoice row and its item rows inside tx
func (r *InvoiceRepository) insert(tx *sql.Tx, inv *models.Invoice) error {
	query := `
		INSERT INTO invoices (
			invoice_no, invoice_date, vat_date, customer_name, customer_address,
			contract_no, po_no, subtotal, vat, total, template_image
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := tx.Exec(query,
		inv.InvoiceNo,
		inv.InvoiceDate,
		inv.VatDate,
		inv.CustomerName,
		inv.CustomerAddress,
		inv.ContractNo,
		inv.PoNo,
		inv.Subtotal,
		inv.VAT,
		inv.Total,
		inv.TemplateImage,
	)
	if err != nil {
		return fmt.Errorf("failed to create invoice: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	inv.ID = id

	for i := range inv.Items {
		inv.Items[i].InvoiceID = id
		if err := r.items.Create(tx, &inv.Items[i]); err != nil {
			return err
		}
	}
	return nil
}

// GetByInvoiceNo returns the invoice with the given number, items included
func (r *InvoiceRepository) GetByInvoiceNo(invoiceNo string) (*models.Invoice, error) {
	query := `
		SELECT id, invoice_no, invoice_date, vat_date, customer_name,
		       customer_address, contract_no, po_no, subtotal, vat, total,
		       template_image, created_at
		FROM invoices
		WHERE invoice_no = ?
	`

	inv, err := r.scanInvoice(r.db.QueryRow(query, invoiceNo))
	if err != nil {
		return nil, err
	}

	items, err := r.items.ListByInvoice(inv.ID)
	if err != nil {
		return nil, err
	}
	inv.Items = items
	return inv, nil
}

// List returns all invoices, newest first, items included
func (r *InvoiceRepository) List() ([]models.Invoice, error) {
	query := `
		SELECT id, invoice_no, invoice_date, vat_date, customer_name,
		       customer_address, contract_no, po_no, subtotal, vat, total,
		       template_image, created_at
		FROM invoices
		ORDER BY id DESC
	`

	rows, err := r.db.Query(query)
	if err != nil {
		r.logger.Error("Failed to list invoices", zap.Error(err))
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	defer rows.Close()

	// Drain the invoice rows before loading items: the open result set
	// pins a pool connection, and the item queries would starve waiting
	// for one on a saturated pool.
	var invoices []models.Invoice
	for rows.Next() {
		inv, err := r.scanInvoice(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		invoices = append(invoices, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for i := range invoices {
		items, err := r.items.ListByInvoice(invoices[i].ID)
		if err != nil {
			return nil, err
		}
		invoices[i].Items = items
	}
	return invoices, nil
}

// UpdateTotals recomputes the derived totals from the attached items and
// persists only those three fields.
func (r *InvoiceRepository) UpdateTotals(inv *models.Invoice) error {
	items, err := r.items.ListByInvoice(inv.ID)
	if err != nil {
		return err
	}
	inv.Items = items
	inv.CalculateTotals()

	_, err = r.db.Exec(
		`UPDATE invoices SET subtotal = ?, vat = ?, total = ? WHERE id = ?`,
		inv.Subtotal, inv.VAT, inv.Total, inv.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update totals", zap.Int64("id", inv.ID), zap.Error(err))
		return fmt.Errorf("failed to update totals: %w", err)
	}
	return nil
}

// ReplaceItems deletes the invoice's items and attaches the given ones in a
// single transaction, then recomputes and persists the totals.
func (r *InvoiceRepository) ReplaceItems(inv *models.Invoice, items []models.Item) error {
	err := r.db.WithTransaction(func(tx *sql.Tx) error {
		if err := r.items.DeleteByInvoice(tx, inv.ID); err != nil {
			return err
		}
		for i := range items {
			items[i].InvoiceID = inv.ID
			if err := r.items.Create(tx, &items[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return r.UpdateTotals(inv)
}

// scanner abstracts sql.Row and sql.Rows for scanInvoice
type scanner interface {
	Scan(dest ...interface{}) error
}

func (r *InvoiceRepository) scanInvoice(s scanner) (*models.Invoice, error) {
	var inv models.Invoice
	err := s.Scan(
		&inv.ID,
		&inv.InvoiceNo,
		&inv.InvoiceDate,
		&inv.VatDate,
		&inv.CustomerName,
		&inv.CustomerAddress,
		&inv.ContractNo,
		&inv.PoNo,
		&inv.Subtotal,
		&inv.VAT,
		&inv.Total,
		&inv.TemplateImage,
		&inv.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		r.logger.Error("Failed to scan invoice", zap.Error(err))
		return nil, fmt.Errorf("failed to scan invoice: %w", err)
	}
	return &inv, nil
}

// isUniqueConflict reports whether err is a sqlite UNIQUE constraint violation
func isUniqueConflict(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}
