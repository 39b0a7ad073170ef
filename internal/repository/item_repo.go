package repository

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/ismadtech/invoice-service/internal/models"
)

// ItemRepository handles invoice line item database operations
type ItemRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewItemRepository creates a new item repository
func NewItemRepository(db *sql.DB, logger *zap.Logger) *ItemRepository {
	return &ItemRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new line item, optionally within a transaction
func (r *ItemRepository) Create(tx *sql.Tx, item *models.Item) error {
	query := `
		INSERT INTO items (invoice_id, description, unit, qty, unit_rate)
		VALUES (?, ?, ?, ?, ?)
	`

	var result sql.Result
	var err error

	if tx != nil {
		result, err = tx.Exec(query, item.InvoiceID, item.Description, item.Unit, item.Qty, item.UnitRate)
	} else {
		result, err = r.db.Exec(query, item.InvoiceID, item.Description, item.Unit, item.Qty, item.UnitRate)
	}

	if err != nil {
		r.logger.Error("Failed to create item", zap.Error(err))
		return fmt.Errorf("failed to create item: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	item.ID = id
	return nil
}

// ListByInvoice returns all items attached to an invoice, in insertion order
func (r *ItemRepository) ListByInvoice(invoiceID int64) ([]models.Item, error) {
	query := `
		SELECT id, invoice_id, description, unit, qty, unit_rate
		FROM items
		WHERE invoice_id = ?
		ORDER BY id
	`

	rows, err := r.db.Query(query, invoiceID)
	if err != nil {
		r.logger.Error("Failed to list items", zap.Int64("invoice_id", invoiceID), zap.Error(err))
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	var items []models.Item
	for rows.Next() {
		var it models.Item
		if err := rows.Scan(&it.ID, &it.InvoiceID, &it.Description, &it.Unit, &it.Qty, &it.UnitRate); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// DeleteByInvoice removes all items attached to an invoice, optionally within a transaction
func (r *ItemRepository) DeleteByInvoice(tx *sql.Tx, invoiceID int64) error {
	query := `DELETE FROM items WHERE invoice_id = ?`

	var err error
	if tx != nil {
		_, err = tx.Exec(query, invoiceID)
	} else {
		_, err = r.db.Exec(query, invoiceID)
	}

	if err != nil {
		r.logger.Error("Failed to delete items", zap.Int64("invoice_id", invoiceID), zap.Error(err))
		return fmt.Errorf("failed to delete items: %w", err)
	}
	return nil
}
