package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clientbilling/internal/invoice/domain"
	"github.com/smallbiznis/clientbilling/pkg/db/option"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Count(ctx context.Context, db *gorm.DB) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(`SELECT COUNT(*) FROM invoices`).Scan(&count).Error
	return count, err
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, invoice *domain.Invoice) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "invoice_number"}},
			DoNothing: true,
		}).
		Create(invoice)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) InsertLineItems(ctx context.Context, db *gorm.DB, items []domain.InvoiceLineItem) error {
	if len(items) == 0 {
		return nil
	}
	return db.WithContext(ctx).CreateInBatches(items, 200).Error
}

func (r *repo) UpdateTotals(ctx context.Context, db *gorm.DB, invoice *domain.Invoice) error {
	return db.WithContext(ctx).Exec(
		`UPDATE invoices SET subtotal = ?, tax = ?, total = ?, updated_at = ? WHERE id = ?`,
		invoice.Subtotal,
		invoice.Tax,
		invoice.Total,
		invoice.UpdatedAt,
		invoice.ID,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID, opts ...option.QueryOption) (*domain.Invoice, error) {
	stmt := db.WithContext(ctx).Model(&domain.Invoice{}).Where("id = ?", id)
	for _, opt := range opts {
		stmt = opt.Apply(stmt)
	}
	var invoice domain.Invoice
	if err := stmt.First(&invoice).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &invoice, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.Invoice, error) {
	stmt := db.WithContext(ctx).Model(&domain.Invoice{})
	if filter.CustomerID != nil {
		stmt = stmt.Where("customer_id = ?", *filter.CustomerID)
	}
	if filter.ProjectID != nil {
		stmt = stmt.Where("project_id = ?", *filter.ProjectID)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.CursorCreatedAt != nil {
		stmt = stmt.Where(
			"(created_at < ?) OR (created_at = ? AND id < ?)",
			*filter.CursorCreatedAt,
			*filter.CursorCreatedAt,
			filter.CursorID,
		)
	}
	stmt = option.WithSortBy(option.QuerySortBy{}).Apply(stmt)
	stmt = option.ApplyPagination(filter.Limit, 0).Apply(stmt)

	var invoices []*domain.Invoice
	if err := stmt.Find(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *repo) ListLineItems(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]domain.InvoiceLineItem, error) {
	var items []domain.InvoiceLineItem
	err := db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&items).Error
	return items, err
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.InvoiceStatus, paidAt *time.Time, now time.Time, keepPaid bool) (bool, error) {
	query := `UPDATE invoices SET status = ?, paid_at = ?, updated_at = ? WHERE id = ?`
	args := []any{status, paidAt, now, id}
	if keepPaid && status != domain.InvoiceStatusPaid {
		query += ` AND status <> ?`
		args = append(args, domain.InvoiceStatusPaid)
	}
	res := db.WithContext(ctx).Exec(query, args...)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkPaid(ctx context.Context, db *gorm.DB, id snowflake.ID, paidAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE invoices SET status = ?, paid_at = ?, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		domain.InvoiceStatusPaid,
		paidAt,
		paidAt,
		id,
		domain.InvoiceStatusPending,
		domain.InvoiceStatusOverdue,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkOverdue(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE invoices SET status = ?, updated_at = ?
		 WHERE status = ? AND due_date < ?`,
		domain.InvoiceStatusOverdue,
		now,
		domain.InvoiceStatusPending,
		now,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) CountReferences(ctx context.Context, db *gorm.DB, id snowflake.ID) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Raw(
		`SELECT
		   (SELECT COUNT(*) FROM work_entries WHERE invoice_id = ?) +
		   (SELECT COUNT(*) FROM agent_cost_entries WHERE invoice_id = ?) +
		   (SELECT COUNT(*) FROM payment_plans WHERE invoice_id = ?)`,
		id, id, id,
	).Scan(&n).Error
	return n, err
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	if err := db.WithContext(ctx).Exec(`DELETE FROM invoice_line_items WHERE invoice_id = ?`, id).Error; err != nil {
		return err
	}
	return db.WithContext(ctx).Exec(`DELETE FROM invoices WHERE id = ?`, id).Error
}
