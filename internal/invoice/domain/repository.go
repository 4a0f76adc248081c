package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clientbilling/pkg/db/option"
	"gorm.io/gorm"
)

type Repository interface {
	Count(ctx context.Context, db *gorm.DB) (int64, error)
	// Insert returns false when the invoice number is already taken.
	Insert(ctx context.Context, db *gorm.DB, invoice *Invoice) (bool, error)
	InsertLineItems(ctx context.Context, db *gorm.DB, items []InvoiceLineItem) error
	UpdateTotals(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID, opts ...option.QueryOption) (*Invoice, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Invoice, error)
	ListLineItems(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]InvoiceLineItem, error)
	// UpdateStatus overwrites the status. With keepPaid set, a paid row is
	// left untouched and false is returned.
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status InvoiceStatus, paidAt *time.Time, now time.Time, keepPaid bool) (bool, error)
	// MarkPaid moves a pending or overdue invoice to paid.
	MarkPaid(ctx context.Context, db *gorm.DB, id snowflake.ID, paidAt time.Time) (bool, error)
	// MarkOverdue flips every pending invoice due before now.
	MarkOverdue(ctx context.Context, db *gorm.DB, now time.Time) (int64, error)
	// CountReferences counts work entries, agent costs and payment plans
	// that reference the invoice.
	CountReferences(ctx context.Context, db *gorm.DB, id snowflake.ID) (int64, error)
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error
}

type ListFilter struct {
	CustomerID *snowflake.ID
	ProjectID  *snowflake.ID
	Status     InvoiceStatus
	// Cursor resumes after the given row in created_at DESC, id DESC order.
	CursorCreatedAt *time.Time
	CursorID        snowflake.ID
	Limit           int
}
