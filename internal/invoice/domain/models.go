// Package domain contains persistence models for invoicing.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// InvoiceStatus represents invoice lifecycle states.
type InvoiceStatus string

const (
	InvoiceStatusDraft   InvoiceStatus = "draft"
	InvoiceStatusPending InvoiceStatus = "pending"
	InvoiceStatusPaid    InvoiceStatus = "paid"
	InvoiceStatusOverdue InvoiceStatus = "overdue"
)

func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoiceStatusDraft, InvoiceStatusPending, InvoiceStatusPaid, InvoiceStatusOverdue:
		return true
	}
	return false
}

// InvoiceSource names the ledger an invoice was generated from.
type InvoiceSource string

const (
	InvoiceSourceWork      InvoiceSource = "work"
	InvoiceSourceAgentCost InvoiceSource = "agent_cost"
)

// Invoice represents a generated invoice. Amounts are minor currency units.
type Invoice struct {
	ID            snowflake.ID      `json:"id" gorm:"primaryKey"`
	CustomerID    snowflake.ID      `json:"customer_id" gorm:"not null;index"`
	ProjectID     *snowflake.ID     `json:"project_id,omitempty" gorm:"index"`
	InvoiceNumber string            `json:"invoice_number" gorm:"type:varchar(64);not null;uniqueIndex:ux_invoices_number"`
	Status        InvoiceStatus     `json:"status" gorm:"type:varchar(16);not null;index:ix_invoices_status_due,priority:1"`
	Source        InvoiceSource     `json:"source" gorm:"type:varchar(16);not null"`
	IssuedAt      time.Time         `json:"issued_at" gorm:"not null"`
	DueDate       time.Time         `json:"due_date" gorm:"not null;index:ix_invoices_status_due,priority:2"`
	PaidAt        *time.Time        `json:"paid_at,omitempty"`
	Subtotal      int64             `json:"subtotal" gorm:"not null;default:0"`
	TaxRate       decimal.Decimal   `json:"tax_rate" gorm:"type:decimal(9,4);not null"`
	Tax           int64             `json:"tax" gorm:"not null;default:0"`
	Total         int64             `json:"total" gorm:"not null;default:0"`
	Currency      string            `json:"currency" gorm:"type:varchar(3);not null"`
	CreatedAt     time.Time         `json:"created_at" gorm:"not null"`
	UpdatedAt     time.Time         `json:"updated_at" gorm:"not null"`
	LineItems     []InvoiceLineItem `json:"line_items,omitempty" gorm:"-"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// InvoiceLineItem represents a line on an invoice. It snapshots the
// description and unit price at generation time.
type InvoiceLineItem struct {
	ID          snowflake.ID    `json:"id" gorm:"primaryKey"`
	InvoiceID   snowflake.ID    `json:"invoice_id" gorm:"not null;index"`
	WorkEntryID *snowflake.ID   `json:"work_entry_id,omitempty" gorm:"index"`
	AgentCostID *snowflake.ID   `json:"agent_cost_id,omitempty" gorm:"index"`
	Description string          `json:"description" gorm:"type:text;not null"`
	Quantity    decimal.Decimal `json:"quantity" gorm:"type:decimal(18,4);not null"`
	UnitPrice   int64           `json:"unit_price" gorm:"not null"`
	LineTotal   int64           `json:"line_total" gorm:"not null"`
	CreatedAt   time.Time       `json:"created_at" gorm:"not null"`
}

// TableName sets the database table name.
func (InvoiceLineItem) TableName() string { return "invoice_line_items" }
