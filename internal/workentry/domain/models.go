// Package domain holds the work ledger: billable units and agent cost entries.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// WorkEntry is one billable unit of recorded work. InvoiceID is written
// exactly once, by the invoice generator, and never cleared.
type WorkEntry struct {
	ID          snowflake.ID    `json:"id" gorm:"primaryKey"`
	ProjectID   snowflake.ID    `json:"project_id" gorm:"not null;index:ix_work_entries_project_unbilled,priority:1"`
	CustomerID  snowflake.ID    `json:"customer_id" gorm:"not null;index"`
	RateID      snowflake.ID    `json:"rate_id" gorm:"not null;index"`
	Quantity    decimal.Decimal `json:"quantity" gorm:"type:decimal(18,4);not null"`
	Description string          `json:"description" gorm:"type:text"`
	RecordedAt  time.Time       `json:"recorded_at" gorm:"not null"`
	InvoiceID   *snowflake.ID   `json:"invoice_id,omitempty" gorm:"index:ix_work_entries_project_unbilled,priority:2"`
	CreatedAt   time.Time       `json:"created_at" gorm:"not null"`
}

func (WorkEntry) TableName() string { return "work_entries" }

func (e WorkEntry) State() BillingState {
	return stateOf(e.InvoiceID)
}

// AgentCostEntry is a cost-plus-markup billing source. It follows the same
// write-once invoice rule as WorkEntry.
type AgentCostEntry struct {
	ID            snowflake.ID    `json:"id" gorm:"primaryKey"`
	CustomerID    snowflake.ID    `json:"customer_id" gorm:"not null;index"`
	ProjectID     *snowflake.ID   `json:"project_id,omitempty" gorm:"index"`
	Description   string          `json:"description" gorm:"type:text;not null"`
	Cost          int64           `json:"cost" gorm:"not null"`
	MarkupPercent decimal.Decimal `json:"markup_percent" gorm:"type:decimal(9,4);not null"`
	RecordedAt    time.Time       `json:"recorded_at" gorm:"not null"`
	InvoiceID     *snowflake.ID   `json:"invoice_id,omitempty" gorm:"index"`
	CreatedAt     time.Time       `json:"created_at" gorm:"not null"`
}

func (AgentCostEntry) TableName() string { return "agent_cost_entries" }

func (e AgentCostEntry) State() BillingState {
	return stateOf(e.InvoiceID)
}

// BilledAmount is round(cost * (1 + markup/100)) in minor units.
func (e AgentCostEntry) BilledAmount() int64 {
	factor := decimal.NewFromInt(1).Add(e.MarkupPercent.Div(decimal.NewFromInt(100)))
	return decimal.NewFromInt(e.Cost).Mul(factor).Round(0).IntPart()
}
