package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// BilledWork is a claimed work entry joined with the rate it was recorded at.
type BilledWork struct {
	ID          snowflake.ID
	CustomerID  snowflake.ID
	Quantity    decimal.Decimal
	Description string
	RateName    string
	UnitLabel   string
	UnitPrice   int64
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *WorkEntry) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*WorkEntry, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]WorkEntry, error)
	// ListUnbilledIDs selects the entries of a project with no invoice yet.
	ListUnbilledIDs(ctx context.Context, db *gorm.DB, projectID snowflake.ID) ([]snowflake.ID, error)
	// Claim stamps invoiceID on the given entries that are still unbilled and
	// returns how many rows it changed.
	Claim(ctx context.Context, db *gorm.DB, ids []snowflake.ID, invoiceID snowflake.ID) (int64, error)
	ListBilledWork(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]BilledWork, error)

	InsertAgentCost(ctx context.Context, db *gorm.DB, entry *AgentCostEntry) error
	ListAgentCosts(ctx context.Context, db *gorm.DB, filter ListFilter) ([]AgentCostEntry, error)
	ListUnbilledAgentCostIDs(ctx context.Context, db *gorm.DB, customerID snowflake.ID, projectID *snowflake.ID) ([]snowflake.ID, error)
	ClaimAgentCosts(ctx context.Context, db *gorm.DB, ids []snowflake.ID, invoiceID snowflake.ID) (int64, error)
	ListAgentCostsByInvoice(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]AgentCostEntry, error)
}

type ListFilter struct {
	ProjectID  *snowflake.ID
	CustomerID *snowflake.ID
	InvoiceID  *snowflake.ID
	State      StateFilter
	Limit      int
}

type StateFilter string

const (
	StateFilterAll      StateFilter = ""
	StateFilterUnbilled StateFilter = "unbilled"
	StateFilterBilled   StateFilter = "billed"
)
