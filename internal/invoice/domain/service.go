package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/clientbilling/pkg/db/pagination"
	"gorm.io/gorm"
)

// GenerateRequest aggregates a project's unbilled work. Nil TaxRate and
// zero DueInDays fall back to the billing config.
type GenerateRequest struct {
	ProjectID string           `json:"project_id"`
	TaxRate   *decimal.Decimal `json:"tax_rate"`
	DueInDays int              `json:"due_in_days"`
}

// AgentCostRequest aggregates a customer's unbilled agent costs,
// optionally narrowed to one project.
type AgentCostRequest struct {
	CustomerID string           `json:"customer_id"`
	ProjectID  string           `json:"project_id"`
	TaxRate    *decimal.Decimal `json:"tax_rate"`
	DueInDays  int              `json:"due_in_days"`
}

type ListInvoiceRequest struct {
	CustomerID string
	ProjectID  string
	Status     string
	pagination.Pagination
}

type ListInvoiceResponse struct {
	pagination.PageInfo
	Invoices []Invoice `json:"invoices"`
}

type Service interface {
	// GenerateForProject returns (nil, nil) when there is nothing to bill.
	GenerateForProject(ctx context.Context, req GenerateRequest) (*Invoice, error)
	GenerateForAgentCosts(ctx context.Context, req AgentCostRequest) (*Invoice, error)

	MarkOverdue(ctx context.Context) (int64, error)
	SetStatus(ctx context.Context, id string, status InvoiceStatus, opts ...SetStatusOption) (*Invoice, error)
	// MarkPaid runs inside the caller's transaction.
	MarkPaid(ctx context.Context, tx *gorm.DB, id string, paidAt time.Time) (bool, error)

	GetByID(ctx context.Context, id string) (*Invoice, error)
	List(ctx context.Context, req ListInvoiceRequest) (ListInvoiceResponse, error)
	Delete(ctx context.Context, id string) error
}

var (
	ErrInvalidID        = errors.New("invalid_id")
	ErrInvalidProject   = errors.New("invalid_project")
	ErrInvalidCustomer  = errors.New("invalid_customer")
	ErrInvalidStatus    = errors.New("invalid_status")
	ErrInvalidTaxRate   = errors.New("invalid_tax_rate")
	ErrInvalidDueDays   = errors.New("invalid_due_days")
	ErrInvalidPageToken = errors.New("invalid_page_token")
	ErrNotFound         = errors.New("invoice_not_found")
	ErrNotDraft         = errors.New("invoice_not_draft")
	ErrNumberExhausted  = errors.New("invoice_number_unavailable")

	// ErrPaidRegression is returned by SetStatus with KeepPaid when the
	// invoice is already paid.
	ErrPaidRegression = errors.New("invoice_paid_regression")
	// ErrHasBilledWork blocks deleting an invoice that work entries, agent
	// costs or payment plans still point at.
	ErrHasBilledWork = errors.New("invoice_has_billed_work")
)

type SetStatusOption func(*SetStatusOptions)

type SetStatusOptions struct {
	KeepPaid bool
}

// KeepPaid makes SetStatus refuse to move a paid invoice to another status.
// The check is part of the update statement, so a concurrent payment cannot
// slip in between.
func KeepPaid() SetStatusOption {
	return func(o *SetStatusOptions) { o.KeepPaid = true }
}
