package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type Service interface {
	Record(ctx context.Context, req RecordRequest) (*WorkEntry, error)
	Get(ctx context.Context, id string) (*WorkEntry, error)
	List(ctx context.Context, req ListRequest) ([]WorkEntry, error)
	RecordAgentCost(ctx context.Context, req RecordAgentCostRequest) (*AgentCostEntry, error)
	ListAgentCosts(ctx context.Context, req ListRequest) ([]AgentCostEntry, error)
}

type RecordRequest struct {
	ProjectID   string          `json:"project_id"`
	CustomerID  string          `json:"customer_id"`
	RateID      string          `json:"rate_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	Description string          `json:"description"`
	RecordedAt  *time.Time      `json:"recorded_at"`
}

type RecordAgentCostRequest struct {
	CustomerID    string          `json:"customer_id"`
	ProjectID     string          `json:"project_id"`
	Description   string          `json:"description"`
	Cost          int64           `json:"cost"`
	MarkupPercent decimal.Decimal `json:"markup_percent"`
	RecordedAt    *time.Time      `json:"recorded_at"`
}

type ListRequest struct {
	ProjectID  string
	CustomerID string
	InvoiceID  string
	State      StateFilter
	PageSize   int
}

var (
	ErrInvalidID       = errors.New("invalid_id")
	ErrInvalidProject  = errors.New("invalid_project")
	ErrInvalidCustomer = errors.New("invalid_customer")
	ErrInvalidRate     = errors.New("invalid_rate")
	ErrRateInactive    = errors.New("rate_inactive")
	ErrInvalidQuantity = errors.New("invalid_quantity")
	ErrInvalidCost     = errors.New("invalid_cost")
	ErrInvalidMarkup   = errors.New("invalid_markup")
	ErrInvalidState    = errors.New("invalid_state")
	ErrNotFound        = errors.New("work_entry_not_found")
)
