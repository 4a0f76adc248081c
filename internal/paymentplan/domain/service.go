package domain

import (
	"context"
	"errors"
)

type CreatePlanRequest struct {
	InvoiceID    string    `json:"invoice_id"`
	Installments int       `json:"installments"`
	Frequency    Frequency `json:"frequency"`
}

// AcceptRequest carries the payer contact used for the provider customer.
// Empty fields fall back to the customer record.
type AcceptRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type Service interface {
	CreatePlan(ctx context.Context, req CreatePlanRequest) (*PaymentPlan, error)
	// AcceptPlan starts the provider checkout. The plan stays pending until
	// the provider confirms it.
	AcceptPlan(ctx context.Context, id string, req AcceptRequest) (*PaymentPlan, error)
	// CancelPlan returns (nil, nil) for plans that are already terminal.
	CancelPlan(ctx context.Context, id string) (*PaymentPlan, error)
	Get(ctx context.Context, id string) (*PaymentPlan, error)
	ListByInvoice(ctx context.Context, invoiceID string) ([]PaymentPlan, error)
}

var (
	ErrInvalidID           = errors.New("invalid_id")
	ErrInvalidInvoice      = errors.New("invalid_invoice")
	ErrInvalidInstallments = errors.New("invalid_installments")
	ErrInvalidFrequency    = errors.New("invalid_frequency")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidEmail        = errors.New("invalid_email")
	ErrInvoiceNotFound     = errors.New("invoice_not_found")
	ErrInvoicePaid         = errors.New("invoice_already_paid")
	ErrOpenPlanExists      = errors.New("open_payment_plan_exists")
	ErrNotFound            = errors.New("payment_plan_not_found")
	ErrNotPending          = errors.New("payment_plan_not_pending")
	ErrProvider            = errors.New("payment_provider_error")
)
