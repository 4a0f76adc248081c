package domain

import (
	"context"
	"errors"
)

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Rate, error)
	Get(ctx context.Context, id string) (*Rate, error)
	List(ctx context.Context, req ListRequest) ([]Rate, error)
	Update(ctx context.Context, id string, req UpdateRequest) (*Rate, error)
	Delete(ctx context.Context, id string) error
}

type CreateRequest struct {
	Code      string `json:"code"`
	Name      string `json:"name"`
	UnitLabel string `json:"unit_label"`
	UnitPrice int64  `json:"unit_price"`
	Currency  string `json:"currency"`
}

type ListRequest struct {
	ActiveOnly bool
}

// UpdateRequest changes the supplied fields only.
type UpdateRequest struct {
	Name      *string `json:"name"`
	UnitLabel *string `json:"unit_label"`
	UnitPrice *int64  `json:"unit_price"`
	Active    *bool   `json:"active"`
}

var (
	ErrInvalidID        = errors.New("invalid_id")
	ErrInvalidName      = errors.New("invalid_name")
	ErrInvalidCode      = errors.New("invalid_code")
	ErrInvalidUnitLabel = errors.New("invalid_unit_label")
	ErrInvalidUnitPrice = errors.New("invalid_unit_price")
	ErrInvalidCurrency  = errors.New("invalid_currency")
	ErrCodeTaken        = errors.New("rate_code_taken")
	ErrNotFound         = errors.New("rate_not_found")
	ErrRateInUse        = errors.New("rate_in_use")
)
