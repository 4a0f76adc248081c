package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type ListCustomerRequest struct {
	Name     string
	Email    string
	PageSize int
}

type ListCustomerFilter struct {
	Name  string
	Email string
	Limit int
}

type CreateCustomerRequest struct {
	Name     string
	Email    string
	Currency string
	Metadata map[string]any
}

type Service interface {
	Create(context.Context, CreateCustomerRequest) (Customer, error)
	List(context.Context, ListCustomerRequest) ([]Customer, error)
	GetByID(context.Context, snowflake.ID) (Customer, error)
}

var (
	ErrInvalidName  = errors.New("invalid_name")
	ErrInvalidEmail = errors.New("invalid_email")
	ErrInvalidID    = errors.New("invalid_id")
	ErrNotFound     = errors.New("customer_not_found")
)
