package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository transitions are conditional updates: each returns false when
// the guard did not match and nothing changed.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, plan *PaymentPlan) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PaymentPlan, error)
	FindBySubscriptionID(ctx context.Context, db *gorm.DB, subscriptionID string) (*PaymentPlan, error)
	FindOpenByInvoice(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) (*PaymentPlan, error)
	ListByInvoice(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]PaymentPlan, error)
	// FindExternalCustomerID returns the provider customer used by an
	// earlier plan of the same customer, or "".
	FindExternalCustomerID(ctx context.Context, db *gorm.DB, customerID snowflake.ID) (string, error)

	SetCheckout(ctx context.Context, db *gorm.DB, id snowflake.ID, checkout Checkout) (bool, error)
	Activate(ctx context.Context, db *gorm.DB, id snowflake.ID, subscriptionID string, startDate time.Time) (bool, error)
	IncrementInstallments(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	Complete(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	Cancel(ctx context.Context, db *gorm.DB, id snowflake.ID, from PlanStatus, now time.Time, confirmed bool) (bool, error)
	ConfirmCancel(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, now time.Time) (bool, error)
}

type Checkout struct {
	ExternalCustomerID string
	SessionID          string
	URL                string
	AcceptedAt         time.Time
}
