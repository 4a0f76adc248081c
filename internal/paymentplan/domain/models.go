// Package domain holds installment payment plans.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type PlanStatus string

const (
	PlanStatusPending   PlanStatus = "pending"
	PlanStatusActive    PlanStatus = "active"
	PlanStatusCompleted PlanStatus = "completed"
	PlanStatusCancelled PlanStatus = "cancelled"
	// PlanStatusFailed is terminal: the provider handshake broke part way and
	// recovery is manual.
	PlanStatusFailed PlanStatus = "failed"
)

// IsOpen reports whether the plan blocks another plan on the same invoice.
func (s PlanStatus) IsOpen() bool {
	return s == PlanStatusPending || s == PlanStatusActive
}

type Frequency string

const (
	FrequencyWeekly   Frequency = "weekly"
	FrequencyBiweekly Frequency = "biweekly"
	FrequencyMonthly  Frequency = "monthly"
)

func (f Frequency) Valid() bool {
	switch f {
	case FrequencyWeekly, FrequencyBiweekly, FrequencyMonthly:
		return true
	}
	return false
}

// PaymentPlan pays one invoice off through a recurring provider charge.
// InstallmentsPaid never decreases and never exceeds Installments.
type PaymentPlan struct {
	ID                     snowflake.ID `json:"id" gorm:"primaryKey"`
	InvoiceID              snowflake.ID `json:"invoice_id" gorm:"not null;index"`
	CustomerID             snowflake.ID `json:"customer_id" gorm:"not null;index"`
	TotalAmount            int64        `json:"total_amount" gorm:"not null"`
	InstallmentAmount      int64        `json:"installment_amount" gorm:"not null"`
	Installments           int          `json:"installments" gorm:"not null"`
	Frequency              Frequency    `json:"frequency" gorm:"type:varchar(16);not null"`
	Currency               string       `json:"currency" gorm:"type:varchar(3);not null"`
	Status                 PlanStatus   `json:"status" gorm:"type:varchar(16);not null;index"`
	ExternalCustomerID     *string      `json:"external_customer_id,omitempty" gorm:"type:varchar(255)"`
	ExternalSubscriptionID *string      `json:"external_subscription_id,omitempty" gorm:"type:varchar(255);index"`
	CheckoutSessionID      *string      `json:"checkout_session_id,omitempty" gorm:"type:varchar(255)"`
	CheckoutURL            string       `json:"checkout_url,omitempty" gorm:"type:text"`
	InstallmentsPaid       int          `json:"installments_paid" gorm:"not null;default:0"`
	StartDate              *time.Time   `json:"start_date,omitempty"`
	AcceptedAt             *time.Time   `json:"accepted_at,omitempty"`
	CompletedAt            *time.Time   `json:"completed_at,omitempty"`
	CancelledAt            *time.Time   `json:"cancelled_at,omitempty"`
	CancelConfirmedAt      *time.Time   `json:"cancel_confirmed_at,omitempty"`
	FailureReason          string       `json:"failure_reason,omitempty" gorm:"type:text"`
	CreatedAt              time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt              time.Time    `json:"updated_at" gorm:"not null"`
}

func (PaymentPlan) TableName() string { return "payment_plans" }

// InstallmentRemainder is how much installments overshoot the invoice total
// because the installment amount is rounded up. It is reported, not
// corrected.
func (p PaymentPlan) InstallmentRemainder() int64 {
	return p.InstallmentAmount*int64(p.Installments) - p.TotalAmount
}

// PlanState is the tagged lifecycle view of a plan.
type PlanState string

const (
	StatePendingOffer        PlanState = "pending_offer"
	StatePendingConfirmation PlanState = "pending_confirmation"
	StateActive              PlanState = "active"
	StateCancelRequested     PlanState = "cancel_requested"
	StateCancelled           PlanState = "cancelled"
	StateCompleted           PlanState = "completed"
	StateFailed              PlanState = "failed"
)

func (p PaymentPlan) State() PlanState {
	switch p.Status {
	case PlanStatusPending:
		if p.CheckoutSessionID != nil {
			return StatePendingConfirmation
		}
		return StatePendingOffer
	case PlanStatusActive:
		return StateActive
	case PlanStatusCancelled:
		if p.ExternalSubscriptionID != nil && p.CancelConfirmedAt == nil {
			return StateCancelRequested
		}
		return StateCancelled
	case PlanStatusCompleted:
		return StateCompleted
	default:
		return StateFailed
	}
}

// CeilDiv splits total into n installments rounding up.
func CeilDiv(total int64, n int) int64 {
	if n <= 0 {
		return 0
	}
	d := int64(n)
	return (total + d - 1) / d
}
