// Package domain defines the payment provider contract used by payment
// plans and the webhook reconciler.
package domain

import (
	"context"
	"errors"
	"time"
)

// Interval is the recurring billing unit of a provider price.
type Interval string

const (
	IntervalWeek  Interval = "week"
	IntervalMonth Interval = "month"
)

type CustomerRequest struct {
	Email    string
	Name     string
	Metadata map[string]string
}

type PriceRequest struct {
	Currency      string
	UnitAmount    int64
	Interval      Interval
	IntervalCount int64
	ProductName   string
	Metadata      map[string]string
}

type CheckoutRequest struct {
	CustomerID     string
	PriceID        string
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
	// Metadata is attached to both the session and the subscription it creates.
	Metadata map[string]string
}

type CheckoutSession struct {
	ID  string
	URL string
}

// Provider is the outbound side of a recurring-payment provider.
type Provider interface {
	Name() string
	CreateCustomer(ctx context.Context, req CustomerRequest) (string, error)
	CreateRecurringPrice(ctx context.Context, req PriceRequest) (string, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	CancelSubscription(ctx context.Context, subscriptionID string) error
}

// WebhookParser verifies an inbound delivery and decodes it into canonical
// events.
type WebhookParser interface {
	ParseWebhook(payload []byte, signatureHeader string) ([]Event, error)
}

type EventType string

const (
	EventCheckoutCompleted   EventType = "checkout.completed"
	EventInvoicePaid         EventType = "invoice.paid"
	EventSubscriptionDeleted EventType = "subscription.deleted"
	EventIgnored             EventType = "ignored"
)

// MetadataPlanID is the metadata key carrying the local payment plan id.
const MetadataPlanID = "payment_plan_id"

// BillingReasonSubscriptionCreate marks the provider invoice for the first
// charge, which checkout completion already accounts for.
const BillingReasonSubscriptionCreate = "subscription_create"

// Event is a provider event normalized to what reconciliation needs.
type Event struct {
	ID             string
	Provider       string
	Type           EventType
	RawType        string
	PlanID         string
	SubscriptionID string
	CustomerID     string
	Mode           string
	BillingReason  string
	OccurredAt     time.Time
	Payload        []byte
}

var (
	ErrNotConfigured    = errors.New("payment_provider_not_configured")
	ErrInvalidSignature = errors.New("invalid_webhook_signature")
	ErrInvalidPayload   = errors.New("invalid_webhook_payload")
)
