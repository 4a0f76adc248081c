// Package stripe implements the payment provider on the Stripe API.
package stripe

import (
	"context"
	"fmt"
	"strings"

	paymentdomain "github.com/smallbiznis/clientbilling/internal/providers/payment/domain"
	stripeapi "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"go.uber.org/zap"
)

const providerName = "stripe"

type Config struct {
	SecretKey     string
	WebhookSecret string
}

type Provider struct {
	api           *client.API
	webhookSecret string
	log           *zap.Logger
}

// New builds the provider. Without a secret key the outbound calls return
// ErrNotConfigured; webhooks can still be parsed.
func New(cfg Config, log *zap.Logger) *Provider {
	return NewWithBackends(cfg, log, nil)
}

func NewWithBackends(cfg Config, log *zap.Logger, backends *stripeapi.Backends) *Provider {
	p := &Provider{
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		log:           log.Named("payment.stripe"),
	}
	if key := strings.TrimSpace(cfg.SecretKey); key != "" {
		p.api = client.New(key, backends)
	}
	return p
}

func (p *Provider) Name() string {
	return providerName
}

func (p *Provider) CreateCustomer(ctx context.Context, req paymentdomain.CustomerRequest) (string, error) {
	if p.api == nil {
		return "", paymentdomain.ErrNotConfigured
	}
	params := &stripeapi.CustomerParams{
		Email: stripeapi.String(strings.TrimSpace(req.Email)),
	}
	if name := strings.TrimSpace(req.Name); name != "" {
		params.Name = stripeapi.String(name)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	customer, err := p.api.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe create customer: %w", err)
	}
	return customer.ID, nil
}

func (p *Provider) CreateRecurringPrice(ctx context.Context, req paymentdomain.PriceRequest) (string, error) {
	if p.api == nil {
		return "", paymentdomain.ErrNotConfigured
	}
	intervalCount := req.IntervalCount
	if intervalCount <= 0 {
		intervalCount = 1
	}
	params := &stripeapi.PriceParams{
		Currency:   stripeapi.String(strings.ToLower(req.Currency)),
		UnitAmount: stripeapi.Int64(req.UnitAmount),
		Recurring: &stripeapi.PriceRecurringParams{
			Interval:      stripeapi.String(string(req.Interval)),
			IntervalCount: stripeapi.Int64(intervalCount),
		},
		ProductData: &stripeapi.PriceProductDataParams{
			Name: stripeapi.String(req.ProductName),
		},
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	price, err := p.api.Prices.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe create price: %w", err)
	}
	return price.ID, nil
}

func (p *Provider) CreateCheckoutSession(ctx context.Context, req paymentdomain.CheckoutRequest) (*paymentdomain.CheckoutSession, error) {
	if p.api == nil {
		return nil, paymentdomain.ErrNotConfigured
	}
	params := &stripeapi.CheckoutSessionParams{
		Customer: stripeapi.String(req.CustomerID),
		Mode:     stripeapi.String(string(stripeapi.CheckoutSessionModeSubscription)),
		LineItems: []*stripeapi.CheckoutSessionLineItemParams{
			{
				Price:    stripeapi.String(req.PriceID),
				Quantity: stripeapi.Int64(1),
			},
		},
		SuccessURL: stripeapi.String(req.SuccessURL),
		CancelURL:  stripeapi.String(req.CancelURL),
		SubscriptionData: &stripeapi.CheckoutSessionSubscriptionDataParams{
			Metadata: req.Metadata,
		},
	}
	if planID := req.Metadata[paymentdomain.MetadataPlanID]; planID != "" {
		params.ClientReferenceID = stripeapi.String(planID)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	params.Context = ctx

	session, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe create checkout session: %w", err)
	}
	return &paymentdomain.CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

func (p *Provider) CancelSubscription(ctx context.Context, subscriptionID string) error {
	if p.api == nil {
		return paymentdomain.ErrNotConfigured
	}
	params := &stripeapi.SubscriptionCancelParams{}
	params.Context = ctx

	_, err := p.api.Subscriptions.Cancel(subscriptionID, params)
	if err != nil {
		var stripeErr *stripeapi.Error
		if asStripeError(err, &stripeErr) && stripeErr.Code == stripeapi.ErrorCodeResourceMissing {
			p.log.Info("subscription already gone", zap.String("subscription_id", subscriptionID))
			return nil
		}
		return fmt.Errorf("stripe cancel subscription: %w", err)
	}
	return nil
}
