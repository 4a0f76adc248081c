package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clientbilling/internal/clock"
	"github.com/smallbiznis/clientbilling/internal/config"
	customerdomain "github.com/smallbiznis/clientbilling/internal/customer/domain"
	invoicedomain "github.com/smallbiznis/clientbilling/internal/invoice/domain"
	"github.com/smallbiznis/clientbilling/internal/notification"
	"github.com/smallbiznis/clientbilling/internal/observability/metrics"
	plandomain "github.com/smallbiznis/clientbilling/internal/paymentplan/domain"
	paymentdomain "github.com/smallbiznis/clientbilling/internal/providers/payment/domain"
	"github.com/smallbiznis/clientbilling/pkg/db"
	"github.com/smallbiznis/clientbilling/pkg/db/option"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Billing     *config.BillingConfigHolder `optional:"true"`
	Repo        plandomain.Repository
	InvoiceRepo invoicedomain.Repository
	Customers   customerdomain.Service `optional:"true"`
	Provider    paymentdomain.Provider `optional:"true"`
	Notifier    notification.Notifier  `optional:"true"`
	Metrics     *metrics.Metrics       `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	billing     *config.BillingConfigHolder
	repo        plandomain.Repository
	invoiceRepo invoicedomain.Repository
	customers   customerdomain.Service
	provider    paymentdomain.Provider
	notifier    notification.Notifier
	metrics     *metrics.Metrics
}

func New(p Params) plandomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("paymentplan.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		billing:     p.Billing,
		repo:        p.Repo,
		invoiceRepo: p.InvoiceRepo,
		customers:   p.Customers,
		provider:    p.Provider,
		notifier:    p.Notifier,
		metrics:     p.Metrics,
	}
}

// CreatePlan offers an installment plan for an unpaid invoice. The invoice
// row is locked so two concurrent offers cannot both pass the open-plan check.
func (s *Service) CreatePlan(ctx context.Context, req plandomain.CreatePlanRequest) (*plandomain.PaymentPlan, error) {
	invoiceID, err := parseID(req.InvoiceID, plandomain.ErrInvalidInvoice)
	if err != nil {
		return nil, err
	}
	cfg := s.billingConfig()
	if req.Installments < cfg.MinInstallments || req.Installments > cfg.MaxInstallments {
		return nil, plandomain.ErrInvalidInstallments
	}
	frequency := plandomain.Frequency(strings.ToLower(strings.TrimSpace(string(req.Frequency))))
	if !frequency.Valid() {
		return nil, plandomain.ErrInvalidFrequency
	}

	var plan *plandomain.PaymentPlan
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.invoiceRepo.FindByID(ctx, tx, invoiceID, option.ForUpdate())
		if err != nil {
			return err
		}
		if invoice == nil {
			return plandomain.ErrInvoiceNotFound
		}
		if invoice.Status == invoicedomain.InvoiceStatusPaid {
			return plandomain.ErrInvoicePaid
		}
		if invoice.Total <= 0 {
			return plandomain.ErrInvalidAmount
		}

		open, err := s.repo.FindOpenByInvoice(ctx, tx, invoice.ID)
		if err != nil {
			return err
		}
		if open != nil {
			return plandomain.ErrOpenPlanExists
		}

		now := s.clock.Now()
		plan = &plandomain.PaymentPlan{
			ID:                s.genID.Generate(),
			InvoiceID:         invoice.ID,
			CustomerID:        invoice.CustomerID,
			TotalAmount:       invoice.Total,
			InstallmentAmount: plandomain.CeilDiv(invoice.Total, req.Installments),
			Installments:      req.Installments,
			Frequency:         frequency,
			Currency:          invoice.Currency,
			Status:            plandomain.PlanStatusPending,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := s.repo.Insert(ctx, tx, plan); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return plandomain.ErrOpenPlanExists
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	fields := []zap.Field{
		zap.String("plan_id", plan.ID.String()),
		zap.String("invoice_id", plan.InvoiceID.String()),
		zap.Int64("installment_amount", plan.InstallmentAmount),
		zap.Int("installments", plan.Installments),
	}
	if remainder := plan.InstallmentRemainder(); remainder > 0 {
		fields = append(fields, zap.Int64("installment_remainder", remainder))
	}
	s.log.Info("payment plan created", fields...)
	s.metrics.RecordPlanTransition(ctx, "", string(plandomain.PlanStatusPending))

	if s.notifier != nil {
		s.notifier.PlanAvailable(ctx, notification.PlanAvailable{
			PlanID:            plan.ID,
			InvoiceID:         plan.InvoiceID,
			CustomerID:        plan.CustomerID,
			InstallmentAmount: plan.InstallmentAmount,
			Installments:      plan.Installments,
			Frequency:         string(plan.Frequency),
			Currency:          plan.Currency,
		})
	}
	return plan, nil
}

// AcceptPlan runs the provider side of the handshake: customer, recurring
// price, then a subscription checkout carrying the plan id. Activation only
// happens when the checkout completion webhook arrives.
func (s *Service) AcceptPlan(ctx context.Context, id string, req plandomain.AcceptRequest) (*plandomain.PaymentPlan, error) {
	planID, err := parseID(id, plandomain.ErrInvalidID)
	if err != nil {
		return nil, err
	}
	plan, err := s.repo.FindByID(ctx, s.db, planID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, plandomain.ErrNotFound
	}
	if plan.Status != plandomain.PlanStatusPending {
		return nil, plandomain.ErrNotPending
	}
	if plan.CheckoutSessionID != nil {
		return plan, nil
	}

	email, name, err := s.resolveContact(ctx, plan.CustomerID, req)
	if err != nil {
		return nil, err
	}
	if s.provider == nil {
		return nil, paymentdomain.ErrNotConfigured
	}
	// Local lookups fail the request, not the plan.
	customerID, err := s.repo.FindExternalCustomerID(ctx, s.db, plan.CustomerID)
	if err != nil {
		return nil, err
	}

	checkout, err := s.startCheckout(ctx, plan, customerID, email, name)
	if err != nil {
		s.failPlan(ctx, plan, err)
		return nil, fmt.Errorf("%w: %v", plandomain.ErrProvider, err)
	}

	changed, err := s.repo.SetCheckout(ctx, s.db, plan.ID, *checkout)
	if err != nil {
		return nil, err
	}
	if !changed {
		s.log.Warn("payment plan changed during checkout", zap.String("plan_id", plan.ID.String()))
	}

	s.log.Info("payment plan accepted, awaiting provider confirmation",
		zap.String("plan_id", plan.ID.String()),
		zap.String("checkout_session_id", checkout.SessionID),
	)
	return s.reload(ctx, plan.ID)
}

// CancelPlan cancels locally without waiting for the provider to confirm.
// An active plan's subscription is cancelled at the provider first; if that
// fails the plan stays active.
func (s *Service) CancelPlan(ctx context.Context, id string) (*plandomain.PaymentPlan, error) {
	planID, err := parseID(id, plandomain.ErrInvalidID)
	if err != nil {
		return nil, err
	}
	plan, err := s.repo.FindByID(ctx, s.db, planID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, plandomain.ErrNotFound
	}

	switch plan.Status {
	case plandomain.PlanStatusPending:
	case plandomain.PlanStatusActive:
		if plan.ExternalSubscriptionID != nil {
			if s.provider == nil {
				return nil, fmt.Errorf("%w: %v", plandomain.ErrProvider, paymentdomain.ErrNotConfigured)
			}
			if err := s.provider.CancelSubscription(ctx, *plan.ExternalSubscriptionID); err != nil {
				s.log.Error("provider subscription cancel failed",
					zap.String("plan_id", plan.ID.String()),
					zap.Error(err),
				)
				return nil, fmt.Errorf("%w: %v", plandomain.ErrProvider, err)
			}
		}
	default:
		return nil, nil
	}

	changed, err := s.repo.Cancel(ctx, s.db, plan.ID, plan.Status, s.clock.Now(), false)
	if err != nil {
		return nil, err
	}
	if !changed {
		// A webhook moved the plan on in the meantime; report what it is now.
		current, err := s.reload(ctx, plan.ID)
		if err != nil {
			return nil, err
		}
		if current.Status.IsOpen() {
			return nil, plandomain.ErrNotPending
		}
		return nil, nil
	}

	s.log.Info("payment plan cancelled",
		zap.String("plan_id", plan.ID.String()),
		zap.String("from", string(plan.Status)),
	)
	s.metrics.RecordPlanTransition(ctx, string(plan.Status), string(plandomain.PlanStatusCancelled))
	return s.reload(ctx, plan.ID)
}

func (s *Service) Get(ctx context.Context, id string) (*plandomain.PaymentPlan, error) {
	planID, err := parseID(id, plandomain.ErrInvalidID)
	if err != nil {
		return nil, err
	}
	return s.reload(ctx, planID)
}

func (s *Service) ListByInvoice(ctx context.Context, invoiceID string) ([]plandomain.PaymentPlan, error) {
	id, err := parseID(invoiceID, plandomain.ErrInvalidInvoice)
	if err != nil {
		return nil, err
	}
	return s.repo.ListByInvoice(ctx, s.db, id)
}

// startCheckout makes the provider calls only. customerID is the stored
// provider customer, or empty to create one.
func (s *Service) startCheckout(ctx context.Context, plan *plandomain.PaymentPlan, customerID, email, name string) (*plandomain.Checkout, error) {
	cfg := s.billingConfig()
	metadata := map[string]string{
		paymentdomain.MetadataPlanID: plan.ID.String(),
		"invoice_id":                 plan.InvoiceID.String(),
		"customer_id":                plan.CustomerID.String(),
	}

	if customerID == "" {
		var err error
		customerID, err = s.provider.CreateCustomer(ctx, paymentdomain.CustomerRequest{
			Email:    email,
			Name:     name,
			Metadata: map[string]string{"customer_id": plan.CustomerID.String()},
		})
		if err != nil {
			return nil, err
		}
	}

	interval, count := recurrence(plan.Frequency)
	priceID, err := s.provider.CreateRecurringPrice(ctx, paymentdomain.PriceRequest{
		Currency:      plan.Currency,
		UnitAmount:    plan.InstallmentAmount,
		Interval:      interval,
		IntervalCount: count,
		ProductName:   cfg.PlanProductName,
		Metadata:      metadata,
	})
	if err != nil {
		return nil, err
	}

	session, err := s.provider.CreateCheckoutSession(ctx, paymentdomain.CheckoutRequest{
		CustomerID:     customerID,
		PriceID:        priceID,
		SuccessURL:     cfg.CheckoutSuccessURL,
		CancelURL:      cfg.CheckoutCancelURL,
		IdempotencyKey: "plan-" + plan.ID.String() + "-checkout",
		Metadata:       metadata,
	})
	if err != nil {
		return nil, err
	}

	return &plandomain.Checkout{
		ExternalCustomerID: customerID,
		SessionID:          session.ID,
		URL:                session.URL,
		AcceptedAt:         s.clock.Now(),
	}, nil
}

// failPlan parks the plan in failed. Objects already created at the
// provider are left for manual cleanup.
func (s *Service) failPlan(ctx context.Context, plan *plandomain.PaymentPlan, cause error) {
	s.log.Error("payment plan checkout failed",
		zap.String("plan_id", plan.ID.String()),
		zap.Error(cause),
	)
	changed, err := s.repo.MarkFailed(ctx, s.db, plan.ID, cause.Error(), s.clock.Now())
	if err != nil {
		s.log.Error("mark payment plan failed", zap.String("plan_id", plan.ID.String()), zap.Error(err))
		return
	}
	if changed {
		s.metrics.RecordPlanTransition(ctx, string(plandomain.PlanStatusPending), string(plandomain.PlanStatusFailed))
	}
}

func (s *Service) resolveContact(ctx context.Context, customerID snowflake.ID, req plandomain.AcceptRequest) (string, string, error) {
	email := strings.TrimSpace(req.Email)
	name := strings.TrimSpace(req.Name)
	if (email == "" || name == "") && s.customers != nil {
		customer, err := s.customers.GetByID(ctx, customerID)
		if err == nil {
			if email == "" {
				email = customer.Email
			}
			if name == "" {
				name = customer.Name
			}
		} else if err != customerdomain.ErrNotFound {
			return "", "", err
		}
	}
	if email == "" {
		return "", "", plandomain.ErrInvalidEmail
	}
	return email, name, nil
}

func (s *Service) reload(ctx context.Context, id snowflake.ID) (*plandomain.PaymentPlan, error) {
	plan, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, plandomain.ErrNotFound
	}
	return plan, nil
}

func (s *Service) billingConfig() config.BillingConfig {
	if s.billing == nil {
		return config.DefaultBillingConfig()
	}
	return s.billing.Get()
}

func recurrence(f plandomain.Frequency) (paymentdomain.Interval, int64) {
	switch f {
	case plandomain.FrequencyWeekly:
		return paymentdomain.IntervalWeek, 1
	case plandomain.FrequencyBiweekly:
		return paymentdomain.IntervalWeek, 2
	default:
		return paymentdomain.IntervalMonth, 1
	}
}

func parseID(raw string, invalid error) (snowflake.ID, error) {
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || value <= 0 {
		return 0, invalid
	}
	return snowflake.ID(value), nil
}
