// Package notification fans billing events out to email and the client
// portal push channel. Delivery is fire-and-forget: failures are logged and
// never reach billing code.
package notification

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	customerdomain "github.com/smallbiznis/clientbilling/internal/customer/domain"
	"github.com/smallbiznis/clientbilling/internal/observability/metrics"
	"github.com/smallbiznis/clientbilling/internal/providers/email"
	"github.com/smallbiznis/clientbilling/internal/providers/push"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	KindInvoiceCreated = "invoice_created"
	KindPlanAvailable  = "plan_available"

	defaultTimeout = 15 * time.Second
)

type InvoiceCreated struct {
	InvoiceID     snowflake.ID
	InvoiceNumber string
	CustomerID    snowflake.ID
	Total         int64
	Currency      string
	DueDate       time.Time
}

type PlanAvailable struct {
	PlanID            snowflake.ID
	InvoiceID         snowflake.ID
	CustomerID        snowflake.ID
	InstallmentAmount int64
	Installments      int
	Frequency         string
	Currency          string
}

type Notifier interface {
	InvoiceCreated(ctx context.Context, evt InvoiceCreated)
	PlanAvailable(ctx context.Context, evt PlanAvailable)
}

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle `optional:"true"`
	Log       *zap.Logger
	Email     email.Provider
	Push      push.Provider
	Customers customerdomain.Service
	Metrics   *metrics.Metrics `optional:"true"`
}

type Dispatcher struct {
	log       *zap.Logger
	email     email.Provider
	push      push.Provider
	customers customerdomain.Service
	metrics   *metrics.Metrics
	timeout   time.Duration
	now       func() time.Time
	wg        sync.WaitGroup
}

func New(p Params) *Dispatcher {
	d := &Dispatcher{
		log:       p.Log.Named("notification.dispatcher"),
		email:     p.Email,
		push:      p.Push,
		customers: p.Customers,
		metrics:   p.Metrics,
		timeout:   defaultTimeout,
		now:       func() time.Time { return time.Now().UTC() },
	}
	if p.Lifecycle != nil {
		p.Lifecycle.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				done := make(chan struct{})
				go func() {
					d.Wait()
					close(done)
				}()
				select {
				case <-done:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			},
		})
	}
	return d
}

func (d *Dispatcher) InvoiceCreated(ctx context.Context, evt InvoiceCreated) {
	d.dispatch(ctx, KindInvoiceCreated, evt.CustomerID, func(ctx context.Context, customer *customerdomain.Customer) {
		amount := formatAmount(evt.Total)
		currency := strings.ToUpper(evt.Currency)
		if customer != nil {
			d.sendEmail(ctx, KindInvoiceCreated, customer.Email, map[string]any{
				"customer_name":  customer.Name,
				"invoice_number": evt.InvoiceNumber,
				"total":          amount,
				"currency":       currency,
				"due_date":       evt.DueDate.Format("2006-01-02"),
			})
		}
		d.publish(ctx, push.Message{
			Kind:       KindInvoiceCreated,
			CustomerID: evt.CustomerID.String(),
			Title:      "New invoice " + evt.InvoiceNumber,
			Body:       amount + " " + currency + " due " + evt.DueDate.Format("2006-01-02"),
			Data: map[string]string{
				"invoice_id":     evt.InvoiceID.String(),
				"invoice_number": evt.InvoiceNumber,
			},
		})
	})
}

func (d *Dispatcher) PlanAvailable(ctx context.Context, evt PlanAvailable) {
	d.dispatch(ctx, KindPlanAvailable, evt.CustomerID, func(ctx context.Context, customer *customerdomain.Customer) {
		amount := formatAmount(evt.InstallmentAmount)
		currency := strings.ToUpper(evt.Currency)
		if customer != nil {
			d.sendEmail(ctx, KindPlanAvailable, customer.Email, map[string]any{
				"customer_name":      customer.Name,
				"invoice_id":         evt.InvoiceID.String(),
				"installments":       evt.Installments,
				"frequency":          evt.Frequency,
				"installment_amount": amount,
				"currency":           currency,
			})
		}
		d.publish(ctx, push.Message{
			Kind:       KindPlanAvailable,
			CustomerID: evt.CustomerID.String(),
			Title:      "Payment plan available",
			Body:       amount + " " + currency + " " + evt.Frequency,
			Data: map[string]string{
				"plan_id":    evt.PlanID.String(),
				"invoice_id": evt.InvoiceID.String(),
			},
		})
	})
}

// Wait blocks until every in-flight notification finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) dispatch(ctx context.Context, kind string, customerID snowflake.ID, fn func(context.Context, *customerdomain.Customer)) {
	base := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.log.Error("notification panic", zap.String("kind", kind), zap.Any("panic", r))
			}
		}()

		ctx, cancel := context.WithTimeout(base, d.timeout)
		defer cancel()

		var customer *customerdomain.Customer
		if d.customers != nil {
			found, err := d.customers.GetByID(ctx, customerID)
			if err != nil {
				d.log.Warn("notification customer lookup failed",
					zap.String("kind", kind),
					zap.String("customer_id", customerID.String()),
					zap.Error(err),
				)
			} else {
				customer = &found
			}
		}
		fn(ctx, customer)
	}()
}

func (d *Dispatcher) sendEmail(ctx context.Context, kind, to string, data map[string]any) {
	if d.email == nil || strings.TrimSpace(to) == "" {
		return
	}
	outcome := "sent"
	if err := d.email.SendTemplate(ctx, []string{to}, kind, data); err != nil {
		outcome = "failed"
		d.log.Warn("notification email failed", zap.String("kind", kind), zap.Error(err))
	}
	d.metrics.RecordNotification(ctx, "email", kind, outcome)
}

func (d *Dispatcher) publish(ctx context.Context, msg push.Message) {
	if d.push == nil {
		return
	}
	msg.SentAt = d.now()
	outcome := "sent"
	if err := d.push.Publish(ctx, msg); err != nil {
		outcome = "failed"
		d.log.Warn("notification push failed", zap.String("kind", msg.Kind), zap.Error(err))
	}
	d.metrics.RecordNotification(ctx, "push", msg.Kind, outcome)
}

func formatAmount(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}
