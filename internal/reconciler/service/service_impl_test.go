package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/clientbilling/internal/clock"
	invoicedomain "github.com/smallbiznis/clientbilling/internal/invoice/domain"
	invoicerepository "github.com/smallbiznis/clientbilling/internal/invoice/repository"
	invoiceservice "github.com/smallbiznis/clientbilling/internal/invoice/service"
	plandomain "github.com/smallbiznis/clientbilling/internal/paymentplan/domain"
	planrepository "github.com/smallbiznis/clientbilling/internal/paymentplan/repository"
	paymentdomain "github.com/smallbiznis/clientbilling/internal/providers/payment/domain"
	"github.com/smallbiznis/clientbilling/internal/providers/payment/stripe"
	"github.com/smallbiznis/clientbilling/internal/reconciler/domain"
	"github.com/smallbiznis/clientbilling/internal/testutil"
	workrepository "github.com/smallbiznis/clientbilling/internal/workentry/repository"
	"github.com/smallbiznis/clientbilling/pkg/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testSecret = "whsec_reconciler"

type recordingProvider struct {
	mu        sync.Mutex
	cancelled []string
}

func (p *recordingProvider) Name() string { return "stripe" }

func (p *recordingProvider) CreateCustomer(context.Context, paymentdomain.CustomerRequest) (string, error) {
	return "", nil
}

func (p *recordingProvider) CreateRecurringPrice(context.Context, paymentdomain.PriceRequest) (string, error) {
	return "", nil
}

func (p *recordingProvider) CreateCheckoutSession(context.Context, paymentdomain.CheckoutRequest) (*paymentdomain.CheckoutSession, error) {
	return nil, nil
}

func (p *recordingProvider) CancelSubscription(_ context.Context, subscriptionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = append(p.cancelled, subscriptionID)
	return nil
}

func (p *recordingProvider) cancellations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.cancelled...)
}

type fixture struct {
	svc      domain.Service
	db       *gorm.DB
	node     *snowflake.Node
	clock    *clock.FakeClock
	plans    plandomain.Repository
	invoices invoicedomain.Service
	provider *recordingProvider
}

func setupReconciler(t *testing.T) fixture {
	t.Helper()
	db := testutil.OpenDB(t)
	node := testutil.Node(t)
	clk := clock.NewFakeClock(time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC))
	plans := planrepository.Provide()
	provider := &recordingProvider{}
	invoices := invoiceservice.NewService(invoiceservice.Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clk,
		Repo:     invoicerepository.Provide(),
		WorkRepo: workrepository.Provide(),
	})
	svc := New(Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clk,
		Events:   repository.ProvideStore[domain.PaymentEvent](db),
		Plans:    plans,
		Invoices: invoices,
		Parser:   stripe.New(stripe.Config{WebhookSecret: testSecret}, zap.NewNop()),
		Provider: provider,
	})
	return fixture{svc: svc, db: db, node: node, clock: clk, plans: plans, invoices: invoices, provider: provider}
}

// seedPlan creates a pending invoice and a pending plan over it.
func (f fixture) seedPlan(t *testing.T, total int64, installments int) *plandomain.PaymentPlan {
	t.Helper()
	ctx := context.Background()
	now := f.clock.Now()
	inv := &invoicedomain.Invoice{
		ID:            f.node.Generate(),
		CustomerID:    f.node.Generate(),
		InvoiceNumber: "INV-2026-" + f.node.Generate().String(),
		Status:        invoicedomain.InvoiceStatusPending,
		Source:        invoicedomain.InvoiceSourceWork,
		IssuedAt:      now,
		DueDate:       now.AddDate(0, 0, 30),
		Subtotal:      total,
		TaxRate:       decimal.Zero,
		Total:         total,
		Currency:      "usd",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	inserted, err := invoicerepository.Provide().Insert(ctx, f.db, inv)
	require.NoError(t, err)
	require.True(t, inserted)

	plan := &plandomain.PaymentPlan{
		ID:                f.node.Generate(),
		InvoiceID:         inv.ID,
		CustomerID:        inv.CustomerID,
		TotalAmount:       total,
		InstallmentAmount: plandomain.CeilDiv(total, installments),
		Installments:      installments,
		Frequency:         plandomain.FrequencyMonthly,
		Currency:          "usd",
		Status:            plandomain.PlanStatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	require.NoError(t, f.plans.Insert(ctx, f.db, plan))
	return plan
}

func (f fixture) plan(t *testing.T, id snowflake.ID) *plandomain.PaymentPlan {
	t.Helper()
	plan, err := f.plans.FindByID(context.Background(), f.db, id)
	require.NoError(t, err)
	require.NotNil(t, plan)
	return plan
}

func (f fixture) invoiceStatus(t *testing.T, id snowflake.ID) invoicedomain.InvoiceStatus {
	t.Helper()
	var inv invoicedomain.Invoice
	require.NoError(t, f.db.First(&inv, "id = ?", id).Error)
	return inv.Status
}

func checkout(id string, plan *plandomain.PaymentPlan, subID string) paymentdomain.Event {
	return paymentdomain.Event{
		ID:             id,
		Provider:       "stripe",
		Type:           paymentdomain.EventCheckoutCompleted,
		RawType:        "checkout.session.completed",
		PlanID:         plan.ID.String(),
		SubscriptionID: subID,
		Mode:           "subscription",
	}
}

func invoicePaid(id, subID, reason string) paymentdomain.Event {
	return paymentdomain.Event{
		ID:             id,
		Provider:       "stripe",
		Type:           paymentdomain.EventInvoicePaid,
		RawType:        "invoice.paid",
		SubscriptionID: subID,
		BillingReason:  reason,
	}
}

func subscriptionDeleted(id, subID string) paymentdomain.Event {
	return paymentdomain.Event{
		ID:             id,
		Provider:       "stripe",
		Type:           paymentdomain.EventSubscriptionDeleted,
		RawType:        "customer.subscription.deleted",
		SubscriptionID: subID,
	}
}

func outcomes(results []domain.Result) []domain.Outcome {
	out := make([]domain.Outcome, 0, len(results))
	for _, r := range results {
		out = append(out, r.Outcome)
	}
	return out
}

func TestPlanRunsToCompletionAndSettlesInvoice(t *testing.T) {
	f := setupReconciler(t)
	ctx := context.Background()
	plan := f.seedPlan(t, 30000, 3)

	evt := checkout("evt_checkout", plan, "sub_1")
	evt.OccurredAt = f.clock.Now().Add(-time.Hour)
	results, err := f.svc.Apply(ctx,
		evt,
		invoicePaid("evt_inv_1", "sub_1", paymentdomain.BillingReasonSubscriptionCreate),
	)
	require.NoError(t, err)
	assert.Equal(t, []domain.Outcome{domain.OutcomeApplied, domain.OutcomeIgnored}, outcomes(results))

	active := f.plan(t, plan.ID)
	assert.Equal(t, plandomain.PlanStatusActive, active.Status)
	assert.Equal(t, 0, active.InstallmentsPaid)
	require.NotNil(t, active.ExternalSubscriptionID)
	assert.Equal(t, "sub_1", *active.ExternalSubscriptionID)
	require.NotNil(t, active.StartDate)
	assert.WithinDuration(t, f.clock.Now(), *active.StartDate, time.Second)

	for i, id := range []string{"evt_inv_2", "evt_inv_3"} {
		_, err = f.svc.Apply(ctx, invoicePaid(id, "sub_1", "subscription_cycle"))
		require.NoError(t, err)
		assert.Equal(t, i+1, f.plan(t, plan.ID).InstallmentsPaid)
		assert.Equal(t, invoicedomain.InvoiceStatusPending, f.invoiceStatus(t, plan.InvoiceID))
	}
	assert.Empty(t, f.provider.cancellations())

	_, err = f.svc.Apply(ctx, invoicePaid("evt_inv_4", "sub_1", "subscription_cycle"))
	require.NoError(t, err)

	done := f.plan(t, plan.ID)
	assert.Equal(t, plandomain.PlanStatusCompleted, done.Status)
	assert.Equal(t, 3, done.InstallmentsPaid)
	assert.NotNil(t, done.CompletedAt)
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, f.invoiceStatus(t, plan.InvoiceID))
	assert.Equal(t, []string{"sub_1"}, f.provider.cancellations())

	// A stray charge after completion never pushes the counter past the plan.
	results, err = f.svc.Apply(ctx, invoicePaid("evt_inv_5", "sub_1", "subscription_cycle"))
	require.NoError(t, err)
	assert.Equal(t, []domain.Outcome{domain.OutcomeDropped}, outcomes(results))
	assert.Equal(t, 3, f.plan(t, plan.ID).InstallmentsPaid)

	// The provider's deletion notice for the finished subscription is a no-op.
	results, err = f.svc.Apply(ctx, subscriptionDeleted("evt_del", "sub_1"))
	require.NoError(t, err)
	assert.Equal(t, []domain.Outcome{domain.OutcomeDropped}, outcomes(results))
	assert.Equal(t, plandomain.PlanStatusCompleted, f.plan(t, plan.ID).Status)
}

func TestSingleInstallmentPlanStaysActiveUntilCharged(t *testing.T) {
	f := setupReconciler(t)
	ctx := context.Background()
	plan := f.seedPlan(t, 5000, 1)

	_, err := f.svc.Apply(ctx, checkout("evt_one", plan, "sub_one"))
	require.NoError(t, err)
	active := f.plan(t, plan.ID)
	assert.Equal(t, plandomain.PlanStatusActive, active.Status)
	assert.Equal(t, 0, active.InstallmentsPaid)
	assert.Equal(t, invoicedomain.InvoiceStatusPending, f.invoiceStatus(t, plan.InvoiceID))
	assert.Empty(t, f.provider.cancellations())

	_, err = f.svc.Apply(ctx, invoicePaid("evt_one_paid", "sub_one", "subscription_cycle"))
	require.NoError(t, err)
	assert.Equal(t, plandomain.PlanStatusCompleted, f.plan(t, plan.ID).Status)
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, f.invoiceStatus(t, plan.InvoiceID))
	assert.Equal(t, []string{"sub_one"}, f.provider.cancellations())
}

func TestFinalChargeCompletesPlanOnce(t *testing.T) {
	f := setupReconciler(t)
	ctx := context.Background()
	plan := f.seedPlan(t, 9000, 3)

	_, err := f.svc.Apply(ctx,
		checkout("evt_co", plan, "sub_final"),
		invoicePaid("evt_c1", "sub_final", "subscription_cycle"),
		invoicePaid("evt_c2", "sub_final", "subscription_cycle"),
	)
	require.NoError(t, err)
	before := f.plan(t, plan.ID)
	require.Equal(t, plandomain.PlanStatusActive, before.Status)
	require.Equal(t, 2, before.InstallmentsPaid)

	results, err := f.svc.Apply(ctx, invoicePaid("evt_c3", "sub_final", "subscription_cycle"))
	require.NoError(t, err)
	assert.Equal(t, []domain.Outcome{domain.OutcomeApplied}, outcomes(results))

	done := f.plan(t, plan.ID)
	assert.Equal(t, plandomain.PlanStatusCompleted, done.Status)
	assert.Equal(t, 3, done.InstallmentsPaid)
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, f.invoiceStatus(t, plan.InvoiceID))

	results, err = f.svc.Apply(ctx, invoicePaid("evt_c3", "sub_final", "subscription_cycle"))
	require.NoError(t, err)
	assert.Equal(t, []domain.Outcome{domain.OutcomeDuplicate}, outcomes(results))

	again := f.plan(t, plan.ID)
	assert.Equal(t, plandomain.PlanStatusCompleted, again.Status)
	assert.Equal(t, 3, again.InstallmentsPaid)
	assert.Equal(t, done.UpdatedAt, again.UpdatedAt)
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, f.invoiceStatus(t, plan.InvoiceID))
	assert.Equal(t, []string{"sub_final"}, f.provider.cancellations())
}

func TestDuplicateDeliveriesApplyOnce(t *testing.T) {
	f := setupReconciler(t)
	ctx := context.Background()
	plan := f.seedPlan(t, 20000, 4)

	results, err := f.svc.Apply(ctx,
		checkout("evt_a", plan, "sub_a"),
		checkout("evt_a", plan, "sub_a"),
	)
	require.NoError(t, err)
	assert.Equal(t, []domain.Outcome{domain.OutcomeApplied, domain.OutcomeDuplicate}, outcomes(results))

	for i := 0; i < 3; i++ {
		_, err := f.svc.Apply(ctx, invoicePaid("evt_cycle_2", "sub_a", "subscription_cycle"))
		require.NoError(t, err)
	}
	assert.Equal(t, 1, f.plan(t, plan.ID).InstallmentsPaid)

	// A second checkout event for an active plan does not reset the counter.
	results, err = f.svc.Apply(ctx, checkout("evt_b", plan, "sub_other"))
	require.NoError(t, err)
	assert.Equal(t, []domain.Outcome{domain.OutcomeDropped}, outcomes(results))
	current := f.plan(t, plan.ID)
	assert.Equal(t, 1, current.InstallmentsPaid)
	assert.Equal(t, "sub_a", *current.ExternalSubscriptionID)

	var recorded int64
	require.NoError(t, f.db.Model(&domain.PaymentEvent{}).Count(&recorded).Error)
	assert.Equal(t, int64(3), recorded)
}

func TestUnknownPlanIsDropped(t *testing.T) {
	f := setupReconciler(t)
	ctx := context.Background()

	results, err := f.svc.Apply(ctx,
		paymentdomain.Event{ID: "evt_x", Provider: "stripe", Type: paymentdomain.EventCheckoutCompleted, RawType: "checkout.session.completed", PlanID: "424242", SubscriptionID: "sub_x", Mode: "subscription"},
		invoicePaid("evt_y", "sub_unknown", "subscription_cycle"),
		subscriptionDeleted("evt_z", "sub_unknown"),
	)
	require.NoError(t, err)
	assert.Equal(t, []domain.Outcome{domain.OutcomeDropped, domain.OutcomeDropped, domain.OutcomeDropped}, outcomes(results))
	assert.Empty(t, f.provider.cancellations())
}

func TestLateDeletionConfirmsLocalCancel(t *testing.T) {
	f := setupReconciler(t)
	ctx := context.Background()
	plan := f.seedPlan(t, 9000, 3)

	_, err := f.svc.Apply(ctx,
		checkout("evt_c", plan, "sub_c"),
		invoicePaid("evt_c_paid", "sub_c", "subscription_cycle"),
	)
	require.NoError(t, err)

	changed, err := f.plans.Cancel(ctx, f.db, plan.ID, plandomain.PlanStatusActive, f.clock.Now(), false)
	require.NoError(t, err)
	require.True(t, changed)
	assert.Equal(t, plandomain.StateCancelRequested, f.plan(t, plan.ID).State())

	results, err := f.svc.Apply(ctx, subscriptionDeleted("evt_d", "sub_c"))
	require.NoError(t, err)
	assert.Equal(t, []domain.Outcome{domain.OutcomeApplied}, outcomes(results))

	confirmed := f.plan(t, plan.ID)
	assert.Equal(t, plandomain.PlanStatusCancelled, confirmed.Status)
	assert.Equal(t, plandomain.StateCancelled, confirmed.State())
	assert.NotNil(t, confirmed.CancelConfirmedAt)
	assert.Equal(t, invoicedomain.InvoiceStatusPending, f.invoiceStatus(t, plan.InvoiceID))

	// Charges arriving after cancellation are not counted.
	results, err = f.svc.Apply(ctx, invoicePaid("evt_late", "sub_c", "subscription_cycle"))
	require.NoError(t, err)
	assert.Equal(t, []domain.Outcome{domain.OutcomeDropped}, outcomes(results))
	assert.Equal(t, 1, f.plan(t, plan.ID).InstallmentsPaid)
}

func TestProviderDeletionCancelsActivePlan(t *testing.T) {
	f := setupReconciler(t)
	ctx := context.Background()
	plan := f.seedPlan(t, 9000, 3)

	_, err := f.svc.Apply(ctx, checkout("evt_c", plan, "sub_p"), subscriptionDeleted("evt_d", "sub_p"))
	require.NoError(t, err)

	cancelled := f.plan(t, plan.ID)
	assert.Equal(t, plandomain.PlanStatusCancelled, cancelled.Status)
	assert.Equal(t, plandomain.StateCancelled, cancelled.State())
	assert.Equal(t, invoicedomain.InvoiceStatusPending, f.invoiceStatus(t, plan.InvoiceID))
}

func TestCheckoutAfterLocalCancelCancelsOrphanSubscription(t *testing.T) {
	f := setupReconciler(t)
	ctx := context.Background()
	plan := f.seedPlan(t, 9000, 3)

	changed, err := f.plans.Cancel(ctx, f.db, plan.ID, plandomain.PlanStatusPending, f.clock.Now(), false)
	require.NoError(t, err)
	require.True(t, changed)

	results, err := f.svc.Apply(ctx, checkout("evt_late_checkout", plan, "sub_orphan"))
	require.NoError(t, err)
	assert.Equal(t, []domain.Outcome{domain.OutcomeDropped}, outcomes(results))
	assert.Equal(t, plandomain.PlanStatusCancelled, f.plan(t, plan.ID).Status)
	assert.Equal(t, []string{"sub_orphan"}, f.provider.cancellations())
}

func TestHandleWebhookVerifiesSignature(t *testing.T) {
	f := setupReconciler(t)
	ctx := context.Background()
	plan := f.seedPlan(t, 9000, 3)

	payload := []byte(`{"id":"evt_signed","type":"checkout.session.completed","created":1780000000,
		"data":{"object":{"id":"cs_1","mode":"subscription","customer":"cus_1","subscription":"sub_signed",
		"metadata":{"payment_plan_id":"` + plan.ID.String() + `"}}}}`)

	_, err := f.svc.HandleWebhook(ctx, payload, "t=1,v1=bogus")
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)
	assert.Equal(t, plandomain.PlanStatusPending, f.plan(t, plan.ID).Status)

	header := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testSecret,
		Timestamp: time.Now(),
	}).Header
	results, err := f.svc.HandleWebhook(ctx, payload, header)
	require.NoError(t, err)
	assert.Equal(t, []domain.Outcome{domain.OutcomeApplied}, outcomes(results))
	assert.Equal(t, plandomain.PlanStatusActive, f.plan(t, plan.ID).Status)

	var stored domain.PaymentEvent
	require.NoError(t, f.db.First(&stored, "event_id = ?", "evt_signed").Error)
	assert.Equal(t, "checkout.session.completed", stored.EventType)
	require.NotNil(t, stored.PlanID)
	assert.Equal(t, plan.ID, *stored.PlanID)
}
