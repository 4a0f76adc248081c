package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/clientbilling/internal/clock"
	"github.com/smallbiznis/clientbilling/internal/config"
	customerrepository "github.com/smallbiznis/clientbilling/internal/customer/repository"
	customerservice "github.com/smallbiznis/clientbilling/internal/customer/service"
	invoicerepository "github.com/smallbiznis/clientbilling/internal/invoice/repository"
	invoiceservice "github.com/smallbiznis/clientbilling/internal/invoice/service"
	"github.com/smallbiznis/clientbilling/internal/observability"
	planrepository "github.com/smallbiznis/clientbilling/internal/paymentplan/repository"
	planservice "github.com/smallbiznis/clientbilling/internal/paymentplan/service"
	paymentdomain "github.com/smallbiznis/clientbilling/internal/providers/payment/domain"
	"github.com/smallbiznis/clientbilling/internal/providers/payment/stripe"
	raterepository "github.com/smallbiznis/clientbilling/internal/rate/repository"
	rateservice "github.com/smallbiznis/clientbilling/internal/rate/service"
	"github.com/smallbiznis/clientbilling/internal/ratelimit"
	reconcilerdomain "github.com/smallbiznis/clientbilling/internal/reconciler/domain"
	reconcilerservice "github.com/smallbiznis/clientbilling/internal/reconciler/service"
	"github.com/smallbiznis/clientbilling/internal/testutil"
	workrepository "github.com/smallbiznis/clientbilling/internal/workentry/repository"
	workservice "github.com/smallbiznis/clientbilling/internal/workentry/service"
	"github.com/smallbiznis/clientbilling/pkg/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testWebhookSecret = "whsec_server"

type fakeProvider struct {
	mu        sync.Mutex
	checkouts int
	cancelled []string
}

func (p *fakeProvider) Name() string { return "stripe" }

func (p *fakeProvider) CreateCustomer(context.Context, paymentdomain.CustomerRequest) (string, error) {
	return "cus_test", nil
}

func (p *fakeProvider) CreateRecurringPrice(context.Context, paymentdomain.PriceRequest) (string, error) {
	return "price_test", nil
}

func (p *fakeProvider) CreateCheckoutSession(context.Context, paymentdomain.CheckoutRequest) (*paymentdomain.CheckoutSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkouts++
	return &paymentdomain.CheckoutSession{ID: "cs_test", URL: "https://checkout.test/cs_test"}, nil
}

func (p *fakeProvider) CancelSubscription(_ context.Context, subscriptionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = append(p.cancelled, subscriptionID)
	return nil
}

type testServer struct {
	engine   *gin.Engine
	db       *gorm.DB
	provider *fakeProvider
	node     *snowflake.Node
}

func newTestServer(t *testing.T, opts ...func(*ServerParams)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.OpenDB(t)
	node := testutil.Node(t)
	clk := clock.NewFakeClock(time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC))
	log := zap.NewNop()
	provider := &fakeProvider{}

	rateRepo := raterepository.Provide()
	workRepo := workrepository.Provide()
	invoiceRepo := invoicerepository.Provide()
	planRepo := planrepository.Provide()

	invoiceSvc := invoiceservice.NewService(invoiceservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Repo: invoiceRepo, WorkRepo: workRepo,
	})

	engine := NewEngine(observability.Config{})
	params := ServerParams{
		Gin: engine,
		Cfg: config.Config{},
		Log: log,
		CustomerSvc: customerservice.New(customerservice.Params{
			DB: db, Log: log, GenID: node, Clock: clk, Repo: customerrepository.Provide(),
		}),
		RateSvc: rateservice.New(rateservice.Params{
			DB: db, Log: log, GenID: node, Clock: clk, Repo: rateRepo,
		}),
		WorkSvc: workservice.New(workservice.Params{
			DB: db, Log: log, GenID: node, Clock: clk, Repo: workRepo, RateRepo: rateRepo,
		}),
		InvoiceSvc: invoiceSvc,
		PlanSvc: planservice.New(planservice.Params{
			DB: db, Log: log, GenID: node, Clock: clk, Repo: planRepo, InvoiceRepo: invoiceRepo, Provider: provider,
		}),
		ReconcilerSvc: reconcilerservice.New(reconcilerservice.Params{
			DB:       db,
			Log:      log,
			GenID:    node,
			Clock:    clk,
			Events:   repository.ProvideStore[reconcilerdomain.PaymentEvent](db),
			Plans:    planRepo,
			Invoices: invoiceSvc,
			Parser:   stripe.New(stripe.Config{WebhookSecret: testWebhookSecret}, log),
			Provider: provider,
		}),
	}
	for _, opt := range opts {
		opt(&params)
	}
	NewServer(params)

	return &testServer{engine: engine, db: db, provider: provider, node: node}
}

type envelope struct {
	Data      json.RawMessage `json:"data"`
	Generated *bool           `json:"generated"`
	Changed   *bool           `json:"changed"`
	Error     *errorPayload   `json:"error"`
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (int, envelope) {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	return ts.serve(t, req)
}

func (ts *testServer) serve(t *testing.T, req *http.Request) (int, envelope) {
	t.Helper()
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec.Code, env
}

func decodeData(t *testing.T, env envelope, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(env.Data, out))
}

type idView struct {
	ID string `json:"id"`
}

type invoiceView struct {
	ID            string `json:"id"`
	InvoiceNumber string `json:"invoice_number"`
	Status        string `json:"status"`
	Total         int64  `json:"total"`
}

type planView struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	State             string `json:"state"`
	InstallmentAmount int64  `json:"installment_amount"`
	InstallmentsPaid  int    `json:"installments_paid"`
	CheckoutURL       string `json:"checkout_url"`
}

// seedInvoice records two 2-hour entries at 50.00 and bills them.
func (ts *testServer) seedInvoice(t *testing.T) invoiceView {
	t.Helper()
	code, env := ts.do(t, http.MethodPost, "/api/rates", map[string]any{
		"name": "Engineering", "unit_label": "hour", "unit_price": 5000,
	})
	require.Equal(t, http.StatusCreated, code)
	var rate idView
	decodeData(t, env, &rate)

	projectID, customerID := ts.node.Generate().String(), ts.node.Generate().String()
	for i := 0; i < 2; i++ {
		code, _ = ts.do(t, http.MethodPost, "/api/work_entries", map[string]any{
			"project_id": projectID, "customer_id": customerID, "rate_id": rate.ID,
			"quantity": "2", "description": "sprint work",
		})
		require.Equal(t, http.StatusCreated, code)
	}

	code, env = ts.do(t, http.MethodPost, "/api/invoices/generate", map[string]any{"project_id": projectID})
	require.Equal(t, http.StatusCreated, code)
	require.NotNil(t, env.Generated)
	require.True(t, *env.Generated)
	var inv invoiceView
	decodeData(t, env, &inv)

	code, env = ts.do(t, http.MethodPost, "/api/invoices/generate", map[string]any{"project_id": projectID})
	require.Equal(t, http.StatusOK, code)
	require.False(t, *env.Generated)
	return inv
}

func (ts *testServer) signedWebhook(t *testing.T, payload string) *http.Request {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(signed.Payload))
	req.Header.Set(stripeSignatureHeader, signed.Header)
	return req
}

func TestHealthAndFallback(t *testing.T) {
	ts := newTestServer(t)

	code, _ := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, code)

	code, env := ts.do(t, http.MethodGet, "/api/nothing-here", nil)
	assert.Equal(t, http.StatusNotFound, code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "not_found", env.Error.Type)
}

func TestRateEndpointsMapErrors(t *testing.T) {
	ts := newTestServer(t)

	code, env := ts.do(t, http.MethodPost, "/api/rates", map[string]any{"name": "", "unit_label": "hour", "unit_price": 100})
	assert.Equal(t, http.StatusBadRequest, code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "validation_error", env.Error.Type)
	require.Len(t, env.Error.Errors, 1)
	assert.Equal(t, "invalid_name", env.Error.Errors[0].Code)
	assert.Equal(t, "name", env.Error.Errors[0].Field)

	code, _ = ts.do(t, http.MethodPost, "/api/rates", "{not json")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = ts.do(t, http.MethodGet, "/api/rates/abc", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = ts.do(t, http.MethodGet, "/api/rates/"+ts.node.Generate().String(), nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not_found", env.Error.Type)

	code, _ = ts.do(t, http.MethodPost, "/api/rates", map[string]any{"code": "eng", "name": "Eng", "unit_label": "hour", "unit_price": 100})
	require.Equal(t, http.StatusCreated, code)
	code, env = ts.do(t, http.MethodPost, "/api/rates", map[string]any{"code": "eng", "name": "Eng 2", "unit_label": "hour", "unit_price": 100})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "rate_code_taken", env.Error.Code)

	code, _ = ts.do(t, http.MethodGet, "/api/rates?active=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestReferencedRateCannotBeDeleted(t *testing.T) {
	ts := newTestServer(t)
	ts.seedInvoice(t)

	code, env := ts.do(t, http.MethodGet, "/api/rates", nil)
	require.Equal(t, http.StatusOK, code)
	var rates []idView
	decodeData(t, env, &rates)
	require.Len(t, rates, 1)

	code, env = ts.do(t, http.MethodDelete, "/api/rates/"+rates[0].ID, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "rate_in_use", env.Error.Code)
}

func TestInvoiceStatusRejectsPaidRegression(t *testing.T) {
	ts := newTestServer(t)
	inv := ts.seedInvoice(t)
	assert.Equal(t, "INV-2026-0001", inv.InvoiceNumber)
	assert.Equal(t, int64(20000), inv.Total)

	code, _ := ts.do(t, http.MethodPost, "/api/invoices/"+inv.ID+"/status", map[string]any{"status": "refunded"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, env := ts.do(t, http.MethodPost, "/api/invoices/"+inv.ID+"/status", map[string]any{"status": "paid"})
	require.Equal(t, http.StatusOK, code)
	var paid invoiceView
	decodeData(t, env, &paid)
	assert.Equal(t, "paid", paid.Status)

	code, env = ts.do(t, http.MethodPost, "/api/invoices/"+inv.ID+"/status", map[string]any{"status": "pending"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "invoice_paid_regression", env.Error.Code)

	code, _ = ts.do(t, http.MethodPost, "/api/invoices/"+inv.ID+"/status", map[string]any{"status": "paid"})
	assert.Equal(t, http.StatusOK, code)

	code, env = ts.do(t, http.MethodDelete, "/api/invoices/"+inv.ID, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "invoice_not_draft", env.Error.Code)
}

func TestDraftInvoiceWithBilledWorkIsKept(t *testing.T) {
	ts := newTestServer(t)
	inv := ts.seedInvoice(t)

	code, _ := ts.do(t, http.MethodPost, "/api/invoices/"+inv.ID+"/status", map[string]any{"status": "draft"})
	require.Equal(t, http.StatusOK, code)

	code, env := ts.do(t, http.MethodDelete, "/api/invoices/"+inv.ID, nil)
	assert.Equal(t, http.StatusConflict, code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "invoice_has_billed_work", env.Error.Code)

	code, env = ts.do(t, http.MethodGet, "/api/invoices/"+inv.ID, nil)
	require.Equal(t, http.StatusOK, code)
	var kept invoiceView
	decodeData(t, env, &kept)
	assert.Equal(t, "draft", kept.Status)
}

func TestWebhookRejectsOversizedBody(t *testing.T) {
	ts := newTestServer(t)

	body := bytes.Repeat([]byte("a"), maxWebhookBodyBytes+1)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
	req.Header.Set(stripeSignatureHeader, "t=1,v1=unused")
	code, env := ts.serve(t, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "payload_too_large", env.Error.Type)

	var recorded int64
	require.NoError(t, ts.db.Model(&reconcilerdomain.PaymentEvent{}).Count(&recorded).Error)
	assert.Equal(t, int64(0), recorded)
}

func TestListInvoicesRejectsBadPageToken(t *testing.T) {
	ts := newTestServer(t)
	ts.seedInvoice(t)

	code, env := ts.do(t, http.MethodGet, "/api/invoices?page_size=10", nil)
	require.Equal(t, http.StatusOK, code)
	var invoices []invoiceView
	decodeData(t, env, &invoices)
	assert.Len(t, invoices, 1)

	code, _ = ts.do(t, http.MethodGet, "/api/invoices?page_token=!!!", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestPaymentPlanLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	inv := ts.seedInvoice(t)

	code, env := ts.do(t, http.MethodPost, "/api/payment_plans", map[string]any{
		"invoice_id": inv.ID, "installments": 4, "frequency": "monthly",
	})
	require.Equal(t, http.StatusCreated, code)
	var plan planView
	decodeData(t, env, &plan)
	assert.Equal(t, int64(5000), plan.InstallmentAmount)
	assert.Equal(t, "pending_offer", plan.State)

	code, env = ts.do(t, http.MethodPost, "/api/payment_plans", map[string]any{
		"invoice_id": inv.ID, "installments": 2, "frequency": "weekly",
	})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "open_payment_plan_exists", env.Error.Code)

	code, _ = ts.do(t, http.MethodPost, "/api/payment_plans/"+plan.ID+"/accept", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = ts.do(t, http.MethodPost, "/api/payment_plans/"+plan.ID+"/accept", map[string]any{"email": "ap@example.com"})
	require.Equal(t, http.StatusOK, code)
	decodeData(t, env, &plan)
	assert.Equal(t, "https://checkout.test/cs_test", plan.CheckoutURL)
	assert.Equal(t, "pending", plan.Status)

	code, _ = ts.do(t, http.MethodPost, "/webhooks/stripe", `{"id":"evt_x"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	checkout := `{"id":"evt_checkout","type":"checkout.session.completed","created":1780000000,
		"data":{"object":{"id":"cs_test","mode":"subscription","customer":"cus_test","subscription":"sub_test",
		"metadata":{"payment_plan_id":"` + plan.ID + `"}}}}`
	for i := 0; i < 2; i++ {
		code, _ = ts.serve(t, ts.signedWebhook(t, checkout))
		require.Equal(t, http.StatusOK, code)
	}

	code, env = ts.do(t, http.MethodGet, "/api/payment_plans/"+plan.ID, nil)
	require.Equal(t, http.StatusOK, code)
	decodeData(t, env, &plan)
	assert.Equal(t, "active", plan.State)
	assert.Equal(t, 0, plan.InstallmentsPaid)

	code, env = ts.do(t, http.MethodPost, "/api/payment_plans/"+plan.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, code)
	require.True(t, *env.Changed)
	decodeData(t, env, &plan)
	assert.Equal(t, "cancel_requested", plan.State)
	assert.Equal(t, []string{"sub_test"}, ts.provider.cancelled)

	deleted := `{"id":"evt_deleted","type":"customer.subscription.deleted","created":1780000100,
		"data":{"object":{"id":"sub_test","metadata":{"payment_plan_id":"` + plan.ID + `"}}}}`
	code, _ = ts.serve(t, ts.signedWebhook(t, deleted))
	require.Equal(t, http.StatusOK, code)

	code, env = ts.do(t, http.MethodPost, "/api/payment_plans/"+plan.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, code)
	assert.False(t, *env.Changed)
	decodeData(t, env, &plan)
	assert.Equal(t, "cancelled", plan.State)

	code, env = ts.do(t, http.MethodGet, "/api/invoices/"+inv.ID+"/payment_plans", nil)
	require.Equal(t, http.StatusOK, code)
	var plans []planView
	decodeData(t, env, &plans)
	require.Len(t, plans, 1)
	assert.True(t, strings.EqualFold(plans[0].Status, "cancelled"))
}

func TestRateLimitThrottlesPerClient(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter, err := ratelimit.NewLimiter(config.Config{
		RateLimit: config.RateLimitConfig{Enabled: true, Rate: 0.01, Burst: 2},
	}, client)
	require.NoError(t, err)
	ts := newTestServer(t, func(p *ServerParams) { p.Limiter = limiter })

	for i := 0; i < 2; i++ {
		code, _ := ts.do(t, http.MethodGet, "/api/rates", nil)
		require.Equal(t, http.StatusOK, code)
	}

	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/rates", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "rate_limited")

	// The webhook endpoint has its own bucket.
	code, env := ts.serve(t, httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader("{}")))
	assert.Equal(t, http.StatusBadRequest, code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "webhook_rejected", env.Error.Type)
}

func TestCustomerEndpoints(t *testing.T) {
	ts := newTestServer(t)

	code, env := ts.do(t, http.MethodPost, "/api/customers", map[string]any{"name": "Acme", "email": "not-an-email"})
	require.Equal(t, http.StatusBadRequest, code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "invalid_email", env.Error.Errors[0].Code)

	code, env = ts.do(t, http.MethodPost, "/api/customers", map[string]any{"name": "Acme", "email": "Billing@Acme.test"})
	require.Equal(t, http.StatusCreated, code)
	var created struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	}
	decodeData(t, env, &created)
	assert.Equal(t, "billing@acme.test", created.Email)

	code, env = ts.do(t, http.MethodGet, "/api/customers/"+created.ID, nil)
	require.Equal(t, http.StatusOK, code)

	code, _ = ts.do(t, http.MethodGet, "/api/customers/"+ts.node.Generate().String(), nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = ts.do(t, http.MethodGet, "/api/customers?page_size=-1", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}
