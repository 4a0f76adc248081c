package stripe

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	paymentdomain "github.com/smallbiznis/clientbilling/internal/providers/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripeapi "github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"
)

type capturedRequest struct {
	path        string
	form        map[string]string
	idempotency string
}

func newStubbedProvider(t *testing.T, responses map[string]string) (*Provider, func() []capturedRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		seen []capturedRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form := map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		mu.Lock()
		seen = append(seen, capturedRequest{path: r.URL.Path, form: form, idempotency: r.Header.Get("Idempotency-Key")})
		mu.Unlock()

		body, ok := responses[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","code":"resource_missing","message":"missing"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	backend := stripeapi.GetBackendWithConfig(stripeapi.APIBackend, &stripeapi.BackendConfig{
		URL:               stripeapi.String(srv.URL),
		MaxNetworkRetries: stripeapi.Int64(0),
	})
	p := NewWithBackends(Config{SecretKey: "sk_test_123"}, zap.NewNop(), &stripeapi.Backends{
		API:     backend,
		Connect: backend,
		Uploads: backend,
	})
	return p, func() []capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedRequest(nil), seen...)
	}
}

func TestCheckoutFlowRequests(t *testing.T) {
	p, requests := newStubbedProvider(t, map[string]string{
		"/v1/customers":         `{"id":"cus_123","object":"customer"}`,
		"/v1/prices":            `{"id":"price_123","object":"price"}`,
		"/v1/checkout/sessions": `{"id":"cs_123","object":"checkout.session","url":"https://checkout.example/cs_123"}`,
	})
	ctx := t.Context()

	customerID, err := p.CreateCustomer(ctx, paymentdomain.CustomerRequest{
		Email:    "ops@acme.test",
		Name:     "Acme",
		Metadata: map[string]string{"customer_id": "7"},
	})
	require.NoError(t, err)
	assert.Equal(t, "cus_123", customerID)

	priceID, err := p.CreateRecurringPrice(ctx, paymentdomain.PriceRequest{
		Currency:      "USD",
		UnitAmount:    3334,
		Interval:      paymentdomain.IntervalWeek,
		IntervalCount: 2,
		ProductName:   "Invoice payment plan",
	})
	require.NoError(t, err)
	assert.Equal(t, "price_123", priceID)

	session, err := p.CreateCheckoutSession(ctx, paymentdomain.CheckoutRequest{
		CustomerID:     customerID,
		PriceID:        priceID,
		SuccessURL:     "https://portal.example/ok",
		CancelURL:      "https://portal.example/cancel",
		IdempotencyKey: "plan-1-checkout",
		Metadata:       map[string]string{paymentdomain.MetadataPlanID: "1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_123", session.ID)
	assert.Equal(t, "https://checkout.example/cs_123", session.URL)

	got := requests()
	require.Len(t, got, 3)
	assert.Equal(t, "ops@acme.test", got[0].form["email"])
	assert.Equal(t, "7", got[0].form["metadata[customer_id]"])
	assert.Equal(t, "usd", got[1].form["currency"])
	assert.Equal(t, "3334", got[1].form["unit_amount"])
	assert.Equal(t, "week", got[1].form["recurring[interval]"])
	assert.Equal(t, "2", got[1].form["recurring[interval_count]"])
	assert.Equal(t, "subscription", got[2].form["mode"])
	assert.Equal(t, "1", got[2].form["subscription_data[metadata][payment_plan_id]"])
	assert.Equal(t, "plan-1-checkout", got[2].idempotency)
}

func TestCancelMissingSubscriptionIsNotAnError(t *testing.T) {
	p, _ := newStubbedProvider(t, map[string]string{})
	assert.NoError(t, p.CancelSubscription(t.Context(), "sub_gone"))
}
