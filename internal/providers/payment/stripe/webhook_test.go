package stripe

import (
	"testing"
	"time"

	paymentdomain "github.com/smallbiznis/clientbilling/internal/providers/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const testSecret = "whsec_test_secret"

func signed(t *testing.T, payload string) string {
	t.Helper()
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testSecret,
		Timestamp: time.Now(),
	})
	return sp.Header
}

func TestParseCheckoutCompleted(t *testing.T) {
	p := New(Config{WebhookSecret: testSecret}, zap.NewNop())
	payload := `{"id":"evt_1","type":"checkout.session.completed","created":1760000000,
		"data":{"object":{"id":"cs_1","mode":"subscription","customer":"cus_1","subscription":"sub_1",
		"metadata":{"payment_plan_id":"12345"}}}}`

	events, err := p.ParseWebhook([]byte(payload), signed(t, payload))
	require.NoError(t, err)
	require.Len(t, events, 1)

	evt := events[0]
	assert.Equal(t, "evt_1", evt.ID)
	assert.Equal(t, paymentdomain.EventCheckoutCompleted, evt.Type)
	assert.Equal(t, "subscription", evt.Mode)
	assert.Equal(t, "sub_1", evt.SubscriptionID)
	assert.Equal(t, "12345", evt.PlanID)
	assert.Equal(t, "stripe", evt.Provider)
}

func TestParseInvoicePaidReadsParentSubscription(t *testing.T) {
	p := New(Config{WebhookSecret: testSecret}, zap.NewNop())
	payload := `{"id":"evt_2","type":"invoice.paid","created":1760000000,
		"data":{"object":{"id":"in_1","billing_reason":"subscription_cycle","customer":{"id":"cus_1"},
		"parent":{"subscription_details":{"subscription":"sub_9","metadata":{"payment_plan_id":"77"}}}}}}`

	events, err := p.ParseWebhook([]byte(payload), signed(t, payload))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, paymentdomain.EventInvoicePaid, events[0].Type)
	assert.Equal(t, "sub_9", events[0].SubscriptionID)
	assert.Equal(t, "cus_1", events[0].CustomerID)
	assert.Equal(t, "77", events[0].PlanID)
	assert.Equal(t, "subscription_cycle", events[0].BillingReason)
}

func TestParseRejectsBadSignature(t *testing.T) {
	p := New(Config{WebhookSecret: testSecret}, zap.NewNop())
	payload := `{"id":"evt_3","type":"invoice.paid","data":{"object":{}}}`

	_, err := p.ParseWebhook([]byte(payload), "t=1,v1=deadbeef")
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)

	_, err = p.ParseWebhook([]byte(payload), "")
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)
}

func TestParseWithoutSecretAcceptsUnsigned(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	p := New(Config{}, zap.New(core))
	payload := `{"id":"evt_4","type":"customer.subscription.deleted","created":1760000000,
		"data":{"object":{"id":"sub_4","customer":"cus_4","metadata":{"payment_plan_id":"5"}}}}`

	events, err := p.ParseWebhook([]byte(payload), "")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, paymentdomain.EventSubscriptionDeleted, events[0].Type)
	assert.Equal(t, "sub_4", events[0].SubscriptionID)
	assert.Equal(t, "5", events[0].PlanID)

	warned := logs.FilterMessageSnippet("accepting unverified payload").All()
	require.Len(t, warned, 1)
	assert.Equal(t, int64(len(payload)), warned[0].ContextMap()["payload_bytes"])
}

func TestParseMalformedPayload(t *testing.T) {
	p := New(Config{}, zap.NewNop())
	_, err := p.ParseWebhook([]byte(`{not json`), "")
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidPayload)

	_, err = p.ParseWebhook([]byte(`{"type":"invoice.paid"}`), "")
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidPayload)
}

func TestParseUnknownTypeIsIgnored(t *testing.T) {
	p := New(Config{}, zap.NewNop())
	events, err := p.ParseWebhook([]byte(`{"id":"evt_5","type":"charge.refunded","data":{"object":{}}}`), "")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, paymentdomain.EventIgnored, events[0].Type)
	assert.Equal(t, "charge.refunded", events[0].RawType)
}

func TestOutboundCallsRequireSecretKey(t *testing.T) {
	p := New(Config{}, zap.NewNop())
	_, err := p.CreateCustomer(t.Context(), paymentdomain.CustomerRequest{Email: "a@b.c"})
	assert.ErrorIs(t, err, paymentdomain.ErrNotConfigured)
	assert.ErrorIs(t, p.CancelSubscription(t.Context(), "sub_1"), paymentdomain.ErrNotConfigured)
}
