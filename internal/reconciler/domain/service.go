package domain

import (
	"context"
	"errors"

	paymentdomain "github.com/smallbiznis/clientbilling/internal/providers/payment/domain"
)

// Outcome is how one provider event was handled.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	// OutcomeDropped events were valid but matched no plan or no legal
	// transition. They are recorded so redeliveries stay no-ops.
	OutcomeDropped Outcome = "dropped"
)

type Result struct {
	EventID string  `json:"event_id"`
	Type    string  `json:"type"`
	Outcome Outcome `json:"outcome"`
	Reason  string  `json:"reason,omitempty"`
}

type Service interface {
	// HandleWebhook verifies and applies one provider delivery. Verification
	// failures return an error before any state is touched.
	HandleWebhook(ctx context.Context, payload []byte, signature string) ([]Result, error)
	// Apply runs already-verified events, each in its own transaction. The
	// returned error only reports storage failures, which the provider
	// should retry.
	Apply(ctx context.Context, events ...paymentdomain.Event) ([]Result, error)
}

var ErrNotConfigured = errors.New("webhook_parser_not_configured")
