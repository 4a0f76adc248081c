package stripe

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	paymentdomain "github.com/smallbiznis/clientbilling/internal/providers/payment/domain"
	stripeapi "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"
)

// ParseWebhook verifies the Stripe-Signature header when a webhook secret
// is configured and decodes the event. Unknown event types come back as
// EventIgnored.
func (p *Provider) ParseWebhook(payload []byte, signatureHeader string) ([]paymentdomain.Event, error) {
	var event stripeEvent
	if p.webhookSecret != "" {
		verified, err := webhook.ConstructEventWithOptions(payload, signatureHeader, p.webhookSecret, webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		})
		if err != nil {
			if isSignatureError(err) {
				return nil, paymentdomain.ErrInvalidSignature
			}
			return nil, paymentdomain.ErrInvalidPayload
		}
		event = stripeEvent{
			ID:      verified.ID,
			Type:    string(verified.Type),
			Created: verified.Created,
		}
		if verified.Data != nil {
			event.Data.Object = verified.Data.Raw
		}
	} else {
		p.log.Warn("stripe webhook secret not configured, accepting unverified payload",
			zap.Int("payload_bytes", len(payload)),
		)
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, paymentdomain.ErrInvalidPayload
		}
	}

	if strings.TrimSpace(event.ID) == "" {
		return nil, paymentdomain.ErrInvalidPayload
	}

	parsed, err := parseEvent(event)
	if err != nil {
		return nil, err
	}
	parsed.Payload = payload
	return []paymentdomain.Event{parsed}, nil
}

type stripeEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

// expandableID accepts either a bare id or an expanded object.
type expandableID string

func (e *expandableID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*e = ""
		return nil
	}
	if data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*e = expandableID(id)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*e = expandableID(obj.ID)
	return nil
}

type stripeCheckoutSession struct {
	ID                string         `json:"id"`
	Mode              string         `json:"mode"`
	Customer          expandableID   `json:"customer"`
	Subscription      expandableID   `json:"subscription"`
	ClientReferenceID string         `json:"client_reference_id"`
	Created           int64          `json:"created"`
	Metadata          map[string]any `json:"metadata"`
}

type stripeInvoice struct {
	ID            string         `json:"id"`
	BillingReason string         `json:"billing_reason"`
	Customer      expandableID   `json:"customer"`
	Subscription  expandableID   `json:"subscription"`
	Created       int64          `json:"created"`
	Metadata      map[string]any `json:"metadata"`
	Parent        *struct {
		SubscriptionDetails *struct {
			Subscription expandableID   `json:"subscription"`
			Metadata     map[string]any `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

type stripeSubscription struct {
	ID       string         `json:"id"`
	Customer expandableID   `json:"customer"`
	Created  int64          `json:"created"`
	Metadata map[string]any `json:"metadata"`
}

func parseEvent(event stripeEvent) (paymentdomain.Event, error) {
	out := paymentdomain.Event{
		ID:       event.ID,
		Provider: providerName,
		RawType:  strings.TrimSpace(event.Type),
		Type:     paymentdomain.EventIgnored,
	}

	switch out.RawType {
	case "checkout.session.completed":
		var session stripeCheckoutSession
		if err := json.Unmarshal(event.Data.Object, &session); err != nil {
			return out, paymentdomain.ErrInvalidPayload
		}
		out.Type = paymentdomain.EventCheckoutCompleted
		out.Mode = session.Mode
		out.SubscriptionID = string(session.Subscription)
		out.CustomerID = string(session.Customer)
		out.PlanID = readMetadataValue(session.Metadata, paymentdomain.MetadataPlanID)
		if out.PlanID == "" {
			out.PlanID = strings.TrimSpace(session.ClientReferenceID)
		}
		out.OccurredAt = timestamp(session.Created, event.Created)
	case "invoice.paid":
		var invoice stripeInvoice
		if err := json.Unmarshal(event.Data.Object, &invoice); err != nil {
			return out, paymentdomain.ErrInvalidPayload
		}
		out.Type = paymentdomain.EventInvoicePaid
		out.BillingReason = invoice.BillingReason
		out.CustomerID = string(invoice.Customer)
		out.SubscriptionID = string(invoice.Subscription)
		out.PlanID = readMetadataValue(invoice.Metadata, paymentdomain.MetadataPlanID)
		if invoice.Parent != nil && invoice.Parent.SubscriptionDetails != nil {
			details := invoice.Parent.SubscriptionDetails
			if out.SubscriptionID == "" {
				out.SubscriptionID = string(details.Subscription)
			}
			if out.PlanID == "" {
				out.PlanID = readMetadataValue(details.Metadata, paymentdomain.MetadataPlanID)
			}
		}
		out.OccurredAt = timestamp(invoice.Created, event.Created)
	case "customer.subscription.deleted":
		var sub stripeSubscription
		if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
			return out, paymentdomain.ErrInvalidPayload
		}
		out.Type = paymentdomain.EventSubscriptionDeleted
		out.SubscriptionID = sub.ID
		out.CustomerID = string(sub.Customer)
		out.PlanID = readMetadataValue(sub.Metadata, paymentdomain.MetadataPlanID)
		out.OccurredAt = timestamp(0, event.Created)
	default:
		out.OccurredAt = timestamp(0, event.Created)
	}
	return out, nil
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}

func asStripeError(err error, target **stripeapi.Error) bool {
	return errors.As(err, target)
}

func timestamp(primary int64, fallback int64) time.Time {
	value := primary
	if value == 0 {
		value = fallback
	}
	if value == 0 {
		return time.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}

func readMetadataValue(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	value, ok := metadata[key]
	if !ok {
		return ""
	}
	switch cast := value.(type) {
	case string:
		return strings.TrimSpace(cast)
	case float64:
		if cast == 0 {
			return ""
		}
		return strconv.FormatInt(int64(cast), 10)
	case json.Number:
		return cast.String()
	}
	return ""
}
