package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("customer_id", "456"),
		attribute.String("invoice_number", "INV-2026-0001"),
		attribute.String("event_type", "invoice.paid"),
		attribute.String("provider", "stripe"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "customer_id" || attr.Key == "invoice_number" {
			t.Fatalf("expected %s to be dropped", attr.Key)
		}
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordInvoiceGenerated(context.Background(), "work")
	m.RecordPlanTransition(context.Background(), "pending", "active")
	m.RecordWebhookEvent(context.Background(), "stripe", "invoice.paid", "applied")
}

func TestNoopMetricsRecord(t *testing.T) {
	m := NewNoop()
	if m == nil {
		t.Fatalf("expected noop metrics")
	}
	m.RecordInvoiceStatus(context.Background(), "overdue", 2)
	m.RecordNotification(context.Background(), "email", "invoice_created", "sent")
}
