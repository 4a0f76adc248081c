// Package domain holds the webhook reconciliation ledger.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// PaymentEvent records a provider event that has been applied. The unique
// (provider, event_id) pair is what makes delivery at-least-once safe.
type PaymentEvent struct {
	ID          snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider    string         `json:"provider" gorm:"type:varchar(32);not null;uniqueIndex:ux_payment_events_provider_event,priority:1"`
	EventID     string         `json:"event_id" gorm:"type:varchar(255);not null;uniqueIndex:ux_payment_events_provider_event,priority:2"`
	EventType   string         `json:"event_type" gorm:"type:varchar(128);not null"`
	PlanID      *snowflake.ID  `json:"plan_id,omitempty" gorm:"index"`
	Outcome     string         `json:"outcome" gorm:"type:varchar(32);not null"`
	Payload     datatypes.JSON `json:"payload,omitempty"`
	ReceivedAt  time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt time.Time      `json:"processed_at" gorm:"not null"`
}

func (PaymentEvent) TableName() string { return "payment_events" }
