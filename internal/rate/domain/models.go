// Package domain holds the rate catalog: named unit prices used to value work entries.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Rate is a named unit price. Once a work entry references it the price is
// frozen; line items snapshot the price at billing time anyway.
type Rate struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	Code      string       `json:"code" gorm:"type:varchar(128);not null;uniqueIndex:ux_billing_rates_code"`
	Name      string       `json:"name" gorm:"type:text;not null"`
	UnitLabel string       `json:"unit_label" gorm:"type:text;not null"`
	UnitPrice int64        `json:"unit_price" gorm:"not null"`
	Currency  string       `json:"currency" gorm:"type:varchar(3);not null"`
	Active    bool         `json:"active" gorm:"not null;default:true"`
	CreatedAt time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time    `json:"updated_at" gorm:"not null"`
}

func (Rate) TableName() string { return "billing_rates" }
