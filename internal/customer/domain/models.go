package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Customer is the billed party. Invoices, work entries and payment plans
// reference it by id; notifications resolve the email address here.
type Customer struct {
	ID        snowflake.ID      `gorm:"primaryKey" json:"id"`
	Name      string            `gorm:"type:text;not null" json:"name"`
	Email     string            `gorm:"type:text;not null;index" json:"email"`
	Currency  string            `gorm:"type:text" json:"currency,omitempty"`
	Metadata  datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time         `gorm:"not null" json:"updated_at"`
}

func (Customer) TableName() string { return "customers" }
