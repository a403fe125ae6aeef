package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Campaign is a donation campaign shown on the public donation page.
// Suggested amounts are informational chips; only MinAmount constrains
// the custom-amount path.
type Campaign struct {
	ID               uint                                 `gorm:"primaryKey" json:"id"`
	Slug             string                               `gorm:"size:100;uniqueIndex" json:"slug"`
	Title            string                               `gorm:"size:200" json:"title"`
	Description      string                               `gorm:"type:text" json:"description"`
	ImageURL         string                               `gorm:"size:500" json:"image_url"`
	GoalAmount       *decimal.Decimal                     `gorm:"type:decimal(12,2)" json:"goal_amount,omitempty"`
	SuggestedAmounts datatypes.JSONSlice[decimal.Decimal] `json:"suggested_amounts"`
	MinAmount        decimal.Decimal                      `gorm:"type:decimal(10,2)" json:"min_amount"`
	Active           bool                                 `gorm:"index" json:"active"`
	CreatedAt        time.Time                            `json:"created_at"`
	UpdatedAt        time.Time                            `json:"updated_at"`
}
