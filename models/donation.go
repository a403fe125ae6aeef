package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Donation statuses. A donation starts as pending and moves to exactly one
// of completed, failed or abandoned. refunded is reachable only from
// completed, via a refund event from the payment processor.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusRefunded  = "refunded"
	StatusAbandoned = "abandoned"
)

type Donation struct {
	ID              string          `gorm:"primaryKey;size:36" json:"id"`
	CampaignID      uint            `gorm:"index" json:"campaign_id"`
	Campaign        Campaign        `json:"campaign"`
	DonorName       string          `gorm:"size:200" json:"donor_name"`
	DonorEmail      string          `gorm:"size:200" json:"donor_email"`
	DonorPhone      string          `gorm:"size:30" json:"donor_phone"`
	Amount          decimal.Decimal `gorm:"type:decimal(10,2)" json:"amount"`
	Status          string          `gorm:"size:20;index" json:"status"`
	PaymentIntentID string          `gorm:"size:100;index" json:"payment_intent_id,omitempty"`
	ChargeID        string          `gorm:"size:100" json:"charge_id,omitempty"`
	ReceiptURL      string          `gorm:"size:500" json:"receipt_url,omitempty"`
	CreatedAt       time.Time       `gorm:"index" json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}
