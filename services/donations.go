package services

import (
	"encoding/json"
	"errors"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	"gorm.io/gorm"

	"github.com/diocesedigital/portal-api/models"
)

var (
	ErrCampaignNotFound   = errors.New("campaign not found or inactive")
	ErrAmountBelowMinimum = errors.New("amount is below the campaign minimum")
	ErrMissingDonorFields = errors.New("donor name, email and phone are required")
	ErrInvalidPhone       = errors.New("phone must have at least 10 digits")
	ErrDonationNotFound   = errors.New("donation not found")
)

// DonationService owns the donation record lifecycle. Every transition out of
// pending is a conditional update keyed on the current status, so a late
// webhook can never overwrite a refund and replayed events are no-ops.
type DonationService struct {
	db *gorm.DB
}

func NewDonationService(db *gorm.DB) *DonationService {
	return &DonationService{db: db}
}

type CreateDonationInput struct {
	CampaignSlug string
	DonorName    string
	DonorEmail   string
	DonorPhone   string
	Amount       decimal.Decimal
}

// StatusChange reports a transition applied by a webhook event or the
// thank-you page, for broadcasting to status subscribers.
type StatusChange struct {
	DonationID      string `json:"donation_id"`
	Status          string `json:"status"`
	PaymentIntentID string `json:"payment_intent_id,omitempty"`
}

func digitCount(phone string) int {
	n := 0
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

// Create validates the submission against the owning campaign and inserts a
// pending row. The payment intent is requested by the caller afterwards;
// exactly one pending row exists before that request is made.
func (s *DonationService) Create(input CreateDonationInput) (*models.Donation, error) {
	var campaign models.Campaign
	if err := s.db.Where("slug = ? AND active = ?", input.CampaignSlug, true).First(&campaign).Error; err != nil {
		return nil, ErrCampaignNotFound
	}

	if strings.TrimSpace(input.DonorName) == "" ||
		strings.TrimSpace(input.DonorEmail) == "" ||
		strings.TrimSpace(input.DonorPhone) == "" {
		return nil, ErrMissingDonorFields
	}
	if digitCount(input.DonorPhone) < 10 {
		return nil, ErrInvalidPhone
	}
	if input.Amount.LessThan(campaign.MinAmount) {
		return nil, ErrAmountBelowMinimum
	}

	donation := models.Donation{
		ID:         uuid.NewString(),
		CampaignID: campaign.ID,
		Campaign:   campaign,
		DonorName:  strings.TrimSpace(input.DonorName),
		DonorEmail: strings.TrimSpace(input.DonorEmail),
		DonorPhone: strings.TrimSpace(input.DonorPhone),
		Amount:     input.Amount,
		Status:     models.StatusPending,
	}
	if err := s.db.Omit("Campaign").Create(&donation).Error; err != nil {
		return nil, err
	}
	return &donation, nil
}

// MarkAbandoned is the compensating action when intent creation fails after
// the pending row was inserted.
func (s *DonationService) MarkAbandoned(donationID string) error {
	return s.db.Model(&models.Donation{}).
		Where("id = ? AND status = ?", donationID, models.StatusPending).
		Update("status", models.StatusAbandoned).Error
}

// Complete applies pending -> completed and stores the processor references.
// Returns false when the row was not pending anymore (replay or late event).
func (s *DonationService) Complete(donationID, intentID, chargeID, receiptURL string) (bool, error) {
	updates := map[string]interface{}{
		"status":            models.StatusCompleted,
		"payment_intent_id": intentID,
	}
	if chargeID != "" {
		updates["charge_id"] = chargeID
	}
	if receiptURL != "" {
		updates["receipt_url"] = receiptURL
	}
	res := s.db.Model(&models.Donation{}).
		Where("id = ? AND status = ?", donationID, models.StatusPending).
		Updates(updates)
	return res.RowsAffected > 0, res.Error
}

// Fail applies pending -> failed.
func (s *DonationService) Fail(donationID, intentID string) (bool, error) {
	res := s.db.Model(&models.Donation{}).
		Where("id = ? AND status = ?", donationID, models.StatusPending).
		Updates(map[string]interface{}{
			"status":            models.StatusFailed,
			"payment_intent_id": intentID,
		})
	return res.RowsAffected > 0, res.Error
}

// Refund locates the donation by its stored payment intent and applies
// completed -> refunded. An unknown intent id is a no-op.
func (s *DonationService) Refund(intentID string) (*StatusChange, error) {
	if intentID == "" {
		return nil, nil
	}
	var donation models.Donation
	if err := s.db.Where("payment_intent_id = ?", intentID).First(&donation).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	res := s.db.Model(&models.Donation{}).
		Where("id = ? AND status = ?", donation.ID, models.StatusCompleted).
		Update("status", models.StatusRefunded)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &StatusChange{DonationID: donation.ID, Status: models.StatusRefunded, PaymentIntentID: intentID}, nil
}

// GetWithCampaign loads a donation joined with its campaign.
func (s *DonationService) GetWithCampaign(donationID string) (*models.Donation, error) {
	var donation models.Donation
	if err := s.db.Preload("Campaign").Where("id = ?", donationID).First(&donation).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDonationNotFound
		}
		return nil, err
	}
	return &donation, nil
}

// List returns donations for the admin panel, newest first, optionally
// filtered by status and campaign.
func (s *DonationService) List(status string, campaignID uint, limit, offset int) ([]models.Donation, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query := s.db.Model(&models.Donation{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if campaignID != 0 {
		query = query.Where("campaign_id = ?", campaignID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var donations []models.Donation
	err := query.Preload("Campaign").
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&donations).Error
	return donations, total, err
}

// ApplyEvent dispatches a verified processor event against the store. A
// donation id absent from metadata, or an unknown payment intent, is a logged
// no-op: the processor still gets its acknowledgement, and replaying the same
// event simply re-applies a terminal state that is already set.
func (s *DonationService) ApplyEvent(event stripe.Event) (*StatusChange, error) {
	switch event.Type {
	case "payment_intent.succeeded":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, err
		}
		donationID := pi.Metadata["donation_id"]
		if donationID == "" {
			log.Printf("payment_intent.succeeded without donation_id metadata: %s", pi.ID)
			return nil, nil
		}
		var chargeID, receiptURL string
		if pi.LatestCharge != nil {
			chargeID = pi.LatestCharge.ID
			receiptURL = pi.LatestCharge.ReceiptURL
		}
		applied, err := s.Complete(donationID, pi.ID, chargeID, receiptURL)
		if err != nil || !applied {
			return nil, err
		}
		return &StatusChange{DonationID: donationID, Status: models.StatusCompleted, PaymentIntentID: pi.ID}, nil

	case "payment_intent.payment_failed":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, err
		}
		donationID := pi.Metadata["donation_id"]
		if donationID == "" {
			log.Printf("payment_intent.payment_failed without donation_id metadata: %s", pi.ID)
			return nil, nil
		}
		applied, err := s.Fail(donationID, pi.ID)
		if err != nil || !applied {
			return nil, err
		}
		return &StatusChange{DonationID: donationID, Status: models.StatusFailed, PaymentIntentID: pi.ID}, nil

	case "charge.refunded":
		var charge stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return nil, err
		}
		var intentID string
		if charge.PaymentIntent != nil {
			intentID = charge.PaymentIntent.ID
		}
		return s.Refund(intentID)

	default:
		log.Printf("Ignoring webhook event type: %s", event.Type)
		return nil, nil
	}
}
