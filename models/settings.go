package models

import "errors"

var ErrMissingStripeKey = errors.New("stripe secret key not configured for the active environment")

// StripeSettings is a singleton row holding the processor key pairs for the
// test and live environments. The server alone decides which environment is
// active (LiveMode); callers never choose.
type StripeSettings struct {
	ID                 uint   `gorm:"primaryKey" json:"id"`
	TestPublishableKey string `gorm:"size:200" json:"test_publishable_key"`
	TestSecretKey      string `gorm:"size:200" json:"test_secret_key"`
	TestWebhookSecret  string `gorm:"size:200" json:"test_webhook_secret"`
	LivePublishableKey string `gorm:"size:200" json:"live_publishable_key"`
	LiveSecretKey      string `gorm:"size:200" json:"live_secret_key"`
	LiveWebhookSecret  string `gorm:"size:200" json:"live_webhook_secret"`
	LiveMode           bool   `json:"live_mode"`
}

// ActiveSecretKey fails closed: no key for the active environment means no
// payment intent can ever be created.
func (s *StripeSettings) ActiveSecretKey() (string, error) {
	key := s.TestSecretKey
	if s.LiveMode {
		key = s.LiveSecretKey
	}
	if key == "" {
		return "", ErrMissingStripeKey
	}
	return key, nil
}

func (s *StripeSettings) ActivePublishableKey() (string, error) {
	key := s.TestPublishableKey
	if s.LiveMode {
		key = s.LivePublishableKey
	}
	if key == "" {
		return "", ErrMissingStripeKey
	}
	return key, nil
}

func (s *StripeSettings) ActiveWebhookSecret() string {
	if s.LiveMode {
		return s.LiveWebhookSecret
	}
	return s.TestWebhookSecret
}
