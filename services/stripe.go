package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

var (
	ErrMissingSignature = errors.New("missing webhook signature header")
	ErrSignatureInvalid = errors.New("invalid webhook signature")
)

// StripeService wraps the payment processor calls used by the donation flow:
// intent creation and webhook verification. The secret key is passed per call
// because the active environment is read from stored settings, not held here.
// Each call builds its own client around that key; the package-global key is
// never written, so concurrent requests cannot see each other's environment.
type StripeService struct {
	currency  string
	newClient func(secretKey string) *stripe.Client
}

func NewStripeService(currency string) *StripeService {
	if currency == "" {
		currency = "brl"
	}
	return &StripeService{
		currency: currency,
		newClient: func(secretKey string) *stripe.Client {
			return stripe.NewClient(secretKey)
		},
	}
}

// MinorUnits converts a two-decimal currency amount to the processor's
// integer cent amount, rounding half to even. Never truncates.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).RoundBank(0).IntPart()
}

// CreatePaymentIntent creates an intent with automatic payment methods and
// the donation id / campaign title attached as metadata so webhook events can
// be correlated back to the donation row.
func (s *StripeService) CreatePaymentIntent(ctx context.Context, secretKey string, amount decimal.Decimal, donationID, campaignTitle, donorEmail string) (*stripe.PaymentIntent, error) {
	sc := s.newClient(secretKey)

	params := &stripe.PaymentIntentCreateParams{
		Amount:   stripe.Int64(MinorUnits(amount)),
		Currency: stripe.String(s.currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentCreateAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		ReceiptEmail: stripe.String(donorEmail),
		Metadata: map[string]string{
			"donation_id":    donationID,
			"campaign_title": campaignTitle,
		},
	}

	pi, err := sc.V1PaymentIntents.Create(ctx, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) {
			return nil, errors.New(stripeErr.Msg)
		}
		return nil, fmt.Errorf("payment intent creation failed: %w", err)
	}
	return pi, nil
}

// VerifyWebhook checks the event signature against the active environment's
// signing secret and returns the parsed event. A missing or bad signature is
// rejected outright.
func (s *StripeService) VerifyWebhook(payload []byte, sigHeader, secret string) (stripe.Event, error) {
	if sigHeader == "" {
		return stripe.Event{}, ErrMissingSignature
	}
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	return event, nil
}
