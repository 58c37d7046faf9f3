// Package gateway is the payment-provider boundary. The core consumes
// three operations (create intent, retrieve intent, create refund) and
// interprets intent status; everything else about the provider stays
// behind this package.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"

	"bkoda/internal/logger"
)

var ErrClientInitFailed = errors.New("failed to initialize Stripe client")

// Intent is the provider-neutral view of a payment intent. Amounts are
// integer minor-currency units.
type Intent struct {
	ID           string
	Status       string
	AmountMinor  int64
	Currency     string
	ClientSecret string
	CardBrand    string
	CardLast4    string
}

// Succeeded reports a settled payment.
func (i *Intent) Succeeded() bool {
	return i.Status == string(stripe.PaymentIntentStatusSucceeded)
}

// Processing reports a payment the gateway has not settled yet; the
// caller may retry the read later.
func (i *Intent) Processing() bool {
	switch stripe.PaymentIntentStatus(i.Status) {
	case stripe.PaymentIntentStatusProcessing,
		stripe.PaymentIntentStatusRequiresAction,
		stripe.PaymentIntentStatusRequiresConfirmation,
		stripe.PaymentIntentStatusRequiresPaymentMethod:
		return true
	}
	return false
}

type Refund struct {
	ID          string
	Status      string
	AmountMinor int64
}

func (r *Refund) Succeeded() bool {
	return r.Status == string(stripe.RefundStatusSucceeded)
}

// Stripe implements the gateway operations on stripe-go.
type Stripe struct {
	client *client.API
	log    *logger.Logger
}

func NewStripe(secretKey string, log *logger.Logger) (*Stripe, error) {
	if secretKey == "" {
		log.Error("STRIPE", "STRIPE_SECRET_KEY environment variable not set")
		return nil, ErrClientInitFailed
	}

	sc := client.New(secretKey, nil)
	if sc == nil {
		log.Error("STRIPE", "Failed to initialize Stripe client")
		return nil, ErrClientInitFailed
	}

	log.Info("STRIPE", "Stripe client initialized successfully")
	return &Stripe{client: sc, log: log}, nil
}

func (s *Stripe) CreateIntent(ctx context.Context, amountMinor int64, currency string, metadata map[string]string) (*Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountMinor),
		Currency: stripe.String(currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	intent, err := s.client.PaymentIntents.New(params)
	if err != nil {
		s.log.Error("STRIPE", fmt.Sprintf("Failed to create payment intent: %v", err))
		return nil, err
	}

	s.log.Info("STRIPE", fmt.Sprintf("Created payment intent %s (%d %s)", intent.ID, amountMinor, currency))
	return fromStripeIntent(intent), nil
}

func (s *Stripe) RetrieveIntent(ctx context.Context, id string) (*Intent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	intent, err := s.client.PaymentIntents.Get(id, params)
	if err != nil {
		s.log.Error("STRIPE", fmt.Sprintf("Failed to retrieve payment intent %s: %v", id, err))
		return nil, err
	}
	return fromStripeIntent(intent), nil
}

func (s *Stripe) CreateRefund(ctx context.Context, intentID string, amountMinor int64, metadata map[string]string) (*Refund, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(intentID),
		Amount:        stripe.Int64(amountMinor),
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	refund, err := s.client.Refunds.New(params)
	if err != nil {
		s.log.Error("STRIPE", fmt.Sprintf("Failed to create refund for intent %s: %v", intentID, err))
		return nil, err
	}

	s.log.Info("STRIPE", fmt.Sprintf("Refund %s for intent %s is %s", refund.ID, intentID, refund.Status))
	return &Refund{
		ID:          refund.ID,
		Status:      string(refund.Status),
		AmountMinor: refund.Amount,
	}, nil
}

func fromStripeIntent(intent *stripe.PaymentIntent) *Intent {
	out := &Intent{
		ID:           intent.ID,
		Status:       string(intent.Status),
		AmountMinor:  intent.Amount,
		Currency:     string(intent.Currency),
		ClientSecret: intent.ClientSecret,
	}
	if intent.LatestCharge != nil && intent.LatestCharge.PaymentMethodDetails != nil &&
		intent.LatestCharge.PaymentMethodDetails.Card != nil {
		out.CardBrand = string(intent.LatestCharge.PaymentMethodDetails.Card.Brand)
		out.CardLast4 = intent.LatestCharge.PaymentMethodDetails.Card.Last4
	}
	return out
}
