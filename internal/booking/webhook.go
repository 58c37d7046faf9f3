package booking

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// WebhookError classifies webhook failures so the HTTP layer can pick a
// status code and a safe public message.
type WebhookError struct {
	Category      string // "configuration", "validation", "processing"
	StatusCode    int
	PublicError   string // safe to expose to clients
	InternalError string // detailed error for logs only
	OriginalErr   error
}

func (e *WebhookError) Error() string {
	return e.InternalError
}

// HandleStripeWebhook verifies and dispatches a Stripe event.
// payment_intent.succeeded confirms the booking, payment_intent
// .payment_failed records the failure; everything else is ignored.
func (s *Service) HandleStripeWebhook(r *http.Request, webhookSecret string) error {
	ctx := r.Context()

	if webhookSecret == "" {
		s.logger.Error("WEBHOOK", "Stripe webhook secret is not configured")
		return &WebhookError{
			Category:      "configuration",
			StatusCode:    http.StatusInternalServerError,
			PublicError:   "Webhook processing error",
			InternalError: "Stripe webhook secret is not configured",
		}
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		s.logger.Error("WEBHOOK", fmt.Sprintf("Failed to read webhook payload: %v", err))
		return &WebhookError{
			Category:      "validation",
			StatusCode:    http.StatusBadRequest,
			PublicError:   "Invalid webhook payload",
			InternalError: fmt.Sprintf("Failed to read webhook payload: %v", err),
			OriginalErr:   err,
		}
	}

	opts := webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	}
	event, err := webhook.ConstructEventWithOptions(payload, r.Header.Get("Stripe-Signature"), webhookSecret, opts)
	if err != nil {
		var errorCategory, errorMessage string
		if stripeErr, ok := err.(*stripe.Error); ok {
			switch stripeErr.Code {
			case "signature_verification_failed":
				errorCategory = "validation"
				errorMessage = "Webhook signature verification failed"
			default:
				errorCategory = "processing"
				errorMessage = "Stripe API error"
			}
		} else {
			errorCategory = "validation"
			errorMessage = "Invalid webhook signature"
		}

		s.logger.Error("WEBHOOK", fmt.Sprintf("%s: %v", errorMessage, err))
		return &WebhookError{
			Category:      errorCategory,
			StatusCode:    http.StatusBadRequest,
			PublicError:   errorMessage,
			InternalError: fmt.Sprintf("%s: %v", errorMessage, err),
			OriginalErr:   err,
		}
	}

	s.logger.Info("WEBHOOK", fmt.Sprintf("Processing Stripe webhook event: %s", event.Type))

	switch event.Type {
	case "payment_intent.succeeded":
		intent, whErr := unmarshalIntent(event.Data.Raw)
		if whErr != nil {
			s.logger.Error("WEBHOOK", whErr.InternalError)
			return whErr
		}
		bookingID, exists := intent.Metadata["booking_id"]
		if !exists {
			s.logger.Error("WEBHOOK", "Payment intent has no booking_id in metadata")
			return &WebhookError{
				Category:      "processing",
				StatusCode:    http.StatusBadRequest,
				PublicError:   "Invalid payment intent data",
				InternalError: "Payment intent has no booking_id in metadata",
			}
		}
		if err := s.ConfirmCardPayment(ctx, bookingID, intent.ID); err != nil {
			s.logger.Error("WEBHOOK", fmt.Sprintf("Failed to confirm booking %s: %v", bookingID, err))
			return &WebhookError{
				Category:      "processing",
				StatusCode:    http.StatusInternalServerError,
				PublicError:   "Failed to process payment",
				InternalError: fmt.Sprintf("Failed to confirm booking %s: %v", bookingID, err),
				OriginalErr:   err,
			}
		}
		s.logger.Info("WEBHOOK", fmt.Sprintf("Successfully processed payment for booking %s", bookingID))

	case "payment_intent.payment_failed":
		intent, whErr := unmarshalIntent(event.Data.Raw)
		if whErr != nil {
			s.logger.Error("WEBHOOK", whErr.InternalError)
			return whErr
		}
		bookingID, exists := intent.Metadata["booking_id"]
		if !exists {
			s.logger.Error("WEBHOOK", "Failed payment intent has no booking_id in metadata")
			return &WebhookError{
				Category:      "processing",
				StatusCode:    http.StatusBadRequest,
				PublicError:   "Invalid payment intent data",
				InternalError: "Failed payment intent has no booking_id in metadata",
			}
		}
		if err := s.MarkPaymentFailed(ctx, bookingID); err != nil {
			s.logger.Error("WEBHOOK", fmt.Sprintf("Failed to record payment failure for booking %s: %v", bookingID, err))
			return &WebhookError{
				Category:      "processing",
				StatusCode:    http.StatusInternalServerError,
				PublicError:   "Failed to record payment failure",
				InternalError: fmt.Sprintf("Failed to record payment failure for booking %s: %v", bookingID, err),
				OriginalErr:   err,
			}
		}
		s.logger.Info("WEBHOOK", fmt.Sprintf("Recorded payment failure for booking %s", bookingID))

	default:
		s.logger.Info("WEBHOOK", fmt.Sprintf("Unhandled event type: %s", event.Type))
	}

	return nil
}

func unmarshalIntent(raw json.RawMessage) (*stripe.PaymentIntent, *WebhookError) {
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(raw, &intent); err != nil {
		return nil, &WebhookError{
			Category:      "processing",
			StatusCode:    http.StatusBadRequest,
			PublicError:   "Invalid event data",
			InternalError: fmt.Sprintf("Failed to unmarshal payment intent: %v", err),
			OriginalErr:   err,
		}
	}
	return &intent, nil
}
