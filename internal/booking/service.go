package booking

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"bkoda/internal/booking/fare"
	"bkoda/internal/gateway"
	"bkoda/internal/logger"
	"bkoda/internal/models"
	"bkoda/internal/utils"
)

type DBLayer interface {
	GetTripByID(ctx context.Context, id string) (*models.Trip, error)
	SearchTrips(ctx context.Context, origin, destination string, date time.Time) ([]models.Trip, error)
	GetPolicy(ctx context.Context) (*models.BookingPolicy, error)
	GetBookingByID(ctx context.Context, id string) (*models.Booking, error)
	GetBookingByReference(ctx context.Context, reference string) (*models.Booking, error)
	GetBookingsByUser(ctx context.Context, userID string) ([]models.Booking, error)
	GetPassengersByBooking(ctx context.Context, bookingID string) ([]models.Passenger, error)
	CreateBooking(ctx context.Context, b *models.Booking, passengers []models.Passenger) error
	UpdateBooking(ctx context.Context, b *models.Booking, columns ...string) error
	CancelBooking(ctx context.Context, b *models.Booking) error
	RescheduleBooking(ctx context.Context, original, successor *models.Booking) error
}

type PaymentGateway interface {
	CreateIntent(ctx context.Context, amountMinor int64, currency string, metadata map[string]string) (*gateway.Intent, error)
	RetrieveIntent(ctx context.Context, id string) (*gateway.Intent, error)
	CreateRefund(ctx context.Context, intentID string, amountMinor int64, metadata map[string]string) (*gateway.Refund, error)
}

type Notifier interface {
	Send(ctx context.Context, b *models.Booking, kind models.NotificationKind, extra map[string]string) error
}

type TripLocker interface {
	LockTrips(ctx context.Context, tripIDs []string, token string) (bool, error)
	UnlockTrips(ctx context.Context, tripIDs []string, token string) error
}

type PassGenerator interface {
	Generate(b *models.Booking, trip *models.Trip) ([]byte, error)
}

// Service owns the booking lifecycle: creation, payment confirmation,
// cancellation, reschedule. Gateway calls happen outside the database
// transactions; seat and status mutations for one transition always
// commit together.
type Service struct {
	DB       DBLayer
	Gateway  PaymentGateway
	Notifier Notifier
	Locks    TripLocker
	Passes   PassGenerator
	Currency string

	logger *logger.Logger
}

func NewService(db DBLayer, gw PaymentGateway, notifier Notifier, locks TripLocker, passes PassGenerator, currency string, log *logger.Logger) *Service {
	if currency == "" {
		currency = "php"
	}
	return &Service{
		DB:       db,
		Gateway:  gw,
		Notifier: notifier,
		Locks:    locks,
		Passes:   passes,
		Currency: currency,
		logger:   log,
	}
}

// Per-booking lock so concurrent intent-creation requests for the same
// booking do not race a duplicate intent into existence.
var intentLocks = make(map[string]bool)
var intentMutex = &sync.Mutex{}

// ---------------- TRIPS ----------------

func (s *Service) SearchTrips(ctx context.Context, origin, destination string, date time.Time) ([]models.Trip, error) {
	return s.DB.SearchTrips(ctx, origin, destination, date)
}

func (s *Service) GetTrip(ctx context.Context, tripID string) (*models.Trip, error) {
	return s.DB.GetTripByID(ctx, tripID)
}

// ---------------- CREATE ----------------

// CreateBooking validates availability, reserves seats and persists the
// booking with its passengers in PENDING_PAYMENT. One passenger row per
// seat; the booking reference is derived deterministically and must be
// unique.
func (s *Service) CreateBooking(ctx context.Context, req models.BookingRequest) (*models.Booking, error) {
	n := len(req.Passengers)
	if n < 1 {
		return nil, fmt.Errorf("at least one passenger required: %w", ErrIneligibleForAction)
	}

	trip, err := s.DB.GetTripByID(ctx, req.TripID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if trip.Departed(now) {
		return nil, fmt.Errorf("trip %s has already departed: %w", trip.TripID, ErrIneligibleForAction)
	}
	if trip.AvailableSeats < n {
		return nil, fmt.Errorf("trip %s has %d seats left: %w", trip.TripID, trip.AvailableSeats, ErrInsufficientSeats)
	}

	bookingID := uuid.NewString()
	b := &models.Booking{
		BookingID:             bookingID,
		UserID:                req.UserID,
		TripID:                trip.TripID,
		NumberOfPassengers:    n,
		BookingDate:           now,
		TotalPrice:            fare.Round2(trip.Price * float64(n)),
		Status:                models.BookingPendingPayment,
		PaymentStatus:         models.PaymentPending,
		BookingReference:      utils.BookingReference(req.UserID, trip.TripID, bookingID, now),
		OriginalDepartureTime: trip.DepartureTime,
	}

	passengers := make([]models.Passenger, 0, n)
	for _, p := range req.Passengers {
		passengers = append(passengers, models.Passenger{
			PassengerID:   uuid.NewString(),
			BookingID:     bookingID,
			Name:          p.Name,
			Age:           p.Age,
			ContactNumber: p.ContactNumber,
			Email:         p.Email,
		})
	}

	if err := s.withTripLocks(ctx, []string{trip.TripID}, bookingID, func() error {
		return s.DB.CreateBooking(ctx, b, passengers)
	}); err != nil {
		return nil, err
	}

	s.logger.LogBooking("CREATE", b.BookingReference, fmt.Sprintf("%d passenger(s), total %.2f", n, b.TotalPrice))
	return b, nil
}

// ---------------- PAYMENT ----------------

// ChooseOfflinePayment records a cash/GCash/bank payment method. Offline
// settlement is only permitted far enough before departure; past the
// cutoff the booking is card-only.
func (s *Service) ChooseOfflinePayment(ctx context.Context, bookingID string, method models.PaymentMethod) error {
	if !method.Offline() {
		return fmt.Errorf("%s is not an offline payment method: %w", method, ErrIneligibleForAction)
	}

	b, err := s.DB.GetBookingByID(ctx, bookingID)
	if err != nil {
		return err
	}
	if b.Status != models.BookingPendingPayment || b.PaymentStatus != models.PaymentPending {
		return fmt.Errorf("booking %s is not awaiting payment: %w", b.BookingReference, ErrIneligibleForAction)
	}

	trip, err := s.DB.GetTripByID(ctx, b.TripID)
	if err != nil {
		return err
	}
	policy, err := s.DB.GetPolicy(ctx)
	if err != nil {
		return err
	}

	// Offline settlement needs strictly more than the cutoff window left;
	// exactly at the boundary the booking is already card-only.
	h := b.PolicyDepartureTime(trip).Sub(time.Now()).Hours()
	if h <= float64(policy.OfflinePaymentCutoffHoursBeforeDeparture) {
		return fmt.Errorf("offline payment closed %dh before departure, card only: %w",
			policy.OfflinePaymentCutoffHoursBeforeDeparture, ErrIneligibleForAction)
	}

	b.PaymentMethodType = method
	if err := s.DB.UpdateBooking(ctx, b, "payment_method_type"); err != nil {
		return err
	}

	s.logger.LogPayment("OFFLINE", b.BookingReference, fmt.Sprintf("method %s selected", method))
	s.notify(ctx, b, models.NotifyPendingPaymentInstructions, map[string]string{"method": string(method)})
	return nil
}

// CreatePaymentIntent creates (or retrieves) the gateway intent for a
// pending booking. Safe against concurrent duplicate requests: an
// existing usable intent is reused rather than replaced.
func (s *Service) CreatePaymentIntent(ctx context.Context, bookingID string) (*gateway.Intent, error) {
	intentMutex.Lock()
	if intentLocks[bookingID] {
		intentMutex.Unlock()
		s.logger.Warn("PAYMENT", fmt.Sprintf("intent creation for booking %s already in progress", bookingID))
		time.Sleep(500 * time.Millisecond)
		return s.CreatePaymentIntent(ctx, bookingID)
	}
	intentLocks[bookingID] = true
	intentMutex.Unlock()

	defer func() {
		intentMutex.Lock()
		delete(intentLocks, bookingID)
		intentMutex.Unlock()
	}()

	b, err := s.DB.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != models.BookingPendingPayment {
		return nil, fmt.Errorf("booking %s is not awaiting payment: %w", b.BookingReference, ErrIneligibleForAction)
	}

	if b.PaymentIntentID != "" {
		intent, err := s.Gateway.RetrieveIntent(ctx, b.PaymentIntentID)
		if err != nil {
			s.logger.Warn("PAYMENT", fmt.Sprintf("failed to retrieve existing intent %s, creating a new one: %v", b.PaymentIntentID, err))
		} else if intent.Status != "canceled" && !intent.Succeeded() {
			s.logger.LogPayment("INTENT", b.BookingReference, fmt.Sprintf("reusing intent %s (%s)", intent.ID, intent.Status))
			return intent, nil
		}
	}

	intent, err := s.Gateway.CreateIntent(ctx, fare.MinorUnits(b.TotalPrice), s.Currency, map[string]string{
		"booking_id":        b.BookingID,
		"booking_reference": b.BookingReference,
	})
	if err != nil {
		return nil, fmt.Errorf("create intent for booking %s: %w: %v", b.BookingReference, ErrPaymentGateway, err)
	}

	b.PaymentIntentID = intent.ID
	b.PaymentMethodType = models.MethodCard
	if err := s.DB.UpdateBooking(ctx, b, "payment_intent_id", "payment_method_type"); err != nil {
		return nil, err
	}

	s.logger.LogPayment("INTENT", b.BookingReference, fmt.Sprintf("created intent %s for %.2f", intent.ID, b.TotalPrice))
	return intent, nil
}

// ConfirmCardPayment applies a settled card payment: PAID + CONFIRMED,
// card metadata recorded, confirmation and receipt sent. Idempotent
// against replayed webhooks: an already confirmed booking is a no-op and
// sends nothing.
func (s *Service) ConfirmCardPayment(ctx context.Context, bookingID, intentID string) error {
	b, err := s.DB.GetBookingByID(ctx, bookingID)
	if err != nil {
		return err
	}

	if b.Status == models.BookingConfirmed && b.PaymentStatus == models.PaymentPaid {
		s.logger.LogPayment("CONFIRM", b.BookingReference, "duplicate confirmation ignored")
		return nil
	}
	if b.Status != models.BookingPendingPayment {
		return fmt.Errorf("booking %s cannot be confirmed from status %s: %w", b.BookingReference, b.Status, ErrIneligibleForAction)
	}

	if intentID == "" {
		intentID = b.PaymentIntentID
	}
	if intentID == "" {
		return fmt.Errorf("booking %s has no payment intent: %w", b.BookingReference, ErrIneligibleForAction)
	}
	if b.PaymentIntentID != "" && intentID != b.PaymentIntentID {
		return fmt.Errorf("intent %s does not belong to booking %s: %w", intentID, b.BookingReference, ErrPaymentMismatch)
	}

	intent, err := s.Gateway.RetrieveIntent(ctx, intentID)
	if err != nil {
		// Booking stays PENDING_PAYMENT so the confirmation can be retried;
		// seats remain held by this booking.
		return fmt.Errorf("retrieve intent %s: %w: %v", intentID, ErrPaymentGateway, err)
	}
	if intent.Processing() {
		return fmt.Errorf("intent %s is %s: %w", intent.ID, intent.Status, ErrPaymentProcessing)
	}
	if !intent.Succeeded() {
		return s.markPaymentFailed(ctx, b, fmt.Sprintf("intent %s status %s", intent.ID, intent.Status))
	}
	if intent.AmountMinor != fare.MinorUnits(b.TotalPrice) {
		return fmt.Errorf("intent %s paid %d, expected %d: %w", intent.ID, intent.AmountMinor, fare.MinorUnits(b.TotalPrice), ErrPaymentMismatch)
	}

	b.Status = models.BookingConfirmed
	b.PaymentStatus = models.PaymentPaid
	b.PaymentMethodType = models.MethodCard
	b.PaymentIntentID = intent.ID
	b.CardBrand = intent.CardBrand
	b.CardLast4 = intent.CardLast4
	if err := s.DB.UpdateBooking(ctx, b,
		"status", "payment_status", "payment_method_type", "payment_intent_id", "card_brand", "card_last4"); err != nil {
		return err
	}

	s.logger.LogPayment("CONFIRM", b.BookingReference, fmt.Sprintf("paid %.2f via %s •%s", b.TotalPrice, b.CardBrand, b.CardLast4))

	extra := map[string]string{}
	if pass := s.boardingPass(ctx, b); pass != "" {
		extra["boarding_pass_png"] = pass
	}
	s.notify(ctx, b, models.NotifyBookingConfirmation, extra)
	s.notify(ctx, b, models.NotifyPaymentReceipt, nil)
	return nil
}

// ConfirmOfflinePayment is the staff-side settlement of a cash/GCash/bank
// booking once the money arrives.
func (s *Service) ConfirmOfflinePayment(ctx context.Context, bookingID string) error {
	b, err := s.DB.GetBookingByID(ctx, bookingID)
	if err != nil {
		return err
	}
	if b.Status == models.BookingConfirmed && b.PaymentStatus == models.PaymentPaid {
		return nil
	}
	if b.Status != models.BookingPendingPayment || !b.PaymentMethodType.Offline() {
		return fmt.Errorf("booking %s is not an offline pending booking: %w", b.BookingReference, ErrIneligibleForAction)
	}

	b.Status = models.BookingConfirmed
	b.PaymentStatus = models.PaymentPaid
	if err := s.DB.UpdateBooking(ctx, b, "status", "payment_status"); err != nil {
		return err
	}

	s.logger.LogPayment("CONFIRM", b.BookingReference, fmt.Sprintf("offline payment received via %s", b.PaymentMethodType))

	extra := map[string]string{}
	if pass := s.boardingPass(ctx, b); pass != "" {
		extra["boarding_pass_png"] = pass
	}
	s.notify(ctx, b, models.NotifyBookingConfirmation, extra)
	s.notify(ctx, b, models.NotifyPaymentReceipt, nil)
	return nil
}

// MarkPaymentFailed records a failed payment attempt; the booking stays
// PENDING_PAYMENT and retains its seats so the customer can retry.
func (s *Service) MarkPaymentFailed(ctx context.Context, bookingID string) error {
	b, err := s.DB.GetBookingByID(ctx, bookingID)
	if err != nil {
		return err
	}
	if b.Status != models.BookingPendingPayment {
		return fmt.Errorf("booking %s cannot fail payment from status %s: %w", b.BookingReference, b.Status, ErrIneligibleForAction)
	}
	return s.markPaymentFailed(ctx, b, "gateway reported failure")
}

func (s *Service) markPaymentFailed(ctx context.Context, b *models.Booking, reason string) error {
	b.PaymentStatus = models.PaymentFailed
	if err := s.DB.UpdateBooking(ctx, b, "payment_status"); err != nil {
		return err
	}
	s.logger.LogPayment("FAILED", b.BookingReference, reason)
	return nil
}

// ---------------- CANCEL ----------------

// Cancel runs the cancellation flow. Paid bookings get the policy-banded
// refund; anything else pending is a degenerate no-refund cancel. The
// cancellation decision commits even when the refund call fails -- the
// seat release must survive a payment-provider outage -- but the gateway
// error still propagates so the refund can be retried out of band.
func (s *Service) Cancel(ctx context.Context, bookingID string) (*fare.CancellationQuote, error) {
	b, err := s.DB.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status.Terminal() {
		return nil, fmt.Errorf("booking %s is already %s: %w", b.BookingReference, b.Status, ErrIneligibleForAction)
	}

	trip, err := s.DB.GetTripByID(ctx, b.TripID)
	if err != nil {
		return nil, err
	}
	policy, err := s.DB.GetPolicy(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var quote fare.CancellationQuote
	paidPath := b.Status == models.BookingConfirmed && b.PaymentStatus == models.PaymentPaid
	if paidPath {
		quote = fare.Cancellation(b.TotalPrice, b.PolicyDepartureTime(trip), now, policy)
	} else {
		quote = fare.CancellationQuote{Class: fare.RefundNone}
	}

	// Refund runs before the local transaction so no lock is held across
	// the gateway call.
	var gatewayErr error
	if quote.RefundAmount > 0 {
		gatewayErr = s.processRefund(ctx, b, quote.RefundAmount, map[string]string{
			"booking_id": b.BookingID,
			"reason":     "cancellation",
		})
	}

	b.Status = models.BookingCanceled
	if err := s.withTripLocks(ctx, []string{b.TripID}, b.BookingID, func() error {
		return s.DB.CancelBooking(ctx, b)
	}); err != nil {
		if b.RefundStatus == models.RefundCompleted {
			// Refund already went out but the cancellation did not commit.
			// Flag the booking for support instead of leaving it CONFIRMED.
			b.Status = models.BookingCancellationFailed
			if updErr := s.DB.UpdateBooking(ctx, b, "status", "refund_status", "refund_amount"); updErr != nil {
				s.logger.Error("BOOKING", fmt.Sprintf("failed to flag booking %s as CANCELLATION_FAILED: %v", b.BookingReference, updErr))
			}
		}
		return nil, err
	}

	s.logger.LogBooking("CANCEL", b.BookingReference, fmt.Sprintf("refund %.2f (%s)", quote.RefundAmount, quote.Class))

	s.notify(ctx, b, models.NotifyCancellation, map[string]string{
		"refund_amount":  fmt.Sprintf("%.2f", b.RefundAmount),
		"classification": string(quote.Class),
	})
	if b.RefundStatus == models.RefundPending {
		s.notify(ctx, b, models.NotifyRefundProcessing, nil)
	}

	return &quote, gatewayErr
}

// processRefund asks the gateway to return amount to the customer and
// records the outcome on the booking (not yet persisted). Bookings
// without a card intent get a PENDING refund for manual handling. A
// gateway error marks the refund FAILED and is returned for the caller
// to propagate.
func (s *Service) processRefund(ctx context.Context, b *models.Booking, amount float64, metadata map[string]string) error {
	if b.PaymentIntentID == "" {
		b.RefundStatus = models.RefundPending
		b.RefundAmount = amount
		return nil
	}

	refund, err := s.Gateway.CreateRefund(ctx, b.PaymentIntentID, fare.MinorUnits(amount), metadata)
	if err != nil {
		// Keep the owed amount on the booking so the retry knows what to
		// refund.
		b.RefundStatus = models.RefundFailed
		b.RefundAmount = amount
		return fmt.Errorf("refund %.2f for booking %s: %w: %v", amount, b.BookingReference, ErrPaymentGateway, err)
	}

	b.RefundAmount = amount
	if refund.Succeeded() {
		b.RefundStatus = models.RefundCompleted
		b.PaymentStatus = models.PaymentRefunded
	} else {
		b.RefundStatus = models.RefundPending
	}
	return nil
}

// ---------------- RESCHEDULE ----------------

type RescheduleRequest struct {
	BookingID         string               `json:"booking_id"`
	NewTripID         string               `json:"new_trip_id"`
	ConfirmedIntentID string               `json:"confirmed_intent_id,omitempty"`
	OfflineMethod     models.PaymentMethod `json:"offline_method,omitempty"`
}

// QuoteReschedule previews the financials of moving a booking to a
// candidate trip without mutating anything.
func (s *Service) QuoteReschedule(ctx context.Context, bookingID, newTripID string) (*fare.RescheduleQuote, error) {
	b, originalTrip, newTrip, policy, err := s.rescheduleContext(ctx, bookingID, newTripID)
	if err != nil {
		return nil, err
	}
	quote := fare.Reschedule(b, originalTrip, newTrip, time.Now(), policy)
	return &quote, nil
}

// CreateRescheduleIntent creates the gateway intent for the net amount a
// proposed reschedule would collect; the client confirms it and passes
// the intent ID back to Reschedule.
func (s *Service) CreateRescheduleIntent(ctx context.Context, bookingID, newTripID string) (*gateway.Intent, error) {
	quote, err := s.QuoteReschedule(ctx, bookingID, newTripID)
	if err != nil {
		return nil, err
	}
	if quote.Type == fare.RescheduleNotAllowed {
		return nil, fmt.Errorf("rescheduling closed %.1fh before departure: %w", quote.HoursToDeparture, ErrIneligibleForAction)
	}
	if quote.AmountToPay <= 0 {
		return nil, fmt.Errorf("no payment due for this reschedule: %w", ErrIneligibleForAction)
	}

	intent, err := s.Gateway.CreateIntent(ctx, fare.MinorUnits(quote.AmountToPay), s.Currency, map[string]string{
		"booking_id":  bookingID,
		"new_trip_id": newTripID,
		"reason":      "reschedule",
	})
	if err != nil {
		return nil, fmt.Errorf("create reschedule intent for booking %s: %w: %v", bookingID, ErrPaymentGateway, err)
	}

	s.logger.LogPayment("INTENT", bookingID, fmt.Sprintf("reschedule intent %s for %.2f", intent.ID, quote.AmountToPay))
	return intent, nil
}

// Reschedule moves a paid booking to a new trip: collect or refund the
// net amount, swap the seats, create the successor booking and retire the
// original. Executed all-or-nothing; when any step fails before the
// commit, no seat or status has moved.
func (s *Service) Reschedule(ctx context.Context, req RescheduleRequest) (*models.Booking, error) {
	b, originalTrip, newTrip, policy, err := s.rescheduleContext(ctx, req.BookingID, req.NewTripID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if newTrip.AvailableSeats < b.NumberOfPassengers {
		return nil, fmt.Errorf("trip %s has %d seats left: %w", newTrip.TripID, newTrip.AvailableSeats, ErrInsufficientSeats)
	}

	quote := fare.Reschedule(b, originalTrip, newTrip, now, policy)
	if quote.Type == fare.RescheduleNotAllowed {
		return nil, fmt.Errorf("rescheduling closed %.1fh before departure: %w", quote.HoursToDeparture, ErrIneligibleForAction)
	}

	successor := &models.Booking{
		BookingID:             uuid.NewString(),
		UserID:                b.UserID,
		TripID:                newTrip.TripID,
		NumberOfPassengers:    b.NumberOfPassengers,
		BookingDate:           now,
		TotalPrice:            quote.NewBasePrice,
		Status:                models.BookingConfirmed,
		PaymentStatus:         models.PaymentPaid,
		PaymentMethodType:     b.PaymentMethodType,
		BookingReference:      utils.RescheduleReference(b.BookingReference),
		PaymentIntentID:       b.PaymentIntentID,
		CardBrand:             b.CardBrand,
		CardLast4:             b.CardLast4,
		IsRescheduled:         true,
		OriginalTripID:        b.TripID,
		OriginalDepartureTime: b.OriginalDepartureTime,
	}

	// Step 1: collect the net amount due, if any. Gateway interaction
	// happens before any local mutation.
	if quote.AmountToPay > 0 {
		if req.OfflineMethod != "" {
			if !req.OfflineMethod.Offline() {
				return nil, fmt.Errorf("%s is not an offline payment method: %w", req.OfflineMethod, ErrIneligibleForAction)
			}
			successor.Status = models.BookingPendingPayment
			successor.PaymentStatus = models.PaymentPending
			successor.PaymentMethodType = req.OfflineMethod
			successor.PaymentIntentID = ""
			successor.CardBrand = ""
			successor.CardLast4 = ""
		} else {
			if req.ConfirmedIntentID == "" {
				return nil, fmt.Errorf("payment of %.2f required before rescheduling: %w", quote.AmountToPay, ErrIneligibleForAction)
			}
			intent, err := s.Gateway.RetrieveIntent(ctx, req.ConfirmedIntentID)
			if err != nil {
				return nil, fmt.Errorf("retrieve intent %s: %w: %v", req.ConfirmedIntentID, ErrPaymentGateway, err)
			}
			if intent.Processing() {
				return nil, fmt.Errorf("intent %s is %s: %w", intent.ID, intent.Status, ErrPaymentProcessing)
			}
			if !intent.Succeeded() {
				return nil, fmt.Errorf("intent %s status %s: %w", intent.ID, intent.Status, ErrPaymentGateway)
			}
			if intent.AmountMinor != fare.MinorUnits(quote.AmountToPay) {
				return nil, fmt.Errorf("intent %s paid %d, expected %d: %w", intent.ID, intent.AmountMinor, fare.MinorUnits(quote.AmountToPay), ErrPaymentMismatch)
			}
			successor.PaymentIntentID = intent.ID
			if intent.CardBrand != "" {
				successor.CardBrand = intent.CardBrand
				successor.CardLast4 = intent.CardLast4
			}
		}
	}

	// Step 2: refund the net difference. Unlike cancellation, a refund
	// failure here aborts the whole reschedule before anything moved.
	if quote.AmountToRefund > 0 {
		if err := s.processRefund(ctx, b, quote.AmountToRefund, map[string]string{
			"booking_id":  b.BookingID,
			"new_trip_id": newTrip.TripID,
			"reason":      "reschedule",
		}); err != nil {
			return nil, err
		}
	}

	// Steps 3-5: seats, successor, terminal original -- one transaction.
	b.Status = models.BookingRescheduled
	if err := s.withTripLocks(ctx, []string{b.TripID, newTrip.TripID}, b.BookingID, func() error {
		return s.DB.RescheduleBooking(ctx, b, successor)
	}); err != nil {
		if b.RefundStatus == models.RefundCompleted {
			s.logger.Error("BOOKING", fmt.Sprintf("refund for %s issued but reschedule did not commit: %v", b.BookingReference, err))
		}
		return nil, err
	}

	s.logger.LogBooking("RESCHEDULE", b.BookingReference,
		fmt.Sprintf("to trip %s as %s (net %.2f, %s)", newTrip.TripID, successor.BookingReference, quote.Net, quote.Type))

	// Step 6: notify.
	if successor.Status == models.BookingPendingPayment {
		s.notify(ctx, successor, models.NotifyPendingPaymentInstructions, map[string]string{
			"amount_due": fmt.Sprintf("%.2f", quote.AmountToPay),
			"method":     string(successor.PaymentMethodType),
		})
	} else {
		s.notify(ctx, successor, models.NotifyRescheduledConfirmation, map[string]string{
			"original_reference": b.BookingReference,
		})
	}
	if b.RefundStatus == models.RefundPending {
		s.notify(ctx, b, models.NotifyRefundProcessing, nil)
	}

	return successor, nil
}

// rescheduleContext loads and validates everything both the quote and the
// commit path need.
func (s *Service) rescheduleContext(ctx context.Context, bookingID, newTripID string) (*models.Booking, *models.Trip, *models.Trip, *models.BookingPolicy, error) {
	b, err := s.DB.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if b.Status != models.BookingConfirmed || b.PaymentStatus != models.PaymentPaid {
		return nil, nil, nil, nil, fmt.Errorf("booking %s is not confirmed and paid: %w", b.BookingReference, ErrIneligibleForAction)
	}
	if newTripID == b.TripID {
		return nil, nil, nil, nil, fmt.Errorf("cannot reschedule to the same trip: %w", ErrIneligibleForAction)
	}

	originalTrip, err := s.DB.GetTripByID(ctx, b.TripID)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	newTrip, err := s.DB.GetTripByID(ctx, newTripID)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if newTrip.Departed(time.Now()) {
		return nil, nil, nil, nil, fmt.Errorf("trip %s has already departed: %w", newTrip.TripID, ErrIneligibleForAction)
	}

	policy, err := s.DB.GetPolicy(ctx)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return b, originalTrip, newTrip, policy, nil
}

// ---------------- READS ----------------

type BookingDetail struct {
	Booking     *models.Booking    `json:"booking"`
	Passengers  []models.Passenger `json:"passengers"`
	Trip        *models.Trip       `json:"trip"`
	Eligibility fare.Eligibility   `json:"eligibility"`
}

func (s *Service) GetBookingDetail(ctx context.Context, bookingID string) (*BookingDetail, error) {
	b, err := s.DB.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	passengers, err := s.DB.GetPassengersByBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	trip, err := s.DB.GetTripByID(ctx, b.TripID)
	if err != nil {
		return nil, err
	}

	detail := &BookingDetail{Booking: b, Passengers: passengers, Trip: trip}
	if policy, err := s.DB.GetPolicy(ctx); err == nil {
		detail.Eligibility = fare.Eligible(b, trip, time.Now(), policy)
	} else if !errors.Is(err, ErrPolicyNotConfigured) {
		return nil, err
	}
	return detail, nil
}

func (s *Service) ListUserBookings(ctx context.Context, userID string) ([]models.Booking, error) {
	return s.DB.GetBookingsByUser(ctx, userID)
}

// ---------------- HELPERS ----------------

// withTripLocks serializes a seat-mutating sequence across processes.
// Without a locker configured the database's conditional updates still
// guarantee correctness on their own.
func (s *Service) withTripLocks(ctx context.Context, tripIDs []string, token string, fn func() error) error {
	if s.Locks == nil {
		return fn()
	}
	ok, err := s.Locks.LockTrips(ctx, tripIDs, token)
	if err != nil {
		return fmt.Errorf("trip lock: %w", err)
	}
	if !ok {
		return ErrTripLocked
	}
	defer func() {
		if err := s.Locks.UnlockTrips(ctx, tripIDs, token); err != nil {
			s.logger.Warn("REDIS", fmt.Sprintf("failed to unlock trips %v: %v", tripIDs, err))
		}
	}()
	return fn()
}

// notify sends fire-and-forget; delivery failure never fails the
// transition that triggered it.
func (s *Service) notify(ctx context.Context, b *models.Booking, kind models.NotificationKind, extra map[string]string) {
	if s.Notifier == nil {
		return
	}
	if err := s.Notifier.Send(ctx, b, kind, extra); err != nil {
		s.logger.Error("NOTIFY", fmt.Sprintf("failed to send %s for booking %s: %v", kind, b.BookingReference, err))
	}
}

// boardingPass renders the confirmation QR, base64-encoded for the email
// template. Best effort.
func (s *Service) boardingPass(ctx context.Context, b *models.Booking) string {
	if s.Passes == nil {
		return ""
	}
	trip, err := s.DB.GetTripByID(ctx, b.TripID)
	if err != nil {
		return ""
	}
	png, err := s.Passes.Generate(b, trip)
	if err != nil {
		s.logger.Warn("BOOKING", fmt.Sprintf("boarding pass generation failed for %s: %v", b.BookingReference, err))
		return ""
	}
	return base64.StdEncoding.EncodeToString(png)
}
