package booking

import "errors"

// Expected outcomes a caller can branch on.
var (
	ErrTripNotFound        = errors.New("trip not found")
	ErrBookingNotFound     = errors.New("booking not found")
	ErrInsufficientSeats   = errors.New("not enough available seats")
	ErrIneligibleForAction = errors.New("booking is not eligible for the requested action")
	ErrPolicyNotConfigured = errors.New("booking policy is not configured")
	ErrPaymentGateway      = errors.New("payment gateway error")
	ErrPaymentMismatch     = errors.New("confirmed payment amount does not match expected amount")
	ErrPaymentProcessing   = errors.New("payment is still processing, try again")
	ErrTripLocked          = errors.New("trip is locked by another request")
)

// Fatal integrity faults: duplicate booking reference, seat counters out
// of range. These indicate a bug or corrupted state, not user error.
var (
	ErrIntegrity             = errors.New("booking integrity violation")
	ErrSeatInventoryOverflow = errors.New("seat release would exceed total seats")
)
