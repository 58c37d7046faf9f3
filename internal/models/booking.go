package models

import (
	"time"

	"github.com/uptrace/bun"
)

type BookingStatus string

const (
	BookingPendingPayment     BookingStatus = "PENDING_PAYMENT"
	BookingConfirmed          BookingStatus = "CONFIRMED"
	BookingCanceled           BookingStatus = "CANCELED"
	BookingCancellationFailed BookingStatus = "CANCELLATION_FAILED"
	BookingRescheduled        BookingStatus = "RESCHEDULED"
	BookingCompleted          BookingStatus = "COMPLETED"
)

// Terminal reports whether no further transitions are allowed from the status.
func (s BookingStatus) Terminal() bool {
	switch s {
	case BookingCanceled, BookingRescheduled, BookingCompleted:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentPaid     PaymentStatus = "PAID"
	PaymentRefunded PaymentStatus = "REFUNDED"
	PaymentFailed   PaymentStatus = "FAILED"
)

type RefundStatus string

const (
	RefundNone      RefundStatus = ""
	RefundPending   RefundStatus = "PENDING"
	RefundCompleted RefundStatus = "COMPLETED"
	RefundFailed    RefundStatus = "FAILED"
)

type PaymentMethod string

const (
	MethodCard  PaymentMethod = "card"
	MethodCash  PaymentMethod = "cash"
	MethodGcash PaymentMethod = "gcash"
	MethodBank  PaymentMethod = "bank"
)

// Offline reports whether the method settles outside the card gateway.
func (m PaymentMethod) Offline() bool {
	return m == MethodCash || m == MethodGcash || m == MethodBank
}

type Booking struct {
	bun.BaseModel `bun:"table:bookings"`

	BookingID          string        `bun:"booking_id,pk" json:"booking_id"`
	UserID             string        `bun:"user_id,nullzero" json:"user_id,omitempty"`
	TripID             string        `bun:"trip_id,notnull" json:"trip_id"`
	NumberOfPassengers int           `bun:"number_of_passengers,notnull" json:"number_of_passengers"`
	BookingDate        time.Time     `bun:"booking_date,notnull" json:"booking_date"`
	TotalPrice         float64       `bun:"total_price,notnull" json:"total_price"`
	Status             BookingStatus `bun:"status,notnull" json:"status"`
	PaymentStatus      PaymentStatus `bun:"payment_status,notnull" json:"payment_status"`
	RefundStatus       RefundStatus  `bun:"refund_status,nullzero" json:"refund_status,omitempty"`
	RefundAmount       float64       `bun:"refund_amount" json:"refund_amount"`
	PaymentMethodType  PaymentMethod `bun:"payment_method_type,nullzero" json:"payment_method_type,omitempty"`
	BookingReference   string        `bun:"booking_reference,notnull,unique" json:"booking_reference"`
	PaymentIntentID    string        `bun:"payment_intent_id,nullzero" json:"payment_intent_id,omitempty"`
	CardBrand          string        `bun:"card_brand,nullzero" json:"card_brand,omitempty"`
	CardLast4          string        `bun:"card_last4,nullzero" json:"card_last4,omitempty"`

	// Reschedule lineage. OriginalDepartureTime is frozen at the first
	// booking and carried forward unchanged across reschedules so policy
	// cutoffs always measure against the original commitment.
	IsRescheduled         bool      `bun:"is_rescheduled" json:"is_rescheduled"`
	OriginalTripID        string    `bun:"original_trip_id,nullzero" json:"original_trip_id,omitempty"`
	OriginalDepartureTime time.Time `bun:"original_departure_time,notnull" json:"original_departure_time"`
}

// PolicyDepartureTime is the instant cancellation and reschedule cutoffs
// are measured against: the frozen original departure for rescheduled
// bookings, the trip's own departure otherwise.
func (b *Booking) PolicyDepartureTime(trip *Trip) time.Time {
	if b.IsRescheduled {
		return b.OriginalDepartureTime
	}
	return trip.DepartureTime
}

type Passenger struct {
	bun.BaseModel `bun:"table:passengers"`

	PassengerID   string `bun:"passenger_id,pk" json:"passenger_id"`
	BookingID     string `bun:"booking_id,notnull" json:"booking_id"`
	Name          string `bun:"name,notnull" json:"name"`
	Age           int    `bun:"age" json:"age"`
	ContactNumber string `bun:"contact_number" json:"contact_number"`
	Email         string `bun:"email" json:"email"`
}

type PassengerInput struct {
	Name          string `json:"name"`
	Age           int    `json:"age"`
	ContactNumber string `json:"contact_number"`
	Email         string `json:"email"`
}

type BookingRequest struct {
	UserID     string           `json:"user_id,omitempty"`
	TripID     string           `json:"trip_id"`
	Passengers []PassengerInput `json:"passengers"`
}

type BookingResponse struct {
	BookingID        string        `json:"booking_id"`
	BookingReference string        `json:"booking_reference"`
	TripID           string        `json:"trip_id"`
	Status           BookingStatus `json:"status"`
	PaymentStatus    PaymentStatus `json:"payment_status"`
	TotalPrice       float64       `json:"total_price"`
	Passengers       []Passenger   `json:"passengers,omitempty"`
}
