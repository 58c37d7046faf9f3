// Package fare computes the refund and charge amounts the cancellation
// and reschedule flows owe or collect. All functions are pure: they take
// the booking, the policy and a clock value and return a quote, leaving
// every mutation to the orchestrator.
package fare

import (
	"math"
	"time"

	"bkoda/internal/models"
)

type RefundClass string

const (
	RefundFull    RefundClass = "FULL"
	RefundPartial RefundClass = "PARTIAL"
	RefundNone    RefundClass = "NONE"
)

type RescheduleType string

const (
	RescheduleFree       RescheduleType = "FREE"
	RescheduleLate       RescheduleType = "LATE"
	RescheduleNotAllowed RescheduleType = "NOT_ALLOWED"
)

// Round2 rounds a money amount to 2 decimal places.
func Round2(amount float64) float64 {
	return math.Round(amount*100) / 100
}

// MinorUnits converts a money amount to integer minor-currency units for
// the payment gateway.
func MinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

type CancellationQuote struct {
	RefundAmount     float64     `json:"refund_amount"`
	Class            RefundClass `json:"classification"`
	FeePercentage    float64     `json:"fee_percentage"`
	HoursToDeparture float64     `json:"hours_to_departure"`
}

// Cancellation classifies a cancellation against the policy bands and
// returns the refund owed. Cancellation itself is always permitted; only
// the refund varies.
func Cancellation(totalPrice float64, departure, now time.Time, p *models.BookingPolicy) CancellationQuote {
	h := departure.Sub(now).Hours()
	q := CancellationQuote{HoursToDeparture: h}

	switch {
	case h > float64(p.FreeCancellationCutoffHours):
		q.Class = RefundFull
		q.RefundAmount = Round2(totalPrice)
	case h >= float64(p.LateCancellationCutoffHours):
		q.Class = RefundPartial
		q.FeePercentage = p.LateCancellationFeePercentage
		q.RefundAmount = Round2(totalPrice * (1 - p.LateCancellationFeePercentage))
	default:
		q.Class = RefundNone
	}
	return q
}

type RescheduleQuote struct {
	Type               RescheduleType `json:"type"`
	NewBasePrice       float64        `json:"new_base_price"`
	FareDifference     float64        `json:"fare_difference"`
	ReschedulingCharge float64        `json:"rescheduling_charge"`
	Net                float64        `json:"net"`
	AmountToPay        float64        `json:"amount_to_pay"`
	AmountToRefund     float64        `json:"amount_to_refund"`
	HoursToDeparture   float64        `json:"hours_to_departure"`
}

// Reschedule quotes moving a booking to newTrip. The fare difference is
// computed against the original trip's list price, not the booking's paid
// total, so multi-leg price history does not compound. The cutoff bands
// always measure against the booking's frozen original departure time.
func Reschedule(b *models.Booking, originalTrip, newTrip *models.Trip, now time.Time, p *models.BookingPolicy) RescheduleQuote {
	n := float64(b.NumberOfPassengers)
	newBase := Round2(newTrip.Price * n)
	originalBase := Round2(originalTrip.Price * n)

	h := b.OriginalDepartureTime.Sub(now).Hours()
	q := RescheduleQuote{
		NewBasePrice:     newBase,
		FareDifference:   Round2(newBase - originalBase),
		HoursToDeparture: h,
	}

	switch {
	case h > float64(p.FreeReschedulingCutoffHours):
		q.Type = RescheduleFree
	case h >= float64(p.LateReschedulingCutoffHours):
		q.Type = RescheduleLate
		q.ReschedulingCharge = Round2(b.TotalPrice * p.LateReschedulingChargePercentage)
	default:
		q.Type = RescheduleNotAllowed
		return q
	}

	q.Net = Round2(q.FareDifference + q.ReschedulingCharge)
	if q.Net > 0 {
		q.AmountToPay = q.Net
	} else if q.Net < 0 {
		q.AmountToRefund = Round2(-q.Net)
	}
	return q
}

// Eligibility summarizes what actions a booking currently allows; the
// booking detail endpoint reports it so the UI can enable buttons.
type Eligibility struct {
	CanCancel                 bool `json:"can_cancel"`
	CanReschedule             bool `json:"can_reschedule"`
	CancellationFeeApplies    bool `json:"cancellation_fee_applies"`
	ReschedulingChargeApplies bool `json:"rescheduling_charge_applies"`
}

func Eligible(b *models.Booking, trip *models.Trip, now time.Time, p *models.BookingPolicy) Eligibility {
	var e Eligibility
	if b.Status != models.BookingConfirmed || b.PaymentStatus != models.PaymentPaid {
		return e
	}

	h := b.PolicyDepartureTime(trip).Sub(now).Hours()
	if h > float64(p.FreeCancellationCutoffHours) {
		e.CanCancel = true
	} else if h >= float64(p.LateCancellationCutoffHours) {
		e.CanCancel = true
		e.CancellationFeeApplies = true
	}
	if h > float64(p.FreeReschedulingCutoffHours) {
		e.CanReschedule = true
	} else if h >= float64(p.LateReschedulingCutoffHours) {
		e.CanReschedule = true
		e.ReschedulingChargeApplies = true
	}
	return e
}
