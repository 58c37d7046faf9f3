package models

import "time"

// NotificationKind selects the transactional email template rendered by
// the mailer consuming the notifications topic.
type NotificationKind string

const (
	NotifyPendingPaymentInstructions NotificationKind = "pending_payment_instructions"
	NotifyPaymentReceipt             NotificationKind = "payment_receipt"
	NotifyBookingConfirmation        NotificationKind = "booking_confirmation"
	NotifyCancellation               NotificationKind = "cancellation"
	NotifyCancellationUnpaid         NotificationKind = "cancellation_unpaid"
	NotifyRefundProcessing           NotificationKind = "refund_processing"
	NotifyRescheduledConfirmation    NotificationKind = "rescheduled_confirmation"
)

type NotificationEvent struct {
	Kind             NotificationKind  `json:"kind"`
	BookingID        string            `json:"booking_id"`
	BookingReference string            `json:"booking_reference"`
	UserID           string            `json:"user_id,omitempty"`
	TripID           string            `json:"trip_id"`
	TotalPrice       float64           `json:"total_price"`
	Extra            map[string]string `json:"extra,omitempty"`
	Timestamp        time.Time         `json:"timestamp"`
}
