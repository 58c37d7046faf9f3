package models

import "github.com/uptrace/bun"

// BookingPolicy is a singleton configuration record. Cutoffs are hours
// before departure; percentages are fractions in [0,1]. Only staff change
// it, so request paths treat it as read-only.
type BookingPolicy struct {
	bun.BaseModel `bun:"table:booking_policies"`

	PolicyID                               int64   `bun:"policy_id,pk,autoincrement" json:"policy_id"`
	FreeCancellationCutoffHours            int     `bun:"free_cancellation_cutoff_hours,notnull" json:"free_cancellation_cutoff_hours"`
	LateCancellationCutoffHours            int     `bun:"late_cancellation_cutoff_hours,notnull" json:"late_cancellation_cutoff_hours"`
	LateCancellationFeePercentage          float64 `bun:"late_cancellation_fee_percentage,notnull" json:"late_cancellation_fee_percentage"`
	FreeReschedulingCutoffHours            int     `bun:"free_rescheduling_cutoff_hours,notnull" json:"free_rescheduling_cutoff_hours"`
	LateReschedulingCutoffHours            int     `bun:"late_rescheduling_cutoff_hours,notnull" json:"late_rescheduling_cutoff_hours"`
	LateReschedulingChargePercentage       float64 `bun:"late_rescheduling_charge_percentage,notnull" json:"late_rescheduling_charge_percentage"`
	OfflinePaymentCutoffHoursBeforeDeparture int   `bun:"offline_payment_cutoff_hours_before_departure,notnull" json:"offline_payment_cutoff_hours_before_departure"`
}
