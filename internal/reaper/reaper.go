// Package reaper cancels abandoned bookings on a schedule so held seats
// return to inventory. Three cohorts are swept: pending bookings that
// never chose a payment method, pending bookings whose trip has already
// departed, and offline bookings whose money never arrived.
package reaper

import (
	"context"
	"fmt"
	"time"

	"bkoda/internal/logger"
	"bkoda/internal/models"
)

type DBLayer interface {
	StaleNoMethodBookings(ctx context.Context, cutoff time.Time) ([]models.Booking, error)
	DepartedPendingBookings(ctx context.Context, now time.Time) ([]models.Booking, error)
	UnpaidPendingBookings(ctx context.Context, cutoff time.Time) ([]models.Booking, error)
	CancelBooking(ctx context.Context, b *models.Booking) error
}

type Notifier interface {
	Send(ctx context.Context, b *models.Booking, kind models.NotificationKind, extra map[string]string) error
}

type Reaper struct {
	DB       DBLayer
	Notifier Notifier
	Logger   *logger.Logger

	Interval       time.Duration
	NoMethodMaxAge time.Duration
	UnpaidMaxAge   time.Duration
}

func New(db DBLayer, notifier Notifier, log *logger.Logger, interval, noMethodMaxAge, unpaidMaxAge time.Duration) *Reaper {
	return &Reaper{
		DB:             db,
		Notifier:       notifier,
		Logger:         log,
		Interval:       interval,
		NoMethodMaxAge: noMethodMaxAge,
		UnpaidMaxAge:   unpaidMaxAge,
	}
}

// Start runs Sweep on the configured interval until ctx is canceled.
func (r *Reaper) Start(ctx context.Context) {
	r.Logger.LogReaper("START", fmt.Sprintf("sweeping every %s", r.Interval))
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Logger.LogReaper("STOP", "context canceled")
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				r.Logger.Error("REAPER", fmt.Sprintf("sweep failed: %v", err))
			}
		}
	}
}

// Sweep cancels every abandoned booking and returns how many were
// reaped. A failure on one booking is logged and does not stop the rest
// of the sweep.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	now := time.Now()
	reaped := 0

	noMethod, err := r.DB.StaleNoMethodBookings(ctx, now.Add(-r.NoMethodMaxAge))
	if err != nil {
		return reaped, fmt.Errorf("query stale bookings without payment method: %w", err)
	}
	reaped += r.cancelAll(ctx, noMethod, "no payment method chosen", false)

	departed, err := r.DB.DepartedPendingBookings(ctx, now)
	if err != nil {
		return reaped, fmt.Errorf("query departed pending bookings: %w", err)
	}
	reaped += r.cancelAll(ctx, departed, "trip departed unpaid", false)

	unpaid, err := r.DB.UnpaidPendingBookings(ctx, now.Add(-r.UnpaidMaxAge))
	if err != nil {
		return reaped, fmt.Errorf("query unpaid offline bookings: %w", err)
	}
	reaped += r.cancelAll(ctx, unpaid, "offline payment never arrived", true)

	if reaped > 0 {
		r.Logger.LogReaper("SWEEP", fmt.Sprintf("reaped %d abandoned booking(s)", reaped))
	}
	return reaped, nil
}

// cancelAll reaps one cohort. Only the unpaid-offline cohort sends a
// cancellation_unpaid notification; the others are reaped silently.
func (r *Reaper) cancelAll(ctx context.Context, bookings []models.Booking, reason string, notify bool) int {
	count := 0
	for i := range bookings {
		b := &bookings[i]
		b.Status = models.BookingCanceled
		b.PaymentStatus = models.PaymentFailed

		if err := r.DB.CancelBooking(ctx, b); err != nil {
			r.Logger.Error("REAPER", fmt.Sprintf("failed to cancel booking %s: %v", b.BookingReference, err))
			continue
		}

		count++
		r.Logger.LogReaper("CANCEL", fmt.Sprintf("%s (%s)", b.BookingReference, reason))

		if notify && r.Notifier != nil {
			if err := r.Notifier.Send(ctx, b, models.NotifyCancellationUnpaid, map[string]string{"reason": reason}); err != nil {
				r.Logger.Error("REAPER", fmt.Sprintf("failed to notify booking %s: %v", b.BookingReference, err))
			}
		}
	}
	return count
}
