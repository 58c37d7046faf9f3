package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"bkoda/internal/booking"
	"bkoda/internal/logger"
	"bkoda/internal/models"
)

// DB wraps the bun handle. Every seat-mutating operation runs its
// check-then-mutate as a single conditional UPDATE inside one
// transaction, so the availability check and the decrement can never be
// split across round trips.
type DB struct {
	Bun    *bun.DB
	Logger *logger.Logger
}

func New(bunDB *bun.DB, log *logger.Logger) *DB {
	return &DB{Bun: bunDB, Logger: log}
}

// ---------------- TRIPS ----------------

func (d *DB) GetTripByID(ctx context.Context, id string) (*models.Trip, error) {
	var trip models.Trip
	err := d.Bun.NewSelect().
		Model(&trip).
		Where("trip_id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, booking.ErrTripNotFound
	}
	if err != nil {
		return nil, err
	}
	return &trip, nil
}

func (d *DB) SearchTrips(ctx context.Context, origin, destination string, date time.Time) ([]models.Trip, error) {
	var trips []models.Trip
	q := d.Bun.NewSelect().
		Model(&trips).
		Where("available_seats > 0").
		Order("departure_time ASC")
	if origin != "" {
		q = q.Where("origin = ?", origin)
	}
	if destination != "" {
		q = q.Where("destination = ?", destination)
	}
	if !date.IsZero() {
		q = q.Where("date = ?", date)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return trips, nil
}

func (d *DB) CreateTrip(ctx context.Context, trip *models.Trip) error {
	_, err := d.Bun.NewInsert().Model(trip).Exec(ctx)
	return err
}

// LatestTripDate returns the date of the furthest-out scheduled trip, or
// a zero time when no trips exist.
func (d *DB) LatestTripDate(ctx context.Context) (time.Time, error) {
	var trip models.Trip
	err := d.Bun.NewSelect().
		Model(&trip).
		Order("date DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return trip.Date, nil
}

// reserveSeats atomically claims n seats on a trip. Zero rows affected
// means the availability check failed.
func (d *DB) reserveSeats(ctx context.Context, idb bun.IDB, tripID string, n int) error {
	res, err := idb.NewUpdate().
		Model((*models.Trip)(nil)).
		Set("available_seats = available_seats - ?", n).
		Where("trip_id = ?", tripID).
		Where("available_seats >= ?", n).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("reserve %d seats on trip %s: %w", n, tripID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return booking.ErrInsufficientSeats
	}
	return nil
}

// releaseSeats atomically returns n seats. Exceeding total_seats is an
// integrity fault: it is logged and surfaced, never clamped.
func (d *DB) releaseSeats(ctx context.Context, idb bun.IDB, tripID string, n int) error {
	res, err := idb.NewUpdate().
		Model((*models.Trip)(nil)).
		Set("available_seats = available_seats + ?", n).
		Where("trip_id = ?", tripID).
		Where("available_seats + ? <= total_seats", n).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("release %d seats on trip %s: %w", n, tripID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if d.Logger != nil {
			d.Logger.Error("DATABASE", fmt.Sprintf("releasing %d seats on trip %s would exceed total_seats", n, tripID))
		}
		return fmt.Errorf("trip %s: %w", tripID, booking.ErrSeatInventoryOverflow)
	}
	return nil
}

// ReserveSeats and ReleaseSeats are the standalone inventory operations;
// the booking transitions below run the same statements inside their own
// transactions.
func (d *DB) ReserveSeats(ctx context.Context, tripID string, n int) error {
	return d.reserveSeats(ctx, d.Bun, tripID, n)
}

func (d *DB) ReleaseSeats(ctx context.Context, tripID string, n int) error {
	return d.releaseSeats(ctx, d.Bun, tripID, n)
}

// ---------------- POLICY ----------------

// GetPolicy returns the first-of-kind policy record.
func (d *DB) GetPolicy(ctx context.Context) (*models.BookingPolicy, error) {
	var policy models.BookingPolicy
	err := d.Bun.NewSelect().
		Model(&policy).
		Order("policy_id ASC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, booking.ErrPolicyNotConfigured
	}
	if err != nil {
		return nil, err
	}
	return &policy, nil
}

// ---------------- BOOKINGS ----------------

func (d *DB) GetBookingByID(ctx context.Context, id string) (*models.Booking, error) {
	var b models.Booking
	err := d.Bun.NewSelect().
		Model(&b).
		Where("booking_id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, booking.ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (d *DB) GetBookingByReference(ctx context.Context, reference string) (*models.Booking, error) {
	var b models.Booking
	err := d.Bun.NewSelect().
		Model(&b).
		Where("booking_reference = ?", reference).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, booking.ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (d *DB) GetBookingsByUser(ctx context.Context, userID string) ([]models.Booking, error) {
	var bookings []models.Booking
	err := d.Bun.NewSelect().
		Model(&bookings).
		Where("user_id = ?", userID).
		Order("booking_date DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return bookings, nil
}

func (d *DB) GetPassengersByBooking(ctx context.Context, bookingID string) ([]models.Passenger, error) {
	var passengers []models.Passenger
	err := d.Bun.NewSelect().
		Model(&passengers).
		Where("booking_id = ?", bookingID).
		Order("passenger_id").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return passengers, nil
}

// CreateBooking reserves seats and persists the booking with its
// passengers in one transaction. The whole unit rolls back if the seat
// reservation, the insert, or the unique reference constraint fails.
func (d *DB) CreateBooking(ctx context.Context, b *models.Booking, passengers []models.Passenger) error {
	return d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if err := d.reserveSeats(ctx, tx, b.TripID, b.NumberOfPassengers); err != nil {
			return err
		}
		if _, err := tx.NewInsert().Model(b).Exec(ctx); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("booking reference %s already exists: %w", b.BookingReference, booking.ErrIntegrity)
			}
			return err
		}
		if len(passengers) > 0 {
			if _, err := tx.NewInsert().Model(&passengers).Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdateBooking persists the named columns of a booking.
func (d *DB) UpdateBooking(ctx context.Context, b *models.Booking, columns ...string) error {
	q := d.Bun.NewUpdate().Model(b).Where("booking_id = ?", b.BookingID)
	if len(columns) > 0 {
		q = q.Column(columns...)
	}
	_, err := q.Exec(ctx)
	return err
}

// CancelBooking commits a cancellation decision: the booking's mutated
// status/payment/refund columns and the seat release land together or not
// at all. Callers only invoke it from seat-holding states
// (PENDING_PAYMENT or CONFIRMED).
func (d *DB) CancelBooking(ctx context.Context, b *models.Booking) error {
	return d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewUpdate().
			Model(b).
			Column("status", "payment_status", "refund_status", "refund_amount").
			Where("booking_id = ?", b.BookingID).
			Exec(ctx)
		if err != nil {
			return err
		}
		return d.releaseSeats(ctx, tx, b.TripID, b.NumberOfPassengers)
	})
}

// RescheduleBooking commits the reschedule in one transaction: release
// the original trip's seats, reserve on the new trip, insert the
// successor, re-parent the passengers, and mark the original terminal.
// Any step failing rolls the whole sequence back so seats never end up in
// a split state.
func (d *DB) RescheduleBooking(ctx context.Context, original, successor *models.Booking) error {
	return d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if err := d.releaseSeats(ctx, tx, original.TripID, original.NumberOfPassengers); err != nil {
			return err
		}
		if err := d.reserveSeats(ctx, tx, successor.TripID, successor.NumberOfPassengers); err != nil {
			return err
		}
		if _, err := tx.NewInsert().Model(successor).Exec(ctx); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("booking reference %s already exists: %w", successor.BookingReference, booking.ErrIntegrity)
			}
			return err
		}
		if _, err := tx.NewUpdate().
			Model((*models.Passenger)(nil)).
			Set("booking_id = ?", successor.BookingID).
			Where("booking_id = ?", original.BookingID).
			Exec(ctx); err != nil {
			return err
		}
		_, err := tx.NewUpdate().
			Model(original).
			Column("status", "refund_status", "refund_amount").
			Where("booking_id = ?", original.BookingID).
			Exec(ctx)
		return err
	})
}

// ---------------- REAPER QUERIES ----------------

// StaleNoMethodBookings selects pending bookings that never chose a
// payment method and are older than the cutoff.
func (d *DB) StaleNoMethodBookings(ctx context.Context, cutoff time.Time) ([]models.Booking, error) {
	var bookings []models.Booking
	err := d.Bun.NewSelect().
		Model(&bookings).
		Where("status = ?", models.BookingPendingPayment).
		Where("(payment_method_type IS NULL OR payment_method_type = '')").
		Where("booking_date < ?", cutoff).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return bookings, nil
}

// DepartedPendingBookings selects pending bookings whose trip has already
// left.
func (d *DB) DepartedPendingBookings(ctx context.Context, now time.Time) ([]models.Booking, error) {
	var bookings []models.Booking
	err := d.Bun.NewSelect().
		Model(&bookings).
		Join("JOIN trips AS t ON t.trip_id = booking.trip_id").
		Where("booking.status = ?", models.BookingPendingPayment).
		Where("t.departure_time < ?", now).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return bookings, nil
}

// UnpaidPendingBookings selects bookings still awaiting payment that are
// older than the cutoff.
func (d *DB) UnpaidPendingBookings(ctx context.Context, cutoff time.Time) ([]models.Booking, error) {
	var bookings []models.Booking
	err := d.Bun.NewSelect().
		Model(&bookings).
		Where("status = ?", models.BookingPendingPayment).
		Where("payment_status = ?", models.PaymentPending).
		Where("booking_date < ?", cutoff).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return bookings, nil
}

// HeldSeats sums the passengers of every booking currently holding seats
// on a trip. Used by invariant checks: total_seats - available_seats must
// equal this sum at all times.
func (d *DB) HeldSeats(ctx context.Context, tripID string) (int, error) {
	var total int
	err := d.Bun.NewSelect().
		ColumnExpr("COALESCE(SUM(number_of_passengers), 0)").
		Table("bookings").
		Where("trip_id = ?", tripID).
		Where("status IN (?)", bun.In([]models.BookingStatus{models.BookingPendingPayment, models.BookingConfirmed})).
		Scan(ctx, &total)
	if err != nil {
		return 0, err
	}
	return total, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint failed")
}
