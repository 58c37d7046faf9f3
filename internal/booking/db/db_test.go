package db_test

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"bkoda/internal/booking"
	"bkoda/internal/booking/db"
	"bkoda/internal/models"
)

func setupTestDB(t *testing.T) *db.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { sqldb.Close() })

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())

	ctx := context.Background()
	require.NoError(t, bunDB.ResetModel(ctx, (*models.Trip)(nil)))
	require.NoError(t, bunDB.ResetModel(ctx, (*models.BookingPolicy)(nil)))
	require.NoError(t, bunDB.ResetModel(ctx, (*models.Booking)(nil)))
	require.NoError(t, bunDB.ResetModel(ctx, (*models.Passenger)(nil)))

	return &db.DB{Bun: bunDB}
}

func seedTrip(t *testing.T, d *db.DB, id string, seats int, departureIn time.Duration) *models.Trip {
	t.Helper()
	departure := time.Now().Add(departureIn)
	trip := &models.Trip{
		TripID:         id,
		TripNumber:     "KAB-BAG-TEST",
		Origin:         "Kabayan, Benguet",
		Destination:    "Baguio City",
		Date:           departure.Truncate(24 * time.Hour),
		DepartureTime:  departure,
		ArrivalTime:    departure.Add(3 * time.Hour),
		TotalSeats:     seats,
		AvailableSeats: seats,
		Price:          250.00,
	}
	require.NoError(t, d.CreateTrip(context.Background(), trip))
	return trip
}

func sampleBooking(id, tripID string, passengers int, departure time.Time) (*models.Booking, []models.Passenger) {
	b := &models.Booking{
		BookingID:             id,
		UserID:                "user-1",
		TripID:                tripID,
		NumberOfPassengers:    passengers,
		BookingDate:           time.Now(),
		TotalPrice:            250.00 * float64(passengers),
		Status:                models.BookingPendingPayment,
		PaymentStatus:         models.PaymentPending,
		BookingReference:      "BKODA-user-1-" + tripID + "-" + id,
		OriginalDepartureTime: departure,
	}
	ps := make([]models.Passenger, 0, passengers)
	for i := 0; i < passengers; i++ {
		ps = append(ps, models.Passenger{
			PassengerID: id + "-p" + string(rune('a'+i)),
			BookingID:   id,
			Name:        "Passenger",
			Age:         30,
		})
	}
	return b, ps
}

func TestReserveAndReleaseSeats(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()
	trip := seedTrip(t, d, "trip-a", 12, 48*time.Hour)

	require.NoError(t, d.ReserveSeats(ctx, trip.TripID, 5))

	got, err := d.GetTripByID(ctx, trip.TripID)
	require.NoError(t, err)
	assert.Equal(t, 7, got.AvailableSeats)

	require.NoError(t, d.ReleaseSeats(ctx, trip.TripID, 5))

	got, err = d.GetTripByID(ctx, trip.TripID)
	require.NoError(t, err)
	assert.Equal(t, 12, got.AvailableSeats)
}

func TestReserveSeatsInsufficient(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()
	trip := seedTrip(t, d, "trip-a", 3, 48*time.Hour)

	err := d.ReserveSeats(ctx, trip.TripID, 4)
	assert.ErrorIs(t, err, booking.ErrInsufficientSeats)

	got, err := d.GetTripByID(ctx, trip.TripID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.AvailableSeats)
}

func TestReleaseSeatsOverflowRejected(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()
	trip := seedTrip(t, d, "trip-a", 12, 48*time.Hour)

	err := d.ReleaseSeats(ctx, trip.TripID, 1)
	assert.ErrorIs(t, err, booking.ErrSeatInventoryOverflow)

	got, err := d.GetTripByID(ctx, trip.TripID)
	require.NoError(t, err)
	assert.Equal(t, 12, got.AvailableSeats)
}

func TestCreateBookingReservesSeatsAndInsertsPassengers(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()
	trip := seedTrip(t, d, "trip-a", 12, 48*time.Hour)

	b, ps := sampleBooking("booking-1", trip.TripID, 2, trip.DepartureTime)
	require.NoError(t, d.CreateBooking(ctx, b, ps))

	got, err := d.GetTripByID(ctx, trip.TripID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.AvailableSeats)

	stored, err := d.GetBookingByID(ctx, "booking-1")
	require.NoError(t, err)
	assert.Equal(t, models.BookingPendingPayment, stored.Status)

	passengers, err := d.GetPassengersByBooking(ctx, "booking-1")
	require.NoError(t, err)
	assert.Len(t, passengers, 2)

	held, err := d.HeldSeats(ctx, trip.TripID)
	require.NoError(t, err)
	assert.Equal(t, got.TotalSeats-got.AvailableSeats, held)
}

func TestCreateBookingRollsBackWhenSeatsRunOut(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()
	trip := seedTrip(t, d, "trip-a", 1, 48*time.Hour)

	first, firstPs := sampleBooking("booking-1", trip.TripID, 1, trip.DepartureTime)
	require.NoError(t, d.CreateBooking(ctx, first, firstPs))

	second, secondPs := sampleBooking("booking-2", trip.TripID, 1, trip.DepartureTime)
	err := d.CreateBooking(ctx, second, secondPs)
	assert.ErrorIs(t, err, booking.ErrInsufficientSeats)

	_, err = d.GetBookingByID(ctx, "booking-2")
	assert.ErrorIs(t, err, booking.ErrBookingNotFound)

	got, err := d.GetTripByID(ctx, trip.TripID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.AvailableSeats)
}

func TestConcurrentBookingsCannotOversellLastSeat(t *testing.T) {
	d := setupTestDB(t)
	// sqlite allows a single writer; one pooled connection lets the race
	// resolve at the conditional UPDATE instead of as a driver busy error.
	d.Bun.SetMaxOpenConns(1)
	ctx := context.Background()
	trip := seedTrip(t, d, "trip-a", 1, 48*time.Hour)

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for _, id := range []string{"booking-1", "booking-2"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			b, ps := sampleBooking(id, trip.TripID, 1, trip.DepartureTime)
			errs <- d.CreateBooking(ctx, b, ps)
		}(id)
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	var failed []error
	for err := range errs {
		if err == nil {
			succeeded++
		} else {
			failed = append(failed, err)
		}
	}
	require.Equal(t, 1, succeeded)
	require.Len(t, failed, 1)
	assert.ErrorIs(t, failed[0], booking.ErrInsufficientSeats)

	got, err := d.GetTripByID(ctx, trip.TripID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.AvailableSeats)
}

func TestCreateBookingDuplicateReferenceRollsBackSeats(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()
	trip := seedTrip(t, d, "trip-a", 12, 48*time.Hour)

	first, firstPs := sampleBooking("booking-1", trip.TripID, 2, trip.DepartureTime)
	require.NoError(t, d.CreateBooking(ctx, first, firstPs))

	dup, dupPs := sampleBooking("booking-2", trip.TripID, 2, trip.DepartureTime)
	dup.BookingReference = first.BookingReference
	err := d.CreateBooking(ctx, dup, dupPs)
	assert.ErrorIs(t, err, booking.ErrIntegrity)

	got, err := d.GetTripByID(ctx, trip.TripID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.AvailableSeats)
}

func TestCancelBookingReleasesSeatsAndPersistsRefundColumns(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()
	trip := seedTrip(t, d, "trip-a", 12, 48*time.Hour)

	b, ps := sampleBooking("booking-1", trip.TripID, 3, trip.DepartureTime)
	require.NoError(t, d.CreateBooking(ctx, b, ps))

	b.Status = models.BookingCanceled
	b.PaymentStatus = models.PaymentRefunded
	b.RefundStatus = models.RefundCompleted
	b.RefundAmount = 750.00
	require.NoError(t, d.CancelBooking(ctx, b))

	got, err := d.GetTripByID(ctx, trip.TripID)
	require.NoError(t, err)
	assert.Equal(t, 12, got.AvailableSeats)

	stored, err := d.GetBookingByID(ctx, "booking-1")
	require.NoError(t, err)
	assert.Equal(t, models.BookingCanceled, stored.Status)
	assert.Equal(t, models.PaymentRefunded, stored.PaymentStatus)
	assert.Equal(t, models.RefundCompleted, stored.RefundStatus)
	assert.Equal(t, 750.00, stored.RefundAmount)
}

func TestRescheduleBookingMovesSeatsAndPassengers(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()
	oldTrip := seedTrip(t, d, "trip-a", 12, 48*time.Hour)
	newTrip := seedTrip(t, d, "trip-b", 12, 96*time.Hour)

	original, ps := sampleBooking("booking-1", oldTrip.TripID, 2, oldTrip.DepartureTime)
	original.Status = models.BookingConfirmed
	original.PaymentStatus = models.PaymentPaid
	require.NoError(t, d.CreateBooking(ctx, original, ps))

	successor := &models.Booking{
		BookingID:             "booking-2",
		UserID:                original.UserID,
		TripID:                newTrip.TripID,
		NumberOfPassengers:    2,
		BookingDate:           time.Now(),
		TotalPrice:            500.00,
		Status:                models.BookingConfirmed,
		PaymentStatus:         models.PaymentPaid,
		BookingReference:      "R-" + original.BookingReference,
		IsRescheduled:         true,
		OriginalTripID:        oldTrip.TripID,
		OriginalDepartureTime: original.OriginalDepartureTime,
	}

	original.Status = models.BookingRescheduled
	require.NoError(t, d.RescheduleBooking(ctx, original, successor))

	oldStored, err := d.GetTripByID(ctx, oldTrip.TripID)
	require.NoError(t, err)
	assert.Equal(t, 12, oldStored.AvailableSeats)

	newStored, err := d.GetTripByID(ctx, newTrip.TripID)
	require.NoError(t, err)
	assert.Equal(t, 10, newStored.AvailableSeats)

	// Passengers move to the successor, no duplication.
	oldPassengers, err := d.GetPassengersByBooking(ctx, "booking-1")
	require.NoError(t, err)
	assert.Empty(t, oldPassengers)

	newPassengers, err := d.GetPassengersByBooking(ctx, "booking-2")
	require.NoError(t, err)
	assert.Len(t, newPassengers, 2)

	storedOriginal, err := d.GetBookingByID(ctx, "booking-1")
	require.NoError(t, err)
	assert.Equal(t, models.BookingRescheduled, storedOriginal.Status)
}

func TestRescheduleBookingRollsBackWhenNewTripFull(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()
	oldTrip := seedTrip(t, d, "trip-a", 12, 48*time.Hour)
	newTrip := seedTrip(t, d, "trip-b", 1, 96*time.Hour)

	original, ps := sampleBooking("booking-1", oldTrip.TripID, 2, oldTrip.DepartureTime)
	original.Status = models.BookingConfirmed
	original.PaymentStatus = models.PaymentPaid
	require.NoError(t, d.CreateBooking(ctx, original, ps))

	successor := &models.Booking{
		BookingID:             "booking-2",
		TripID:                newTrip.TripID,
		NumberOfPassengers:    2,
		BookingDate:           time.Now(),
		Status:                models.BookingConfirmed,
		PaymentStatus:         models.PaymentPaid,
		BookingReference:      "R-" + original.BookingReference,
		IsRescheduled:         true,
		OriginalTripID:        oldTrip.TripID,
		OriginalDepartureTime: original.OriginalDepartureTime,
	}

	original.Status = models.BookingRescheduled
	err := d.RescheduleBooking(ctx, original, successor)
	assert.ErrorIs(t, err, booking.ErrInsufficientSeats)

	// Everything rolled back: original still holds its seats and status.
	oldStored, err := d.GetTripByID(ctx, oldTrip.TripID)
	require.NoError(t, err)
	assert.Equal(t, 10, oldStored.AvailableSeats)

	_, err = d.GetBookingByID(ctx, "booking-2")
	assert.ErrorIs(t, err, booking.ErrBookingNotFound)

	passengers, err := d.GetPassengersByBooking(ctx, "booking-1")
	require.NoError(t, err)
	assert.Len(t, passengers, 2)
}

func TestGetPolicyNotConfigured(t *testing.T) {
	d := setupTestDB(t)

	_, err := d.GetPolicy(context.Background())
	assert.ErrorIs(t, err, booking.ErrPolicyNotConfigured)
}

// applyMigrations builds the schema from the shipped SQL files instead of
// the bun models, so column names that drift from the model tags fail here.
func applyMigrations(t *testing.T, bunDB *bun.DB, files ...string) {
	t.Helper()
	ctx := context.Background()
	for _, file := range files {
		raw, err := os.ReadFile(filepath.Join("..", "..", "..", "migrations", file))
		require.NoError(t, err)

		// SERIAL is the only Postgres-ism sqlite cannot parse.
		script := strings.ReplaceAll(string(raw), "SERIAL", "INTEGER")
		for _, stmt := range strings.Split(script, ";") {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" {
				continue
			}
			_, err := bunDB.ExecContext(ctx, stmt)
			require.NoError(t, err, stmt)
		}
	}
}

func TestGetPolicyReadsMigratedSchema(t *testing.T) {
	sqldb, err := sql.Open(sqliteshim.ShimName, "file:migrated_schema?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { sqldb.Close() })
	bunDB := bun.NewDB(sqldb, sqlitedialect.New())

	applyMigrations(t, bunDB, "000001_init.up.sql", "000002_seed_policy.up.sql")
	d := &db.DB{Bun: bunDB}

	policy, err := d.GetPolicy(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 24, policy.FreeCancellationCutoffHours)
	assert.Equal(t, 3, policy.LateCancellationCutoffHours)
	assert.Equal(t, 0.50, policy.LateCancellationFeePercentage)
	assert.Equal(t, 24, policy.FreeReschedulingCutoffHours)
	assert.Equal(t, 3, policy.LateReschedulingCutoffHours)
	assert.Equal(t, 0.15, policy.LateReschedulingChargePercentage)
	assert.Equal(t, 6, policy.OfflinePaymentCutoffHoursBeforeDeparture)
}

func TestGetTripByIDNotFound(t *testing.T) {
	d := setupTestDB(t)

	_, err := d.GetTripByID(context.Background(), "missing")
	assert.ErrorIs(t, err, booking.ErrTripNotFound)
}

func TestReaperQueriesSelectCohorts(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()
	now := time.Now()

	pastTrip := seedTrip(t, d, "trip-past", 12, -2*time.Hour)
	futureTrip := seedTrip(t, d, "trip-future", 12, 48*time.Hour)

	// Stale, no payment method chosen.
	stale, stalePs := sampleBooking("booking-stale", futureTrip.TripID, 1, futureTrip.DepartureTime)
	stale.BookingDate = now.Add(-2 * time.Hour)
	require.NoError(t, d.CreateBooking(ctx, stale, stalePs))

	// Offline method chosen but never paid.
	unpaid, unpaidPs := sampleBooking("booking-unpaid", futureTrip.TripID, 1, futureTrip.DepartureTime)
	unpaid.PaymentMethodType = models.MethodCash
	unpaid.BookingDate = now.Add(-30 * time.Hour)
	require.NoError(t, d.CreateBooking(ctx, unpaid, unpaidPs))

	// Pending on a trip that already departed.
	departed, departedPs := sampleBooking("booking-departed", pastTrip.TripID, 1, pastTrip.DepartureTime)
	departed.PaymentMethodType = models.MethodCash
	require.NoError(t, d.CreateBooking(ctx, departed, departedPs))

	// Fresh booking that must be left alone.
	fresh, freshPs := sampleBooking("booking-fresh", futureTrip.TripID, 1, futureTrip.DepartureTime)
	require.NoError(t, d.CreateBooking(ctx, fresh, freshPs))

	noMethod, err := d.StaleNoMethodBookings(ctx, now.Add(-1*time.Hour))
	require.NoError(t, err)
	require.Len(t, noMethod, 1)
	assert.Equal(t, "booking-stale", noMethod[0].BookingID)

	departedRows, err := d.DepartedPendingBookings(ctx, now)
	require.NoError(t, err)
	require.Len(t, departedRows, 1)
	assert.Equal(t, "booking-departed", departedRows[0].BookingID)

	unpaidRows, err := d.UnpaidPendingBookings(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, unpaidRows, 1)
	assert.Equal(t, "booking-unpaid", unpaidRows[0].BookingID)
}
