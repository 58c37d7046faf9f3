package db

import (
	"context"
	"log"

	"github.com/uptrace/bun"

	"bkoda/internal/models"
)

// Migrate creates the core tables and seeds the default booking policy.
// Development helper; production schemas go through the SQL migrations
// under migrations/.
func Migrate(bunDB *bun.DB) {
	ctx := context.Background()

	for _, model := range []interface{}{
		(*models.Trip)(nil),
		(*models.BookingPolicy)(nil),
		(*models.Booking)(nil),
		(*models.Passenger)(nil),
	} {
		if _, err := bunDB.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			log.Fatalf("create table failed: %v", err)
		}
	}

	log.Println("booking tables created")

	// Seed the policy singleton if missing.
	count, err := bunDB.NewSelect().Model((*models.BookingPolicy)(nil)).Count(ctx)
	if err != nil {
		log.Fatalf("policy count failed: %v", err)
	}
	if count == 0 {
		policy := &models.BookingPolicy{
			FreeCancellationCutoffHours:              24,
			LateCancellationCutoffHours:              3,
			LateCancellationFeePercentage:            0.50,
			FreeReschedulingCutoffHours:              24,
			LateReschedulingCutoffHours:              3,
			LateReschedulingChargePercentage:         0.15,
			OfflinePaymentCutoffHoursBeforeDeparture: 6,
		}
		if _, err := bunDB.NewInsert().Model(policy).Exec(ctx); err != nil {
			log.Fatalf("policy seed failed: %v", err)
		}
		log.Println("default booking policy seeded")
	}
}
