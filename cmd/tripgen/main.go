// Generates scheduled trips for the Kabayan-Baguio corridor: five
// departures per day in each direction, starting the day after the
// latest scheduled trip.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"bkoda/internal/booking/db"
	"bkoda/internal/config"
	"bkoda/internal/logger"
	"bkoda/internal/models"
)

const (
	companyName  = "BKODA Transport"
	seatsPerTrip = 12
	pricePerSeat = 250.00
	tripsPerDay  = 5
	travelHours  = 3
	firstHour    = 6
	hourSpacing  = 2
)

type route struct {
	origin      string
	destination string
	code        string
}

var routes = []route{
	{"Kabayan, Benguet", "Baguio City", "KAB-BAG"},
	{"Baguio City", "Kabayan, Benguet", "BAG-KAB"},
}

func main() {
	days := flag.Int("days", 5, "number of days of trips to generate")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := config.Load()
	appLogger := logger.NewLogger()
	defer appLogger.Close()

	connector := pgdriver.NewConnector(pgdriver.WithDSN(cfg.Database.DSN()))
	sqldb := sql.OpenDB(connector)
	defer sqldb.Close()

	if err := sqldb.Ping(); err != nil {
		appLogger.Fatal("DB", "Failed to connect to Postgres: "+err.Error())
	}
	bunDB := bun.NewDB(sqldb, pgdialect.New())
	dbLayer := db.New(bunDB, appLogger)

	ctx := context.Background()

	latest, err := dbLayer.LatestTripDate(ctx)
	if err != nil {
		appLogger.Fatal("DB", "Failed to read latest trip date: "+err.Error())
	}

	start := time.Now().Truncate(24 * time.Hour)
	if !latest.IsZero() {
		start = latest.AddDate(0, 0, 1)
	}

	created := 0
	for day := 0; day < *days; day++ {
		date := start.AddDate(0, 0, day)
		for _, rt := range routes {
			for i := 0; i < tripsPerDay; i++ {
				hour := firstHour + i*hourSpacing
				departure := time.Date(date.Year(), date.Month(), date.Day(), hour, 0, 0, 0, time.Local)

				trip := &models.Trip{
					TripID:         uuid.NewString(),
					TripNumber:     fmt.Sprintf("%s-%s-%02d00", rt.code, date.Format("20060102"), hour),
					Origin:         rt.origin,
					Destination:    rt.destination,
					Date:           date,
					DepartureTime:  departure,
					ArrivalTime:    departure.Add(travelHours * time.Hour),
					TotalSeats:     seatsPerTrip,
					AvailableSeats: seatsPerTrip,
					Price:          pricePerSeat,
					CompanyName:    companyName,
				}
				if err := dbLayer.CreateTrip(ctx, trip); err != nil {
					appLogger.Fatal("DB", fmt.Sprintf("Failed to create trip %s: %v", trip.TripNumber, err))
				}
				created++
			}
		}
	}

	appLogger.Info("TRIPGEN", fmt.Sprintf("Created %d trips from %s for %d day(s)",
		created, start.Format("2006-01-02"), *days))
}
