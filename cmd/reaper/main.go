// One-shot sweep of abandoned bookings, for cron-style deployments
// where the in-process reaper is disabled.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"bkoda/internal/booking/db"
	"bkoda/internal/config"
	"bkoda/internal/logger"
	"bkoda/internal/notifier"
	"bkoda/internal/reaper"
)

func main() {
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

	var notify reaper.Notifier
	if cfg.Kafka.Enabled {
		kafkaNotifier := notifier.NewKafkaNotifier(cfg.Kafka.Brokers, cfg.Kafka.NotificationsTopic, appLogger)
		defer kafkaNotifier.Close()
		notify = kafkaNotifier
	}

	dbLayer := db.New(bunDB, appLogger)
	sweeper := reaper.New(dbLayer, notify, appLogger,
		cfg.Reaper.Interval, cfg.Reaper.NoMethodMaxAge, cfg.Reaper.UnpaidMaxAge)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	reaped, err := sweeper.Sweep(ctx)
	if err != nil {
		appLogger.Fatal("REAPER", "Sweep failed: "+err.Error())
	}
	appLogger.LogReaper("DONE", fmt.Sprintf("reaped %d booking(s)", reaped))
}
