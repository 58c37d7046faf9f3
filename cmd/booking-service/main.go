package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"bkoda/internal/booking"
	"bkoda/internal/booking/api"
	"bkoda/internal/booking/boardingpass"
	"bkoda/internal/booking/db"
	rediswrap "bkoda/internal/booking/redis"
	"bkoda/internal/config"
	"bkoda/internal/database/migrations"
	"bkoda/internal/gateway"
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- PostgreSQL ---
	connector := pgdriver.NewConnector(pgdriver.WithDSN(cfg.Database.DSN()))
	sqldb := sql.OpenDB(connector)
	defer sqldb.Close()

	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)

	if err := sqldb.Ping(); err != nil {
		appLogger.Fatal("DB", "Failed to connect to Postgres: "+err.Error())
	}
	bunDB := bun.NewDB(sqldb, pgdialect.New())

	// --- Migrations ---
	opts := migrations.DefaultOptions()
	if _, err := os.Stat(opts.MigrationsDir); os.IsNotExist(err) {
		// No migration files shipped alongside the binary; create the
		// schema straight from the models.
		appLogger.Warn("DB", "No migrations directory found, creating schema from models")
		db.Migrate(bunDB)
	} else {
		runner := migrations.NewRunner(bunDB, opts)
		if err := runner.RunMigrations(); err != nil {
			appLogger.Fatal("DB", "Migrations failed: "+err.Error())
		}
		defer runner.Close()
	}

	// --- Redis ---
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		appLogger.Fatal("REDIS", "Failed to connect to Redis: "+err.Error())
	}
	defer redisClient.Close()
	tripLocks := rediswrap.NewRedis(redisClient, appLogger, cfg.Redis.TripLockTTL)

	// --- Stripe ---
	stripeGateway, err := gateway.NewStripe(cfg.Stripe.SecretKey, appLogger)
	if err != nil {
		appLogger.Fatal("PAYMENT", "Failed to initialize Stripe: "+err.Error())
	}

	// --- Kafka notifier ---
	var notify booking.Notifier
	var kafkaNotifier *notifier.KafkaNotifier
	if cfg.Kafka.Enabled {
		if err := notifier.EnsureTopicExists(cfg.Kafka.Brokers, cfg.Kafka.NotificationsTopic); err != nil {
			appLogger.Warn("KAFKA", "Could not ensure topic exists: "+err.Error())
		}
		kafkaNotifier = notifier.NewKafkaNotifier(cfg.Kafka.Brokers, cfg.Kafka.NotificationsTopic, appLogger)
		defer kafkaNotifier.Close()
		notify = kafkaNotifier
	}

	// --- Wiring ---
	dbLayer := db.New(bunDB, appLogger)
	passes := boardingpass.NewGenerator(os.Getenv("BOARDING_PASS_SECRET"))
	service := booking.NewService(dbLayer, stripeGateway, notify, tripLocks, passes, cfg.Stripe.Currency, appLogger)
	handler := api.NewHandler(service, cfg.Stripe.WebhookSecret, appLogger)

	// --- Reaper ---
	var reaperNotifier reaper.Notifier
	if kafkaNotifier != nil {
		reaperNotifier = kafkaNotifier
	}
	sweeper := reaper.New(dbLayer, reaperNotifier, appLogger,
		cfg.Reaper.Interval, cfg.Reaper.NoMethodMaxAge, cfg.Reaper.UnpaidMaxAge)
	go sweeper.Start(ctx)

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Mount("/api/v1", handler.Routes())

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		appLogger.Info("SERVER", "Booking service running on "+cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("SERVER", "HTTP server error: "+err.Error())
		}
	}()

	<-ctx.Done()
	appLogger.Info("SERVER", "Shutdown signal received, cleaning up")

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctxShutdown); err != nil {
		appLogger.Error("SERVER", "Forced shutdown: "+err.Error())
		os.Exit(1)
	}
	appLogger.Info("SERVER", "Server exited gracefully")
}
