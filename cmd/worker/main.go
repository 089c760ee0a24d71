package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	eventapp "github.com/rentledger/backend/internal/application/event"
	paymentapp "github.com/rentledger/backend/internal/application/payment"
	"github.com/rentledger/backend/internal/domain/shared"
	"github.com/rentledger/backend/internal/infrastructure/cache"
	"github.com/rentledger/backend/internal/infrastructure/config"
	"github.com/rentledger/backend/internal/infrastructure/event"
	"github.com/rentledger/backend/internal/infrastructure/logger"
	"github.com/rentledger/backend/internal/infrastructure/persistence"
	"github.com/rentledger/backend/internal/infrastructure/telemetry"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting Rentledger reconciliation worker",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
	)

	// Initialize OpenTelemetry tracer provider
	tracerProvider, err := telemetry.NewTracerProvider(context.Background(), telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			log.Error("Error shutting down tracer provider", zap.Error(err))
		}
	}()

	// Initialize database connection
	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, logger.MapGormLogLevel(cfg.Log.Level))
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	// Register database query tracing
	if cfg.Telemetry.DBTraceEnabled {
		dbTracing := telemetry.NewDBTracingPlugin(telemetry.DBTracingConfig{
			Enabled:          true,
			LogFullSQL:       cfg.Telemetry.DBLogFullSQL,
			SlowQueryThresh:  cfg.Telemetry.DBSlowQueryThresh,
			DBSystem:         "postgresql",
			WithoutVariables: !cfg.Telemetry.DBLogFullSQL,
		}, log)
		if err := dbTracing.RegisterOtelGorm(db.DB); err != nil {
			log.Fatal("Failed to register database tracing", zap.Error(err))
		}
	}

	// Initialize repositories
	settingsRepo := persistence.NewGormPartnerSettingsRepository(db.DB)
	membershipRepo := persistence.NewGormMembershipRepository(db.DB)
	partnerDirectory := persistence.NewPartnerDirectory(settingsRepo, membershipRepo)
	outboxRepo := event.NewGormOutboxRepository(db.DB)

	// Every service mutation runs inside a unit of work so payment
	// state, ledger rows and outbox entries commit atomically
	uowFactory := persistence.NewGormUnitOfWorkFactory(db.DB, func(tx *gorm.DB) shared.OutboxRepository {
		return event.NewGormOutboxRepository(tx)
	})

	// Initialize event serializer and register all event types
	eventSerializer := event.NewEventSerializer()
	event.RegisterAllEvents(eventSerializer)

	// Initialize application services
	aggregateService := paymentapp.NewInvoiceAggregateService()
	paymentService := paymentapp.NewPaymentService(uowFactory, partnerDirectory, aggregateService)
	transactionBridge := paymentapp.NewTransactionBridge(uowFactory)
	bridgeHandler := paymentapp.NewTransactionBridgeHandler(transactionBridge)

	// Initialize event bus with idempotent delivery
	eventBus := event.NewInMemoryEventBus(log)
	idempotencyStore, err := cache.NewIdempotencyStoreFactory(cfg.Redis, cache.WithLogger(log)).CreateStore()
	if err != nil {
		log.Fatal("Failed to create idempotency store", zap.Error(err))
	}
	eventBus.Subscribe(
		event.NewIdempotentHandler(bridgeHandler, idempotencyStore, log),
		bridgeHandler.EventTypes()...,
	)

	ctx := context.Background()
	if err := eventBus.Start(ctx); err != nil {
		log.Fatal("Failed to start event bus", zap.Error(err))
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := eventBus.Stop(stopCtx); err != nil {
			log.Error("Error stopping event bus", zap.Error(err))
		}
	}()

	// Start the outbox processor
	var outboxProcessor *event.OutboxProcessor
	if cfg.Event.ProcessorEnabled {
		outboxProcessor = event.NewOutboxProcessor(outboxRepo, eventBus, eventSerializer, event.OutboxProcessorConfig{
			BatchSize:        cfg.Event.BatchSize,
			PollInterval:     cfg.Event.PollInterval,
			CleanupEnabled:   cfg.Event.CleanupEnabled,
			CleanupRetention: cfg.Event.CleanupRetention,
			CleanupInterval:  1 * time.Hour,
		}, log)
		if err := outboxProcessor.Start(ctx); err != nil {
			log.Fatal("Failed to start outbox processor", zap.Error(err))
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := outboxProcessor.Stop(stopCtx); err != nil {
				log.Error("Error stopping outbox processor", zap.Error(err))
			}
		}()
	}

	// Start the bank payment match worker
	matchWorker := paymentapp.NewMatchWorker(uowFactory, paymentService, paymentapp.MatchWorkerConfig{
		BatchSize:    cfg.Matching.BatchSize,
		PollInterval: cfg.Matching.Interval,
	}, log)
	if err := matchWorker.Start(ctx); err != nil {
		log.Fatal("Failed to start match worker", zap.Error(err))
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := matchWorker.Stop(stopCtx); err != nil {
			log.Error("Error stopping match worker", zap.Error(err))
		}
	}()

	// Periodic outbox queue depth reporting
	maintenance := eventapp.NewOutboxMaintenanceService(outboxRepo, log)
	maintenance.StartReporting(ctx, 1*time.Minute)
	defer maintenance.Stop()

	log.Info("Reconciliation worker started")

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down reconciliation worker...")
}
