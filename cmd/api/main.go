package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stableflow/config"
	"stableflow/internal/adapter/events"
	httpHandler "stableflow/internal/adapter/http/handler"
	"stableflow/internal/adapter/queue"
	pgStorage "stableflow/internal/adapter/storage/postgres"
	redisStorage "stableflow/internal/adapter/storage/redis"
	"stableflow/internal/core/ports"
	"stableflow/internal/service"
	"stableflow/pkg/logger"
)

// eventDeliveryTimeout bounds a single sink call made by the dispatcher.
const eventDeliveryTimeout = 5 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Str("limits_backend", cfg.Limits.Backend).
		Msg("Starting StableFlow")

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Initialize PostgreSQL pool and schema
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	if err := pgStorage.Migrate(ctx, pool, log); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply schema migrations")
	}
	if err := pgStorage.MigrateRiver(ctx, pool, log); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply queue migrations")
	}

	// Initialize Redis client
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	// Initialize repositories
	walletRepo := pgStorage.NewWalletRepo(pool)
	txRepo := pgStorage.NewTransactionRepo(pool)
	logRepo := pgStorage.NewSettlementLogRepo(pool)
	idempotencyRepo := pgStorage.NewIdempotencyRepo(pool)
	transactor := pgStorage.NewTransactor(pool)

	var limits ports.LimitTracker
	switch cfg.Limits.Backend {
	case "redis":
		store, err := redisStorage.NewLimitStore(rdb, cfg.Intake.DefaultDailyLimit, cfg.Intake.DefaultMonthlyLimit)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize Redis limit store")
		}
		limits = store
	default:
		limits = pgStorage.NewLimitRepo(pool, cfg.Intake.DefaultDailyLimit, cfg.Intake.DefaultMonthlyLimit)
	}

	// Initialize Redis stores
	idempotencyCache := redisStorage.NewIdempotencyCache(rdb)
	outcomeCache := redisStorage.NewOutcomeCache(rdb)
	rateLimitStore := redisStorage.NewRateLimitStore(rdb)

	// Event sinks: the audit trail always, Kafka and webhooks when configured
	auditSvc := service.NewAuditService(pgStorage.NewAuditRepo(pool), log)
	sinks := []ports.EventSink{auditSvc}

	var kafkaPublisher *events.KafkaPublisher
	if cfg.Kafka.Enabled {
		kafkaPublisher = events.NewKafkaPublisher(cfg.Kafka)
		sinks = append(sinks, kafkaPublisher)
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("Kafka publishing enabled")
	}

	var notifier *service.WebhookNotifier
	var webhookRepo ports.WebhookRepository
	if cfg.Webhook.URL != "" {
		webhookRepo = pgStorage.NewWebhookRepo(pool)
		notifier = service.NewWebhookNotifier(
			cfg.Webhook.URL,
			cfg.Webhook.Secret,
			webhookRepo,
			service.NewHMACSignatureService(),
			&http.Client{Timeout: cfg.Webhook.Timeout},
			log,
		)
		sinks = append(sinks, notifier)
		log.Info().Str("url", cfg.Webhook.URL).Msg("Webhook notifications enabled")
	}

	dispatcher := service.NewEventDispatcher(eventDeliveryTimeout, log, sinks...)

	// Settlement pipeline. The River client needs the settlement service; intake needs the client.
	settlementSvc := service.NewSettlementService(
		txRepo,
		walletRepo,
		logRepo,
		limits,
		outcomeCache,
		dispatcher,
		transactor,
		service.SettlementOptions{
			MaxRetries:        cfg.Settlement.MaxRetries,
			BaseRetryDelay:    cfg.Settlement.BaseRetryDelay,
			ProcessingTimeout: cfg.Settlement.ProcessingTimeout,
			OutcomeTTL:        cfg.Settlement.OutcomeCacheTTL,
		},
		log,
	)

	riverClient, err := queue.NewClient(pool, settlementSvc, cfg.Settlement, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create settlement queue client")
	}
	if err := riverClient.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start settlement workers")
	}
	log.Info().Int("workers", cfg.Settlement.Workers).Msg("Settlement workers started")

	intakeSvc := service.NewIntakeService(
		txRepo,
		walletRepo,
		logRepo,
		idempotencyRepo,
		idempotencyCache,
		limits,
		queue.NewRiverQueue(riverClient),
		transactor,
		auditSvc,
		service.IntakeOptions{
			FeeRate:         cfg.Intake.FeeRate,
			MinAmount:       cfg.Intake.MinAmount,
			MaxBatchSize:    cfg.Intake.MaxBatchSize,
			DefaultCurrency: cfg.Intake.DefaultCurrency,
		},
		log,
	)
	walletSvc := service.NewWalletService(walletRepo, transactor, auditSvc, cfg.Intake.DefaultCurrency, log)
	limitSvc := service.NewLimitService(limits, auditSvc)
	reportingSvc := service.NewReportingService(txRepo)
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)

	// Initialize health checkers
	pgHealth := pgStorage.NewHealthCheck(pool)
	redisHealth := redisStorage.NewHealthCheck(rdb)

	// Setup Gin router with all routes
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		IntakeSvc:      intakeSvc,
		SettlementSvc:  settlementSvc,
		WalletSvc:      walletSvc,
		LimitSvc:       limitSvc,
		ReportingSvc:   reportingSvc,
		TokenSvc:       tokenSvc,
		AuditSvc:       auditSvc,
		RateLimitStore: rateLimitStore,
		WebhookRepo:    webhookRepo,
		HealthCheckers: []ports.HealthChecker{pgHealth, redisHealth},
		Logger:         log,
	})

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop intake first, then let in-flight settlements finish before draining events.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := riverClient.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Settlement workers did not stop cleanly")
	}
	if err := dispatcher.Wait(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Pending events were not delivered")
	}
	if notifier != nil {
		notifier.Close()
	}
	if kafkaPublisher != nil {
		if err := kafkaPublisher.Close(); err != nil {
			log.Error().Err(err).Msg("Kafka writer close failed")
		}
	}

	log.Info().Msg("Server exited")
}
