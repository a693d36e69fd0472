package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/mosaicstories/mosaic/internal"
	"github.com/mosaicstories/mosaic/internal/analytics"
	"github.com/mosaicstories/mosaic/internal/billing"
	"github.com/mosaicstories/mosaic/internal/handler/api"
	"github.com/mosaicstories/mosaic/internal/handler/webhook"
	"github.com/mosaicstories/mosaic/internal/middleware"
	"github.com/mosaicstories/mosaic/internal/postgres"
	"github.com/mosaicstories/mosaic/internal/router"
	"github.com/mosaicstories/mosaic/internal/routes"
	"github.com/mosaicstories/mosaic/internal/telemetry"
)

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize database/sql connection for migrations
	logger.Info("Connecting to database...")
	sqlDB, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer sqlDB.Close()

	// Verify database connection
	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	logger.Info("Database connection established")

	// Run migrations
	logger.Info("Running database migrations...")
	if err := internal.RunMigrations(sqlDB); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database migrations completed successfully")

	// Initialize pgx connection pool for application
	pool, err := pgxpool.New(ctx, cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer pool.Close()

	// Initialize stores
	ledgerStore := postgres.NewLedgerStore(pool)
	eventStore := postgres.NewEventStore(pool)
	notificationStore := postgres.NewNotificationStore(pool)

	// Initialize telemetry
	telemetry.InitBusinessMetrics("mosaic")
	metrics := middleware.NewMetrics("mosaic")

	// Initialize analytics publisher (optional)
	var publisher analytics.Publisher = analytics.Noop{}
	if cfg.NATSURL != "" {
		publisher, err = analytics.NewNATSPublisher(cfg.NATSURL, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize analytics publisher: %w", err)
		}
		defer publisher.Close()
	} else {
		logger.Info("NATS_URL not set, analytics publishing disabled")
	}

	// Initialize the reconciliation engine and normalizers
	creditConfig := billing.CreditConfig{
		SubscriptionBonus: cfg.Credits.SubscriptionBonus,
		ProductCredits:    cfg.Credits.ProductCredits,
		EntitlementID:     cfg.Credits.EntitlementID,
	}
	engine := billing.NewEngine(creditConfig)

	processor := &webhook.Processor{
		Ledger:    ledgerStore,
		Events:    eventStore,
		Engine:    engine,
		Analytics: publisher,
	}

	if cfg.Billing.StripeWebhookSecret == "" {
		logger.Warn("STRIPE_WEBHOOK_SECRET is empty, Stripe webhooks will not be verified")
	}
	if cfg.Billing.RevenueCatWebhookSecret == "" && cfg.Billing.RevenueCatWebhookAuth == "" {
		logger.Warn("RevenueCat webhook authentication is not configured")
	}

	// Webhook handlers
	webhookDeps := routes.WebhookDeps{
		StripeHandler: webhook.NewStripeHandler(
			billing.NewStripeNormalizer(creditConfig),
			processor,
			cfg.Billing.StripeWebhookSecret,
		),
		RevenueCatHandler: webhook.NewRevenueCatHandler(
			billing.NewRevenueCatNormalizer(creditConfig),
			billing.NewVerifier(cfg.Billing.RevenueCatWebhookSecret),
			processor,
			cfg.Billing.RevenueCatWebhookAuth,
		),
		AppStoreHandler: webhook.NewAppStoreHandler(
			billing.NewAppStoreNormalizer(creditConfig),
			billing.NewVerifier(cfg.Billing.AppStoreWebhookSecret),
			processor,
			notificationStore,
		),
	}

	// API handlers
	apiDeps := routes.APIDeps{
		UserHandler: api.NewUserHandler(ledgerStore, cfg.Credits.StarterCredits),
	}

	opsDeps := routes.OpsDeps{
		MetricsHandler: metrics.Handler(),
	}

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	r := router.New(
		router.Recovery(logger),
		middleware.RequestID,
		metrics.Middleware,
		middleware.MaxBodySize(middleware.DefaultMaxBodySize),
		middleware.Timeout(middleware.DefaultTimeout),
		middleware.WithRequestLogger(logger),
		router.Logger(logger),
	)

	routes.RegisterWebhookRoutes(r, webhookDeps)
	routes.RegisterAPIRoutes(r, apiDeps)
	routes.RegisterOpsRoutes(r, opsDeps)

	// ==========================================================================
	// Start server
	// ==========================================================================

	addr := fmt.Sprintf(":%d", cfg.Port)
	logger.Info("Starting billing server", "address", addr, "env", cfg.Env)

	if err := http.ListenAndServe(addr, r); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
