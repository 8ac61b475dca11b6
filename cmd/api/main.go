package main

import (
	"context"
	"net/http"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/harborline/marketfleet-backend/api/routes"
	"github.com/harborline/marketfleet-backend/internal/cart"
	"github.com/harborline/marketfleet-backend/internal/notifications"
	"github.com/harborline/marketfleet-backend/internal/orders"
	"github.com/harborline/marketfleet-backend/internal/payments"
	"github.com/harborline/marketfleet-backend/internal/payouts"
	"github.com/harborline/marketfleet-backend/internal/sellers"
	stripewebhook "github.com/harborline/marketfleet-backend/internal/webhooks/stripe"
	"github.com/harborline/marketfleet-backend/pkg/config"
	"github.com/harborline/marketfleet-backend/pkg/db"
	"github.com/harborline/marketfleet-backend/pkg/logger"
	"github.com/harborline/marketfleet-backend/pkg/metrics"
	"github.com/harborline/marketfleet-backend/pkg/migrate"
	"github.com/harborline/marketfleet-backend/pkg/redis"
	stripegw "github.com/harborline/marketfleet-backend/pkg/stripe"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	stripeClient, err := stripegw.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe client", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	paymentMetrics := metrics.NewPaymentMetrics(registry)

	gormDB := dbClient.DB()

	notificationsSvc, err := notifications.NewService(
		notifications.NewRepository(gormDB),
		notifications.LogSender{From: cfg.Notifications.FromEmail, Logg: logg},
		cfg.Notifications,
		logg,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create notifications service", err)
		os.Exit(1)
	}

	ordersSvc, err := orders.NewService(
		orders.NewRepository(gormDB),
		dbClient,
		cart.NewRepository(gormDB),
		payments.NewSettlementMarker(),
		notificationsSvc,
		logg,
		cfg.Pricing.TaxRateDecimal(),
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	paymentsSvc, err := payments.NewService(
		payments.NewRepository(gormDB),
		orders.NewRepository(gormDB),
		ordersSvc,
		stripeClient,
		dbClient,
		notificationsSvc,
		paymentMetrics,
		logg,
		cfg.Payout.PlatformFeeRateDecimal(),
		checkoutURL(cfg, cfg.Stripe.CheckoutSuccessPath),
		checkoutURL(cfg, cfg.Stripe.CheckoutCancelPath),
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create payments service", err)
		os.Exit(1)
	}

	sellersSvc, err := sellers.NewService(sellers.NewRepository(gormDB), logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create sellers service", err)
		os.Exit(1)
	}

	payoutsSvc, err := payouts.NewService(
		payouts.NewRepository(gormDB),
		sellersSvc,
		stripeClient,
		dbClient,
		paymentMetrics,
		logg,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create payouts service", err)
		os.Exit(1)
	}

	webhookSvc, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Payments: paymentsSvc,
		Orders:   ordersSvc,
		Sellers:  sellersSvc,
		Gateway:  stripeClient,
		Guard:    redisClient,
		GuardTTL: cfg.Stripe.WebhookGuardTTL,
		Metrics:  paymentMetrics,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			ordersSvc,
			paymentsSvc,
			payoutsSvc,
			notificationsSvc,
			sellersSvc,
			webhookSvc,
			registry,
		),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func checkoutURL(cfg *config.Config, path string) string {
	base := strings.TrimRight(cfg.App.PublicURL, "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}
