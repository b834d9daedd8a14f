package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	httpadapter "github.com/agendazap/backend/internal/billing/adapters/http"
	"github.com/agendazap/backend/internal/billing/adapters/stripegateway"
	"github.com/agendazap/backend/internal/billing/app"
	"github.com/agendazap/backend/internal/billing/repository/postgres"
	"github.com/agendazap/backend/internal/platform/config"
	"github.com/agendazap/backend/internal/platform/database"
	"github.com/agendazap/backend/internal/platform/httpmw"
	"github.com/agendazap/backend/internal/platform/logger"
)

const (
	serviceName     = "billing-service"
	shutdownTimeout = 15 * time.Second
)

func main() {
	mainCtx, mainCancel := context.WithCancel(context.Background())
	defer mainCancel()

	cfg, err := config.Load(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	appLogger := logger.New(cfg.LogLevel).With("service", serviceName)

	appLogger.Info("Billing service starting...",
		"http_port", cfg.BillingServicePort,
		"metrics_port", cfg.BillingServiceMetricsPort,
		"log_level", cfg.LogLevel,
	)

	if cfg.StripeAPIKey == "" || cfg.StripeWebhookSecret == "" {
		appLogger.Error("Stripe API key and webhook secret must be configured")
		os.Exit(1)
	}

	dbPool, err := database.NewDBPool(mainCtx, cfg.PostgresDSN, appLogger)
	if err != nil {
		appLogger.Error("Failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()
	appLogger.Info("Successfully connected to PostgreSQL")

	gateway := stripegateway.NewStripeGateway(cfg.StripeAPIKey, cfg.StripeWebhookSecret,
		stripegateway.PlanPriceIDs{
			"basic":        cfg.StripePriceBasic,
			"professional": cfg.StripePriceProfessional,
			"enterprise":   cfg.StripePriceEnterprise,
		}, appLogger)

	subscriptionRepo := postgres.NewPgSubscriptionRepository(appLogger)
	tenantBillingRepo := postgres.NewPgTenantBillingRepository(appLogger)
	paymentRepo := postgres.NewPgPaymentRepository(appLogger)
	webhookEventRepo := postgres.NewPgWebhookEventRepository(appLogger)

	billingService := app.NewService(
		subscriptionRepo, tenantBillingRepo, paymentRepo, webhookEventRepo,
		dbPool, gateway,
		app.URLs{
			CheckoutSuccess: cfg.CheckoutSuccessURL,
			CheckoutCancel:  cfg.CheckoutCancelURL,
			PortalReturn:    cfg.BillingPortalReturnURL,
		},
		appLogger,
	)

	g, groupCtx := errgroup.WithContext(mainCtx)

	// --- API HTTP server ---
	router := chi.NewRouter()
	router.Use(chiMiddleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(chiMiddleware.Recoverer)
	router.Use(httpmw.RequestLogger(appLogger))
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	billingHandler := httpadapter.NewBillingHandler(billingService, appLogger)
	webhookHandler := httpadapter.NewWebhookHandler(billingService, appLogger)
	auth := httpmw.AuthMiddleware(cfg.JWTSecret, appLogger)
	router.Route("/api/v1", func(r chi.Router) {
		billingHandler.RegisterRoutes(r, auth)
		webhookHandler.RegisterRoutes(r)
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.BillingServicePort),
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g.Go(func() error {
		appLogger.Info("HTTP server starting", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("HTTP server ListenAndServe error", "error", err)
			return err
		}
		appLogger.Info("HTTP server shut down gracefully.")
		return nil
	})

	// --- Metrics HTTP server ---
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.BillingServiceMetricsPort),
		Handler: metricsMux,
	}

	g.Go(func() error {
		appLogger.Info("Metrics HTTP server starting", "address", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("Metrics HTTP server ListenAndServe error", "error", err)
			return err
		}
		appLogger.Info("Metrics HTTP server shut down gracefully.")
		return nil
	})

	// --- Graceful shutdown ---
	stopSignal := make(chan os.Signal, 1)
	signal.Notify(stopSignal, syscall.SIGINT, syscall.SIGTERM)

	g.Go(func() error {
		select {
		case sig := <-stopSignal:
			appLogger.Info("Received termination signal", "signal", sig.String())
			mainCancel()
			return nil
		case <-groupCtx.Done():
			return nil
		}
	})

	g.Go(func() error {
		<-groupCtx.Done()
		appLogger.Info("Initiating graceful shutdown of servers...")

		shutdownCtx, cancelShutdownTimeout := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelShutdownTimeout()

		var shutdownErrors error
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("Metrics HTTP server graceful shutdown failed", "error", err)
			shutdownErrors = errors.Join(shutdownErrors, fmt.Errorf("metrics http shutdown: %w", err))
		}
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("HTTP server graceful shutdown failed", "error", err)
			shutdownErrors = errors.Join(shutdownErrors, fmt.Errorf("http shutdown: %w", err))
		}
		return shutdownErrors
	})

	appLogger.Info("Billing service is ready and running.")
	if err := g.Wait(); err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("Service group encountered an error during run/shutdown", "error", err)
		}
	}

	appLogger.Info("Billing service shut down successfully.")
}
