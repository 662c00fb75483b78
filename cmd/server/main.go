package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/njtehketenjian-stack/shopify-automation-secure/internal/api"
	"github.com/njtehketenjian-stack/shopify-automation-secure/internal/config"
	"github.com/njtehketenjian-stack/shopify-automation-secure/internal/courier"
	"github.com/njtehketenjian-stack/shopify-automation-secure/internal/fiscal"
	"github.com/njtehketenjian-stack/shopify-automation-secure/internal/ledger"
	"github.com/njtehketenjian-stack/shopify-automation-secure/internal/service"
	"github.com/njtehketenjian-stack/shopify-automation-secure/internal/shopify"
)

const housekeepingInterval = time.Hour

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewDevelopmentConfig()
	if cfg.Environment == "production" {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = level
	return zcfg.Build()
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting order relay",
		zap.String("port", cfg.Port),
		zap.String("environment", cfg.Environment),
		zap.Bool("fiscal_receipts", cfg.Fiscal.Enabled()),
		zap.Bool("require_fiscal_receipt", cfg.RequireFiscalReceipt),
	)

	// Open the idempotency ledger
	store, err := ledger.Open(cfg.Ledger.Path,
		ledger.WithWebhookRetention(cfg.Ledger.WebhookRetention),
		ledger.WithLogger(logger),
	)
	if err != nil {
		logger.Fatal("Failed to open ledger", zap.String("path", cfg.Ledger.Path), zap.Error(err))
	}
	defer store.Close()
	if cfg.Ledger.Path == "" {
		logger.Warn("Ledger is in memory; processing state is lost on restart")
	}

	// The file lock makes this the only process: anything still processing was interrupted
	recovered, err := store.RecoverInterrupted(context.Background(), time.Now())
	if err != nil {
		logger.Fatal("Failed to recover interrupted orders", zap.Error(err))
	}
	for _, id := range recovered {
		logger.Warn("Order was interrupted by a restart; retry it explicitly", zap.String("order_id", id.String()))
	}

	// Initialize adapters
	shop := shopify.NewClient(cfg.Shopify, cfg.HTTPClientTimeout, logger)
	courierClient := courier.NewClient(courier.Config{
		BaseURL: cfg.Courier.BaseURL,
		APIKey:  cfg.Courier.APIKey,
		Timeout: cfg.HTTPClientTimeout,
	}, logger)

	var fiscalClient service.Fiscal
	if cfg.Fiscal.Enabled() {
		fiscalClient = fiscal.NewClient(fiscal.Config{
			BaseURL:     cfg.Fiscal.BaseURL,
			Username:    cfg.Fiscal.Username,
			Password:    cfg.Fiscal.Password,
			PartnerTIN:  cfg.Fiscal.PartnerTIN,
			Dep:         cfg.Fiscal.Dep,
			TokenHeader: cfg.Fiscal.TokenHeader,
			Timeout:     cfg.HTTPClientTimeout,
		}, store, logger)
	} else {
		logger.Warn("FISCAL_BASE_URL not set, fiscal receipts are disabled")
	}

	orch := service.NewOrchestrator(store, shop, courierClient, fiscalClient, service.Options{
		RequireReceipt: cfg.RequireFiscalReceipt,
		CourierCompany: cfg.Courier.Company,
		TrackingURL:    cfg.Courier.TrackingURL,
		WatchEvery:     cfg.Schedule.ConfirmWaitInterval,
		WatchCeiling:   cfg.Schedule.ConfirmWaitCeiling,
		ProcessTimeout: cfg.Schedule.ProcessTimeout,
	}, logger)

	// Initialize router
	router := api.NewRouter(cfg, orch, store, logger)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Background triggers: pending-order poll and ledger housekeeping
	loopCtx, stopLoops := context.WithCancel(context.Background())
	defer stopLoops()
	go orch.RunPollLoop(loopCtx, cfg.Schedule.PollInterval)
	go service.RunHousekeepingLoop(loopCtx, store, housekeepingInterval, service.HousekeepingPolicy{
		WebhookRetention: cfg.Ledger.WebhookRetention,
		CompactAfter:     cfg.Ledger.RecordCompactAfter,
		StaleAfter:       cfg.Ledger.RecoverStaleAfter,
	}, logger)
	logger.Info("Background jobs started",
		zap.Duration("poll_interval", cfg.Schedule.PollInterval),
		zap.Duration("housekeeping_interval", housekeepingInterval),
	)

	logger.Info("Server started successfully", zap.String("address", srv.Addr))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	stopLoops()
	orch.Shutdown()

	logger.Info("Server exited")
}
