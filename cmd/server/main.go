package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vaultpay/internal/config"
	"vaultpay/internal/events"
	"vaultpay/internal/handlers"
	"vaultpay/internal/ledger"
	"vaultpay/internal/locks"
	"vaultpay/internal/logging"
	"vaultpay/internal/payments"
	"vaultpay/internal/provider"
	"vaultpay/internal/repository"
	"vaultpay/internal/webhooks"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("failed to load config:", err)
	}

	logger := logging.SetupLogger(cfg.LogLevel)

	gin.SetMode(gin.ReleaseMode)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	poolConfig, err := pgxpool.ParseConfig(cfg.DBURL)
	if err != nil {
		logger.Error("failed to parse db config", "err", err)
		os.Exit(1)
	}
	poolConfig.MaxConns = int32(cfg.DBMaxConns)
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Error("failed to connect to database", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	walletRepo := repository.NewWalletPGRepository(pool, logger)
	lockRepo := repository.NewLockPGRepository(pool, logger)
	paymentRepo := repository.NewPaymentPGRepository(pool, logger)
	webhookRepo := repository.NewWebhookPGRepository(pool, logger)

	engine := ledger.NewEngine(walletRepo, logger)
	lockMgr := locks.NewManager(lockRepo, logger, cfg.LockTTL)
	providerClient := provider.NewHTTPClient(cfg.ProviderBaseURL, cfg.ProviderAPIKey, cfg.ProviderTimeout, logger)
	emitter := events.NewAsyncEmitter(256, logger)

	orchestrator := payments.NewOrchestrator(paymentRepo, lockMgr, engine, providerClient, emitter, payments.Config{
		CommissionRate: cfg.CommissionRate,
		PaymentTTL:     cfg.PaymentTTL,
	}, logger)
	ingestor := webhooks.NewIngestor(webhookRepo, orchestrator, cfg.WebhookSecret, logger)

	handler := handlers.NewHTTPHandler(orchestrator, engine, ingestor)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	sweeper := payments.NewSweeper(orchestrator, lockMgr, cfg.SweepInterval, logger)
	go sweeper.Run(sweepCtx)

	// Drain outbound events; the notification collaborator subscribes here.
	go func() {
		for e := range emitter.Events() {
			logger.Info("outbound event",
				"type", string(e.Type),
				"payment_id", e.PaymentID.String(),
			)
		}
	}()

	r := gin.Default()
	handler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		logger.Info("Starting server", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil {
			logger.Error("Server failed", "err", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server")
	stopSweep()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(ctxShutdown); err != nil {
		logger.Error("Server forced to shutdown", "err", err)
	}
	logger.Info("Server exiting")
}
