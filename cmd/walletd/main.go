package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/mroshb/szludo_wallet/internal/config"
	"github.com/mroshb/szludo_wallet/internal/database"
	"github.com/mroshb/szludo_wallet/internal/gateway"
	"github.com/mroshb/szludo_wallet/internal/handlers"
	"github.com/mroshb/szludo_wallet/internal/metrics"
	"github.com/mroshb/szludo_wallet/internal/middleware"
	"github.com/mroshb/szludo_wallet/internal/notify"
	"github.com/mroshb/szludo_wallet/internal/repositories"
	"github.com/mroshb/szludo_wallet/internal/services"
	"github.com/mroshb/szludo_wallet/internal/storage"
	"github.com/mroshb/szludo_wallet/pkg/logger"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment")
	}

	logger.Init()
	defer logger.Sync()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", err)
	}

	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := mintToken(os.Args[2:], cfg.JWTSecret, os.Stdout); err != nil {
			logger.Fatal("Failed to mint token", err)
		}
		return
	}

	logger.Info("Starting SZLudo wallet service...")

	if cfg.AppEnv == "production" {
		if err := cfg.ValidateProductionSecurity(); err != nil {
			logger.Fatal("Production security validation failed", err)
		}
		logger.Info("Production security validation passed")
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to database", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		logger.Fatal("Failed to run migrations", err)
	}

	m := metrics.New()
	store := repositories.NewStore(db, cfg.ConflictRetries)
	store.SetRetryObserver(m.ObserveRetry)

	var notifier notify.Notifier = notify.Nop{}
	if cfg.BotToken != "" {
		tg, err := notify.NewTelegram(cfg.BotToken)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram notifier", err)
		}
		notifier = tg
		logger.Info("Telegram notifications enabled")
	}
	notifications := notify.NewQueue(notifier, cfg.NotifyQueueSize)
	notifications.OnFailure(func(notify.Event, error) { m.ObserveNotifyFailure() })

	blobs, err := storage.NewLocal(cfg.UploadDir, cfg.UploadBaseURL)
	if err != nil {
		logger.Fatal("Failed to prepare upload storage", err)
	}

	gw := gateway.NewRazorpay(gateway.RazorpayConfig{
		KeyID:           cfg.RazorpayKeyID,
		KeySecret:       cfg.RazorpayKeySecret,
		WebhookSecret:   cfg.RazorpayWebhookSecret,
		CheckoutBaseURL: cfg.CheckoutBaseURL,
		Currency:        cfg.Currency,
	})

	ledger := services.NewLedgerService(store, services.LedgerConfig{
		MinDeposit:    cfg.MinDeposit,
		MinWithdrawal: cfg.MinWithdrawal,
	}, notifications, m)
	referrals := services.NewReferralService(store, cfg.ReferralBonus, notifications, m)
	ledger.OnDepositCompleted(referrals.DepositHook())

	sweeper := services.NewSweeper(store, services.SweeperConfig{
		OrderTTL:   cfg.GetPendingOrderTTL(),
		DepositTTL: cfg.GetPendingDepositTTL(),
		Interval:   cfg.GetSweepInterval(),
	}, m)

	h := handlers.NewHandlerManager(
		ledger,
		services.NewPaymentService(store, gw, ledger, cfg.Currency, notifications, m),
		services.NewUserService(store, referrals),
		referrals,
		sweeper,
		services.NewExportService(store),
		services.NewDepositProofService(ledger, blobs, cfg.UploadMaxSize),
		cfg.UploadMaxSize,
	)

	limiter := middleware.NewRateLimiter(cfg.RateLimitPerUser, cfg.RateLimitPerIP, time.Minute)
	defer limiter.Close()

	srv := &http.Server{
		Addr: ":" + cfg.AppPort,
		Handler: handlers.NewRouter(h, handlers.RouterConfig{
			JWTSecret:    cfg.JWTSecret,
			ServiceToken: cfg.InternalAPIToken,
			UploadDir:    cfg.UploadDir,
			Limiter:      limiter,
			Metrics:      m,
			DB:           db,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	// stopped only after the server has drained, so late requests still notify
	queueCtx, stopQueue := context.WithCancel(context.Background())
	defer stopQueue()
	g.Go(func() error {
		return notifications.Run(queueCtx)
	})
	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", srv.Addr, "env", cfg.AppEnv)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return sweeper.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		defer stopQueue()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Wallet service stopped with error", "error", err)
	}

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
	logger.Info("Wallet service stopped")
}
