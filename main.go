package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"shop-service/config"
	"shop-service/consumers"
	"shop-service/controllers"
	"shop-service/database"
	"shop-service/logging"
	"shop-service/mailer"
	"shop-service/middlewares"
	"shop-service/rabbitmq"
	"shop-service/services"
	"shop-service/utils"
)

func main() {
	cfg := config.LoadConfig()

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger initialization failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("shop service stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.InitDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.DBAutoMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			return err
		}
		logger.Info("database schema migrated")
	}
	store := database.NewStore(db)

	rmq, err := rabbitmq.NewRabbitMQ(cfg, logger)
	if err != nil {
		return err
	}
	defer rmq.Close()

	if err := rmq.SetupQueues(); err != nil {
		return err
	}

	dispatcher := rabbitmq.NewDispatcher(rmq, store, cfg.NotifyBufferSize, logger.Named("dispatcher"))
	go dispatcher.Run()

	var mail mailer.Mailer = mailer.NewLogMailer(logger)
	if cfg.SMTPHost != "" {
		mail = mailer.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.SMTPFrom)
	}

	msgs, err := rmq.Consume(cfg.NotifyQueue, "shop-notifications", 10)
	if err != nil {
		return err
	}
	deadLetters, err := rmq.Consume(cfg.DeadLetterQueue, "shop-notifications-dlq", 10)
	if err != nil {
		logger.Warn("dead letter consumer not started", zap.Error(err))
	}
	worker := consumers.NewNotificationWorker(consumers.NotificationWorkerDeps{
		Users:       store,
		Logs:        store,
		Mailer:      mail,
		Retry:       rmq,
		MaxAttempts: cfg.NotifyMaxAttempts,
		RetryDelay:  cfg.NotifyRetryDelay,
		Logger:      logger.Named("notifications"),
	})
	worker.Start(ctx, msgs, deadLetters)

	tokens := utils.NewTokenManager(cfg.JWTSecret, cfg.JWTTTL)

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Store:    store,
		Notifier: dispatcher,
		Pricing: services.PricingPolicy{
			ShippingFee:           cfg.ShippingFee,
			FreeShippingThreshold: cfg.FreeShippingThreshold,
		},
		Logger: logger.Named("orders"),
	})
	if err != nil {
		return err
	}
	refunds, err := services.NewRefundService(services.RefundServiceDeps{
		Store:      store,
		WindowDays: cfg.RefundWindowDays,
		Logger:     logger.Named("refunds"),
	})
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	router := controllers.NewRouter(controllers.RouterDeps{
		Orders: controllers.NewOrderController(orders, refunds, logger),
		Admin:  controllers.NewAdminController(orders, refunds, logger),
		Shop: controllers.NewShopController(
			services.NewCatalogService(store),
			services.NewCartService(store, store),
			services.NewUserService(services.UserServiceDeps{
				Users:     store,
				Tokens:    tokens,
				Notifier:  dispatcher,
				VerifyURL: strings.TrimRight(cfg.PublicBaseURL, "/") + "/api/auth/verify",
				VerifyTTL: cfg.EmailVerifyTTL,
				Logger:    logger.Named("users"),
			}),
			logger,
		),
		Tokens:  tokens,
		Limiter: middlewares.NewKeyedLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		Health:  db,
		Logger:  logger,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("shop service starting", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Error("notification dispatcher did not drain", zap.Error(err))
	}
	return nil
}
