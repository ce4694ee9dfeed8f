package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/partsflow/approval-engine/internal/classify"
	"github.com/partsflow/approval-engine/internal/config"
	"github.com/partsflow/approval-engine/internal/deadletter"
	"github.com/partsflow/approval-engine/internal/engine"
	"github.com/partsflow/approval-engine/internal/handler"
	"github.com/partsflow/approval-engine/internal/infra/postgresql"
	"github.com/partsflow/approval-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/partsflow/approval-engine/internal/infra/redis"
	"github.com/partsflow/approval-engine/internal/mailer"
	"github.com/partsflow/approval-engine/internal/notify"
	"github.com/partsflow/approval-engine/internal/observability"
	"github.com/partsflow/approval-engine/internal/pdfrender"
	"github.com/partsflow/approval-engine/internal/repository"
	"github.com/partsflow/approval-engine/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	metrics := observability.NewMetrics()

	trackingRepo := repository.NewGormTrackingRepo(db)
	poRepo := repository.NewGormPurchaseOrderRepo(db)
	attemptRepo := repository.NewGormFailedAttemptRepo(db)
	txManager := repository.NewGormTxManager(db)

	limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.EmailRateLimitPerSec)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	primary, err := mailer.NewSMTPTransport("primary", mailer.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	})
	if err != nil {
		logger.Fatal("primary smtp transport initialization failed", zap.Error(err))
	}

	var fallback mailer.Transport
	if cfg.HasFallbackSMTP() {
		fallbackTransport, err := mailer.NewSMTPTransport("fallback", mailer.SMTPConfig{
			Host:     cfg.SMTPFallbackHost,
			Port:     cfg.SMTPFallbackPort,
			Username: cfg.SMTPFallbackUsername,
			Password: cfg.SMTPFallbackPassword,
			From:     cfg.SMTPFrom,
		})
		if err != nil {
			logger.Fatal("fallback smtp transport initialization failed", zap.Error(err))
		}
		fallback = fallbackTransport
	}

	dlq, err := deadletter.NewQueue(attemptRepo, primary, 0, logger)
	if err != nil {
		logger.Fatal("dead letter queue initialization failed", zap.Error(err))
	}
	dlq.SetMetrics(metrics)
	defer dlq.Stop()

	dispatcher, err := mailer.NewDispatcher(primary, fallback, dlq, limiter, logger)
	if err != nil {
		logger.Fatal("dispatcher initialization failed", zap.Error(err))
	}
	dispatcher.SetMetrics(metrics)

	bus, err := notify.NewRedisBus(rdb, logger)
	if err != nil {
		logger.Fatal("notification bus initialization failed", zap.Error(err))
	}
	hub := notify.NewHub(logger)

	approvalEngine, err := engine.NewEngine(
		txManager, trackingRepo, poRepo, dispatcher, classify.NewKeywordClassifier(), logger,
	)
	if err != nil {
		logger.Fatal("approval engine initialization failed", zap.Error(err))
	}
	approvalEngine.SetBus(bus)
	approvalEngine.SetMetrics(metrics)
	approvalEngine.SetRerouteEmail(cfg.RerouteEmail)

	if cfg.PDFRenderURL != "" {
		renderer, err := pdfrender.NewHTTPRenderer(cfg.PDFRenderURL)
		if err != nil {
			logger.Fatal("pdf renderer initialization failed", zap.Error(err))
		}
		approvalEngine.SetRenderer(renderer)
	} else {
		logger.Warn("PDF_RENDER_URL not set, approval emails go out without regenerated documents")
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(metrics.HTTPMiddleware())

	if err := handler.RegisterApprovalRoutes(app, approvalEngine); err != nil {
		logger.Fatal("failed to register approval routes", zap.Error(err))
	}
	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	handler.RegisterWebsocketRoutes(app, hub, logger)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Info("approval-engine api started", zap.Int("port", cfg.APIPort))
		return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})

	group.Go(func() error {
		return notify.RunBridge(groupCtx, bus, hub, logger)
	})

	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := group.Wait(); err != nil {
		logger.Error("server exited with error", zap.Error(err))
	}
}
