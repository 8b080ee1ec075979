package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/kursadbilgin/campaign-engine/internal/config"
	"github.com/kursadbilgin/campaign-engine/internal/handler"
	"github.com/kursadbilgin/campaign-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/campaign-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/campaign-engine/internal/infra/redis"
	"github.com/kursadbilgin/campaign-engine/internal/observability"
	"github.com/kursadbilgin/campaign-engine/internal/pacing"
	"github.com/kursadbilgin/campaign-engine/internal/provider"
	"github.com/kursadbilgin/campaign-engine/internal/queue"
	"github.com/kursadbilgin/campaign-engine/internal/render"
	"github.com/kursadbilgin/campaign-engine/internal/repository"
	"github.com/kursadbilgin/campaign-engine/internal/service"
	"github.com/kursadbilgin/campaign-engine/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 35 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("campaign-engine stopped with error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}

	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	lease, err := infraredis.NewCampaignLease(rdb, 0)
	if err != nil {
		return fmt.Errorf("campaign lease initialization failed: %w", err)
	}

	var events queue.Publisher = queue.NopPublisher{}
	if cfg.RabbitMQURL != "" {
		rmq, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
		if err != nil {
			return fmt.Errorf("rabbitmq initialization failed: %w", err)
		}
		publisher := queue.NewRabbitMQPublisher(rmq)
		defer publisher.Close()
		events = publisher
	}

	mailProvider, err := provider.NewMailAPIProvider(cfg.MailAPIURL, cfg.MailAPIToken)
	if err != nil {
		return fmt.Errorf("mail provider initialization failed: %w", err)
	}

	policy, err := pacing.NewPolicy(
		cfg.Location(),
		cfg.SendWindowOpen,
		cfg.SendWindowClose,
		cfg.DailyCap(),
		cfg.MinSendDelay(),
		cfg.MaxSendDelay(),
	)
	if err != nil {
		return fmt.Errorf("pacing policy initialization failed: %w", err)
	}

	metrics := observability.NewMetrics()
	campaignRepo := repository.NewGormCampaignRepo(db)

	campaignService, err := service.NewCampaignService(campaignRepo, logger)
	if err != nil {
		return err
	}

	runManager, err := service.NewRunManager(
		ctx,
		campaignRepo,
		mailProvider,
		render.NewLetterRenderer(),
		policy,
		lease,
		events,
		logger,
	)
	if err != nil {
		return err
	}
	runManager.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		ErrorHandler:          transport.ErrorHandler(logger),
		DisableStartupMessage: true,
	})
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb, runManager)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	if err := handler.RegisterCampaignRoutes(app, campaignService, runManager); err != nil {
		return err
	}

	g, groupCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("campaign-engine api started", zap.Int("port", cfg.APIPort))
		return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})

	g.Go(func() error {
		<-groupCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Active runs are paused, never abandoned mid-send: progress is
		// checkpointed and resumable after restart.
		if err := runManager.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to pause active runs on shutdown", zap.Error(err))
		}

		return app.ShutdownWithContext(shutdownCtx)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}

	logger.Info("campaign-engine stopped")
	return nil
}
