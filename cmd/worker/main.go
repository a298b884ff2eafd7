package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-lifecycle/internal/api/http/handlers"
	"github.com/spec-kit/ticket-lifecycle/internal/config"
	"github.com/spec-kit/ticket-lifecycle/internal/notify"
	"github.com/spec-kit/ticket-lifecycle/internal/observability"
	"github.com/spec-kit/ticket-lifecycle/internal/persistence"
	"github.com/spec-kit/ticket-lifecycle/internal/queue"
	"github.com/spec-kit/ticket-lifecycle/internal/repository"
	"github.com/spec-kit/ticket-lifecycle/internal/sla"
	"github.com/spec-kit/ticket-lifecycle/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck
	logger = logger.Named("sla-worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	rdb, err := persistence.NewRedis(ctx, cfg.Redis, logger)
	if err != nil {
		logger.Fatal("failed to connect redis", zap.Error(err))
	}
	defer rdb.Close()

	metrics := observability.NewMetrics()
	jobs := queue.NewRedisQueue(rdb.Client, queue.Options{})
	metrics.ObserveQueueDepth(func() float64 {
		n, err := jobs.Pending(context.Background())
		if err != nil {
			logger.Warn("queue depth unavailable", zap.Error(err))
			return 0
		}
		return float64(n)
	})

	notifier := notify.NewDefaultDispatcher(cfg.Notification, rdb.Client, repository.NewNotificationRepository(pg.Pool), metrics, logger)
	tickets := repository.NewTicketRepository(pg.Pool)
	runner := worker.NewSlaRunner(jobs,
		sla.NewWorker(tickets, repository.NewAuditRepository(pg.Pool), notifier, logger),
		sla.NewReminderWorker(tickets, notifier, logger),
		worker.WithLogger(logger),
		worker.WithMetrics(metrics),
		worker.WithSchedule(cfg.Worker.PollSchedule),
		worker.WithBatchSize(cfg.Worker.BatchSize),
		worker.WithRetryDelay(cfg.Worker.RetryDelay()),
	)
	if err := runner.Start(ctx); err != nil {
		logger.Fatal("failed to start sla runner", zap.Error(err))
	}

	health := handlers.NewHealthHandler(cfg.App.Name+"-worker", cfg.App.Version, map[string]handlers.Pinger{
		"postgres": pg,
		"redis":    rdb,
	})
	app := fiber.New(fiber.Config{AppName: cfg.App.Name + "-worker", DisableStartupMessage: true})
	app.Get("/health/live", health.Live)
	app.Get("/health/ready", health.Ready)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	go func() {
		if err := app.Listen(cfg.Worker.MetricsAddr); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	runner.Stop()
	if err := app.Shutdown(); err != nil {
		logger.Warn("fiber shutdown", zap.Error(err))
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
