package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/ticket-lifecycle/internal/api/http"
	"github.com/spec-kit/ticket-lifecycle/internal/api/http/handlers"
	"github.com/spec-kit/ticket-lifecycle/internal/auth"
	"github.com/spec-kit/ticket-lifecycle/internal/automation"
	"github.com/spec-kit/ticket-lifecycle/internal/config"
	"github.com/spec-kit/ticket-lifecycle/internal/events"
	"github.com/spec-kit/ticket-lifecycle/internal/lifecycle"
	"github.com/spec-kit/ticket-lifecycle/internal/notify"
	"github.com/spec-kit/ticket-lifecycle/internal/observability"
	"github.com/spec-kit/ticket-lifecycle/internal/persistence"
	"github.com/spec-kit/ticket-lifecycle/internal/queue"
	"github.com/spec-kit/ticket-lifecycle/internal/repository"
	"github.com/spec-kit/ticket-lifecycle/internal/service"
	"github.com/spec-kit/ticket-lifecycle/internal/sla"
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.Pool, cfg.Postgres.MigrationsDir, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	rdb, err := persistence.NewRedis(ctx, cfg.Redis, logger)
	if err != nil {
		logger.Fatal("failed to connect redis", zap.Error(err))
	}
	defer rdb.Close()

	defaults, err := sla.LoadDefaultTargets(cfg.SLA.DefaultsFile)
	if err != nil {
		logger.Fatal("failed to load sla defaults", zap.Error(err))
	}

	metrics := observability.NewMetrics()

	pool := pg.Pool
	ticketRepo := repository.NewTicketRepository(pool)
	auditRepo := repository.NewAuditRepository(pool)
	userRepo := repository.NewUserRepository(pool)
	teamRepo := repository.NewTeamRepository(pool)
	csatRepo := repository.NewCsatRepository(pool)
	notificationRepo := repository.NewNotificationRepository(pool)
	ruleRepo := repository.NewAutomationRuleRepository(pool)

	notifier := notify.NewDefaultDispatcher(cfg.Notification, rdb.Client, notificationRepo, metrics, logger)
	scheduler := sla.NewScheduler(queue.NewRedisQueue(rdb.Client, queue.Options{}), sla.SchedulerConfig{
		RemindersEnabled: cfg.SLA.RemindersEnabled,
		ReminderLead:     cfg.SLA.ReminderLead(),
	}, logger)
	dispatcher := events.NewInMemoryDispatcher(logger)

	csatService := service.NewCsatService(service.CsatDependencies{
		CsatRepo:  csatRepo,
		UserRepo:  userRepo,
		AuditRepo: auditRepo,
		Notifier:  notifier,
		Config:    cfg.CSAT,
		Logger:    logger,
	})
	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo: ticketRepo,
		AuditRepo:  auditRepo,
		UserRepo:   userRepo,
		TeamRepo:   teamRepo,
		Lifecycle: lifecycle.New(lifecycle.ReopenPolicy{
			CooldownEnabled:            cfg.Reopen.CooldownEnabled,
			Cooldown:                   cfg.Reopen.Cooldown(),
			MinReasonLength:            cfg.Reopen.ReasonMinLength,
			FirstReopenMinReasonLength: cfg.Reopen.FirstReopenReasonMinimum,
		}),
		Resolver:   sla.NewResolver(repository.NewSlaPolicyRepository(pool), defaults),
		Scheduler:  scheduler,
		Csat:       csatService,
		Dispatcher: dispatcher,
		Metrics:    metrics,
		Logger:     logger,
	})
	notificationService := service.NewNotificationService(notificationRepo)

	codec, err := automation.NewCodec()
	if err != nil {
		logger.Fatal("failed to compile automation schema", zap.Error(err))
	}
	automation.NewEngine(ruleRepo, codec, ticketService, logger).RegisterHandlers(dispatcher)

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	authMiddleware := auth.NewAuthMiddleware(tokens, userRepo)

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health: handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, map[string]handlers.Pinger{
			"postgres": pg,
			"redis":    rdb,
		}),
		Tickets:        handlers.NewTicketsHandler(ticketService),
		Users:          handlers.NewUsersHandler(notificationService),
		Csat:           handlers.NewCsatHandler(csatService),
		AuthMiddleware: authMiddleware,
		RateLimiter: httptransport.NewRateLimiter(httptransport.RateLimiterConfig{
			RPS:   cfg.RateLimit.RPS,
			Burst: cfg.RateLimit.Burst,
		}),
		Metrics: metrics,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

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
