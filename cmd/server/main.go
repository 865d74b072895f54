// Package main is the entry point for the group membership service.
// It loads configuration, runs migrations, connects the database pool and
// serves the group JSON endpoints.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avissapr/groupwork/internal/config"
	"github.com/avissapr/groupwork/internal/database"
	"github.com/avissapr/groupwork/internal/handlers"
	"github.com/avissapr/groupwork/internal/logging"
	"github.com/avissapr/groupwork/internal/metrics"
	"github.com/avissapr/groupwork/internal/middleware"
	"github.com/avissapr/groupwork/internal/repository"
	"github.com/avissapr/groupwork/internal/security"
	"github.com/avissapr/groupwork/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New(os.Stderr, "info", "json").Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat).With("service", "groupwork")

	// "server migrate-down" rolls back the last migration and exits.
	if len(os.Args) > 1 && os.Args[1] == "migrate-down" {
		if err := database.RollbackMigration(cfg.MigrationsPath, cfg.DatabaseURL, logger); err != nil {
			logger.Error("rollback failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *logging.SlogLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := database.RunMigrations(cfg.MigrationsPath, cfg.DatabaseURL, logger); err != nil {
		return err
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := database.Connect(connectCtx, database.NewConfig(cfg), logger); err != nil {
		return err
	}
	defer database.Close(logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	joinLimiter := security.NewRateLimiter(cfg.JoinRateLimit, cfg.JoinRateRefill)
	defer joinLimiter.Stop()

	groups := services.NewGroupService(
		repository.NewGroupRepository(),
		database.NewTransactor(nil),
		services.WithLogger(logger.With("component", "groups")),
		services.WithMetrics(metrics.NewPrometheus(reg, cfg.MetricsNamespace)),
		services.WithJoinLimiter(joinLimiter),
	)

	app := fiber.New(fiber.Config{
		AppName:               "groupwork",
		DisableStartupMessage: cfg.IsProduction(),
	})

	securityMiddleware := middleware.NewSecurityMiddleware(logger.With("component", "http"))
	app.Use(recover.New())
	app.Use(securityMiddleware.RequestLogger())
	app.Use(securityMiddleware.SecureHeaders())

	store := session.New(session.Config{
		Expiration:     cfg.SessionTimeout,
		CookieSecure:   cfg.IsProduction(),
		CookieHTTPOnly: true,
		CookieSameSite: "Lax",
		CookieName:     "session_id",
		CookiePath:     "/",
	})

	app.Get("/healthz", func(c *fiber.Ctx) error {
		if !database.IsConnected(c.Context()) {
			return c.SendStatus(fiber.StatusServiceUnavailable)
		}
		return c.SendStatus(fiber.StatusOK)
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	handlers.NewGroupHandler(groups, logger.With("component", "handlers")).Register(
		app.Group("/assessments", middleware.AuthRequired(store)),
		app.Group("/instructor/assessments", middleware.AuthRequired(store), middleware.StaffOnly()),
	)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.Port, "env", cfg.Env)
		errCh <- app.Listen(":" + cfg.Port)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		return app.ShutdownWithTimeout(10 * time.Second)
	}
}
