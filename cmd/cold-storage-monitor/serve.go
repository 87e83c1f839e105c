package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	httpapi "github.com/i474232898/cold-storage-monitor/internal/api/http"
	"github.com/i474232898/cold-storage-monitor/internal/scheduler"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the monitoring loop and the HTTP API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg, logger := a.cfg, a.logger

	var runner scheduler.CycleRunner
	if cfg.Scheduler.Enabled {
		runner = a.monitor
	}
	sched := scheduler.New(runner, a.store, scheduler.Config{
		Interval:      cfg.Scheduler.Interval,
		Retention:     cfg.Store.Retention,
		PruneInterval: cfg.Store.PruneInterval,
	}, logger)
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	deps := httpapi.Deps{
		Monitor:  a.monitor,
		Gatherer: a.registry,
		Logger:   logger,
	}
	if cfg.Scheduler.Enabled {
		deps.Loop = sched
	}
	if cfg.OnDemand.Rate > 0 {
		deps.Limiter = rate.NewLimiter(rate.Limit(cfg.OnDemand.Rate), max(cfg.OnDemand.Burst, 1))
	}

	app := fiber.New(fiber.Config{
		AppName:               "cold-storage-monitor",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		// A manual or on-demand cycle includes the weather lookup and the
		// sensor retry budget.
		WriteTimeout: cfg.Weather.Timeout + time.Duration(cfg.Sensor.Retries)*cfg.Sensor.RetryDelay + 10*time.Second,
		ErrorHandler: httpapi.ErrorHandler,
	})
	app.Use(fiberlogger.New())
	app.Use(recover.New())
	httpapi.RegisterRoutes(app, deps)

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- app.Listen(":" + cfg.Server.Port)
	}()
	logger.Info("http server listening", zap.String("port", cfg.Server.Port))

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-listenErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("fiber server stopped", zap.Error(err))
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Warn("error during shutdown", zap.Error(err))
	}
	return nil
}
