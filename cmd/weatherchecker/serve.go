package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/cobra"

	httpapi "github.com/skybon/weatherchecker/internal/api/http"
	"github.com/skybon/weatherchecker/internal/scheduler"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Refresh every category periodically and serve the history over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := build(*configPath)
			if err != nil {
				return err
			}
			return serve(c)
		},
	}
}

func serve(c *components) error {
	// Scheduler that periodically refreshes each category. A sweep may not
	// outlive its own interval.
	sched := scheduler.New(c.cfg.Categories(), c.cfg.Scheduler.Interval, c.cfg.Scheduler.Interval, c.service, c.logger)
	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()

	app := fiber.New(fiber.Config{
		AppName:               "weatherchecker",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		Immutable:             true,
		// Manual refreshes wait for the whole sweep.
		WriteTimeout: sweepWriteTimeout(c.matrix.Len(), len(c.cfg.CategoryNames), c.cfg.Fetch.MaxConcurrency, c.cfg.Fetch.Timeout),
		ErrorHandler: func(ctx *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return ctx.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	app.Use(logger.New())
	app.Use(recover.New())

	app.Get("/health", func(ctx *fiber.Ctx) error {
		return ctx.JSON(fiber.Map{
			"status":  "ok",
			"service": "weatherchecker",
			"proxies": c.matrix.Len(),
			"entries": c.history.Len(),
		})
	})

	httpapi.RegisterRoutes(app, c.service)

	addr := c.cfg.GetServerAddr()
	go func() {
		c.logger.Info("starting server", "addr", addr)
		if err := app.Listen(addr); err != nil {
			c.logger.Error("fiber server stopped", "error", err)
		}
	}()

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		c.logger.Error("error during shutdown", "error", err)
	}
	return nil
}

// sweepWriteTimeout bounds one manual refresh: the cells of a category are
// fetched in rounds of maxConcurrency, each round taking at most fetchTimeout.
func sweepWriteTimeout(cells, categories, maxConcurrency int, fetchTimeout time.Duration) time.Duration {
	perCategory := cells / max(categories, 1)
	rounds := max((perCategory+max(maxConcurrency, 1)-1)/max(maxConcurrency, 1), 1)
	return time.Duration(rounds)*fetchTimeout + 10*time.Second
}
