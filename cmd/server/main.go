package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/georgeshao/o2c-triage/internal/api"
	"github.com/georgeshao/o2c-triage/internal/config"
	"github.com/georgeshao/o2c-triage/internal/dispatcher"
	"github.com/georgeshao/o2c-triage/internal/drafts"
	"github.com/georgeshao/o2c-triage/internal/inference"
	"github.com/georgeshao/o2c-triage/internal/logging"
	"github.com/georgeshao/o2c-triage/internal/storage"
	"github.com/georgeshao/o2c-triage/internal/storage/driver"
)

const shutdownTimeout = 15 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(config.ResolvePath(os.Getenv("TRIAGE_CONFIG")))
	if err != nil {
		logging.Init(slog.LevelInfo)
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	log := logging.Init(logging.ParseLevel(cfg.Logging.Level))

	if err := run(cfg, log); err != nil {
		log.Error("Server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize storage
	store, err := driver.Open(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	invoker := inference.NewClient(cfg.InferenceConfig())

	runner, err := newRunner(cfg, invoker, store, log)
	if err != nil {
		return err
	}

	if len(cfg.Inference.Credentials) == 0 {
		log.Warn("No API keys configured; draft generation will return the fallback text")
	}
	limiter := rate.NewLimiter(rate.Limit(cfg.Drafts.PerMinute/60), cfg.Drafts.Burst)
	gen := drafts.NewGenerator(invoker, cfg.Inference.Credentials, cfg.Drafts.Models, limiter, log)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          2 * cfg.Inference.Timeout,
		IdleTimeout:           120 * time.Second,
		BodyLimit:             10 * 1024 * 1024, // 10MB
		DisableStartupMessage: true,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${method} ${path} (${latency})\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	g, gctx := errgroup.WithContext(ctx)

	api.SetupRoutes(app, api.NewHandler(gctx, store, runner, gen, log))

	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		log.Info("Starting review server", "addr", addr, "storage", cfg.Storage.Driver)
		return app.Listen(addr)
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server...")
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	err = g.Wait()

	// A background batch appends to the store until it sees gctx cancelled.
	if runner != nil {
		log.Info("Waiting for running batch to stop")
		runner.Wait()
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// newRunner returns nil, without error, when no credentials are configured:
// the review surface still works, only batch submission is disabled.
func newRunner(cfg *config.Config, invoker inference.Invoker, store storage.Store, log *slog.Logger) (*dispatcher.Runner, error) {
	d, err := dispatcher.New(cfg.DispatcherConfig(), invoker, log)
	if errors.Is(err, dispatcher.ErrNoCredentials) {
		log.Warn("No API keys configured; batch submission disabled")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize dispatcher: %w", err)
	}
	return dispatcher.NewRunner(d, store, log), nil
}
