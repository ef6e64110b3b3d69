package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog/log"

	"github.com/codebuildervaibhav/diarized-transcription/internal/cleanup"
	"github.com/codebuildervaibhav/diarized-transcription/internal/handlers"
	"github.com/codebuildervaibhav/diarized-transcription/internal/metrics"
	"github.com/codebuildervaibhav/diarized-transcription/internal/queue"
	"github.com/codebuildervaibhav/diarized-transcription/internal/storage"
)

const shutdownTimeout = 30 * time.Second

type ServeCMD struct {
	NoQueue bool `env:"NO_QUEUE" help:"Do not consume requests from the message queue even when one is configured"`
}

func (s *ServeCMD) Run(cliCtx *Context) error {
	cfg, err := cliCtx.load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cleanup.EnsureTempDirExists(cfg.Storage.TempDir); err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Msg("initializing components")

	// Database
	db, err := storage.NewJobDB(cfg.Storage.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	// Models are shared by every worker; preloading surfaces setup errors early
	orchestrator, provider := newPipeline(cfg)
	defer provider.Close()
	if *cfg.Models.Preload {
		provider.Preload(ctx)
	}

	m := metrics.New()

	// Worker pool outlives the signal context so queued jobs can drain
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	workerPool := queue.NewWorkerPool(cfg.Workers.Count, cfg.Workers.QueueSize, orchestrator, db, m, nil)
	workerPool.Start(workerCtx)

	// Cleanup scheduler
	cleanupScheduler := cleanup.NewScheduler(
		cfg.Storage.TempDir,
		cfg.CleanupInterval(),
		cfg.CleanupMaxAge(),
		workerPool.Registry(),
		db,
	)
	if err := cleanupScheduler.Start(); err != nil {
		return err
	}
	defer cleanupScheduler.Stop()

	// Message queue intake (optional)
	intakeDone := make(chan struct{})
	var rabbit *queue.RabbitMQ
	if cfg.Queue.URL != "" && !s.NoQueue {
		rabbit, err = queue.NewRabbitMQ(cfg.Queue.URL, cfg.Queue.RequestQueue, cfg.Queue.ResultQueue, cfg.Queue.Prefetch)
		if err != nil {
			return err
		}
		deliveries, err := rabbit.StartConsuming()
		if err != nil {
			rabbit.Close()
			return fmt.Errorf("failed to consume %s: %w", cfg.Queue.RequestQueue, err)
		}
		intake := queue.NewIntake(workerPool, rabbit, cfg.Queue.ResultQueue)
		go func() {
			defer close(intakeDone)
			intake.Run(ctx, deliveries)
		}()
		log.Info().Str("queue", cfg.Queue.RequestQueue).Msg("consuming transcription requests")
	} else {
		close(intakeDone)
		log.Info().Msg("message queue not configured - HTTP intake only")
	}

	app := newApp(workerPool, db, m)

	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down gracefully")
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			log.Error().Err(err).Msg("http shutdown")
		}
	}()

	log.Info().Str("addr", cfg.Addr()).Str("version", version).Msg("server starting")
	listenErr := app.Listen(cfg.Addr())

	// Abandon running jobs; queued ones fail fast as Canceled
	stop()
	cancelWorkers()
	<-intakeDone
	workerPool.Stop()
	if rabbit != nil {
		rabbit.Close()
	}

	if listenErr != nil {
		return fmt.Errorf("server failed: %w", listenErr)
	}
	return nil
}

// newApp builds the HTTP surface over an already started worker pool
func newApp(workerPool *queue.WorkerPool, store handlers.JobStore, m *metrics.Metrics) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "transcription",
		BodyLimit:             1024 * 1024,
		DisableStartupMessage: true,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))
	app.Use(m.APIMiddleware())

	// Initialize handlers
	jobsHandler := handlers.NewJobsHandler(workerPool, store)
	streamHandler := handlers.NewStreamHandler(workerPool.Registry())

	// Routes
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"version": version,
			"jobs":    workerPool.Registry().Len(),
		})
	})
	app.Get("/metrics", m.Handler())
	app.Get("/logs", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"logs": logBuffer.GetLogs(),
		})
	})

	app.Post("/runsync", jobsHandler.RunSync)
	app.Post("/run", jobsHandler.Run)
	app.Get("/status/:id", jobsHandler.Status)
	app.Post("/transcribe", jobsHandler.Transcribe)
	app.Get("/jobs", jobsHandler.List)

	// WebSocket route
	app.Get("/ws/jobs/:id", streamHandler.Upgrade, websocket.New(streamHandler.Handle))

	return app
}
