package main

import (
	"context"
	"os"

	"github.com/arborops/canopy/pkg/cmd"
	"github.com/arborops/canopy/pkg/log"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "canopy-worker",
		EnableShellCompletion: true,
		Usage:                 "Process recorded events and run matching workflows",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "redis-addr",
				Usage:   "Redis address for the event intake queue (intake disabled when empty)",
				Sources: cli.EnvVars("REDIS_ADDR"),
			},
			&cli.StringFlag{
				Name:    "redis-queue",
				Usage:   "Redis list the business application pushes events onto",
				Sources: cli.EnvVars("REDIS_QUEUE"),
			},
			&cli.StringFlag{
				Name:    "app-base-url",
				Usage:   "Base URL of the business application API (log-only delivery when empty)",
				Sources: cli.EnvVars("APP_BASE_URL"),
			},
			&cli.StringFlag{
				Name:    "app-api-key",
				Usage:   "API key for the business application API",
				Sources: cli.EnvVars("APP_API_KEY"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export OpenTelemetry traces for event processing",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("canopy-worker").With("workerId", workerID)

			logger.InfoContext(ctx, "Initializing Canopy Worker")

			registry := cmd.NewRegistry(logger, command.String("app-base-url"), command.String("app-api-key"))

			eventBus := cmd.NewEventBus(command.String("event-bus"), logger)
			defer func() {
				err := eventBus.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				err := persistence.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			worker := NewWorker(WorkerConfig{
				ID:         workerID,
				RedisAddr:  command.String("redis-addr"),
				RedisQueue: command.String("redis-queue"),
				Tracing:    command.Bool("tracing"),
			}, persistence, eventBus, registry, logger)

			err := worker.Start(ctx)
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start worker", "error", err)
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
