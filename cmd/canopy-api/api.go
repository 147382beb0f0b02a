// Package main provides the Canopy admin API server.
package main

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/arborops/canopy/pkg/eventbus"
	"github.com/arborops/canopy/pkg/events"
	"github.com/arborops/canopy/pkg/persistence"
	"github.com/arborops/canopy/pkg/registry"
	"github.com/arborops/canopy/pkg/web"
	"github.com/arborops/canopy/pkg/workflow"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	eventBus    eventbus.EventBus
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	registry *registry.Registry,
	eventBus eventbus.EventBus,
) *API {
	return &API{
		persistence: persistence,
		logger:      logger,
		registry:    registry,
		eventBus:    eventBus,
	}
}

func (a *API) App() *fiber.App {
	guard := workflow.NewGuard(a.persistence.ExecutionLogRepository())
	executor := workflow.NewExecutor(a.registry, a.persistence.ExecutionLogRepository(), guard, a.eventBus, a.logger)
	workflowService := workflow.NewService(a.persistence.WorkflowRepository(), a.registry, executor, a.logger)

	kicker := &busKicker{bus: a.eventBus, logger: a.logger}
	handlers := web.NewAPIHandlers(a.persistence, workflowService, a.registry, kicker)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Canopy API")
	})

	handlers.RegisterRoutes(app)

	return app
}

func (a *API) Start(port int) error {
	return a.App().Listen(":" + strconv.Itoa(port))
}

// busKicker asks the worker fleet to drain pending events by publishing a
// ProcessRequested notification. The API itself never runs the processor.
type busKicker struct {
	bus    eventbus.EventBus
	logger *slog.Logger
}

func (k *busKicker) TriggerProcessing() {
	event := events.ProcessRequested{
		BaseEvent: events.BaseEvent{
			ID:        k.bus.GenerateID(),
			Type:      events.ProcessRequestedEvent,
			Timestamp: time.Now().UTC(),
		},
		Reason: "api",
	}

	if err := k.bus.Publish(context.Background(), event.ID, event); err != nil {
		k.logger.Error("Failed to publish process request", "error", err)
	}
}
