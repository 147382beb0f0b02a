package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/arborops/canopy/pkg/models"
	"github.com/arborops/canopy/pkg/persistence"
	"github.com/arborops/canopy/pkg/registry"
	"github.com/arborops/canopy/pkg/workflow"
)

// ProcessKicker requests an immediate processing pass. In a single-binary
// deployment it is the processor itself; in a split deployment it publishes
// a kick over the event bus.
type ProcessKicker interface {
	TriggerProcessing()
}

type APIHandlers struct {
	persistence persistence.Persistence
	workflows   *workflow.Service
	registry    *registry.Registry
	kicker      ProcessKicker
	validator   *validator.Validate
}

func NewAPIHandlers(
	persist persistence.Persistence,
	workflows *workflow.Service,
	reg *registry.Registry,
	kicker ProcessKicker,
) *APIHandlers {
	return &APIHandlers{
		persistence: persist,
		workflows:   workflows,
		registry:    reg,
		kicker:      kicker,
		validator:   validator.New(validator.WithRequiredStructEnabled()),
	}
}

// RegisterRoutes mounts every admin endpoint on the app.
func (h *APIHandlers) RegisterRoutes(app *fiber.App) {
	e := app.Group("/events")
	e.Get("/", h.ListEvents)
	e.Post("/process", h.ProcessEvents)
	e.Get("/:id", h.GetEvent)
	e.Post("/:id/retry", h.RetryEvent)
	e.Post("/:id/dismiss", h.DismissEvent)

	w := app.Group("/workflows")
	w.Get("/", h.ListWorkflows)
	w.Post("/", h.CreateWorkflow)
	w.Post("/from-template/:id", h.CreateFromTemplate)
	w.Get("/:id", h.GetWorkflow)
	w.Put("/:id", h.UpdateWorkflow)
	w.Delete("/:id", h.DeleteWorkflow)
	w.Post("/:id/execute", h.ExecuteWorkflow)
	w.Post("/:id/clone", h.CloneWorkflow)

	l := app.Group("/automation-logs")
	l.Get("/", h.ListLogs)
	l.Get("/stats", h.LogStats)
	l.Get("/:executionId", h.GetExecution)

	app.Get("/health", h.HealthCheck)
}

func (h *APIHandlers) ListEvents(c fiber.Ctx) error {
	opts := persistence.ListEventsOptions{
		Status: models.EventStatus(c.Query("status")),
		Type:   c.Query("type"),
	}

	var err error

	if opts.Limit, err = queryInt(c, "limit", 50); err != nil {
		return badRequest(c, "Invalid limit parameter")
	}

	if opts.Offset, err = queryInt(c, "offset", 0); err != nil {
		return badRequest(c, "Invalid offset parameter")
	}

	events, err := h.persistence.EventRepository().List(c.Context(), opts)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"events": events,
		"count":  len(events),
	})
}

func (h *APIHandlers) GetEvent(c fiber.Ctx) error {
	event, err := h.persistence.EventRepository().GetByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(event)
}

// RetryEvent re-queues a failed event for immediate processing.
func (h *APIHandlers) RetryEvent(c fiber.Ctx) error {
	id := c.Params("id")

	if err := h.persistence.EventRepository().MarkPending(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	if h.kicker != nil {
		h.kicker.TriggerProcessing()
	}

	return c.JSON(fiber.Map{"status": "pending", "event_id": id})
}

func (h *APIHandlers) DismissEvent(c fiber.Ctx) error {
	id := c.Params("id")

	if err := h.persistence.EventRepository().MarkDismissed(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"status": "dismissed", "event_id": id})
}

// ProcessEvents kicks an immediate processing pass.
func (h *APIHandlers) ProcessEvents(c fiber.Ctx) error {
	if h.kicker != nil {
		h.kicker.TriggerProcessing()
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "processing"})
}

func (h *APIHandlers) ListWorkflows(c fiber.Ctx) error {
	workflows, err := h.workflows.GetAll(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflows": workflows,
		"count":     len(workflows),
	})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	wf, err := h.workflows.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(wf)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req WorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.workflows.Create(c.Context(), req.ToModel())
	if err != nil {
		return badRequest(c, err.Error())
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	id := c.Params("id")

	var req WorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	updated, err := h.workflows.Update(c.Context(), id, req.ToModel())
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return notFound(c, "workflow not found")
		}

		return badRequest(c, err.Error())
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	if err := h.workflows.Delete(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// ExecuteWorkflow runs a workflow directly with a caller-supplied entity
// payload. The run is asynchronous; the response carries the execution ID.
func (h *APIHandlers) ExecuteWorkflow(c fiber.Ctx) error {
	id := c.Params("id")

	var req ExecuteWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	executionID, err := h.workflows.ExecuteManual(c.Context(), id, req.EntityType, req.EntityID, req.EntityData)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"execution_id": executionID,
		"workflow_id":  id,
	})
}

func (h *APIHandlers) CloneWorkflow(c fiber.Ctx) error {
	var req CloneWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	clone, err := h.workflows.Clone(c.Context(), c.Params("id"), req.Name)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(clone)
}

func (h *APIHandlers) CreateFromTemplate(c fiber.Ctx) error {
	var req CloneWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	wf, err := h.workflows.CreateFromTemplate(c.Context(), c.Params("id"), req.Name)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(wf)
}

func (h *APIHandlers) ListLogs(c fiber.Ctx) error {
	opts := persistence.ListLogsOptions{
		WorkflowID:  c.Query("workflow_id"),
		ExecutionID: c.Query("execution_id"),
		Status:      models.LogStatus(c.Query("status")),
	}

	var err error

	if opts.Limit, err = queryInt(c, "limit", 50); err != nil {
		return badRequest(c, "Invalid limit parameter")
	}

	if opts.Offset, err = queryInt(c, "offset", 0); err != nil {
		return badRequest(c, "Invalid offset parameter")
	}

	logs, err := h.persistence.ExecutionLogRepository().List(c.Context(), opts)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"logs":  logs,
		"count": len(logs),
	})
}

// GetExecution returns one run's log rows with its derived status.
func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	executionID := c.Params("executionId")

	logs, err := h.persistence.ExecutionLogRepository().GetByExecutionID(c.Context(), executionID)
	if err != nil {
		return handleServiceError(c, err)
	}

	if len(logs) == 0 {
		return notFound(c, "execution not found")
	}

	return c.JSON(NewExecutionResponse(executionID, logs))
}

func (h *APIHandlers) LogStats(c fiber.Ctx) error {
	stats, err := h.persistence.ExecutionLogRepository().Stats(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(stats)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	registryCheck, regOk := h.registry.HealthCheck()
	persistenceErr := h.persistence.HealthCheck(c.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	persistenceCheck := "ok"

	if !regOk || persistenceErr != nil {
		status = "unhealthy"
		httpStatus = http.StatusInternalServerError
	}

	if persistenceErr != nil {
		persistenceCheck = persistenceErr.Error()
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checkers": fiber.Map{
			"registry":    registryCheck,
			"persistence": persistenceCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func queryInt(c fiber.Ctx, name string, fallback int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, nil
	}

	return strconv.Atoi(raw)
}
