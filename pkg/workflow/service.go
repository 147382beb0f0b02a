package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/arborops/canopy/pkg/log"
	"github.com/arborops/canopy/pkg/models"
	"github.com/arborops/canopy/pkg/persistence"
	"github.com/arborops/canopy/pkg/registry"
)

var (
	ErrNotTemplate     = errors.New("workflow is not a template")
	ErrWorkflowDeleted = errors.New("workflow is deleted")
)

// Service is the admin-facing workflow application layer: CRUD with
// validation, cloning, and manual execution.
type Service struct {
	workflows persistence.WorkflowRepository
	registry  *registry.Registry
	executor  *Executor
	validator *validator.Validate
	logger    *slog.Logger
}

func NewService(workflows persistence.WorkflowRepository, reg *registry.Registry, executor *Executor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = log.WithModule("workflow_service")
	} else {
		logger = logger.With("module", "workflow_service")
	}

	return &Service{
		workflows: workflows,
		registry:  reg,
		executor:  executor,
		validator: validator.New(),
		logger:    logger,
	}
}

func (s *Service) GetAll(ctx context.Context) ([]*models.Workflow, error) {
	return s.workflows.GetAll(ctx)
}

func (s *Service) Get(ctx context.Context, id string) (*models.Workflow, error) {
	return s.workflows.GetByID(ctx, id)
}

// Create validates and persists a new workflow, assigning fresh IDs to the
// workflow and its triggers and actions.
func (s *Service) Create(ctx context.Context, wf *models.Workflow) (*models.Workflow, error) {
	if err := s.validate(wf); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	wf.ID = uuid.New().String()
	wf.CreatedAt = now
	wf.UpdatedAt = now
	wf.DeletedAt = nil

	s.assignOwnership(wf, true)

	if err := s.workflows.Save(ctx, wf); err != nil {
		return nil, err
	}

	s.logger.Info("Workflow created", "workflow_id", wf.ID, "name", wf.Name)

	return wf, nil
}

// Update validates and replaces an existing workflow's definition.
func (s *Service) Update(ctx context.Context, id string, wf *models.Workflow) (*models.Workflow, error) {
	existing, err := s.workflows.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if existing.DeletedAt != nil {
		return nil, ErrWorkflowDeleted
	}

	if err := s.validate(wf); err != nil {
		return nil, err
	}

	wf.ID = existing.ID
	wf.CreatedAt = existing.CreatedAt
	wf.UpdatedAt = time.Now().UTC()
	wf.DeletedAt = nil

	s.assignOwnership(wf, false)

	if err := s.workflows.Save(ctx, wf); err != nil {
		return nil, err
	}

	s.logger.Info("Workflow updated", "workflow_id", wf.ID)

	return wf, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	return s.workflows.Delete(ctx, id)
}

// Clone deep-copies an existing workflow under a new name. The clone
// starts inactive.
func (s *Service) Clone(ctx context.Context, id, name string) (*models.Workflow, error) {
	source, err := s.workflows.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if source.DeletedAt != nil {
		return nil, ErrWorkflowDeleted
	}

	if name == "" {
		name = source.Name + " (copy)"
	}

	clone := source.Clone(name)

	if err := s.workflows.Save(ctx, clone); err != nil {
		return nil, err
	}

	s.logger.Info("Workflow cloned", "source_id", source.ID, "workflow_id", clone.ID)

	return clone, nil
}

// CreateFromTemplate instantiates a template workflow under a new name.
func (s *Service) CreateFromTemplate(ctx context.Context, templateID, name string) (*models.Workflow, error) {
	template, err := s.workflows.GetByID(ctx, templateID)
	if err != nil {
		return nil, err
	}

	if !template.IsTemplate {
		return nil, ErrNotTemplate
	}

	if name == "" {
		name = template.Name
	}

	wf := template.Clone(name)

	if err := s.workflows.Save(ctx, wf); err != nil {
		return nil, err
	}

	s.logger.Info("Workflow created from template", "template_id", templateID, "workflow_id", wf.ID)

	return wf, nil
}

// ExecuteManual runs a workflow directly with a caller-supplied entity
// payload, bypassing event matching. The run is dispatched on its own
// goroutine; the returned execution ID can be used to follow its logs.
func (s *Service) ExecuteManual(ctx context.Context, workflowID, entityType, entityID string, entityData map[string]any) (string, error) {
	wf, err := s.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return "", err
	}

	if wf.DeletedAt != nil {
		return "", ErrWorkflowDeleted
	}

	payload := make(map[string]any, len(entityData)+2)
	for k, v := range entityData {
		payload[k] = v
	}

	payload["entity_type"] = entityType
	payload["entity_id"] = entityID

	executionID := uuid.New().String()

	s.logger.Info("Manual execution requested",
		"workflow_id", workflowID,
		"execution_id", executionID,
		"entity_type", entityType,
		"entity_id", entityID)

	// Detached from the request context so the run survives the response.
	go s.executor.RunWithID(context.Background(), executionID, wf, "", models.TriggerTypeManual, payload)

	return executionID, nil
}

// validate checks struct constraints and every action config against its
// registered schema, so malformed configs are rejected on write.
func (s *Service) validate(wf *models.Workflow) error {
	if err := s.validator.Struct(wf); err != nil {
		return fmt.Errorf("workflow validation failed: %w", err)
	}

	for _, action := range wf.Actions {
		if err := s.registry.ValidateActionConfig(action.ActionType, action.Config); err != nil {
			return err
		}
	}

	return nil
}

func (s *Service) assignOwnership(wf *models.Workflow, fresh bool) {
	for _, trigger := range wf.Triggers {
		if fresh || trigger.ID == "" {
			trigger.ID = uuid.New().String()
		}

		trigger.WorkflowID = wf.ID
	}

	for _, action := range wf.Actions {
		if fresh || action.ID == "" {
			action.ID = uuid.New().String()
		}

		action.WorkflowID = wf.ID
	}
}
