package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arborops/canopy/pkg/models"
	"github.com/arborops/canopy/pkg/persistence"
)

// WorkflowRepository stores workflows as JSON files under <root>/workflows.
type WorkflowRepository struct {
	root string
	mu   sync.RWMutex
}

// NewWorkflowRepository creates a new file-backed workflow repository.
func NewWorkflowRepository(root string) *WorkflowRepository {
	return &WorkflowRepository{root: root}
}

func (r *WorkflowRepository) dir() string {
	return filepath.Join(r.root, "workflows")
}

func (r *WorkflowRepository) path(id string) string {
	return filepath.Join(r.dir(), id+".json")
}

// GetAll returns all non-deleted workflows, newest first.
func (r *WorkflowRepository) GetAll(_ context.Context) ([]*models.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	workflows, err := r.readAll()
	if err != nil {
		return nil, err
	}

	visible := make([]*models.Workflow, 0, len(workflows))

	for _, workflow := range workflows {
		if workflow.DeletedAt == nil {
			visible = append(visible, workflow)
		}
	}

	sort.Slice(visible, func(i, j int) bool { return visible[i].CreatedAt.After(visible[j].CreatedAt) })

	return visible, nil
}

// GetByID returns a workflow by its ID.
func (r *WorkflowRepository) GetByID(_ context.Context, id string) (*models.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	workflow, err := r.read(id)
	if err != nil {
		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	if workflow.DeletedAt != nil {
		return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
	}

	return workflow, nil
}

// GetByTriggerType returns matchable workflows with a trigger of this type.
func (r *WorkflowRepository) GetByTriggerType(ctx context.Context, triggerType string) ([]*models.Workflow, error) {
	all, err := r.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	matched := make([]*models.Workflow, 0)

	for _, workflow := range all {
		if !workflow.Matchable() {
			continue
		}

		for _, trigger := range workflow.Triggers {
			if trigger.TriggerType == triggerType {
				matched = append(matched, workflow)

				break
			}
		}
	}

	return matched, nil
}

// Save upserts a workflow with its trigger and action sets.
func (r *WorkflowRepository) Save(_ context.Context, workflow *models.Workflow) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()

	if workflow.ID == "" {
		workflow.ID = uuid.New().String()
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	for _, trigger := range workflow.Triggers {
		if trigger.ID == "" {
			trigger.ID = uuid.New().String()
		}

		trigger.WorkflowID = workflow.ID
	}

	for _, action := range workflow.Actions {
		if action.ID == "" {
			action.ID = uuid.New().String()
		}

		action.WorkflowID = workflow.ID
	}

	err := r.write(workflow)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	return nil
}

// Delete soft deletes a workflow.
func (r *WorkflowRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	workflow, err := r.read(id)
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	if workflow.DeletedAt != nil {
		return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
	}

	now := time.Now().UTC()
	workflow.DeletedAt = &now

	err = r.write(workflow)
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	return nil
}

func (r *WorkflowRepository) read(id string) (*models.Workflow, error) {
	data, err := os.ReadFile(r.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrWorkflowNotFound
		}

		return nil, err
	}

	var workflow models.Workflow

	err = json.Unmarshal(data, &workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow %s: %w", id, err)
	}

	return &workflow, nil
}

func (r *WorkflowRepository) readAll() ([]*models.Workflow, error) {
	entries, err := os.ReadDir(r.dir())
	if err != nil {
		if os.IsNotExist(err) {
			return []*models.Workflow{}, nil
		}

		return nil, err
	}

	workflows := make([]*models.Workflow, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		workflow, readErr := r.read(entry.Name()[:len(entry.Name())-len(".json")])
		if readErr != nil {
			return nil, readErr
		}

		workflows = append(workflows, workflow)
	}

	return workflows, nil
}

func (r *WorkflowRepository) write(workflow *models.Workflow) error {
	err := os.MkdirAll(r.dir(), 0o755)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(workflow, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal workflow %s: %w", workflow.ID, err)
	}

	return os.WriteFile(r.path(workflow.ID), data, 0o644)
}
