// Package file provides file-based persistence for events, workflows and
// execution logs. It is intended for local development and tests; claim
// atomicity is guaranteed per process only, via an internal mutex.
package file

import (
	"context"
	"os"
	"strings"

	"github.com/arborops/canopy/pkg/persistence"
)

// Persistence implements persistence.Persistence using the file system.
type Persistence struct {
	root         string
	eventRepo    *EventRepository
	workflowRepo *WorkflowRepository
	logRepo      *ExecutionLogRepository
}

// NewPersistence creates file persistence rooted at the given directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:         cleanRoot,
		eventRepo:    NewEventRepository(cleanRoot),
		workflowRepo: NewWorkflowRepository(cleanRoot),
		logRepo:      NewExecutionLogRepository(cleanRoot),
	}
}

// EventRepository returns the event store implementation.
func (p *Persistence) EventRepository() persistence.EventRepository {
	return p.eventRepo
}

// WorkflowRepository returns the workflow repository implementation.
func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return p.workflowRepo
}

// ExecutionLogRepository returns the execution log sink implementation.
func (p *Persistence) ExecutionLogRepository() persistence.ExecutionLogRepository {
	return p.logRepo
}

// HealthCheck verifies the root directory exists.
func (p *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(p.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// Close performs any necessary cleanup. Nothing to do for files.
func (p *Persistence) Close(_ context.Context) error {
	return nil
}
