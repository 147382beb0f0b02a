// Package workflow contains the engine core: matching workflows to domain
// events, rate limiting, and executing action sequences.
package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/arborops/canopy/pkg/conditions"
	"github.com/arborops/canopy/pkg/log"
	"github.com/arborops/canopy/pkg/models"
	"github.com/arborops/canopy/pkg/persistence"
)

// Matcher selects the workflows that should run for a domain event.
type Matcher struct {
	workflows persistence.WorkflowRepository
	logger    *slog.Logger
}

func NewMatcher(workflows persistence.WorkflowRepository, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = log.WithModule("matcher")
	} else {
		logger = logger.With("module", "matcher")
	}

	return &Matcher{workflows: workflows, logger: logger}
}

// Match returns every matchable workflow qualified by the event, each at
// most once. A workflow qualifies when any of its triggers of the event's
// type passes its conditions; triggers are checked in ascending order and
// conditions within one trigger are AND-ed.
func (m *Matcher) Match(ctx context.Context, event *models.DomainEvent) ([]*models.Workflow, error) {
	candidates, err := m.workflows.GetByTriggerType(ctx, event.Type)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflows for event type %s: %w", event.Type, err)
	}

	matched := make([]*models.Workflow, 0, len(candidates))

	for _, wf := range candidates {
		if !wf.Matchable() {
			continue
		}

		for _, trigger := range wf.OrderedTriggers() {
			if trigger.TriggerType != event.Type {
				continue
			}

			if conditions.Evaluate(trigger.Conditions, event.Payload) {
				m.logger.Debug("Workflow matched",
					"workflow_id", wf.ID,
					"trigger_id", trigger.ID,
					"event_id", event.ID,
					"event_type", event.Type)

				matched = append(matched, wf)

				break
			}
		}
	}

	return matched, nil
}
