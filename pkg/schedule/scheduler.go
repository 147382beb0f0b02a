// Package schedule fires workflows with "schedule" triggers on their cron
// expressions. Scheduled runs bypass the event store; they execute directly
// with a synthetic payload, still subject to the workflow's rate limits.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/arborops/canopy/pkg/conditions"
	"github.com/arborops/canopy/pkg/log"
	"github.com/arborops/canopy/pkg/models"
	"github.com/arborops/canopy/pkg/persistence"
	"github.com/arborops/canopy/pkg/workflow"
)

// DefaultRefreshInterval controls how often trigger definitions are
// reloaded from storage.
const DefaultRefreshInterval = time.Minute

// Scheduler maintains one cron entry per schedule trigger of every
// matchable workflow.
type Scheduler struct {
	workflows persistence.WorkflowRepository
	executor  *workflow.Executor
	logger    *slog.Logger
	refresh   time.Duration

	cron    *cron.Cron
	entries []cron.EntryID
}

func NewScheduler(workflows persistence.WorkflowRepository, executor *workflow.Executor, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = log.WithModule("scheduler")
	} else {
		logger = logger.With("module", "scheduler")
	}

	return &Scheduler{
		workflows: workflows,
		executor:  executor,
		logger:    logger,
		refresh:   DefaultRefreshInterval,
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cron.DefaultLogger),
			cron.Recover(cron.DefaultLogger),
		)),
	}
}

// Start loads trigger definitions, starts the cron loop and keeps the
// entries in sync with storage until the context is canceled.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.Refresh(ctx); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("Scheduler started", "refresh_interval", s.refresh)

	ticker := time.NewTicker(s.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			stopCtx := s.cron.Stop()
			<-stopCtx.Done()
			s.logger.Info("Scheduler stopped")

			return ctx.Err()
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil {
				s.logger.Error("Failed to refresh schedule triggers", "error", err)
			}
		}
	}
}

// Refresh rebuilds the cron entries from the current workflow definitions.
func (s *Scheduler) Refresh(ctx context.Context) error {
	scheduled, err := s.workflows.GetByTriggerType(ctx, models.TriggerTypeSchedule)
	if err != nil {
		return fmt.Errorf("failed to load scheduled workflows: %w", err)
	}

	for _, id := range s.entries {
		s.cron.Remove(id)
	}

	s.entries = s.entries[:0]

	for _, wf := range scheduled {
		if !wf.Matchable() {
			continue
		}

		for _, trigger := range wf.Triggers {
			if trigger.TriggerType != models.TriggerTypeSchedule {
				continue
			}

			expr, _ := trigger.Config["cron"].(string)
			if expr == "" {
				s.logger.Warn("Schedule trigger without cron expression",
					"workflow_id", wf.ID, "trigger_id", trigger.ID)

				continue
			}

			workflowID := wf.ID
			triggerID := trigger.ID
			trig := trigger

			entryID, err := s.cron.AddFunc(expr, func() {
				s.fire(workflowID, triggerID, trig.Conditions)
			})
			if err != nil {
				s.logger.Warn("Invalid cron expression",
					"workflow_id", wf.ID, "trigger_id", trigger.ID, "cron", expr, "error", err)

				continue
			}

			s.entries = append(s.entries, entryID)
		}
	}

	s.logger.Debug("Schedule triggers refreshed", "entries", len(s.entries))

	return nil
}

// Entries returns the number of active cron entries.
func (s *Scheduler) Entries() int {
	return len(s.entries)
}

// fire runs one scheduled workflow. The workflow is reloaded so a pause or
// delete between refreshes is respected.
func (s *Scheduler) fire(workflowID, triggerID string, conds []models.Condition) {
	ctx := context.Background()

	wf, err := s.workflows.GetByID(ctx, workflowID)
	if err != nil {
		s.logger.Warn("Scheduled workflow no longer loadable", "workflow_id", workflowID, "error", err)

		return
	}

	if !wf.Matchable() {
		return
	}

	payload := map[string]any{
		"scheduled_at": time.Now().UTC().Format(time.RFC3339),
		"trigger_id":   triggerID,
	}

	if !conditions.Evaluate(conds, payload) {
		return
	}

	s.logger.Info("Firing scheduled workflow", "workflow_id", workflowID, "trigger_id", triggerID)

	s.executor.Run(ctx, wf, "", models.TriggerTypeSchedule, payload)
}
