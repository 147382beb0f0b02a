package models

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Workflow maps trigger conditions to an ordered sequence of actions. A
// workflow exclusively owns its triggers and actions; templates are
// read-only patterns that are cloned into new workflows.
type Workflow struct {
	ID                  string     `json:"id"`
	Name                string     `json:"name"                  validate:"required,min=3"`
	Description         string     `json:"description"`
	IsActive            bool       `json:"is_active"`
	IsTemplate          bool       `json:"is_template"`
	MaxExecutionsPerDay int        `json:"max_executions_per_day" validate:"min=0"`
	CooldownMinutes     int        `json:"cooldown_minutes"       validate:"min=0"`
	Triggers            []*Trigger `json:"triggers"`
	Actions             []*Action  `json:"actions"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	DeletedAt           *time.Time `json:"deleted_at,omitempty"`
}

// Matchable reports whether the workflow is eligible for event matching.
func (w *Workflow) Matchable() bool {
	return w.IsActive && !w.IsTemplate && w.DeletedAt == nil
}

// OrderedTriggers returns the triggers sorted by ascending Order. The
// workflow's own slice is left untouched; storage backends make no
// ordering guarantee.
func (w *Workflow) OrderedTriggers() []*Trigger {
	triggers := append([]*Trigger(nil), w.Triggers...)
	sort.SliceStable(triggers, func(i, j int) bool {
		return triggers[i].Order < triggers[j].Order
	})

	return triggers
}

// OrderedActions returns the actions sorted by ascending Order. The
// workflow's own slice is left untouched.
func (w *Workflow) OrderedActions() []*Action {
	actions := append([]*Action(nil), w.Actions...)
	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].Order < actions[j].Order
	})

	return actions
}

// Clone deep-copies the workflow with fresh identities for itself and its
// triggers and actions. The copy is inactive and not a template.
func (w *Workflow) Clone(name string) *Workflow {
	now := time.Now().UTC()

	clone := &Workflow{
		ID:                  uuid.New().String(),
		Name:                name,
		Description:         w.Description,
		IsActive:            false,
		IsTemplate:          false,
		MaxExecutionsPerDay: w.MaxExecutionsPerDay,
		CooldownMinutes:     w.CooldownMinutes,
		Triggers:            make([]*Trigger, 0, len(w.Triggers)),
		Actions:             make([]*Action, 0, len(w.Actions)),
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	for _, trigger := range w.Triggers {
		t := *trigger
		t.ID = uuid.New().String()
		t.WorkflowID = clone.ID
		t.Config = copyMap(trigger.Config)
		t.Conditions = append([]Condition(nil), trigger.Conditions...)
		clone.Triggers = append(clone.Triggers, &t)
	}

	for _, action := range w.Actions {
		a := *action
		a.ID = uuid.New().String()
		a.WorkflowID = clone.ID
		a.Config = copyMap(action.Config)
		clone.Actions = append(clone.Actions, &a)
	}

	return clone
}

func copyMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}

	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}

	return dst
}
