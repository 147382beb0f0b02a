// Package registry maps action type tags to their factories and validates
// action configs against the factories' JSON schemas.
package registry

import (
	"fmt"
	"log/slog"

	"github.com/xeipuuv/gojsonschema"

	"github.com/arborops/canopy/pkg/protocol"
)

// ErrUnknownActionType is returned when no factory is registered for a tag.
type ErrUnknownActionType struct {
	ActionType string
}

func (e *ErrUnknownActionType) Error() string {
	return fmt.Sprintf("action type '%s' not registered", e.ActionType)
}

// Registry holds the registered action factories.
type Registry struct {
	logger          *slog.Logger
	actionFactories map[string]protocol.ActionFactory
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:          logger,
		actionFactories: make(map[string]protocol.ActionFactory),
	}
}

// RegisterAction adds a factory, keyed by its ID.
func (r *Registry) RegisterAction(factory protocol.ActionFactory) {
	r.actionFactories[factory.ID()] = factory
}

// CreateAction builds an action for the given type tag. An unregistered tag
// is a validation failure, not a crash.
func (r *Registry) CreateAction(actionType string, config map[string]any) (protocol.Action, error) {
	factory, ok := r.actionFactories[actionType]
	if !ok {
		return nil, &ErrUnknownActionType{ActionType: actionType}
	}

	return factory.Create(config)
}

// ValidateActionConfig checks a config against the factory's JSON schema.
// Called on workflow write so a malformed config is rejected before it can
// fail at execution time.
func (r *Registry) ValidateActionConfig(actionType string, config map[string]any) error {
	factory, ok := r.actionFactories[actionType]
	if !ok {
		return &ErrUnknownActionType{ActionType: actionType}
	}

	schema := factory.Schema()
	if schema == nil {
		return nil
	}

	if config == nil {
		config = map[string]any{}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewGoLoader(config),
	)
	if err != nil {
		return fmt.Errorf("schema validation for action type '%s' failed: %w", actionType, err)
	}

	if !result.Valid() {
		return fmt.Errorf("invalid config for action type '%s': %s", actionType, result.Errors()[0].String())
	}

	return nil
}

// AvailableActionTypes returns every registered action type tag.
func (r *Registry) AvailableActionTypes() []string {
	types := make([]string, 0, len(r.actionFactories))
	for actionType := range r.actionFactories {
		types = append(types, actionType)
	}

	return types
}

// HealthCheck reports whether any factories are registered.
func (r *Registry) HealthCheck() (string, bool) {
	if len(r.actionFactories) == 0 {
		return "no action factories registered", false
	}

	return fmt.Sprintf("%d action factories registered", len(r.actionFactories)), true
}
