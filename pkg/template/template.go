// Package template renders action config values against event payload data.
package template

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/arborops/canopy/pkg/models"
)

// RenderConfig renders every string value of an action config against the
// execution context, leaving non-string values untouched. Template data
// exposes the event payload and execution identities.
func RenderConfig(config map[string]any, executionCtx *models.ExecutionContext) (map[string]any, error) {
	rendered := make(map[string]any, len(config))

	for key, value := range config {
		str, ok := value.(string)
		if !ok {
			rendered[key] = value

			continue
		}

		out, err := RenderWithContext(str, executionCtx)
		if err != nil {
			return nil, fmt.Errorf("failed to render config key %q: %w", key, err)
		}

		rendered[key] = out
	}

	return rendered, nil
}

// RenderWithContext renders one template string with the execution's data.
func RenderWithContext(input string, executionCtx *models.ExecutionContext) (any, error) {
	data := map[string]any{
		"payload":    executionCtx.Payload,
		"event_type": executionCtx.EventType,
		"execution": map[string]any{
			"id":          executionCtx.ExecutionID,
			"workflow_id": executionCtx.WorkflowID,
			"event_id":    executionCtx.EventID,
		},
	}

	return Render(input, data)
}

// Render parses and executes a template string. Results that look like JSON
// are decoded so templated object config survives the round trip.
func Render(templateStr string, data any) (any, error) {
	tmpl, err := template.
		New("config").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
		}).Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return nil, fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	result := strings.TrimSpace(buf.String())

	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		err = json.Unmarshal([]byte(result), &jsonResult)
		if err == nil {
			return jsonResult, nil
		}
	}

	return result, nil
}
