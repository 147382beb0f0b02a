// Package httprequest provides the http_request action for webhook-style
// calls to external systems.
package httprequest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/arborops/canopy/pkg/models"
	"github.com/arborops/canopy/pkg/protocol"
	"github.com/arborops/canopy/pkg/template"
)

const defaultTimeoutSeconds = 30

var ErrURLMissing = errors.New("missing or invalid 'url' in configuration")

// ActionFactory creates http_request actions.
type ActionFactory struct{}

// NewActionFactory creates a new http_request action factory.
func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

// ID returns the action type tag.
func (*ActionFactory) ID() string {
	return "http_request"
}

// Create builds an http_request action from configuration.
func (*ActionFactory) Create(config map[string]any) (protocol.Action, error) {
	url, _ := config["url"].(string)
	if url == "" {
		return nil, ErrURLMissing
	}

	method, _ := config["method"].(string)
	if method == "" {
		method = http.MethodPost
	}

	body, _ := config["body"].(string)

	headers := make(map[string]string)

	if headersConfig, exists := config["headers"]; exists {
		if headersMap, ok := headersConfig.(map[string]any); ok {
			for k, v := range headersMap {
				if strVal, ok := v.(string); ok {
					headers[k] = strVal
				}
			}
		}
	}

	return &Action{
		url:     url,
		method:  strings.ToUpper(method),
		body:    body,
		headers: headers,
		timeout: defaultTimeoutSeconds * time.Second,
	}, nil
}

// Schema returns the JSON schema for the action configuration.
func (*ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "Target URL. Supports templating.",
			},
			"method": map[string]any{
				"type":    "string",
				"default": "POST",
				"enum":    []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
			},
			"body": map[string]any{
				"type":        "string",
				"description": "Request body. Supports templating.",
			},
			"headers": map[string]any{
				"type":        "object",
				"description": "Request headers.",
			},
		},
		"required": []string{"url"},
	}
}

// Action performs one HTTP request.
type Action struct {
	url     string
	method  string
	body    string
	headers map[string]string
	timeout time.Duration
}

func (a *Action) Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("action_type", "http_request")

	rendered, err := template.RenderConfig(map[string]any{
		"url":  a.url,
		"body": a.body,
	}, &executionCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to render request config: %w", err)
	}

	url := fmt.Sprintf("%v", rendered["url"])

	body := ""
	if rendered["body"] != nil {
		switch v := rendered["body"].(type) {
		case string:
			body = v
		default:
			encoded, marshalErr := json.Marshal(v)
			if marshalErr != nil {
				return nil, fmt.Errorf("failed to encode request body: %w", marshalErr)
			}

			body = string(encoded)
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, a.method, url, strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	if body != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	for k, v := range a.headers {
		req.Header.Set(k, v)
	}

	logger.InfoContext(ctx, "Executing HTTP request", "method", a.method, "url", url)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	result := map[string]any{
		"status_code": resp.StatusCode,
		"body":        string(respBody),
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return result, fmt.Errorf("request returned status %d", resp.StatusCode)
	}

	return result, nil
}
