// Package collaborators implements the side-effect interfaces built-in
// actions delegate to. The HTTP collaborator forwards to the business
// application's internal API, which owns delivery and idempotency.
package collaborators

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const defaultTimeout = 15 * time.Second

// HTTPCollaborator sends emails, SMS and tasks through the business
// application's API.
type HTTPCollaborator struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPCollaborator(baseURL, apiKey string) *HTTPCollaborator {
	return &HTTPCollaborator{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

func (h *HTTPCollaborator) SendEmail(ctx context.Context, to, subject, body string) error {
	return h.post(ctx, "/internal/notifications/email", map[string]any{
		"to":      to,
		"subject": subject,
		"body":    body,
	})
}

func (h *HTTPCollaborator) SendSMS(ctx context.Context, to, message string) error {
	return h.post(ctx, "/internal/notifications/sms", map[string]any{
		"to":      to,
		"message": message,
	})
}

func (h *HTTPCollaborator) CreateTask(ctx context.Context, title, description string, metadata map[string]any) (string, error) {
	resp, err := h.do(ctx, "/internal/tasks", map[string]any{
		"title":       title,
		"description": description,
		"metadata":    metadata,
	})
	if err != nil {
		return "", err
	}

	defer func() { _ = resp.Body.Close() }()

	var result struct {
		ID string `json:"id"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode task response: %w", err)
	}

	return result.ID, nil
}

func (h *HTTPCollaborator) post(ctx context.Context, path string, payload map[string]any) error {
	resp, err := h.do(ctx, path, payload)
	if err != nil {
		return err
	}

	_ = resp.Body.Close()

	return nil
}

func (h *HTTPCollaborator) do(ctx context.Context, path string, payload map[string]any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", path, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		_ = resp.Body.Close()

		return nil, fmt.Errorf("request to %s returned status %d", path, resp.StatusCode)
	}

	return resp, nil
}
