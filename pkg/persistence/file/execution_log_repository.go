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

// ExecutionLogRepository stores log rows as JSON files under <root>/logs.
type ExecutionLogRepository struct {
	root string
	mu   sync.RWMutex
}

// NewExecutionLogRepository creates a new file-backed log repository.
func NewExecutionLogRepository(root string) *ExecutionLogRepository {
	return &ExecutionLogRepository{root: root}
}

func (r *ExecutionLogRepository) dir() string {
	return filepath.Join(r.root, "logs")
}

// Write commits one log row to its own file.
func (r *ExecutionLogRepository) Write(_ context.Context, entry *models.ExecutionLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	err := os.MkdirAll(r.dir(), 0o755)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal execution log %s: %w", entry.ID, err)
	}

	return os.WriteFile(filepath.Join(r.dir(), entry.ID+".json"), data, 0o644)
}

// List returns log rows newest first, filtered and paginated.
func (r *ExecutionLogRepository) List(_ context.Context, opts persistence.ListLogsOptions) ([]*models.ExecutionLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if opts.Limit <= 0 || opts.Limit > 200 {
		opts.Limit = 50
	}

	all, err := r.readAll()
	if err != nil {
		return nil, err
	}

	sort.Slice(all, func(i, j int) bool { return all[i].StartedAt.After(all[j].StartedAt) })

	filtered := make([]*models.ExecutionLog, 0)

	for _, entry := range all {
		if opts.WorkflowID != "" && entry.WorkflowID != opts.WorkflowID {
			continue
		}

		if opts.ExecutionID != "" && entry.ExecutionID != opts.ExecutionID {
			continue
		}

		if opts.Status != "" && entry.Status != opts.Status {
			continue
		}

		filtered = append(filtered, entry)
	}

	if opts.Offset >= len(filtered) {
		return []*models.ExecutionLog{}, nil
	}

	end := opts.Offset + opts.Limit
	if end > len(filtered) {
		end = len(filtered)
	}

	return filtered[opts.Offset:end], nil
}

// GetByExecutionID returns all rows of one execution in start order.
func (r *ExecutionLogRepository) GetByExecutionID(_ context.Context, executionID string) ([]*models.ExecutionLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all, err := r.readAll()
	if err != nil {
		return nil, err
	}

	logs := make([]*models.ExecutionLog, 0)

	for _, entry := range all {
		if entry.ExecutionID == executionID {
			logs = append(logs, entry)
		}
	}

	if len(logs) == 0 {
		return nil, persistence.ErrExecutionNotFound
	}

	sort.Slice(logs, func(i, j int) bool { return logs[i].StartedAt.Before(logs[j].StartedAt) })

	return logs, nil
}

// CountStartedToday counts distinct non-skipped executions started within
// the UTC day containing the given time.
func (r *ExecutionLogRepository) CountStartedToday(_ context.Context, workflowID string, day time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all, err := r.readAll()
	if err != nil {
		return 0, err
	}

	dayStart := day.UTC().Truncate(24 * time.Hour)
	dayEnd := dayStart.Add(24 * time.Hour)
	seen := make(map[string]bool)

	for _, entry := range all {
		if entry.WorkflowID != workflowID || entry.Status == models.LogStatusSkipped {
			continue
		}

		started := entry.StartedAt.UTC()
		if started.Before(dayStart) || !started.Before(dayEnd) {
			continue
		}

		seen[entry.ExecutionID] = true
	}

	return len(seen), nil
}

// LastStartedAt returns the most recent non-skipped execution start.
func (r *ExecutionLogRepository) LastStartedAt(_ context.Context, workflowID string) (*time.Time, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all, err := r.readAll()
	if err != nil {
		return nil, err
	}

	var last *time.Time

	for _, entry := range all {
		if entry.WorkflowID != workflowID || entry.Status == models.LogStatusSkipped {
			continue
		}

		started := entry.StartedAt

		if last == nil || started.After(*last) {
			last = &started
		}
	}

	return last, nil
}

// Stats aggregates log history.
func (r *ExecutionLogRepository) Stats(_ context.Context) (*persistence.LogStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all, err := r.readAll()
	if err != nil {
		return nil, err
	}

	stats := &persistence.LogStats{
		ByStatus:    make(map[string]int),
		ByWorkflow:  make(map[string]int),
		ByActionTyp: make(map[string]int),
	}

	for _, entry := range all {
		stats.Total++
		stats.ByStatus[string(entry.Status)]++
		stats.ByWorkflow[entry.WorkflowID]++
		stats.ByActionTyp[entry.ActionType]++
	}

	return stats, nil
}

func (r *ExecutionLogRepository) readAll() ([]*models.ExecutionLog, error) {
	entries, err := os.ReadDir(r.dir())
	if err != nil {
		if os.IsNotExist(err) {
			return []*models.ExecutionLog{}, nil
		}

		return nil, err
	}

	logs := make([]*models.ExecutionLog, 0, len(entries))

	for _, fileEntry := range entries {
		if fileEntry.IsDir() || filepath.Ext(fileEntry.Name()) != ".json" {
			continue
		}

		data, readErr := os.ReadFile(filepath.Join(r.dir(), fileEntry.Name()))
		if readErr != nil {
			return nil, readErr
		}

		var entry models.ExecutionLog

		readErr = json.Unmarshal(data, &entry)
		if readErr != nil {
			return nil, fmt.Errorf("failed to unmarshal execution log %s: %w", fileEntry.Name(), readErr)
		}

		logs = append(logs, &entry)
	}

	return logs, nil
}
