package emitter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborops/canopy/pkg/models"
	"github.com/arborops/canopy/pkg/persistence"
	"github.com/arborops/canopy/pkg/persistence/file"
)

type recordingRepo struct {
	mu       sync.Mutex
	appended []string
	err      error

	entered     chan struct{}
	enteredOnce sync.Once
}

func (r *recordingRepo) Append(_ context.Context, eventType string, _ map[string]any) (string, error) {
	if r.entered != nil {
		r.enteredOnce.Do(func() { close(r.entered) })
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return "", r.err
	}

	r.appended = append(r.appended, eventType)

	return eventType, nil
}

func (r *recordingRepo) ClaimPending(context.Context, int) ([]*models.DomainEvent, error) {
	return nil, nil
}
func (r *recordingRepo) MarkCompleted(context.Context, string) error { return nil }
func (r *recordingRepo) MarkFailed(context.Context, string, error, *time.Time) error {
	return nil
}
func (r *recordingRepo) MarkDismissed(context.Context, string) error { return nil }
func (r *recordingRepo) MarkPending(context.Context, string) error   { return nil }
func (r *recordingRepo) GetByID(context.Context, string) (*models.DomainEvent, error) {
	return nil, nil
}
func (r *recordingRepo) List(context.Context, persistence.ListEventsOptions) ([]*models.DomainEvent, error) {
	return nil, nil
}

func (r *recordingRepo) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.appended...)
}

func TestEmitter_EmitAppendsToStore(t *testing.T) {
	persist := file.NewPersistence(t.TempDir())
	em := NewEmitter(persist.EventRepository(), nil, nil)

	em.Emit("estimate.created", map[string]any{"estimate_id": "E-1"})
	em.Emit("invoice.paid", map[string]any{"amount": 500})
	em.Close()

	stored, err := persist.EventRepository().List(context.Background(), persistence.ListEventsOptions{})
	require.NoError(t, err)
	require.Len(t, stored, 2)

	types := map[string]bool{}
	for _, ev := range stored {
		types[ev.Type] = true
		assert.Equal(t, models.EventStatusPending, ev.Status)
	}

	assert.True(t, types["estimate.created"])
	assert.True(t, types["invoice.paid"])
}

func TestEmitter_NeverReturnsAppendFailure(t *testing.T) {
	repo := &recordingRepo{err: errors.New("store down")}
	em := NewEmitter(repo, nil, nil)

	// Must not panic or block even though every append fails.
	em.Emit("job.completed", map[string]any{})
	em.Close()

	assert.Empty(t, repo.types())
}

func TestEmitter_DropsOldestOnOverflow(t *testing.T) {
	repo := &recordingRepo{entered: make(chan struct{})}

	em := NewEmitterWithBuffer(repo, nil, nil, 2)
	// Stall the drain loop by holding the repo mutex so the buffer fills.
	repo.mu.Lock()

	em.Emit("first", nil)
	<-repo.entered // drain loop picked up "first" and is now blocked

	em.Emit("second", nil)
	em.Emit("third", nil)
	em.Emit("fourth", nil) // buffer of 2 full: "second" is dropped

	repo.mu.Unlock()
	em.Close()

	types := repo.types()
	assert.Contains(t, types, "first")
	assert.Contains(t, types, "fourth")
	assert.NotContains(t, types, "second")
}

func TestEmitter_EmitAfterCloseIsNoop(t *testing.T) {
	repo := &recordingRepo{}
	em := NewEmitter(repo, nil, nil)

	em.Close()
	em.Emit("late.event", nil)

	assert.Empty(t, repo.types())
}
