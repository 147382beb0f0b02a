package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/arborops/canopy/pkg/models"
	"github.com/arborops/canopy/pkg/persistence"
)

// Skip reasons recorded on the skipped execution log row.
const (
	ReasonDailyLimit = "daily limit reached"
	ReasonCooldown   = "cooldown active"
)

// Guard enforces per-workflow execution rate limits. Limits are soft at
// race boundaries: two runs starting simultaneously may both pass a gate.
type Guard struct {
	logs persistence.ExecutionLogRepository
	now  func() time.Time
}

func NewGuard(logs persistence.ExecutionLogRepository) *Guard {
	return &Guard{logs: logs, now: time.Now}
}

// Allow reports whether the workflow may start a run now. When a gate
// fails, the returned reason identifies which one.
func (g *Guard) Allow(ctx context.Context, wf *models.Workflow) (bool, string, error) {
	now := g.now().UTC()

	if wf.MaxExecutionsPerDay > 0 {
		count, err := g.logs.CountStartedToday(ctx, wf.ID, now)
		if err != nil {
			return false, "", fmt.Errorf("failed to count today's executions for workflow %s: %w", wf.ID, err)
		}

		if count >= wf.MaxExecutionsPerDay {
			return false, ReasonDailyLimit, nil
		}
	}

	if wf.CooldownMinutes > 0 {
		last, err := g.logs.LastStartedAt(ctx, wf.ID)
		if err != nil {
			return false, "", fmt.Errorf("failed to load last execution for workflow %s: %w", wf.ID, err)
		}

		if last != nil && now.Sub(last.UTC()) < time.Duration(wf.CooldownMinutes)*time.Minute {
			return false, ReasonCooldown, nil
		}
	}

	return true, "", nil
}
