package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/iudanet/tasksync/internal/client/sync"
	"github.com/iudanet/tasksync/internal/models"
)

// RunTrack записывает затраченное на задачу время.
// Использование: tasksync track TASK_ID DURATION
func (a *App) RunTrack(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: track TASK_ID DURATION (e.g. 1h30m)")
	}

	duration, err := time.ParseDuration(args[1])
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", args[1], err)
	}
	if duration <= 0 {
		return fmt.Errorf("duration must be positive")
	}

	entryID := uuid.NewString()
	patch := sync.Patch{
		Fields: map[string]interface{}{
			models.FieldTaskID:      args[0],
			models.FieldStartedAt:   time.Now().UTC().Add(-duration),
			models.FieldDurationSec: int64(duration.Seconds()),
		},
	}

	if _, err := a.Engine.Author(ctx, entryID, models.KindTimeEntry, a.Workspace, patch); err != nil {
		return fmt.Errorf("failed to track time: %w", err)
	}

	fmt.Printf("Tracked %s on task %s\n", duration, args[0])
	return nil
}
