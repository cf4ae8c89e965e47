package cli

import (
	"context"
	"fmt"

	"github.com/iudanet/tasksync/internal/client/sync"
	"github.com/iudanet/tasksync/internal/models"
)

// RunDone помечает задачу выполненной.
func (a *App) RunDone(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: done TASK_ID")
	}

	patch := sync.Patch{
		Fields: map[string]interface{}{models.FieldStatus: models.StatusDone},
	}

	if _, err := a.Engine.Author(ctx, args[0], models.KindTask, a.Workspace, patch); err != nil {
		return fmt.Errorf("failed to complete task: %w", err)
	}

	fmt.Printf("Task done: %s\n", args[0])
	return nil
}

// RunTag добавляет теги задаче.
func (a *App) RunTag(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: tag TASK_ID TAG...")
	}

	patch := sync.Patch{AddTags: args[1:]}
	if _, err := a.Engine.Author(ctx, args[0], models.KindTask, a.Workspace, patch); err != nil {
		return fmt.Errorf("failed to tag task: %w", err)
	}

	fmt.Printf("Tagged %s: %v\n", args[0], args[1:])
	return nil
}

// RunUntag снимает теги с задачи.
func (a *App) RunUntag(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: untag TASK_ID TAG...")
	}

	patch := sync.Patch{RemoveTags: args[1:]}
	if _, err := a.Engine.Author(ctx, args[0], models.KindTask, a.Workspace, patch); err != nil {
		return fmt.Errorf("failed to untag task: %w", err)
	}

	fmt.Printf("Untagged %s: %v\n", args[0], args[1:])
	return nil
}

// RunDelete ставит tombstone на сущность. Правки, проигравшие удалению,
// остаются в журнале и доступны через recover.
func (a *App) RunDelete(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: delete ENTITY_ID")
	}

	snap, err := a.Store.CurrentState(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to load entity: %w", err)
	}

	patch := sync.Patch{Delete: true}
	if _, err := a.Engine.Author(ctx, args[0], snap.EntityKind, snap.WorkspaceID, patch); err != nil {
		return fmt.Errorf("failed to delete entity: %w", err)
	}

	fmt.Printf("Deleted: %s\n", args[0])
	return nil
}

// RunRecover печатает записи с правками, проигравшими tombstone'у.
func (a *App) RunRecover(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: recover ENTITY_ID")
	}

	lost, err := a.Engine.RecoverableEdits(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to inspect history: %w", err)
	}

	if len(lost) == 0 {
		fmt.Println("No superseded edits")
		return nil
	}

	for _, rec := range lost {
		fmt.Printf("%s  %s\n", rec.Key(), rec.WallClock.Format("2006-01-02 15:04:05"))
		for name, delta := range rec.Fields {
			fmt.Printf("  %s = %s\n", name, string(delta.Value))
		}
	}

	return nil
}
