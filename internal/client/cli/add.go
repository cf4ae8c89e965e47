package cli

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iudanet/tasksync/internal/client/sync"
	"github.com/iudanet/tasksync/internal/models"
)

// RunAdd создает новую задачу.
// Использование: tasksync add TITLE [-notes N] [-due YYYY-MM-DD] [-project ID] [-tags a,b]
func (a *App) RunAdd(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: add TITLE [-notes N] [-due YYYY-MM-DD] [-project ID] [-tags a,b]")
	}

	title := args[0]

	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	notes := fs.String("notes", "", "Task notes")
	due := fs.String("due", "", "Due date (YYYY-MM-DD)")
	project := fs.String("project", "", "Project id")
	tags := fs.String("tags", "", "Comma-separated tags")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	patch := sync.Patch{
		Fields: map[string]interface{}{
			models.FieldTitle:  title,
			models.FieldStatus: models.StatusOpen,
		},
	}
	if *notes != "" {
		patch.Fields[models.FieldNotes] = *notes
	}
	if *project != "" {
		patch.Fields[models.FieldProjectID] = *project
	}
	if *due != "" {
		dueDate, err := time.Parse("2006-01-02", *due)
		if err != nil {
			return fmt.Errorf("invalid due date %q: %w", *due, err)
		}
		patch.Fields[models.FieldDueDate] = dueDate
	}
	if *tags != "" {
		patch.AddTags = strings.Split(*tags, ",")
	}

	taskID := uuid.NewString()

	rec, err := a.Engine.Author(ctx, taskID, models.KindTask, a.Workspace, patch)
	if err != nil {
		return fmt.Errorf("failed to add task: %w", err)
	}

	fmt.Printf("Task added: %s (seq %d)\n", taskID, rec.Seq)
	return nil
}
