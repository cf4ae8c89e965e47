package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/iudanet/tasksync/internal/models"
)

// RunList печатает сущности workspace'а.
// Использование: tasksync list [tasks|projects|time]
func (a *App) RunList(ctx context.Context, args []string) error {
	kind := models.KindTask
	if len(args) > 0 {
		switch args[0] {
		case "tasks", "task":
			kind = models.KindTask
		case "projects", "project":
			kind = models.KindProject
		case "time", "time_entries":
			kind = models.KindTimeEntry
		default:
			return fmt.Errorf("unknown kind %q (want tasks, projects or time)", args[0])
		}
	}

	snapshots, err := a.Entities.SnapshotsByKind(ctx, kind)
	if err != nil {
		return fmt.Errorf("failed to list entities: %w", err)
	}

	if len(snapshots) == 0 {
		fmt.Println("Nothing here yet")
		return nil
	}

	for _, snap := range snapshots {
		if snap.WorkspaceID != a.Workspace {
			continue
		}
		switch kind {
		case models.KindTask:
			task, err := models.TaskFromSnapshot(snap)
			if err != nil {
				return err
			}
			printTask(task)
		case models.KindProject:
			project, err := models.ProjectFromSnapshot(snap)
			if err != nil {
				return err
			}
			fmt.Printf("%s  %s  %s\n", project.ID, project.Name, project.Description)
		case models.KindTimeEntry:
			entry, err := models.TimeEntryFromSnapshot(snap)
			if err != nil {
				return err
			}
			fmt.Printf("%s  task=%s  %s  %s\n",
				entry.ID, entry.TaskID,
				entry.StartedAt.Format(time.RFC3339),
				time.Duration(entry.DurationSec)*time.Second)
		}
	}

	return nil
}

func printTask(task *models.Task) {
	mark := " "
	if task.Status == models.StatusDone {
		mark = "x"
	}

	line := fmt.Sprintf("[%s] %s  %s", mark, task.ID, task.Title)
	if !task.DueDate.IsZero() {
		line += "  due " + task.DueDate.Format("2006-01-02")
	}
	if len(task.Tags) > 0 {
		line += "  #" + strings.Join(task.Tags, " #")
	}
	fmt.Println(line)
}
