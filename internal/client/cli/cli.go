// Package cli реализует команды клиента tasksync: локальные мутации
// задач, проектов и тайм-трекинга поверх sync engine.
package cli

import (
	"fmt"

	"github.com/iudanet/tasksync/internal/client/storage"
	"github.com/iudanet/tasksync/internal/client/sync"
	"github.com/iudanet/tasksync/internal/store"
)

// App связывает команды CLI с sync engine и локальным хранилищем.
type App struct {
	Engine    *sync.Engine
	Store     *store.Store
	Entities  storage.EntityStorage
	Meta      storage.MetadataStorage
	Workspace string
}

func PrintUsage() {
	fmt.Println("TaskSync Client")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  tasksync [OPTIONS] COMMAND")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --version           Show version information")
	fmt.Println("  --server URL        Server websocket URL (default: ws://localhost:8080/api/v1/sync)")
	fmt.Println("  --db PATH           Path to local database (default: tasksync-client.db)")
	fmt.Println("  --workspace ID      Workspace to operate on (default: personal)")
	fmt.Println("  --token TOKEN       Access token (or TASKSYNC_TOKEN env var)")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  run                       Connect to the server and sync until interrupted")
	fmt.Println("  add TITLE                 Add a task (flags: -notes, -due, -project, -tags)")
	fmt.Println("  list [kind]               List tasks, projects or time entries")
	fmt.Println("  done ID                   Mark task as done")
	fmt.Println("  tag ID TAG...             Add tags to a task")
	fmt.Println("  untag ID TAG...           Remove tags from a task")
	fmt.Println("  track TASK_ID DURATION    Log a time entry (e.g. 1h30m)")
	fmt.Println("  delete ID                 Delete an entity (tombstone)")
	fmt.Println("  recover ID                Show edits superseded by a delete")
	fmt.Println("  status                    Show client id, cursor and queue length")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  tasksync add 'Write report' -due 2026-09-01 -tags work,urgent")
	fmt.Println("  tasksync list tasks")
	fmt.Println("  tasksync done b692f5c0-2d88-4aa1-a9e1-13aa6e4976d5")
	fmt.Println("  tasksync track b692f5c0-2d88-4aa1-a9e1-13aa6e4976d5 45m")
	fmt.Println("  tasksync run")
}
