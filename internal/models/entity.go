package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Канонические имена полей сущностей. Движок синхронизации оперирует
// произвольными наборами полей; константы фиксируют имена, которые
// использует прикладной слой.
const (
	FieldTitle       = "title"        // task
	FieldStatus      = "status"       // task
	FieldDueDate     = "due_date"     // task
	FieldNotes       = "notes"        // task
	FieldProjectID   = "project_id"   // task, time_entry
	FieldName        = "name"         // project
	FieldDescription = "description"  // project
	FieldArchived    = "archived"     // project
	FieldTaskID      = "task_id"      // time_entry
	FieldStartedAt   = "started_at"   // time_entry
	FieldDurationSec = "duration_sec" // time_entry
)

// Статусы задач
const (
	StatusOpen     = "open"
	StatusDone     = "done"
	StatusArchived = "archived"
)

// Task типизированное представление сущности task,
// декодированное из снапшота движка.
type Task struct {
	DueDate   time.Time `json:"due_date"`
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Title     string    `json:"title"`
	Status    string    `json:"status"`
	Notes     string    `json:"notes"`
	Tags      []string  `json:"tags"`
	Deleted   bool      `json:"deleted"`
}

// Project типизированное представление сущности project.
type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Archived    bool   `json:"archived"`
	Deleted     bool   `json:"deleted"`
}

// TimeEntry типизированное представление сущности time_entry.
type TimeEntry struct {
	StartedAt   time.Time `json:"started_at"`
	ID          string    `json:"id"`
	TaskID      string    `json:"task_id"`
	DurationSec int64     `json:"duration_sec"`
	Deleted     bool      `json:"deleted"`
}

// TaskFromSnapshot декодирует снапшот в Task.
func TaskFromSnapshot(snap *EntitySnapshot) (*Task, error) {
	if snap.EntityKind != KindTask {
		return nil, fmt.Errorf("snapshot %s is %q, not a task", snap.EntityID, snap.EntityKind)
	}
	task := &Task{
		ID:        snap.EntityID,
		Title:     snap.FieldString(FieldTitle),
		Status:    snap.FieldString(FieldStatus),
		Notes:     snap.FieldString(FieldNotes),
		ProjectID: snap.FieldString(FieldProjectID),
		Tags:      snap.ActiveTags(),
		Deleted:   snap.Deleted,
	}
	if state, ok := snap.Fields[FieldDueDate]; ok {
		if err := json.Unmarshal(state.Value, &task.DueDate); err != nil {
			return nil, fmt.Errorf("failed to decode due_date: %w", err)
		}
	}
	return task, nil
}

// ProjectFromSnapshot декодирует снапшот в Project.
func ProjectFromSnapshot(snap *EntitySnapshot) (*Project, error) {
	if snap.EntityKind != KindProject {
		return nil, fmt.Errorf("snapshot %s is %q, not a project", snap.EntityID, snap.EntityKind)
	}
	project := &Project{
		ID:          snap.EntityID,
		Name:        snap.FieldString(FieldName),
		Description: snap.FieldString(FieldDescription),
		Deleted:     snap.Deleted,
	}
	if state, ok := snap.Fields[FieldArchived]; ok {
		if err := json.Unmarshal(state.Value, &project.Archived); err != nil {
			return nil, fmt.Errorf("failed to decode archived: %w", err)
		}
	}
	return project, nil
}

// TimeEntryFromSnapshot декодирует снапшот в TimeEntry.
func TimeEntryFromSnapshot(snap *EntitySnapshot) (*TimeEntry, error) {
	if snap.EntityKind != KindTimeEntry {
		return nil, fmt.Errorf("snapshot %s is %q, not a time entry", snap.EntityID, snap.EntityKind)
	}
	entry := &TimeEntry{
		ID:      snap.EntityID,
		TaskID:  snap.FieldString(FieldTaskID),
		Deleted: snap.Deleted,
	}
	if state, ok := snap.Fields[FieldStartedAt]; ok {
		if err := json.Unmarshal(state.Value, &entry.StartedAt); err != nil {
			return nil, fmt.Errorf("failed to decode started_at: %w", err)
		}
	}
	if state, ok := snap.Fields[FieldDurationSec]; ok {
		if err := json.Unmarshal(state.Value, &entry.DurationSec); err != nil {
			return nil, fmt.Errorf("failed to decode duration_sec: %w", err)
		}
	}
	return entry, nil
}
