package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/iudanet/tasksync/internal/models"
	"github.com/iudanet/tasksync/internal/store"
)

// Patch локальная мутация сущности, описанная прикладным слоем.
type Patch struct {
	Fields     map[string]interface{} // имя поля -> новое значение
	AddTags    []string
	RemoveTags []string
	Delete     bool // tombstone: сущность сохраняет идентичность и историю
}

// Author создает запись журнала из локальной мутации, применяет ее к
// локальному entity store и ставит в offline queue. Если соединение
// в состоянии Live, запись будет отправлена немедленно, иначе -
// при следующем drain после переподключения.
func (e *Engine) Author(ctx context.Context, entityID, entityKind, workspaceID string, patch Patch) (*models.ChangeRecord, error) {
	if len(patch.Fields) == 0 && len(patch.AddTags) == 0 && len(patch.RemoveTags) == 0 && !patch.Delete {
		return nil, fmt.Errorf("empty patch for entity %s", entityID)
	}

	snap, err := e.store.CurrentState(ctx, entityID)
	switch {
	case errors.Is(err, store.ErrEntryNotFound):
		snap = models.NewEntitySnapshot(entityID, entityKind, workspaceID)
	case err != nil:
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	seq, err := e.meta.NextSeq(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to issue seq: %w", err)
	}

	rec := &models.ChangeRecord{
		EntityID:    entityID,
		EntityKind:  snap.EntityKind,
		WorkspaceID: snap.WorkspaceID,
		Origin:      e.clientID,
		Seq:         seq,
		Deps:        snap.Vector.Clone(), // причинный предшественник - все, что автор видел
		Tombstone:   patch.Delete,
		WallClock:   time.Now().UTC(),
	}

	if len(patch.Fields) > 0 {
		rec.Fields = make(map[string]models.FieldDelta, len(patch.Fields))
		for name, value := range patch.Fields {
			raw, err := json.Marshal(value)
			if err != nil {
				return nil, fmt.Errorf("failed to encode field %s: %w", name, err)
			}
			rec.Fields[name] = models.FieldDelta{
				Value: raw,
				Rev:   snap.FieldRev(name) + 1,
			}
		}
	}

	for _, tag := range patch.AddTags {
		rec.TagsAdd = append(rec.TagsAdd, models.TagOp{Tag: tag, Rev: snap.Tags[tag].Rev + 1})
	}
	for _, tag := range patch.RemoveTags {
		rec.TagsRemove = append(rec.TagsRemove, models.TagOp{Tag: tag, Rev: snap.Tags[tag].Rev + 1})
	}

	result, err := e.store.Apply(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("failed to apply local change: %w", err)
	}
	if result != store.ResultApplied {
		// Собственная запись со свежим seq не может быть дубликатом или
		// ждать предшественника
		return nil, fmt.Errorf("%w: unexpected result %s", errNotApplied, result)
	}

	if err := e.queue.Enqueue(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to queue local change: %w", err)
	}

	// Будим pushLoop, если соединение активно
	select {
	case e.wake <- struct{}{}:
	default:
	}

	return rec, nil
}
