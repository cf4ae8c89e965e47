package boltdb

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/tasksync/internal/client/storage"
	"github.com/iudanet/tasksync/internal/models"
)

func setupStorage(t *testing.T) *Storage {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "client.db")
	store, err := New(context.Background(), dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	return store
}

func testRecord(entityID, origin string, seq int64) *models.ChangeRecord {
	return &models.ChangeRecord{
		EntityID:    entityID,
		EntityKind:  models.KindTask,
		WorkspaceID: "ws-1",
		Origin:      origin,
		Seq:         seq,
		Deps:        models.VersionVector{},
		Fields: map[string]models.FieldDelta{
			models.FieldTitle: {Value: json.RawMessage(`"title"`), Rev: seq},
		},
		WallClock: time.Now().UTC().Truncate(time.Millisecond),
	}
}

func TestAppendChange_AssignsMonotonicLogSeq(t *testing.T) {
	store := setupStorage(t)
	ctx := context.Background()

	first, err := store.AppendChange(ctx, testRecord("task-1", "client-a", 1))
	require.NoError(t, err)

	second, err := store.AppendChange(ctx, testRecord("task-2", "client-a", 2))
	require.NoError(t, err)

	assert.Greater(t, second, first)
}

func TestEntityChanges_OrderedBySeq(t *testing.T) {
	store := setupStorage(t)
	ctx := context.Background()

	// Пишем вперемешку по сущностям и seq
	_, err := store.AppendChange(ctx, testRecord("task-1", "client-a", 2))
	require.NoError(t, err)
	_, err = store.AppendChange(ctx, testRecord("task-2", "client-a", 3))
	require.NoError(t, err)
	_, err = store.AppendChange(ctx, testRecord("task-1", "client-a", 1))
	require.NoError(t, err)

	records, err := store.EntityChanges(ctx, "task-1")
	require.NoError(t, err)
	require.Len(t, records, 2)

	// Лексикографический порядок ключей дает порядок по seq
	assert.Equal(t, int64(1), records[0].Seq)
	assert.Equal(t, int64(2), records[1].Seq)
}

func TestEntityChanges_PrefixDoesNotLeak(t *testing.T) {
	store := setupStorage(t)
	ctx := context.Background()

	_, err := store.AppendChange(ctx, testRecord("task-1", "client-a", 1))
	require.NoError(t, err)
	_, err = store.AppendChange(ctx, testRecord("task-10", "client-a", 1))
	require.NoError(t, err)

	records, err := store.EntityChanges(ctx, "task-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "task-1", records[0].EntityID)
}

func TestSnapshot_NotFound(t *testing.T) {
	store := setupStorage(t)

	_, err := store.Snapshot(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrEntryNotFound)
}

func TestSaveSnapshot_RoundTrip(t *testing.T) {
	store := setupStorage(t)
	ctx := context.Background()

	snap := models.NewEntitySnapshot("task-1", models.KindTask, "ws-1")
	snap.Fields[models.FieldTitle] = models.FieldState{
		Value: json.RawMessage(`"Buy milk"`), Rev: 1, Orig: "client-a",
	}
	snap.Vector.Set("client-a", 1)

	require.NoError(t, store.SaveSnapshot(ctx, snap))

	got, err := store.Snapshot(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, snap.Fields, got.Fields)
	assert.Equal(t, snap.Vector, got.Vector)
}

func TestSnapshotsByKind_FiltersDeletedAndKind(t *testing.T) {
	store := setupStorage(t)
	ctx := context.Background()

	task := models.NewEntitySnapshot("task-1", models.KindTask, "ws-1")
	project := models.NewEntitySnapshot("p-1", models.KindProject, "ws-1")
	deleted := models.NewEntitySnapshot("task-2", models.KindTask, "ws-1")
	deleted.Deleted = true

	for _, snap := range []*models.EntitySnapshot{task, project, deleted} {
		require.NoError(t, store.SaveSnapshot(ctx, snap))
	}

	tasks, err := store.SnapshotsByKind(ctx, models.KindTask)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "task-1", tasks[0].EntityID)

	all, err := store.Snapshots(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestStorage_Closed(t *testing.T) {
	store := setupStorage(t)
	require.NoError(t, store.Close())

	_, err := store.Snapshot(context.Background(), "task-1")
	assert.ErrorIs(t, err, storage.ErrStorageClosed)

	_, err = store.AppendChange(context.Background(), testRecord("task-1", "client-a", 1))
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}
