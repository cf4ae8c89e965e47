package sqlite

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/tasksync/internal/models"
	"github.com/iudanet/tasksync/internal/server/storage"
)

func setupStorage(t *testing.T) *Storage {
	t.Helper()

	store, err := New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })

	return store
}

func testRecord(entityID, workspaceID, origin string, seq int64, wallClock time.Time) *models.ChangeRecord {
	return &models.ChangeRecord{
		EntityID:    entityID,
		EntityKind:  models.KindTask,
		WorkspaceID: workspaceID,
		Origin:      origin,
		Seq:         seq,
		Deps:        models.VersionVector{},
		Fields: map[string]models.FieldDelta{
			models.FieldTitle: {Value: json.RawMessage(`"title"`), Rev: seq},
		},
		WallClock: wallClock,
	}
}

func TestAppendChange_AssignsServerSeq(t *testing.T) {
	store := setupStorage(t)
	ctx := context.Background()
	now := time.Now().UTC()

	first, err := store.AppendChange(ctx, testRecord("task-1", "ws-1", "client-a", 1, now))
	require.NoError(t, err)
	assert.Equal(t, int64(1), first)

	second, err := store.AppendChange(ctx, testRecord("task-1", "ws-1", "client-a", 2, now))
	require.NoError(t, err)
	assert.Equal(t, int64(2), second)
}

func TestAppendChange_IdempotentOnDuplicate(t *testing.T) {
	store := setupStorage(t)
	ctx := context.Background()
	rec := testRecord("task-1", "ws-1", "client-a", 1, time.Now().UTC())

	first, err := store.AppendChange(ctx, rec)
	require.NoError(t, err)

	// Повторная вставка той же пары (origin, seq) не создает новую строку
	again, err := store.AppendChange(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	maxSeq, err := store.MaxSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, maxSeq)
}

func TestChangesSince_FiltersWorkspaceAndPaginates(t *testing.T) {
	store := setupStorage(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for seq := int64(1); seq <= 5; seq++ {
		_, err := store.AppendChange(ctx, testRecord("task-1", "ws-1", "client-a", seq, now))
		require.NoError(t, err)
	}
	_, err := store.AppendChange(ctx, testRecord("task-9", "ws-other", "client-b", 1, now))
	require.NoError(t, err)

	// Первая страница
	records, cursor, more, err := store.ChangesSince(ctx, 0, []string{"ws-1"}, 3)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.True(t, more)
	assert.Equal(t, int64(3), cursor)
	assert.Equal(t, int64(1), records[0].Seq)

	// Вторая страница с возвращенного курсора
	records, cursor, more, err = store.ChangesSince(ctx, cursor, []string{"ws-1"}, 3)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.False(t, more)
	assert.Equal(t, int64(5), cursor)

	// Чужой workspace не просачивается
	for _, rec := range records {
		assert.Equal(t, "ws-1", rec.WorkspaceID)
	}
}

func TestChangesSince_EmptyLog(t *testing.T) {
	store := setupStorage(t)

	records, cursor, more, err := store.ChangesSince(context.Background(), 0, []string{"ws-1"}, 10)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.False(t, more)
	assert.Equal(t, int64(0), cursor)
}

func TestCompactBefore_AdvancesWatermark(t *testing.T) {
	store := setupStorage(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	fresh := time.Now().UTC()

	_, err := store.AppendChange(ctx, testRecord("task-1", "ws-1", "client-a", 1, old))
	require.NoError(t, err)
	_, err = store.AppendChange(ctx, testRecord("task-1", "ws-1", "client-a", 2, old))
	require.NoError(t, err)
	_, err = store.AppendChange(ctx, testRecord("task-1", "ws-1", "client-a", 3, fresh))
	require.NoError(t, err)

	dropped, err := store.CompactBefore(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), dropped)

	watermark, err := store.Watermark(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), watermark)

	// MaxSeq не уменьшается после compaction
	maxSeq, err := store.MaxSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), maxSeq)

	// Курсор внутри уплотненной части журнала -> divergent
	_, _, _, err = store.ChangesSince(ctx, 1, []string{"ws-1"}, 10)
	assert.ErrorIs(t, err, storage.ErrDivergentCursor)

	// Курсор на watermark еще валиден
	records, _, _, err := store.ChangesSince(ctx, 2, []string{"ws-1"}, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(3), records[0].Seq)
}

func TestCompactBefore_NothingToCompact(t *testing.T) {
	store := setupStorage(t)
	ctx := context.Background()

	_, err := store.AppendChange(ctx, testRecord("task-1", "ws-1", "client-a", 1, time.Now().UTC()))
	require.NoError(t, err)

	dropped, err := store.CompactBefore(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), dropped)

	watermark, err := store.Watermark(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), watermark)
}
