package queue

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/tasksync/internal/client/storage/boltdb"
	"github.com/iudanet/tasksync/internal/models"
)

func setupQueue(t *testing.T, batchSize int) *Queue {
	t.Helper()

	store, err := boltdb.New(context.Background(), filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })

	return New(store, batchSize, nil)
}

func queuedRecord(seq int64) *models.ChangeRecord {
	return &models.ChangeRecord{
		EntityID:    "task-1",
		EntityKind:  models.KindTask,
		WorkspaceID: "ws-1",
		Origin:      "client-a",
		Seq:         seq,
		Deps:        models.VersionVector{},
		Fields: map[string]models.FieldDelta{
			models.FieldTitle: {Value: []byte(`"t"`), Rev: seq},
		},
		WallClock: time.Now().UTC(),
	}
}

func TestQueue_Drain_PreservesOrderAndKeepsEntries(t *testing.T) {
	q := setupQueue(t, 2)
	ctx := context.Background()

	for seq := int64(1); seq <= 5; seq++ {
		require.NoError(t, q.Enqueue(ctx, queuedRecord(seq)))
	}

	var pushed []int64
	flushed, err := q.Drain(ctx, func(ctx context.Context, records []*models.ChangeRecord) error {
		assert.LessOrEqual(t, len(records), 2)
		for _, rec := range records {
			pushed = append(pushed, rec.Seq)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 5, flushed)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, pushed)

	// Drain не удаляет записи: они ждут подтверждения сервером
	length, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, length)
}

func TestQueue_Drain_StopsOnPushError(t *testing.T) {
	q := setupQueue(t, 2)
	ctx := context.Background()

	for seq := int64(1); seq <= 4; seq++ {
		require.NoError(t, q.Enqueue(ctx, queuedRecord(seq)))
	}

	pushErr := errors.New("connection lost")
	calls := 0
	flushed, err := q.Drain(ctx, func(ctx context.Context, records []*models.ChangeRecord) error {
		calls++
		if calls == 2 {
			return pushErr
		}
		return nil
	})

	assert.ErrorIs(t, err, pushErr)
	assert.Equal(t, 2, flushed)
}

func TestQueue_AckThrough_RemovesConfirmed(t *testing.T) {
	q := setupQueue(t, 0)
	ctx := context.Background()

	for seq := int64(1); seq <= 3; seq++ {
		require.NoError(t, q.Enqueue(ctx, queuedRecord(seq)))
	}

	require.NoError(t, q.AckThrough(ctx, 2))

	length, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, length)

	// Повторный drain шлет только неподтвержденное
	var pushed []int64
	_, err = q.Drain(ctx, func(ctx context.Context, records []*models.ChangeRecord) error {
		for _, rec := range records {
			pushed = append(pushed, rec.Seq)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, pushed)
}

func TestQueue_Drain_Empty(t *testing.T) {
	q := setupQueue(t, 0)

	flushed, err := q.Drain(context.Background(), func(ctx context.Context, records []*models.ChangeRecord) error {
		t.Fatal("push should not be called for empty queue")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, flushed)
}
