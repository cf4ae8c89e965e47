package hub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/tasksync/internal/models"
	"github.com/iudanet/tasksync/internal/api"
)

func testRecord(workspaceID, origin string, seq int64) *models.ChangeRecord {
	return &models.ChangeRecord{
		EntityID:    "task-1",
		EntityKind:  models.KindTask,
		WorkspaceID: workspaceID,
		Origin:      origin,
		Seq:         seq,
		Deps:        models.VersionVector{},
		Tombstone:   true,
	}
}

func receive(t *testing.T, session *Session) *api.Message {
	t.Helper()
	select {
	case msg := <-session.Send():
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message received")
		return nil
	}
}

func TestHub_BroadcastToWorkspaceSubscribers(t *testing.T) {
	h := New(nil)

	other := h.Register("s-1", "client-b", []string{"ws-1"})
	elsewhere := h.Register("s-2", "client-c", []string{"ws-2"})

	h.ChangeApplied(testRecord("ws-1", "client-a", 1), 10)

	msg := receive(t, other)
	require.Equal(t, api.TypeChangeBatch, msg.Type)
	require.Len(t, msg.ChangeBatch.Records, 1)
	assert.Equal(t, "client-a", msg.ChangeBatch.Records[0].Origin)
	assert.Equal(t, int64(10), msg.ChangeBatch.Cursor)

	// Чужой workspace ничего не получает
	select {
	case msg := <-elsewhere.Send():
		t.Fatalf("unexpected message: %+v", msg)
	default:
	}
}

func TestHub_ExcludesOriginatingClient(t *testing.T) {
	h := New(nil)

	author := h.Register("s-1", "client-a", []string{"ws-1"})
	other := h.Register("s-2", "client-b", []string{"ws-1"})

	h.ChangeApplied(testRecord("ws-1", "client-a", 1), 1)

	receive(t, other)

	select {
	case msg := <-author.Send():
		t.Fatalf("author received own change: %+v", msg)
	default:
	}
}

func TestHub_Unregister_ClosesChannel(t *testing.T) {
	h := New(nil)

	session := h.Register("s-1", "client-a", []string{"ws-1"})
	require.Equal(t, 1, h.SessionCount())

	h.Unregister("s-1")
	assert.Equal(t, 0, h.SessionCount())

	_, open := <-session.Send()
	assert.False(t, open)

	// Повторный unregister безопасен
	h.Unregister("s-1")
}

func TestHub_SlowSubscriberDropped(t *testing.T) {
	h := New(nil)

	slow := h.Register("s-1", "client-b", []string{"ws-1"})

	// Переполняем буфер, ничего не читая
	for seq := int64(1); seq <= defaultSendBuffer+1; seq++ {
		h.ChangeApplied(testRecord("ws-1", "client-a", seq), seq)
	}

	// Сессия снята с регистрации, канал закрыт после буферизованных сообщений
	assert.Equal(t, 0, h.SessionCount())

	received := 0
	for range slow.Send() {
		received++
	}
	assert.Equal(t, defaultSendBuffer, received)
}

func TestHub_MultipleWorkspaces(t *testing.T) {
	h := New(nil)

	session := h.Register("s-1", "client-b", []string{"ws-1", "ws-2"})

	h.ChangeApplied(testRecord("ws-1", "client-a", 1), 1)
	h.ChangeApplied(testRecord("ws-2", "client-a", 2), 2)

	first := receive(t, session)
	second := receive(t, session)
	assert.Equal(t, "ws-1", first.ChangeBatch.Records[0].WorkspaceID)
	assert.Equal(t, "ws-2", second.ChangeBatch.Records[0].WorkspaceID)
}
