package storage

import (
	"context"

	"github.com/iudanet/tasksync/internal/models"
)

//go:generate go tool moq -out queuestorage_mock.go . QueueStorage

// QueueStorage defines durable storage for the offline queue:
// locally authored change records not yet acknowledged by the server.
// FIFO в порядке создания; записи переживают перезапуск процесса.
type QueueStorage interface {
	// EnqueueChange appends a record to the tail of the queue
	EnqueueChange(ctx context.Context, rec *models.ChangeRecord) error

	// PeekChanges returns up to limit records from the head of the queue
	// without removing them (limit <= 0 means all)
	PeekChanges(ctx context.Context, limit int) ([]*models.ChangeRecord, error)

	// AckChangesThrough removes queued records with Seq <= seq
	// (записи удаляются только после подтверждения сервером)
	AckChangesThrough(ctx context.Context, seq int64) error

	// QueueLen returns the number of queued records
	QueueLen(ctx context.Context) (int, error)
}
