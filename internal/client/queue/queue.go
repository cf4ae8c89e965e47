// Package queue реализует offline queue: буфер локальных изменений,
// еще не подтвержденных сервером. Очередь персистентна (переживает
// перезапуск процесса) и воспроизводится в исходном локальном порядке,
// сохраняя причинные цепочки по каждой сущности.
package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/iudanet/tasksync/internal/client/storage"
	"github.com/iudanet/tasksync/internal/models"
)

// PushFunc отправляет порцию записей через sync engine.
// Возвращает ошибку, если отправка не удалась (записи остаются в очереди).
type PushFunc func(ctx context.Context, records []*models.ChangeRecord) error

// Queue offline queue поверх персистентного хранилища.
type Queue struct {
	storage   storage.QueueStorage
	logger    *slog.Logger
	batchSize int
}

// New создает очередь. batchSize ограничивает размер порции при drain
// (<= 0 означает значение по умолчанию).
func New(queueStorage storage.QueueStorage, batchSize int, logger *slog.Logger) *Queue {
	if batchSize <= 0 {
		batchSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		storage:   queueStorage,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Enqueue добавляет локальное изменение в хвост очереди.
func (q *Queue) Enqueue(ctx context.Context, rec *models.ChangeRecord) error {
	if err := q.storage.EnqueueChange(ctx, rec); err != nil {
		return fmt.Errorf("failed to enqueue change: %w", err)
	}

	q.logger.Debug("Change queued",
		"entity_id", rec.EntityID,
		"seq", rec.Seq)

	return nil
}

// Drain воспроизводит очередь через push в исходном порядке.
// Возвращает количество отправленных записей.
//
// Записи НЕ удаляются при отправке: удаление происходит только в
// AckThrough после подтверждения сервером. Повторная отправка безопасна -
// entity store получателя идемпотентен.
func (q *Queue) Drain(ctx context.Context, push PushFunc) (int, error) {
	records, err := q.storage.PeekChanges(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to peek queue: %w", err)
	}

	flushed := 0
	for start := 0; start < len(records); start += q.batchSize {
		end := min(start+q.batchSize, len(records))

		if err := push(ctx, records[start:end]); err != nil {
			return flushed, fmt.Errorf("failed to push queued changes: %w", err)
		}

		flushed += end - start
	}

	if flushed > 0 {
		q.logger.Debug("Queue drained", "flushed", flushed)
	}

	return flushed, nil
}

// AckThrough удаляет подтвержденные записи с Seq <= seq.
func (q *Queue) AckThrough(ctx context.Context, seq int64) error {
	if err := q.storage.AckChangesThrough(ctx, seq); err != nil {
		return fmt.Errorf("failed to ack queue: %w", err)
	}
	return nil
}

// Len возвращает количество записей, ожидающих подтверждения.
func (q *Queue) Len(ctx context.Context) (int, error) {
	return q.storage.QueueLen(ctx)
}
