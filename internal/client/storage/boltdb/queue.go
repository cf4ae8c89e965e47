package boltdb

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/iudanet/tasksync/internal/client/storage"
	"github.com/iudanet/tasksync/internal/models"
)

// EnqueueChange добавляет запись в хвост offline queue.
// Ключ - монотонный индекс bucket'а, поэтому обход возвращает записи
// строго в порядке создания.
func (s *Storage) EnqueueChange(ctx context.Context, rec *models.ChangeRecord) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal queued change: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketQueue)

		index, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to advance queue index: %w", err)
		}

		return bucket.Put(encodeInt64(int64(index)), data)
	})

	if err != nil {
		return fmt.Errorf("enqueue transaction failed: %w", err)
	}

	return nil
}

// PeekChanges возвращает до limit записей с головы очереди, не удаляя их.
// limit <= 0 означает все записи.
func (s *Storage) PeekChanges(ctx context.Context, limit int) ([]*models.ChangeRecord, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var records []*models.ChangeRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket(bucketQueue).Cursor()

		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			if limit > 0 && len(records) >= limit {
				break
			}

			var rec models.ChangeRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("failed to unmarshal queued change: %w", err)
			}
			records = append(records, &rec)
		}

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to peek queue: %w", err)
	}

	return records, nil
}

// AckChangesThrough удаляет из очереди записи с Seq <= seq.
// Вызывается только после подтверждения сервером: до этого локальные
// изменения не теряются ни при каких обрывах соединения.
func (s *Storage) AckChangesThrough(ctx context.Context, seq int64) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketQueue)
		cursor := bucket.Cursor()

		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			var rec models.ChangeRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("failed to unmarshal queued change: %w", err)
			}

			if rec.Seq <= seq {
				if err := cursor.Delete(); err != nil {
					return fmt.Errorf("failed to delete acked change: %w", err)
				}
			}
		}

		return nil
	})

	if err != nil {
		return fmt.Errorf("ack transaction failed: %w", err)
	}

	return nil
}

// QueueLen возвращает количество записей в очереди.
func (s *Storage) QueueLen(ctx context.Context) (int, error) {
	if s.db == nil {
		return 0, storage.ErrStorageClosed
	}

	var count int

	err := s.db.View(func(tx *bbolt.Tx) error {
		count = tx.Bucket(bucketQueue).Stats().KeyN
		return nil
	})

	if err != nil {
		return 0, fmt.Errorf("failed to get queue length: %w", err)
	}

	return count, nil
}
