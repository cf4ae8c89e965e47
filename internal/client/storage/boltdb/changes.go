package boltdb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/iudanet/tasksync/internal/client/storage"
	"github.com/iudanet/tasksync/internal/models"
)

// changeKey строит ключ записи журнала: entity_id/origin/seq.
// Seq выравнивается нулями, чтобы лексикографический порядок ключей
// совпадал с числовым порядком sequence numbers.
func changeKey(entityID, origin string, seq int64) []byte {
	return []byte(fmt.Sprintf("%s/%s/%019d", entityID, origin, seq))
}

// AppendChange добавляет запись в локальный журнал изменений.
// Реализует store.Backend: возвращает локальный log seq.
func (s *Storage) AppendChange(ctx context.Context, rec *models.ChangeRecord) (int64, error) {
	if s.db == nil {
		return 0, storage.ErrStorageClosed
	}

	var logSeq int64

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketChanges)

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal change record: %w", err)
		}

		if err := bucket.Put(changeKey(rec.EntityID, rec.Origin, rec.Seq), data); err != nil {
			return fmt.Errorf("failed to append change: %w", err)
		}

		// Локальный log seq - счетчик ключей bucket'а
		next, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to advance log seq: %w", err)
		}
		logSeq = int64(next)

		return nil
	})

	if err != nil {
		return 0, fmt.Errorf("append transaction failed: %w", err)
	}

	return logSeq, nil
}

// EntityChanges возвращает все записи журнала сущности в локальном порядке.
// Используется для восстановления правок, проигравших tombstone.
func (s *Storage) EntityChanges(ctx context.Context, entityID string) ([]*models.ChangeRecord, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var records []*models.ChangeRecord
	prefix := []byte(entityID + "/")

	err := s.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket(bucketChanges).Cursor()

		for k, v := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cursor.Next() {
			var rec models.ChangeRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("failed to unmarshal change record: %w", err)
			}
			records = append(records, &rec)
		}

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to get entity changes: %w", err)
	}

	return records, nil
}

// Snapshot реализует store.Backend: возвращает материализованный снапшот.
func (s *Storage) Snapshot(ctx context.Context, entityID string) (*models.EntitySnapshot, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var snap *models.EntitySnapshot

	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketSnapshots).Get([]byte(entityID))
		if data == nil {
			return storage.ErrEntryNotFound
		}

		snap = &models.EntitySnapshot{}
		if err := json.Unmarshal(data, snap); err != nil {
			return fmt.Errorf("failed to unmarshal snapshot: %w", err)
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	return snap, nil
}

// SaveSnapshot реализует store.Backend: сохраняет материализованный снапшот.
func (s *Storage) SaveSnapshot(ctx context.Context, snap *models.EntitySnapshot) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSnapshots).Put([]byte(snap.EntityID), data)
	})

	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	return nil
}

// Snapshots возвращает все снапшоты, включая tombstoned.
func (s *Storage) Snapshots(ctx context.Context) ([]*models.EntitySnapshot, error) {
	return s.snapshots(ctx, func(snap *models.EntitySnapshot) bool { return true })
}

// SnapshotsByKind возвращает неудаленные снапшоты заданного типа сущности.
func (s *Storage) SnapshotsByKind(ctx context.Context, kind string) ([]*models.EntitySnapshot, error) {
	return s.snapshots(ctx, func(snap *models.EntitySnapshot) bool {
		return !snap.Deleted && snap.EntityKind == kind
	})
}

// snapshots перебирает bucket снапшотов с фильтром.
func (s *Storage) snapshots(ctx context.Context, keep func(*models.EntitySnapshot) bool) ([]*models.EntitySnapshot, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var result []*models.EntitySnapshot

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSnapshots).ForEach(func(k, v []byte) error {
			var snap models.EntitySnapshot
			if err := json.Unmarshal(v, &snap); err != nil {
				return fmt.Errorf("failed to unmarshal snapshot: %w", err)
			}
			if keep(&snap) {
				result = append(result, &snap)
			}
			return nil
		})
	})

	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	return result, nil
}
