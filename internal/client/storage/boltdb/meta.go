package boltdb

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/iudanet/tasksync/internal/client/storage"
)

var (
	metaKeyCursor   = []byte("cursor")
	metaKeySeq      = []byte("seq")
	metaKeyClientID = []byte("client_id")
)

// SaveCursor сохраняет sync cursor: наибольший server log seq,
// примененный и подтвержденный этим клиентом. Cursor монотонен:
// значение меньше сохраненного игнорируется, иначе запоздавшее
// сообщение откатило бы точку возобновления назад.
func (s *Storage) SaveCursor(ctx context.Context, cursor int64) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMeta)
		if data := bucket.Get(metaKeyCursor); data != nil && decodeInt64(data) >= cursor {
			return nil
		}
		return bucket.Put(metaKeyCursor, encodeInt64(cursor))
	})

	if err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}

	return nil
}

// Cursor возвращает сохраненный sync cursor (0 если синхронизации еще не было).
func (s *Storage) Cursor(ctx context.Context) (int64, error) {
	if s.db == nil {
		return 0, storage.ErrStorageClosed
	}

	var cursor int64

	err := s.db.View(func(tx *bbolt.Tx) error {
		if data := tx.Bucket(bucketMeta).Get(metaKeyCursor); data != nil {
			cursor = decodeInt64(data)
		}
		return nil
	})

	if err != nil {
		return 0, fmt.Errorf("failed to get cursor: %w", err)
	}

	return cursor, nil
}

// NextSeq атомарно выдает следующий локальный sequence number.
// Счетчик монотонный: клиент никогда не откатывает собственный seq.
func (s *Storage) NextSeq(ctx context.Context) (int64, error) {
	if s.db == nil {
		return 0, storage.ErrStorageClosed
	}

	var seq int64

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMeta)

		if data := bucket.Get(metaKeySeq); data != nil {
			seq = decodeInt64(data)
		}
		seq++

		return bucket.Put(metaKeySeq, encodeInt64(seq))
	})

	if err != nil {
		return 0, fmt.Errorf("failed to advance seq: %w", err)
	}

	return seq, nil
}

// CurrentSeq возвращает последний выданный локальный sequence number.
func (s *Storage) CurrentSeq(ctx context.Context) (int64, error) {
	if s.db == nil {
		return 0, storage.ErrStorageClosed
	}

	var seq int64

	err := s.db.View(func(tx *bbolt.Tx) error {
		if data := tx.Bucket(bucketMeta).Get(metaKeySeq); data != nil {
			seq = decodeInt64(data)
		}
		return nil
	})

	if err != nil {
		return 0, fmt.Errorf("failed to get current seq: %w", err)
	}

	return seq, nil
}

// ClientID возвращает стабильный client id устройства,
// генерируя его при первом обращении.
func (s *Storage) ClientID(ctx context.Context) (string, error) {
	if s.db == nil {
		return "", storage.ErrStorageClosed
	}

	var clientID string

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMeta)

		if data := bucket.Get(metaKeyClientID); data != nil {
			clientID = string(data)
			return nil
		}

		// Первый запуск - генерируем и сохраняем
		clientID = uuid.New().String()
		return bucket.Put(metaKeyClientID, []byte(clientID))
	})

	if err != nil {
		return "", fmt.Errorf("failed to get client id: %w", err)
	}

	return clientID, nil
}

// encodeInt64 кодирует int64 в big-endian (порядок байт = числовой порядок).
func encodeInt64(v int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return buf
}

// decodeInt64 декодирует big-endian int64.
func decodeInt64(data []byte) int64 {
	if len(data) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(data))
}
