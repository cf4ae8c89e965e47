package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Cursor возвращает подтвержденный курсор клиента
// (0, если клиент еще не синхронизировался).
func (s *Storage) Cursor(ctx context.Context, clientID string) (int64, error) {
	var cursor int64

	err := s.db.QueryRowContext(ctx,
		`SELECT cursor FROM sync_cursors WHERE client_id = ?`, clientID,
	).Scan(&cursor)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get cursor: %w", err)
	}

	return cursor, nil
}

// SaveCursor сохраняет подтвержденный курсор клиента.
// Курсор не откатывается: меньшее значение игнорируется.
func (s *Storage) SaveCursor(ctx context.Context, clientID string, cursor int64) error {
	query := `
		INSERT INTO sync_cursors (client_id, cursor, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (client_id) DO UPDATE SET
			cursor = MAX(cursor, excluded.cursor),
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query, clientID, cursor, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}

	return nil
}
