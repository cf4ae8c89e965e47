package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iudanet/tasksync/internal/models"
	"github.com/iudanet/tasksync/internal/server/storage"
)

const metaKeyWatermark = "watermark"

// AppendChange добавляет запись в авторитетный журнал и возвращает
// назначенный server_seq. Идемпотентен: повторная вставка той же пары
// (origin, seq) возвращает server_seq существующей записи.
func (s *Storage) AppendChange(ctx context.Context, rec *models.ChangeRecord) (int64, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal change record: %w", err)
	}

	query := `
		INSERT INTO change_log (origin, seq, entity_id, workspace_id, wall_clock, record)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (origin, seq) DO NOTHING
	`

	result, err := s.db.ExecContext(ctx, query,
		rec.Origin,
		rec.Seq,
		rec.EntityID,
		rec.WorkspaceID,
		rec.WallClock.UnixMilli(),
		data,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert change record: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		// Запись уже в журнале: отдаем ее server_seq
		var serverSeq int64
		err := s.db.QueryRowContext(ctx,
			`SELECT server_seq FROM change_log WHERE origin = ? AND seq = ?`,
			rec.Origin, rec.Seq,
		).Scan(&serverSeq)
		if err != nil {
			return 0, fmt.Errorf("failed to look up existing record: %w", err)
		}
		return serverSeq, nil
	}

	serverSeq, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get assigned server seq: %w", err)
	}

	return serverSeq, nil
}

// ChangesSince возвращает до limit записей журнала с server_seq > cursor
// для заданных workspace'ов в порядке server_seq. Второе значение -
// server_seq последней возвращенной записи (новый курсор), третье -
// остались ли еще записи.
func (s *Storage) ChangesSince(ctx context.Context, cursor int64, workspaces []string, limit int) ([]*models.ChangeRecord, int64, bool, error) {
	watermark, err := s.Watermark(ctx)
	if err != nil {
		return nil, 0, false, err
	}

	// Записи с server_seq <= watermark уплотнены: если курсор ниже,
	// непрерывная история для клиента уже не существует
	if cursor < watermark {
		return nil, 0, false, storage.ErrDivergentCursor
	}

	if limit <= 0 {
		limit = 500
	}

	query := `
		SELECT server_seq, record
		FROM change_log
		WHERE server_seq > ?` + workspaceFilter(workspaces) + `
		ORDER BY server_seq ASC
		LIMIT ?
	`

	args := []interface{}{cursor}
	for _, ws := range workspaces {
		args = append(args, ws)
	}
	// Запрашиваем на одну больше, чтобы узнать, есть ли продолжение
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to query changes: %w", err)
	}
	defer rows.Close()

	var records []*models.ChangeRecord
	var seqs []int64

	for rows.Next() {
		var serverSeq int64
		var data []byte

		if err := rows.Scan(&serverSeq, &data); err != nil {
			return nil, 0, false, fmt.Errorf("failed to scan change record: %w", err)
		}

		var rec models.ChangeRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, 0, false, fmt.Errorf("failed to unmarshal change record: %w", err)
		}

		records = append(records, &rec)
		seqs = append(seqs, serverSeq)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, false, fmt.Errorf("rows iteration error: %w", err)
	}

	more := false
	if len(records) > limit {
		records = records[:limit]
		more = true
	}

	// Курсор после отдачи порции - server_seq ее последней записи
	nextCursor := cursor
	if len(records) > 0 {
		nextCursor = seqs[len(records)-1]
	}

	return records, nextCursor, more, nil
}

// MaxSeq возвращает максимальный назначенный server_seq
// (с учетом уплотненной части журнала).
func (s *Storage) MaxSeq(ctx context.Context) (int64, error) {
	var maxSeq int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(server_seq), 0) FROM change_log`,
	).Scan(&maxSeq)
	if err != nil {
		return 0, fmt.Errorf("failed to get max seq: %w", err)
	}

	watermark, err := s.Watermark(ctx)
	if err != nil {
		return 0, err
	}
	if watermark > maxSeq {
		maxSeq = watermark
	}

	return maxSeq, nil
}

// CompactBefore удаляет из журнала записи старше olderThan, поднимает
// compaction watermark и возвращает количество удаленных записей.
// Снапшоты не трогаются: уплотнение теряет историю, но не состояние.
func (s *Storage) CompactBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin compaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback после commit безвреден

	var boundary sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT MAX(server_seq) FROM change_log WHERE wall_clock < ?`,
		olderThan.UnixMilli(),
	).Scan(&boundary)
	if err != nil {
		return 0, fmt.Errorf("failed to find compaction boundary: %w", err)
	}

	if !boundary.Valid {
		return 0, nil
	}

	result, err := tx.ExecContext(ctx,
		`DELETE FROM change_log WHERE server_seq <= ?`, boundary.Int64)
	if err != nil {
		return 0, fmt.Errorf("failed to compact change log: %w", err)
	}

	dropped, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sync_meta (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = MAX(value, excluded.value)
	`, metaKeyWatermark, boundary.Int64)
	if err != nil {
		return 0, fmt.Errorf("failed to advance watermark: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit compaction: %w", err)
	}

	return dropped, nil
}

// Watermark возвращает compaction watermark: максимальный server_seq,
// удаленный из журнала (0, если уплотнения не было).
func (s *Storage) Watermark(ctx context.Context) (int64, error) {
	var value int64
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM sync_meta WHERE key = ?`, metaKeyWatermark,
	).Scan(&value)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get watermark: %w", err)
	}

	return value, nil
}

// workspaceFilter собирает условие IN по workspace'ам.
// Пустой список означает все workspace'ы.
func workspaceFilter(workspaces []string) string {
	if len(workspaces) == 0 {
		return ""
	}
	return ` AND workspace_id IN (?` + strings.Repeat(", ?", len(workspaces)-1) + `)`
}
