package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/iudanet/tasksync/internal/models"
	"github.com/iudanet/tasksync/internal/server/storage"
)

// Snapshot возвращает материализованное состояние сущности.
// Returns ErrEntryNotFound if the entity has no applied changes.
func (s *Storage) Snapshot(ctx context.Context, entityID string) (*models.EntitySnapshot, error) {
	var data []byte

	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot FROM snapshots WHERE entity_id = ?`, entityID,
	).Scan(&data)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrEntryNotFound
		}
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	var snap models.EntitySnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// SaveSnapshot сохраняет материализованное состояние. last_seq берется
// из журнала: server_seq последней записи этой сущности, чтобы resync
// после compaction отдавал ровно изменившиеся снапшоты.
func (s *Storage) SaveSnapshot(ctx context.Context, snap *models.EntitySnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	query := `
		INSERT INTO snapshots (entity_id, entity_kind, workspace_id, last_seq, deleted, snapshot, updated_at)
		VALUES (?, ?, ?,
			COALESCE((SELECT MAX(server_seq) FROM change_log WHERE entity_id = ?), 0),
			?, ?, ?)
		ON CONFLICT (entity_id) DO UPDATE SET
			entity_kind = excluded.entity_kind,
			workspace_id = excluded.workspace_id,
			last_seq = excluded.last_seq,
			deleted = excluded.deleted,
			snapshot = excluded.snapshot,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		snap.EntityID,
		snap.EntityKind,
		snap.WorkspaceID,
		snap.EntityID,
		boolToInt(snap.Deleted),
		data,
		snap.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	return nil
}

// SnapshotsSince возвращает снапшоты сущностей заданных workspace'ов,
// изменившихся после cursor, и текущий MaxSeq. Используется для полного
// resync после расхождения курсора с уплотненным журналом.
func (s *Storage) SnapshotsSince(ctx context.Context, cursor int64, workspaces []string) ([]*models.EntitySnapshot, int64, error) {
	query := `
		SELECT snapshot
		FROM snapshots
		WHERE last_seq > ?` + workspaceFilter(workspaces) + `
		ORDER BY last_seq ASC
	`

	args := []interface{}{cursor}
	for _, ws := range workspaces {
		args = append(args, ws)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	snapshots, err := scanSnapshots(rows)
	if err != nil {
		return nil, 0, err
	}

	maxSeq, err := s.MaxSeq(ctx)
	if err != nil {
		return nil, 0, err
	}

	return snapshots, maxSeq, nil
}

// SnapshotsByIDs возвращает снапшоты запрошенных сущностей.
// Отсутствующие сущности пропускаются.
func (s *Storage) SnapshotsByIDs(ctx context.Context, entityIDs []string) ([]*models.EntitySnapshot, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT snapshot
		FROM snapshots
		WHERE entity_id IN (?` + strings.Repeat(", ?", len(entityIDs)-1) + `)
	`

	args := make([]interface{}, 0, len(entityIDs))
	for _, id := range entityIDs {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots by ids: %w", err)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

// scanSnapshots is a helper function to scan multiple snapshots from rows
func scanSnapshots(rows *sql.Rows) ([]*models.EntitySnapshot, error) {
	var snapshots []*models.EntitySnapshot

	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}

		var snap models.EntitySnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
		}

		snapshots = append(snapshots, &snap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return snapshots, nil
}

// Helper functions for bool/int conversion
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
