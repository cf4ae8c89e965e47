package storage

import (
	"context"
	"time"

	"github.com/iudanet/tasksync/internal/models"
	"github.com/iudanet/tasksync/internal/store"
)

//go:generate go tool moq -out sync_mock.go . SyncStorage

// SyncStorage defines server-side persistence for the sync protocol:
// the authoritative change log, materialized snapshots and per-client
// cursors. Embeds store.Backend so the same entity store runs on top.
type SyncStorage interface {
	store.Backend

	// ChangesSince returns up to limit records with server_seq > cursor
	// for the given workspaces, in server_seq order, plus the server_seq
	// of the last returned record and whether more records remain.
	// Returns ErrDivergentCursor if cursor is below the compaction
	// watermark (the requested history no longer exists).
	ChangesSince(ctx context.Context, cursor int64, workspaces []string, limit int) ([]*models.ChangeRecord, int64, bool, error)

	// MaxSeq returns the highest assigned server_seq (0 for an empty log).
	MaxSeq(ctx context.Context) (int64, error)

	// SnapshotsSince returns snapshots of all entities in the given
	// workspaces that changed after cursor, plus the current MaxSeq.
	// Used for full resync after ErrDivergentCursor.
	SnapshotsSince(ctx context.Context, cursor int64, workspaces []string) ([]*models.EntitySnapshot, int64, error)

	// SnapshotsByIDs returns snapshots for the requested entities.
	// Missing entities are skipped, not an error.
	SnapshotsByIDs(ctx context.Context, entityIDs []string) ([]*models.EntitySnapshot, error)

	// Cursor returns the acknowledged cursor of a client
	// (0 if the client has never synced).
	Cursor(ctx context.Context, clientID string) (int64, error)

	// SaveCursor persists the acknowledged cursor of a client.
	SaveCursor(ctx context.Context, clientID string, cursor int64) error

	// CompactBefore drops change log records older than the given wall
	// clock, advances the compaction watermark and returns the number
	// of dropped records. Snapshots are kept, so compaction never loses
	// state, only history.
	CompactBefore(ctx context.Context, olderThan time.Time) (int64, error)

	// Watermark returns the compaction watermark: the highest server_seq
	// removed from the log (0 if the log was never compacted).
	Watermark(ctx context.Context) (int64, error)
}
