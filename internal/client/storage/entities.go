package storage

import (
	"context"

	"github.com/iudanet/tasksync/internal/models"
	"github.com/iudanet/tasksync/internal/store"
)

//go:generate go tool moq -out entitystorage_mock.go . EntityStorage

// EntityStorage defines durable client-side storage for the entity store:
// the local change log plus materialized snapshots.
// Implements store.Backend on top of BoltDB.
type EntityStorage interface {
	store.Backend

	// EntityChanges returns all logged change records of an entity in
	// local log order. Used for recovering edits superseded by a
	// concurrent tombstone.
	EntityChanges(ctx context.Context, entityID string) ([]*models.ChangeRecord, error)

	// Snapshots returns all materialized snapshots (including tombstoned).
	Snapshots(ctx context.Context) ([]*models.EntitySnapshot, error)

	// SnapshotsByKind returns non-deleted snapshots of the given entity kind.
	SnapshotsByKind(ctx context.Context, kind string) ([]*models.EntitySnapshot, error)
}
