package storage

import "context"

//go:generate go tool moq -out metadata_mock.go . MetadataStorage

// MetadataStorage defines interface for storing client sync metadata
type MetadataStorage interface {
	// SaveCursor persists the sync cursor: the highest server log seq
	// this client has applied and acknowledged
	SaveCursor(ctx context.Context, cursor int64) error

	// Cursor retrieves the persisted sync cursor
	// Returns 0 if no sync has been performed yet
	Cursor(ctx context.Context) (int64, error)

	// NextSeq atomically increments and returns this client's local
	// sequence number (monotonic, never regresses)
	NextSeq(ctx context.Context) (int64, error)

	// CurrentSeq returns the last issued local sequence number
	CurrentSeq(ctx context.Context) (int64, error)

	// ClientID returns the persisted stable client id, generating one
	// on first call
	ClientID(ctx context.Context) (string, error)
}
