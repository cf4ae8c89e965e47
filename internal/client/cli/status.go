package cli

import (
	"context"
	"fmt"
)

// RunStatus печатает состояние локальной реплики.
func (a *App) RunStatus(ctx context.Context) error {
	clientID, err := a.Meta.ClientID(ctx)
	if err != nil {
		return fmt.Errorf("failed to get client id: %w", err)
	}

	cursor, err := a.Meta.Cursor(ctx)
	if err != nil {
		return fmt.Errorf("failed to get cursor: %w", err)
	}

	seq, err := a.Meta.CurrentSeq(ctx)
	if err != nil {
		return fmt.Errorf("failed to get local seq: %w", err)
	}

	queued, err := a.Engine.PendingCount(ctx)
	if err != nil {
		return fmt.Errorf("failed to get queue length: %w", err)
	}

	fmt.Printf("Client ID:      %s\n", clientID)
	fmt.Printf("Workspace:      %s\n", a.Workspace)
	fmt.Printf("Sync cursor:    %d\n", cursor)
	fmt.Printf("Local seq:      %d\n", seq)
	fmt.Printf("Queued changes: %d\n", queued)
	return nil
}
