package cli

import (
	"context"
	"errors"
	"fmt"
)

// RunSync держит соединение с сервером до отмены контекста
// (Ctrl+C в терминале).
func (a *App) RunSync(ctx context.Context) error {
	fmt.Println("Syncing, press Ctrl+C to stop")

	err := a.Engine.Run(ctx)
	if errors.Is(err, context.Canceled) {
		fmt.Println("Stopped")
		return nil
	}
	return err
}
