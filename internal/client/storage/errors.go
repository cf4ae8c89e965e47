package storage

import "github.com/iudanet/tasksync/internal/store"

// Ошибки клиентского хранилища. Совпадают с ошибками entity store,
// чтобы errors.Is работал сквозь слои без маппинга.
var (
	// ErrEntryNotFound сущность не найдена в локальном хранилище
	ErrEntryNotFound = store.ErrEntryNotFound

	// ErrStorageClosed хранилище закрыто
	ErrStorageClosed = store.ErrStorageClosed
)
