package storage

import (
	"errors"

	"github.com/iudanet/tasksync/internal/store"
)

// Общие ошибки серверного хранилища
var (
	// ErrEntryNotFound сущность не найдена (канонический sentinel из store,
	// чтобы errors.Is работал сквозь слои)
	ErrEntryNotFound = store.ErrEntryNotFound

	// ErrDivergentCursor курсор клиента указывает в уже уплотненную часть
	// журнала; инкрементальная синхронизация невозможна, нужен resync
	ErrDivergentCursor = errors.New("cursor diverged below compaction watermark")
)
