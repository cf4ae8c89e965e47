// Package store реализует Entity Store: идемпотентное применение записей
// журнала с контролем причинного порядка и материализацией снапшотов.
//
// Одна и та же реализация работает на клиенте (поверх bbolt) и на сервере
// (поверх sqlite): персистентность скрыта за интерфейсом Backend, поэтому
// обе реплики сворачивают журнал одним и тем же кодом и гарантированно
// сходятся.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/iudanet/tasksync/internal/crdt"
	"github.com/iudanet/tasksync/internal/models"
)

// Общие ошибки entity store
var (
	// ErrEntryNotFound сущность не найдена
	ErrEntryNotFound = errors.New("entity not found")

	// ErrStorageClosed хранилище закрыто
	ErrStorageClosed = errors.New("storage is closed")
)

// Result результат применения записи журнала.
type Result int

const (
	// ResultApplied запись применена и добавлена в журнал
	ResultApplied Result = iota
	// ResultDuplicate запись уже была применена ранее (no-op)
	ResultDuplicate
	// ResultPending причинный предшественник еще не получен,
	// запись буферизована и будет применена позже
	ResultPending
)

// String возвращает текстовое представление результата.
func (r Result) String() string {
	switch r {
	case ResultApplied:
		return "applied"
	case ResultDuplicate:
		return "duplicate"
	case ResultPending:
		return "pending"
	default:
		return "unknown"
	}
}

//go:generate go tool moq -out backend_mock.go . Backend

// Backend defines durable persistence for the entity store.
// Implementations: bbolt on the client, sqlite on the server.
type Backend interface {
	// Snapshot returns the materialized state of an entity.
	// Returns ErrEntryNotFound if the entity has no applied changes.
	Snapshot(ctx context.Context, entityID string) (*models.EntitySnapshot, error)

	// SaveSnapshot persists the materialized state.
	SaveSnapshot(ctx context.Context, snap *models.EntitySnapshot) error

	// AppendChange appends a record to the durable change log and returns
	// the assigned log sequence number (monotonic per replica).
	AppendChange(ctx context.Context, rec *models.ChangeRecord) (int64, error)
}

// Notifier receives accepted change records (Live Update Broadcaster seam).
type Notifier interface {
	// ChangeApplied is called after a record is durably applied.
	// logSeq is the replica-local log sequence assigned to the record.
	ChangeApplied(rec *models.ChangeRecord, logSeq int64)
}

// Store связывает журнал изменений, материализованные снапшоты и
// буфер записей, ожидающих причинных предшественников.
type Store struct {
	backend  Backend
	notifier Notifier
	logger   *slog.Logger

	mu      sync.Mutex
	locks   map[string]*sync.Mutex            // per-entity serialization
	pending map[string][]*models.ChangeRecord // entity id -> буфер Pending записей

	// appendMu сериализует выдачу log seq и уведомление broadcaster'а.
	// Подписчики трактуют Cursor рассылки как "все до этого seq доставлено",
	// поэтому уведомления обязаны уходить строго в порядке возрастания seq
	// даже при конкурентных применениях к разным сущностям.
	appendMu sync.Mutex
}

// Option настраивает Store.
type Option func(*Store)

// WithNotifier подключает broadcaster, получающий принятые записи.
func WithNotifier(n Notifier) Option {
	return func(s *Store) { s.notifier = n }
}

// New создает entity store поверх заданного backend.
func New(backend Backend, logger *slog.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		backend: backend,
		logger:  logger,
		locks:   make(map[string]*sync.Mutex),
		pending: make(map[string][]*models.ChangeRecord),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// lockEntity сериализует мутации по entity id. Глобальной блокировки на
// время применения нет: конкурентные изменения разных сущностей идут
// параллельно.
func (s *Store) lockEntity(entityID string) func() {
	s.mu.Lock()
	lock, ok := s.locks[entityID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[entityID] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// Apply применяет запись журнала к сущности.
//
// Apply идемпотентен: повторное применение уже виденной записи
// (по паре origin/seq) возвращает ResultDuplicate без побочных эффектов.
// Запись, чей причинный предшественник еще не получен, буферизуется
// и возвращается ResultPending; она будет применена автоматически,
// когда предшественник прибудет.
func (s *Store) Apply(ctx context.Context, rec *models.ChangeRecord) (Result, error) {
	if err := rec.Validate(); err != nil {
		return ResultDuplicate, fmt.Errorf("invalid change record: %w", err)
	}

	unlock := s.lockEntity(rec.EntityID)
	defer unlock()

	result, err := s.applyLocked(ctx, rec)
	if err != nil {
		return result, err
	}

	// Применение могло разблокировать буферизованные записи этой сущности.
	if result == ResultApplied {
		if err := s.drainPendingLocked(ctx, rec.EntityID); err != nil {
			return result, err
		}
	}

	return result, nil
}

// applyLocked выполняет причинную проверку и свертку под блокировкой сущности.
func (s *Store) applyLocked(ctx context.Context, rec *models.ChangeRecord) (Result, error) {
	snap, err := s.backend.Snapshot(ctx, rec.EntityID)
	switch {
	case errors.Is(err, ErrEntryNotFound):
		snap = models.NewEntitySnapshot(rec.EntityID, rec.EntityKind, rec.WorkspaceID)
	case err != nil:
		return ResultDuplicate, fmt.Errorf("failed to load snapshot: %w", err)
	}

	// Уже применяли эту или более позднюю запись origin'а - дубликат.
	// Seq каждого origin'а строго растет, поэтому сравнения с вектором
	// достаточно.
	if rec.Seq <= snap.Vector.Get(rec.Origin) {
		return ResultDuplicate, nil
	}

	// Причинная доставка: все, что автор видел на момент записи
	// (включая его собственную предыдущую запись этой сущности),
	// должно быть уже свернуто в снапшот.
	for origin, seq := range rec.Deps {
		if snap.Vector.Get(origin) < seq {
			s.bufferPending(rec)
			return ResultPending, nil
		}
	}

	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	logSeq, err := s.backend.AppendChange(ctx, rec)
	if err != nil {
		return ResultDuplicate, fmt.Errorf("failed to append change: %w", err)
	}

	crdt.Fold(snap, rec)

	if err := s.backend.SaveSnapshot(ctx, snap); err != nil {
		return ResultDuplicate, fmt.Errorf("failed to save snapshot: %w", err)
	}

	s.logger.Debug("Change applied",
		"entity_id", rec.EntityID,
		"origin", rec.Origin,
		"seq", rec.Seq,
		"log_seq", logSeq,
		"tombstone", rec.Tombstone)

	if s.notifier != nil {
		s.notifier.ChangeApplied(rec, logSeq)
	}

	return ResultApplied, nil
}

// bufferPending добавляет запись в буфер ожидания предшественника.
// Дубликаты в буфере схлопываются по ключу (origin, seq).
func (s *Store) bufferPending(rec *models.ChangeRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, buffered := range s.pending[rec.EntityID] {
		if buffered.Origin == rec.Origin && buffered.Seq == rec.Seq {
			return
		}
	}
	s.pending[rec.EntityID] = append(s.pending[rec.EntityID], rec.Clone())

	s.logger.Debug("Change buffered until predecessor arrives",
		"entity_id", rec.EntityID,
		"origin", rec.Origin,
		"seq", rec.Seq)
}

// drainPendingLocked повторно применяет буферизованные записи сущности,
// пока хотя бы одна из них проходит причинную проверку.
func (s *Store) drainPendingLocked(ctx context.Context, entityID string) error {
	for {
		s.mu.Lock()
		buffered := s.pending[entityID]
		delete(s.pending, entityID)
		s.mu.Unlock()

		if len(buffered) == 0 {
			return nil
		}

		progress := false
		for _, rec := range buffered {
			result, err := s.applyLocked(ctx, rec)
			if err != nil {
				return err
			}
			if result == ResultApplied {
				progress = true
			}
		}

		// Ни одна запись не применилась - оставшиеся снова в буфере
		// (applyLocked вернул их туда), выходим чтобы не крутиться.
		if !progress {
			return nil
		}
	}
}

// PendingCount возвращает количество буферизованных записей сущности.
func (s *Store) PendingCount(entityID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending[entityID])
}

// CurrentState возвращает материализованный снапшот сущности.
// Возвращает ErrEntryNotFound, если сущность не существует.
func (s *Store) CurrentState(ctx context.Context, entityID string) (*models.EntitySnapshot, error) {
	snap, err := s.backend.Snapshot(ctx, entityID)
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// InstallSnapshot замещает локальное состояние сущности снапшотом,
// полученным при полном resync (DivergentCursor). Снапшот сервера
// авторитетен: локальная копия могла отстать от compaction журнала.
func (s *Store) InstallSnapshot(ctx context.Context, snap *models.EntitySnapshot) error {
	unlock := s.lockEntity(snap.EntityID)
	defer unlock()

	existing, err := s.backend.Snapshot(ctx, snap.EntityID)
	if err != nil && !errors.Is(err, ErrEntryNotFound) {
		return fmt.Errorf("failed to load snapshot: %w", err)
	}

	// Не откатываемся: если локальный снапшот уже включает присланный,
	// установка пропускается.
	if existing != nil && existing.Vector.Dominates(snap.Vector) {
		return nil
	}

	if err := s.backend.SaveSnapshot(ctx, snap.Clone()); err != nil {
		return fmt.Errorf("failed to install snapshot: %w", err)
	}

	s.logger.Info("Snapshot installed", "entity_id", snap.EntityID)

	// Буферизованные записи могли стать применимыми или устареть.
	return s.drainPendingLocked(ctx, snap.EntityID)
}
