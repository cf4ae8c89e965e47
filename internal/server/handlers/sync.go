package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/iudanet/tasksync/internal/models"
	"github.com/iudanet/tasksync/internal/server/hub"
	"github.com/iudanet/tasksync/internal/server/storage"
	"github.com/iudanet/tasksync/internal/store"
	"github.com/iudanet/tasksync/internal/api"
)

// contextKey тип для ключей контекста
type contextKey string

const (
	// UserIDKey ключ для хранения user_id в контексте
	UserIDKey contextKey = "user_id"
	// UsernameKey ключ для хранения username в контексте
	UsernameKey contextKey = "username"
)

// GetUserID извлекает user_id из контекста запроса
func GetUserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDKey).(string)
	return userID, ok
}

// GetUsername извлекает username из контекста запроса
func GetUsername(ctx context.Context) (string, bool) {
	username, ok := ctx.Value(UsernameKey).(string)
	return username, ok
}

// SyncSettings таймауты и размеры порций sync сессии.
type SyncSettings struct {
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	BatchSize        int
}

// DefaultSyncSettings возвращает настройки по умолчанию.
// PingInterval должен быть меньше ReadTimeout клиента, иначе клиент
// сочтет соединение мертвым между пингами.
func DefaultSyncSettings() SyncSettings {
	return SyncSettings{
		HandshakeTimeout: 5 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     10 * time.Second,
		PingInterval:     20 * time.Second,
		BatchSize:        100,
	}
}

// SyncHandler обслуживает websocket сессии синхронизации: handshake,
// досылку истории по cursor, прием батчей клиента и live рассылку.
type SyncHandler struct {
	logger   *slog.Logger
	storage  storage.SyncStorage
	store    *store.Store
	hub      *hub.Hub
	settings SyncSettings
	upgrader websocket.Upgrader
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(logger *slog.Logger, syncStorage storage.SyncStorage, entityStore *store.Store, sessions *hub.Hub, settings SyncSettings) *SyncHandler {
	return &SyncHandler{
		logger:   logger,
		storage:  syncStorage,
		store:    entityStore,
		hub:      sessions,
		settings: settings,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// HandleSync обрабатывает GET /api/v1/sync: upgrade до websocket
// и полный жизненный цикл сессии.
func (h *SyncHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.logger.Error("User ID not found in context")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	if err := h.runSession(r.Context(), conn, userID); err != nil {
		h.logger.Debug("Sync session closed", "user_id", userID, "error", err)
	}
}

// runSession проводит сессию через handshake, backlog и live фазы.
func (h *SyncHandler) runSession(ctx context.Context, conn *websocket.Conn, userID string) error {
	writer := newWSWriter(conn, h.settings.WriteTimeout)

	hs, err := h.readHandshake(conn)
	if err != nil {
		writer.sendError(api.CodeBadMessage, err.Error())
		return err
	}

	sessionID := uuid.NewString()

	maxSeq, err := h.storage.MaxSeq(ctx)
	if err != nil {
		writer.sendError(api.CodeInternal, "failed to read log position")
		return fmt.Errorf("failed to get max seq: %w", err)
	}

	watermark, err := h.storage.Watermark(ctx)
	if err != nil {
		writer.sendError(api.CodeInternal, "failed to read watermark")
		return fmt.Errorf("failed to get watermark: %w", err)
	}

	// Cursor ниже watermark означает, что непрерывная история для клиента
	// уплотнена: вместо backlog батчей поедут снапшоты
	resync := hs.Cursor < watermark

	ack := &api.Message{
		Type: api.TypeHandshakeAck,
		HandshakeAck: &api.HandshakeAck{
			SessionID: sessionID,
			Cursor:    maxSeq,
			Resync:    resync,
		},
	}
	if err := writer.send(ack); err != nil {
		return fmt.Errorf("failed to send handshake ack: %w", err)
	}

	h.logger.Info("Sync session started",
		"session_id", sessionID,
		"user_id", userID,
		"client_id", hs.ClientID,
		"cursor", hs.Cursor,
		"resync", resync)

	// Регистрация до досылки истории: изменения, принятые во время
	// backlog, лягут в буфер сессии, дубликаты клиент схлопнет сам
	session := h.hub.Register(sessionID, hs.ClientID, hs.Workspaces)
	defer h.hub.Unregister(sessionID)

	if resync {
		err = h.sendSnapshots(ctx, writer, hs.Cursor, hs.Workspaces)
	} else {
		err = h.streamBacklog(ctx, writer, hs.Cursor, hs.Workspaces)
	}
	if err != nil {
		writer.sendError(api.CodeInternal, "failed to send history")
		return err
	}

	go h.writePump(conn, writer, session)

	return h.readLoop(ctx, conn, writer, hs)
}

// readHandshake читает первое сообщение сессии под коротким deadline.
func (h *SyncHandler) readHandshake(conn *websocket.Conn) (*api.Handshake, error) {
	if err := conn.SetReadDeadline(time.Now().Add(h.settings.HandshakeTimeout)); err != nil {
		return nil, fmt.Errorf("failed to set handshake deadline: %w", err)
	}

	var msg api.Message
	if err := conn.ReadJSON(&msg); err != nil {
		return nil, fmt.Errorf("failed to read handshake: %w", err)
	}

	if msg.Type != api.TypeHandshake || msg.Handshake == nil {
		return nil, fmt.Errorf("expected handshake, got %q", msg.Type)
	}
	if msg.Handshake.ClientID == "" {
		return nil, errors.New("handshake without client id")
	}
	if len(msg.Handshake.Workspaces) == 0 {
		return nil, errors.New("handshake without workspaces")
	}

	return msg.Handshake, nil
}

// streamBacklog досылает записи журнала с cursor клиента порциями.
// Последняя порция уходит с Backlog=false и закрывает фазу досылки.
func (h *SyncHandler) streamBacklog(ctx context.Context, writer *wsWriter, cursor int64, workspaces []string) error {
	for {
		records, nextCursor, more, err := h.storage.ChangesSince(ctx, cursor, workspaces, h.settings.BatchSize)
		if errors.Is(err, storage.ErrDivergentCursor) {
			// Compaction обогнал нас между handshake и досылкой
			return h.sendSnapshots(ctx, writer, cursor, workspaces)
		}
		if err != nil {
			return fmt.Errorf("failed to read backlog: %w", err)
		}

		batch := &api.ChangeBatch{
			Records: make([]models.ChangeRecord, 0, len(records)),
			Cursor:  nextCursor,
			Backlog: more,
		}
		for _, rec := range records {
			batch.Records = append(batch.Records, *rec)
		}

		msg := &api.Message{Type: api.TypeChangeBatch, ChangeBatch: batch}
		if err := writer.send(msg); err != nil {
			return fmt.Errorf("failed to send backlog batch: %w", err)
		}

		if !more {
			return nil
		}
		cursor = nextCursor
	}
}

// sendSnapshots шлет полный resync: снапшоты сущностей, изменившихся
// после cursor, и пустой финальный батч, переводящий клиента в live.
func (h *SyncHandler) sendSnapshots(ctx context.Context, writer *wsWriter, cursor int64, workspaces []string) error {
	snapshots, snapCursor, err := h.storage.SnapshotsSince(ctx, cursor, workspaces)
	if err != nil {
		return fmt.Errorf("failed to read snapshots: %w", err)
	}

	resp := &api.SnapshotResponse{
		Snapshots: make([]models.EntitySnapshot, 0, len(snapshots)),
		Cursor:    snapCursor,
	}
	for _, snap := range snapshots {
		resp.Snapshots = append(resp.Snapshots, *snap)
	}

	msg := &api.Message{Type: api.TypeSnapshotResponse, SnapshotResponse: resp}
	if err := writer.send(msg); err != nil {
		return fmt.Errorf("failed to send snapshots: %w", err)
	}

	end := &api.Message{
		Type:        api.TypeChangeBatch,
		ChangeBatch: &api.ChangeBatch{Cursor: snapCursor},
	}
	if err := writer.send(end); err != nil {
		return fmt.Errorf("failed to send end of resync: %w", err)
	}

	return nil
}

// writePump пишет broadcast сообщения hub'а и пинги.
// Завершается при закрытии канала сессии или ошибке записи.
func (h *SyncHandler) writePump(conn *websocket.Conn, writer *wsWriter, session *hub.Session) {
	ticker := time.NewTicker(h.settings.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-session.Send():
			if !ok {
				return
			}
			if err := writer.send(msg); err != nil {
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			if err := writer.ping(); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

// readLoop принимает сообщения клиента до обрыва соединения.
func (h *SyncHandler) readLoop(ctx context.Context, conn *websocket.Conn, writer *wsWriter, hs *api.Handshake) error {
	extend := func() error {
		return conn.SetReadDeadline(time.Now().Add(h.settings.ReadTimeout))
	}
	if err := extend(); err != nil {
		return err
	}
	conn.SetPongHandler(func(string) error { return extend() })

	for {
		var msg api.Message
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("connection closed: %w", err)
		}
		if err := extend(); err != nil {
			return err
		}

		switch msg.Type {
		case api.TypeChangeBatch:
			if msg.ChangeBatch == nil {
				writer.sendError(api.CodeBadMessage, "change_batch without payload")
				continue
			}
			if err := h.handleClientBatch(ctx, writer, hs, msg.ChangeBatch); err != nil {
				return err
			}

		case api.TypeAck:
			if msg.Ack == nil || msg.Ack.Cursor == 0 {
				continue
			}
			if err := h.storage.SaveCursor(ctx, hs.ClientID, msg.Ack.Cursor); err != nil {
				h.logger.Error("Failed to save client cursor",
					"client_id", hs.ClientID, "error", err)
			}

		case api.TypeResyncRequest:
			if err := h.handleResyncRequest(ctx, writer, hs, msg.ResyncRequest); err != nil {
				return err
			}

		default:
			writer.sendError(api.CodeBadMessage, fmt.Sprintf("unexpected message type %q", msg.Type))
		}
	}
}

// handleClientBatch применяет порцию записей клиента и подтверждает прием.
func (h *SyncHandler) handleClientBatch(ctx context.Context, writer *wsWriter, hs *api.Handshake, batch *api.ChangeBatch) error {
	origins := make(map[string]int64)

	for i := range batch.Records {
		rec := &batch.Records[i]

		// Клиент шлет только собственные записи
		if rec.Origin != hs.ClientID {
			writer.sendError(api.CodeBadMessage,
				fmt.Sprintf("record origin %q does not match client", rec.Origin))
			return fmt.Errorf("origin mismatch: %s != %s", rec.Origin, hs.ClientID)
		}

		result, err := h.store.Apply(ctx, rec)
		if err != nil {
			h.logger.Error("Failed to apply change",
				"entity_id", rec.EntityID,
				"origin", rec.Origin,
				"seq", rec.Seq,
				"error", err)
			writer.sendError(api.CodeInternal, "failed to apply change")
			return err
		}

		// Pending не подтверждаем: клиент перешлет после предшественников
		if result == store.ResultPending {
			continue
		}
		if rec.Seq > origins[rec.Origin] {
			origins[rec.Origin] = rec.Seq
		}
	}

	maxSeq, err := h.storage.MaxSeq(ctx)
	if err != nil {
		return fmt.Errorf("failed to get max seq: %w", err)
	}

	ack := &api.Message{
		Type: api.TypeAck,
		Ack:  &api.Ack{Origins: origins, Cursor: maxSeq},
	}
	return writer.send(ack)
}

// handleResyncRequest шлет снапшоты запрошенных сущностей
// (или всех изменившихся, если список пуст).
func (h *SyncHandler) handleResyncRequest(ctx context.Context, writer *wsWriter, hs *api.Handshake, req *api.ResyncRequest) error {
	if req == nil || len(req.EntityIDs) == 0 {
		return h.sendSnapshots(ctx, writer, 0, hs.Workspaces)
	}

	snapshots, err := h.storage.SnapshotsByIDs(ctx, req.EntityIDs)
	if err != nil {
		return fmt.Errorf("failed to read snapshots by ids: %w", err)
	}

	maxSeq, err := h.storage.MaxSeq(ctx)
	if err != nil {
		return fmt.Errorf("failed to get max seq: %w", err)
	}

	resp := &api.SnapshotResponse{
		Snapshots: make([]models.EntitySnapshot, 0, len(snapshots)),
		Cursor:    maxSeq,
	}
	for _, snap := range snapshots {
		resp.Snapshots = append(resp.Snapshots, *snap)
	}

	msg := &api.Message{Type: api.TypeSnapshotResponse, SnapshotResponse: resp}
	return writer.send(msg)
}
