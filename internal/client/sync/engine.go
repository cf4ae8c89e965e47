// Package sync реализует клиентскую часть протокола синхронизации:
// конечный автомат соединения, обмен записями журнала с сервером
// и переключение offline/online режимов.
//
// Состояния соединения:
//
//	Disconnected -> Handshaking -> Syncing -> Live -> Disconnected
//
// Любой сбой транспорта возвращает автомат в Disconnected; локальные
// изменения при этом продолжают накапливаться в offline queue и
// досылаются после переподключения, начиная с сохраненного cursor.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/iudanet/tasksync/internal/client/queue"
	"github.com/iudanet/tasksync/internal/client/storage"
	"github.com/iudanet/tasksync/internal/models"
	"github.com/iudanet/tasksync/internal/store"
	"github.com/iudanet/tasksync/internal/api"
)

// State состояние конечного автомата соединения.
type State int32

const (
	// StateDisconnected нет соединения, мутации копятся в offline queue
	StateDisconnected State = iota
	// StateHandshaking обмен идентификацией и cursor'ами
	StateHandshaking
	// StateSyncing двусторонняя досылка накопившихся изменений
	StateSyncing
	// StateLive отдельные записи передаются по мере появления
	StateLive
)

// String возвращает текстовое представление состояния.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateHandshaking:
		return "handshaking"
	case StateSyncing:
		return "syncing"
	case StateLive:
		return "live"
	default:
		return "unknown"
	}
}

// Settings таймауты и лимиты протокола.
type Settings struct {
	HandshakeTimeout time.Duration // ограничивает Handshaking (и dial)
	ReadTimeout      time.Duration // продлевается каждым входящим сообщением/ping
	WriteTimeout     time.Duration
	ReconnectMin     time.Duration // нижняя граница экспоненциального backoff
	ReconnectMax     time.Duration
	BatchSize        int
}

// DefaultSettings возвращает настройки по умолчанию.
func DefaultSettings() *Settings {
	return &Settings{
		HandshakeTimeout: 5 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     10 * time.Second,
		ReconnectMin:     time.Second,
		ReconnectMax:     30 * time.Second,
		BatchSize:        100,
	}
}

// Engine клиентский sync engine.
type Engine struct {
	store    *store.Store
	entities storage.EntityStorage
	meta     storage.MetadataStorage
	queue    *queue.Queue
	logger   *slog.Logger
	settings *Settings

	serverURL  string
	token      string
	clientID   string
	workspaces []string

	state atomic.Int32
	wake  chan struct{} // сигнал о новой локальной записи для live push
}

// Config параметры создания engine.
type Config struct {
	Store      *store.Store
	Entities   storage.EntityStorage
	Meta       storage.MetadataStorage
	Queue      *queue.Queue
	Settings   *Settings
	Logger     *slog.Logger
	ServerURL  string // ws://host/api/v1/sync
	Token      string // verified identity, выдается слоем аутентификации
	ClientID   string
	Workspaces []string
}

// NewEngine создает sync engine.
func NewEngine(cfg Config) *Engine {
	settings := cfg.Settings
	if settings == nil {
		settings = DefaultSettings()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:      cfg.Store,
		entities:   cfg.Entities,
		meta:       cfg.Meta,
		queue:      cfg.Queue,
		settings:   settings,
		logger:     logger,
		serverURL:  cfg.ServerURL,
		token:      cfg.Token,
		clientID:   cfg.ClientID,
		workspaces: cfg.Workspaces,
		wake:       make(chan struct{}, 1),
	}
}

// State возвращает текущее состояние соединения.
func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) setState(s State) {
	old := State(e.state.Swap(int32(s)))
	if old != s {
		e.logger.Info("Sync state changed", "from", old.String(), "to", s.String())
	}
}

// Run держит соединение с сервером, переподключаясь с экспоненциальным
// backoff. Возвращается только по отмене контекста.
func (e *Engine) Run(ctx context.Context) error {
	backoff := e.settings.ReconnectMin

	for {
		started := time.Now()
		err := e.runConnection(ctx)
		e.setState(StateDisconnected)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			e.logger.Warn("Connection lost", "error", err)
		}

		// Долгоживущее соединение сбрасывает backoff
		if time.Since(started) > e.settings.ReconnectMax {
			backoff = e.settings.ReconnectMin
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff = min(backoff*2, e.settings.ReconnectMax)
	}
}

// runConnection выполняет один цикл Handshaking -> Syncing -> Live
// до первой ошибки транспорта.
func (e *Engine) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: e.settings.HandshakeTimeout}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+e.token)

	conn, resp, err := dialer.DialContext(ctx, e.serverURL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial failed with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sender := newSender(conn, e.settings.WriteTimeout)

	// --- Handshaking ---
	e.setState(StateHandshaking)

	cursor, err := e.meta.Cursor(connCtx)
	if err != nil {
		return fmt.Errorf("failed to load cursor: %w", err)
	}

	if err := sender.send(&api.Message{
		Type: api.TypeHandshake,
		Handshake: &api.Handshake{
			ClientID:   e.clientID,
			Workspaces: e.workspaces,
			Cursor:     cursor,
		},
	}); err != nil {
		return fmt.Errorf("failed to send handshake: %w", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(e.settings.HandshakeTimeout)); err != nil {
		return fmt.Errorf("failed to set read deadline: %w", err)
	}

	var ack api.Message
	if err := conn.ReadJSON(&ack); err != nil {
		return fmt.Errorf("handshake timed out or failed: %w", err)
	}
	if ack.Type == api.TypeError && ack.Error != nil {
		return fmt.Errorf("handshake rejected: %s: %s", ack.Error.Code, ack.Error.Message)
	}
	if ack.Type != api.TypeHandshakeAck || ack.HandshakeAck == nil {
		return fmt.Errorf("unexpected handshake response %q", ack.Type)
	}

	e.logger.Info("Handshake completed",
		"session_id", ack.HandshakeAck.SessionID,
		"local_cursor", cursor,
		"server_cursor", ack.HandshakeAck.Cursor,
		"resync", ack.HandshakeAck.Resync)

	// --- Syncing ---
	e.setState(StateSyncing)

	// Каждое входящее сообщение и ping продлевают read deadline
	if err := conn.SetReadDeadline(time.Now().Add(e.settings.ReadTimeout)); err != nil {
		return fmt.Errorf("failed to set read deadline: %w", err)
	}
	conn.SetPingHandler(func(payload string) error {
		_ = conn.SetReadDeadline(time.Now().Add(e.settings.ReadTimeout))
		return sender.control(websocket.PongMessage, []byte(payload))
	})

	// Досылаем накопившиеся локальные изменения и дальше реагируем на wake
	go e.pushLoop(connCtx, sender)

	// --- Reader loop (Syncing -> Live) ---
	for {
		var msg api.Message
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read failed: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(e.settings.ReadTimeout))

		if err := e.handleMessage(connCtx, sender, &msg); err != nil {
			return err
		}
	}
}

// pushLoop отправляет backlog очереди, маркер его окончания и затем
// live-записи по сигналу wake.
func (e *Engine) pushLoop(ctx context.Context, sender *sender) {
	push := func(backlog bool) queue.PushFunc {
		return func(ctx context.Context, records []*models.ChangeRecord) error {
			batch := &api.ChangeBatch{
				Records: make([]models.ChangeRecord, 0, len(records)),
				Backlog: backlog,
			}
			for _, rec := range records {
				batch.Records = append(batch.Records, *rec)
			}
			return sender.send(&api.Message{Type: api.TypeChangeBatch, ChangeBatch: batch})
		}
	}

	flushed, err := e.queue.Drain(ctx, push(true))
	if err != nil {
		e.logger.Warn("Failed to push queued changes", "error", err)
		sender.close()
		return
	}

	// Пустой батч с Backlog=false сообщает серверу, что клиентский
	// backlog передан полностью.
	if err := sender.send(&api.Message{
		Type:        api.TypeChangeBatch,
		ChangeBatch: &api.ChangeBatch{},
	}); err != nil {
		e.logger.Warn("Failed to finish backlog push", "error", err)
		sender.close()
		return
	}

	e.logger.Info("Local backlog pushed", "count", flushed)

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.wake:
			if _, err := e.queue.Drain(ctx, push(false)); err != nil {
				e.logger.Warn("Failed to push live changes", "error", err)
				sender.close()
				return
			}
		}
	}
}

// handleMessage обрабатывает одно входящее сообщение протокола.
func (e *Engine) handleMessage(ctx context.Context, sender *sender, msg *api.Message) error {
	switch msg.Type {
	case api.TypeChangeBatch:
		if msg.ChangeBatch == nil {
			return fmt.Errorf("empty change batch message")
		}
		return e.handleBatch(ctx, sender, msg.ChangeBatch)

	case api.TypeAck:
		if msg.Ack == nil {
			return nil
		}
		// Сервер подтвердил наши записи - чистим offline queue
		if acked, ok := msg.Ack.Origins[e.clientID]; ok {
			if err := e.queue.AckThrough(ctx, acked); err != nil {
				return fmt.Errorf("failed to trim queue: %w", err)
			}
		}
		return nil

	case api.TypeSnapshotResponse:
		if msg.SnapshotResponse == nil {
			return fmt.Errorf("empty snapshot response")
		}
		return e.handleSnapshots(ctx, sender, msg.SnapshotResponse)

	case api.TypeError:
		if msg.Error != nil {
			return fmt.Errorf("server error: %s: %s", msg.Error.Code, msg.Error.Message)
		}
		return fmt.Errorf("server error")

	default:
		e.logger.Warn("Unexpected message ignored", "type", msg.Type)
		return nil
	}
}

// handleBatch применяет серверный батч и отвечает Ack.
// Первый батч с Backlog=false переводит соединение в Live.
func (e *Engine) handleBatch(ctx context.Context, sender *sender, batch *api.ChangeBatch) error {
	origins := make(map[string]int64)

	for i := range batch.Records {
		rec := &batch.Records[i]

		result, err := e.store.Apply(ctx, rec)
		if err != nil {
			return fmt.Errorf("failed to apply change %s: %w", rec.Key(), err)
		}

		// Pending не подтверждаем: предшественник должен прийти в этом же
		// или следующем батче, после чего запись применится из буфера.
		if result != store.ResultPending && rec.Seq > origins[rec.Origin] {
			origins[rec.Origin] = rec.Seq
		}
	}

	if batch.Cursor > 0 {
		if err := e.meta.SaveCursor(ctx, batch.Cursor); err != nil {
			return fmt.Errorf("failed to save cursor: %w", err)
		}
	}

	if err := sender.send(&api.Message{
		Type: api.TypeAck,
		Ack:  &api.Ack{Cursor: batch.Cursor, Origins: origins},
	}); err != nil {
		return fmt.Errorf("failed to ack batch: %w", err)
	}

	if !batch.Backlog && e.State() == StateSyncing {
		e.setState(StateLive)
	}

	return nil
}

// handleSnapshots устанавливает присланные снапшоты (resync после
// компактизации серверного журнала) и продвигает cursor.
func (e *Engine) handleSnapshots(ctx context.Context, sender *sender, resp *api.SnapshotResponse) error {
	for i := range resp.Snapshots {
		if err := e.store.InstallSnapshot(ctx, &resp.Snapshots[i]); err != nil {
			return fmt.Errorf("failed to install snapshot: %w", err)
		}
	}

	if err := e.meta.SaveCursor(ctx, resp.Cursor); err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}

	e.logger.Info("Snapshot resync applied",
		"snapshots", len(resp.Snapshots),
		"cursor", resp.Cursor)

	return sender.send(&api.Message{
		Type: api.TypeAck,
		Ack:  &api.Ack{Cursor: resp.Cursor},
	})
}

// PendingCount возвращает количество локальных записей,
// ожидающих подтверждения сервером.
func (e *Engine) PendingCount(ctx context.Context) (int, error) {
	return e.queue.Len(ctx)
}

// RecoverableEdits возвращает записи журнала с правками, проигравшими
// конкурентному tombstone. Данные не удаляются молча: пользователь
// может восстановить их вручную.
func (e *Engine) RecoverableEdits(ctx context.Context, entityID string) ([]*models.ChangeRecord, error) {
	snap, err := e.store.CurrentState(ctx, entityID)
	if err != nil {
		return nil, err
	}
	if !snap.Deleted {
		return nil, nil
	}

	records, err := e.entities.EntityChanges(ctx, entityID)
	if err != nil {
		return nil, err
	}

	var lost []*models.ChangeRecord
	for _, rec := range records {
		if rec.Tombstone {
			continue
		}
		for name, delta := range rec.Fields {
			state := snap.Fields[name]
			if state.Orig != rec.Origin || state.Rev != delta.Rev {
				lost = append(lost, rec)
				break
			}
		}
	}

	return lost, nil
}

// errNotApplied внутренняя ошибка Author: локальная запись обязана
// проходить причинную проверку против собственного снапшота.
var errNotApplied = errors.New("local change was not applied")
