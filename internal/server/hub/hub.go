// Package hub реализует live update broadcaster: реестр активных сессий
// по workspace'ам и рассылку принятых записей журнала всем подписчикам,
// кроме автора.
package hub

import (
	"log/slog"
	"sync"

	"github.com/iudanet/tasksync/internal/models"
	"github.com/iudanet/tasksync/internal/api"
)

// defaultSendBuffer емкость исходящего канала сессии. Переполнение
// означает, что подписчик не успевает читать: сессия отключается
// и клиент догонит историю по cursor при переподключении.
const defaultSendBuffer = 64

// Session активная подписка одного подключенного клиента.
type Session struct {
	ID         string
	ClientID   string
	Workspaces []string

	send   chan *api.Message
	closed bool
	mu     sync.Mutex
}

// Send возвращает канал исходящих сообщений сессии.
// Канал закрывается при Unregister или отключении медленной сессии.
func (s *Session) Send() <-chan *api.Message {
	return s.send
}

// offer кладет сообщение без блокировки.
// Возвращает false, если буфер полон или сессия закрыта.
func (s *Session) offer(msg *api.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	select {
	case s.send <- msg:
		return true
	default:
		return false
	}
}

// close закрывает канал сессии. Идемпотентен.
func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.send)
	}
}

// Hub реестр сессий с рассылкой по workspace'ам.
// Реализует store.Notifier: entity store отдает сюда каждую
// принятую запись журнала.
type Hub struct {
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session            // session id -> сессия
	byWS     map[string]map[string]*Session // workspace id -> session id -> сессия
}

// New создает пустой hub.
func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:   logger,
		sessions: make(map[string]*Session),
		byWS:     make(map[string]map[string]*Session),
	}
}

// Register создает сессию и подписывает ее на workspace'ы.
func (h *Hub) Register(sessionID, clientID string, workspaces []string) *Session {
	session := &Session{
		ID:         sessionID,
		ClientID:   clientID,
		Workspaces: workspaces,
		send:       make(chan *api.Message, defaultSendBuffer),
	}

	h.mu.Lock()
	h.sessions[sessionID] = session
	for _, ws := range workspaces {
		if h.byWS[ws] == nil {
			h.byWS[ws] = make(map[string]*Session)
		}
		h.byWS[ws][sessionID] = session
	}
	h.mu.Unlock()

	h.logger.Debug("Session registered",
		"session_id", sessionID,
		"client_id", clientID,
		"workspaces", len(workspaces))

	return session
}

// Unregister снимает подписки сессии и закрывает ее канал.
func (h *Hub) Unregister(sessionID string) {
	h.mu.Lock()
	session, ok := h.sessions[sessionID]
	if ok {
		delete(h.sessions, sessionID)
		for _, ws := range session.Workspaces {
			delete(h.byWS[ws], sessionID)
			if len(h.byWS[ws]) == 0 {
				delete(h.byWS, ws)
			}
		}
	}
	h.mu.Unlock()

	if ok {
		session.close()
		h.logger.Debug("Session unregistered", "session_id", sessionID)
	}
}

// SessionCount возвращает количество активных сессий.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// ChangeApplied рассылает принятую запись всем сессиям workspace'а,
// кроме сессий клиента-автора (он уже применил изменение локально
// и получит подтверждение через Ack).
func (h *Hub) ChangeApplied(rec *models.ChangeRecord, logSeq int64) {
	msg := &api.Message{
		Type: api.TypeChangeBatch,
		ChangeBatch: &api.ChangeBatch{
			Records: []models.ChangeRecord{*rec.Clone()},
			Cursor:  logSeq,
		},
	}

	h.mu.RLock()
	targets := make([]*Session, 0, len(h.byWS[rec.WorkspaceID]))
	for _, session := range h.byWS[rec.WorkspaceID] {
		if session.ClientID == rec.Origin {
			continue
		}
		targets = append(targets, session)
	}
	h.mu.RUnlock()

	for _, session := range targets {
		if !session.offer(msg) {
			// Медленный подписчик: отключаем, клиент догонит по cursor
			h.logger.Warn("Dropping slow session",
				"session_id", session.ID,
				"client_id", session.ClientID)
			h.Unregister(session.ID)
		}
	}
}
