// Package api определяет wire-протокол синхронизации поверх одного
// постоянного websocket соединения. Каждое сообщение - JSON конверт
// с типом и одним заполненным полем.
package api

import "github.com/iudanet/tasksync/internal/models"

// Типы сообщений протокола
const (
	TypeHandshake        = "handshake"
	TypeHandshakeAck     = "handshake_ack"
	TypeChangeBatch      = "change_batch"
	TypeAck              = "ack"
	TypeResyncRequest    = "resync_request"
	TypeSnapshotResponse = "snapshot_response"
	TypeError            = "error"
)

// Коды ошибок протокола
const (
	CodeUnauthorized    = "unauthorized"
	CodeDivergentCursor = "divergent_cursor"
	CodeBadMessage      = "bad_message"
	CodeInternal        = "internal"
)

// Message конверт протокола. Заполнено ровно одно поле,
// соответствующее Type.
type Message struct {
	Handshake        *Handshake        `json:"handshake,omitempty"`
	HandshakeAck     *HandshakeAck     `json:"handshake_ack,omitempty"`
	ChangeBatch      *ChangeBatch      `json:"change_batch,omitempty"`
	Ack              *Ack              `json:"ack,omitempty"`
	ResyncRequest    *ResyncRequest    `json:"resync_request,omitempty"`
	SnapshotResponse *SnapshotResponse `json:"snapshot_response,omitempty"`
	Error            *Error            `json:"error,omitempty"`
	Type             string            `json:"type"`
}

// Handshake первое сообщение клиента после подключения:
// идентификация и последний подтвержденный cursor.
type Handshake struct {
	ClientID   string   `json:"client_id"`
	Workspaces []string `json:"workspaces"`
	Cursor     int64    `json:"cursor"` // наибольший server log seq, уже примененный клиентом
}

// HandshakeAck ответ сервера на handshake.
// Resync=true означает, что cursor клиента указывает в компактированную
// часть журнала: следом придет SnapshotResponse вместо backlog батчей.
type HandshakeAck struct {
	SessionID string `json:"session_id"`
	Cursor    int64  `json:"cursor"` // текущий максимальный log seq сервера
	Resync    bool   `json:"resync,omitempty"`
}

// ChangeBatch упорядоченная порция записей журнала.
// Backlog=true - часть начальной досылки истории; последний backlog-батч
// приходит с Backlog=false, после чего соединение считается Live.
type ChangeBatch struct {
	Records []models.ChangeRecord `json:"records"`
	Cursor  int64                 `json:"cursor,omitempty"` // log seq последней записи батча (заполняет сервер)
	Backlog bool                  `json:"backlog,omitempty"`
}

// Ack подтверждение приема. Cursor продвигает серверный cursor получателя,
// Origins содержит наибольший примененный seq по каждому origin из батча.
type Ack struct {
	Origins map[string]int64 `json:"origins,omitempty"`
	Cursor  int64            `json:"cursor,omitempty"`
}

// ResyncRequest запрос полного снапшота перечисленных сущностей
// (или всех сущностей рабочих областей клиента, если список пуст).
type ResyncRequest struct {
	EntityIDs []string `json:"entity_ids,omitempty"`
}

// SnapshotResponse полные снапшоты для resync. Cursor - log seq сервера,
// по которому срезаны снапшоты: клиент продолжает с него.
type SnapshotResponse struct {
	Snapshots []models.EntitySnapshot `json:"snapshots"`
	Cursor    int64                   `json:"cursor"`
}

// Error ошибка протокола.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
