package handlers

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/iudanet/tasksync/internal/api"
)

// wsWriter сериализует запись в websocket: gorilla допускает только
// одного конкурентного писателя, а у нас пишут и read loop (acks),
// и write pump (broadcast, ping).
type wsWriter struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	mu           sync.Mutex
}

func newWSWriter(conn *websocket.Conn, writeTimeout time.Duration) *wsWriter {
	return &wsWriter{conn: conn, writeTimeout: writeTimeout}
}

// send пишет одно сообщение протокола с write deadline.
func (w *wsWriter) send(msg *api.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout)); err != nil {
		return err
	}
	return w.conn.WriteJSON(msg)
}

// sendError отправляет протокольную ошибку. Ошибка записи игнорируется:
// соединение все равно закрывается следом.
func (w *wsWriter) sendError(code, message string) {
	_ = w.send(&api.Message{
		Type:  api.TypeError,
		Error: &api.Error{Code: code, Message: message},
	})
}

// ping пишет control frame под тем же мьютексом.
func (w *wsWriter) ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(w.writeTimeout))
}
