package sync

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/iudanet/tasksync/internal/api"
)

// sender сериализует запись в websocket: gorilla допускает только одного
// конкурентного писателя, а у нас пишут и reader loop (acks), и pushLoop.
type sender struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	mu           sync.Mutex
}

func newSender(conn *websocket.Conn, writeTimeout time.Duration) *sender {
	return &sender{conn: conn, writeTimeout: writeTimeout}
}

// send пишет одно сообщение протокола с write deadline.
func (s *sender) send(msg *api.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(msg)
}

// control пишет control frame (pong) под тем же мьютексом.
func (s *sender) control(messageType int, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.conn.WriteControl(messageType, payload, time.Now().Add(s.writeTimeout))
}

// close рвет соединение; reader loop завершится ошибкой чтения.
func (s *sender) close() {
	_ = s.conn.Close()
}
