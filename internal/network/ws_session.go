package network

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/annel0/match-replay/internal/protocol"
)

const (
	writeTimeout = 10 * time.Second
	maxFrameSize = 64 * 1024
)

var errSessionClosed = errors.New("websocket session closed")

// wsSession реализует client.Conn поверх websocket-соединения.
// Запись сериализуется мьютексом: в соединение пишут и насос событий,
// и синхронные подтверждения.
type wsSession struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	closed bool
}

func newWSSession(conn *websocket.Conn) *wsSession {
	return &wsSession{conn: conn}
}

// Send отправляет событие текстовым фреймом с дедлайном записи
func (w *wsSession) Send(ev protocol.Event) error {
	data, err := ev.Encode()
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errSessionClosed
	}

	if err := w.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// Close закрывает соединение, по возможности отправив причину
func (w *wsSession) Close(reason string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true

	if reason != "" {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	}
	_ = w.conn.Close()
}
