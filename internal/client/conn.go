package client

import "github.com/annel0/match-replay/internal/protocol"

// Conn абстракция исходящей стороны соединения зрителя.
// Реализуется websocket-сессией сетевого слоя; в тестах — заглушкой.
type Conn interface {
	// Send сериализует и отправляет событие зрителю
	Send(ev protocol.Event) error
	// Close закрывает соединение с пояснением причины
	Close(reason string)
}
