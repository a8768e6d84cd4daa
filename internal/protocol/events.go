package protocol

import "encoding/json"

// EventType тип исходящего события клиенту.
// Строки провода совпадают с каноническими именами событий клиента.
type EventType string

const (
	EventScoreUpdate EventType = "game.score.update"
	EventJoin        EventType = "game.join"
	EventAck         EventType = "game.ack"
	EventCompleted   EventType = "game.completed"
	EventFaulted     EventType = "game.faulted"
	EventError       EventType = "game.error"
)

// Event исходящее событие клиенту: чанк записи, смена состояния,
// подтверждение или отказ. Сериализуется в JSON как есть.
type Event struct {
	Type    EventType       `json:"type"`
	MatchID string          `json:"matchId"`
	Cursor  int64           `json:"cursor,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	State   string          `json:"state,omitempty"`
	Delay   float64         `json:"delay,omitempty"`
	Speed   float64         `json:"speed,omitempty"`
	Action  Action          `json:"action,omitempty"`
	Reason  string          `json:"reason,omitempty"`
	Detail  string          `json:"detail,omitempty"`
}

// NewChunkEvent создает событие доставки чанка записи
func NewChunkEvent(matchID string, cursor int64, payload json.RawMessage) Event {
	return Event{
		Type:    EventScoreUpdate,
		MatchID: matchID,
		Cursor:  cursor,
		Data:    payload,
	}
}

// NewJoinEvent создает подтверждение подключения к сессии:
// текущее состояние, курсор и темп, чтобы поздний зритель выровнял UI.
func NewJoinEvent(matchID, state string, cursor int64, delay, speed float64, details json.RawMessage) Event {
	return Event{
		Type:    EventJoin,
		MatchID: matchID,
		State:   state,
		Cursor:  cursor,
		Delay:   delay,
		Speed:   speed,
		Data:    details,
	}
}

// NewAckEvent создает подтверждение принятой команды
func NewAckEvent(matchID string, action Action) Event {
	return Event{
		Type:    EventAck,
		MatchID: matchID,
		Action:  action,
	}
}

// NewCompletedEvent создает терминальное событие конца записи
func NewCompletedEvent(matchID string, cursor int64) Event {
	return Event{
		Type:    EventCompleted,
		MatchID: matchID,
		Cursor:  cursor,
	}
}

// NewFaultedEvent создает событие невосстановимой ошибки чтения
func NewFaultedEvent(matchID, detail string) Event {
	return Event{
		Type:    EventFaulted,
		MatchID: matchID,
		Reason:  string(ReasonStorageReadError),
		Detail:  detail,
	}
}

// NewErrorEvent создает событие отказа для отправившего зрителя
func NewErrorEvent(matchID string, rej *Rejection) Event {
	return Event{
		Type:    EventError,
		MatchID: matchID,
		Reason:  "rejected:" + string(rej.Reason),
		Detail:  rej.Detail,
	}
}

// Encode сериализует событие для отправки в соединение
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}
