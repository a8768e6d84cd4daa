package protocol

import (
	"encoding/json"
	"fmt"
)

// Action тип управляющей команды зрителя
type Action string

const (
	ActionStart  Action = "start"
	ActionPause  Action = "pause"
	ActionResume Action = "resume"
	ActionSpeed  Action = "speed"
	ActionScrub  Action = "scrub"
	ActionStop   Action = "stop"
)

// Mode режим доступа к сессии воспроизведения
type Mode string

const (
	ModePvP       Mode = "pvp"       // общая сессия с несколькими контролирующими игроками
	ModePvAI      Mode = "pvai"      // одиночный контролирующий игрок против записи ИИ
	ModeSpectator Mode = "spectator" // общая сессия только для чтения
)

// Role роль подключенного зрителя
type Role string

const (
	RolePlayer    Role = "player"
	RoleSpectator Role = "spectator"
)

// ControlMessage входящее сообщение управления воспроизведением.
// Формат провода:
//
//	{ "action": "start", "matchId": "<id>", "mode": "pvp", "delay": 1.0, "speed": 1.5 }
//	{ "action": "scrub", "matchId": "<id>", "position": 42 }
type ControlMessage struct {
	Action   Action  `json:"action"`
	MatchID  string  `json:"matchId"`
	Mode     Mode    `json:"mode,omitempty"`
	Delay    float64 `json:"delay,omitempty"`
	Speed    float64 `json:"speed,omitempty"`
	Position *int64  `json:"position,omitempty"`
}

// MaxSpeedDefault верхняя граница множителя скорости, если конфиг молчит
const MaxSpeedDefault = 16.0

// Parse десериализует и проверяет входящее сообщение.
// Ошибка структуры — MalformedMessage, ошибка диапазона — OutOfRangeParameter.
func Parse(raw []byte) (*ControlMessage, *Rejection) {
	var msg ControlMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, NewRejection(ReasonMalformedMessage, fmt.Sprintf("invalid json: %v", err))
	}
	if rej := msg.Validate(MaxSpeedDefault); rej != nil {
		return nil, rej
	}
	return &msg, nil
}

// Validate проверяет схему и диапазоны параметров сообщения.
func (m *ControlMessage) Validate(maxSpeed float64) *Rejection {
	switch m.Action {
	case ActionStart, ActionPause, ActionResume, ActionSpeed, ActionScrub, ActionStop:
	default:
		return NewRejection(ReasonMalformedMessage, fmt.Sprintf("unknown action %q", m.Action))
	}

	if m.MatchID == "" {
		return NewRejection(ReasonMalformedMessage, "missing matchId")
	}

	if m.Action == ActionStart {
		switch m.Mode {
		case "", ModePvP, ModePvAI, ModeSpectator:
		default:
			return NewRejection(ReasonMalformedMessage, fmt.Sprintf("unknown mode %q", m.Mode))
		}
		if m.Delay < 0 {
			return NewRejection(ReasonOutOfRangeParameter, "delay must be positive")
		}
	}

	if m.Action == ActionSpeed || (m.Action == ActionStart && m.Speed != 0) {
		if m.Speed <= 0 || m.Speed > maxSpeed {
			return NewRejection(ReasonOutOfRangeParameter,
				fmt.Sprintf("speed must be in (0, %g], got %g", maxSpeed, m.Speed))
		}
	}

	if m.Action == ActionScrub {
		if m.Position == nil || *m.Position < 0 {
			return NewRejection(ReasonOutOfRangeParameter, "scrub position must be a non-negative chunk index")
		}
	}

	return nil
}
