package scheduler

import (
	"fmt"

	"github.com/annel0/match-replay/internal/protocol"
)

// SessionKey детерминированный ключ сессии воспроизведения.
// Для общих режимов (pvp, spectator) ключ — пара (матч, режим),
// поэтому все зрители попадают в один планировщик. Для pvai ключ
// включает контролирующего игрока: чужие подключения к его сессии
// невозможны по построению.
type SessionKey struct {
	MatchID      string
	Mode         protocol.Mode
	ControllerID string // только для pvai
}

// NewSessionKey строит ключ по режиму доступа
func NewSessionKey(matchID string, mode protocol.Mode, viewerID string) SessionKey {
	key := SessionKey{MatchID: matchID, Mode: mode}
	if mode == protocol.ModePvAI {
		key.ControllerID = viewerID
	}
	return key
}

// String возвращает строковую форму ключа для карты реестра
func (k SessionKey) String() string {
	if k.ControllerID != "" {
		return fmt.Sprintf("%s/%s/%s", k.MatchID, k.Mode, k.ControllerID)
	}
	return fmt.Sprintf("%s/%s", k.MatchID, k.Mode)
}
