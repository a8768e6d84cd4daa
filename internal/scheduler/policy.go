package scheduler

import (
	"fmt"

	"github.com/annel0/match-replay/internal/protocol"
)

// AccessPolicy определяет, кому из подключенных зрителей разрешены
// управляющие команды. Три варианта на одной машине состояний.
type AccessPolicy int

const (
	// PolicySharedMulti общая сессия, управляет любой контролирующий игрок (pvp)
	PolicySharedMulti AccessPolicy = iota
	// PolicySingleController управляет единственный назначенный игрок (pvai)
	PolicySingleController
	// PolicySharedReadOnly наблюдатели: все управляющие команды запрещены
	PolicySharedReadOnly
)

// ViewerInfo идентичность зрителя для проверки политики доступа.
// Controller берется из клейма токена на границе подключения.
type ViewerInfo struct {
	ID         string
	Role       protocol.Role
	Controller bool
}

// PolicyForMode возвращает политику доступа для режима сессии
func PolicyForMode(mode protocol.Mode) AccessPolicy {
	switch mode {
	case protocol.ModePvAI:
		return PolicySingleController
	case protocol.ModeSpectator:
		return PolicySharedReadOnly
	default:
		return PolicySharedMulti
	}
}

// Validate проверяет команду против политики. Чистая функция:
// не трогает состояние планировщика, отказ локален для отправителя.
// stop разрешен всем — он отключает только отправителя.
func (p AccessPolicy) Validate(action protocol.Action, viewer ViewerInfo, controllerID string) *protocol.Rejection {
	if action == protocol.ActionStop {
		return nil
	}

	switch p {
	case PolicySharedReadOnly:
		return protocol.NewRejection(protocol.ReasonForbiddenForRole,
			fmt.Sprintf("spectators cannot issue %q", action))

	case PolicySingleController:
		if viewer.ID != controllerID {
			return protocol.NewRejection(protocol.ReasonForbiddenForRole,
				"only the session controller may issue commands")
		}
		return nil

	default: // PolicySharedMulti
		if viewer.Role != protocol.RolePlayer || !viewer.Controller {
			return protocol.NewRejection(protocol.ReasonForbiddenForRole,
				fmt.Sprintf("role %q has no control permission", viewer.Role))
		}
		return nil
	}
}
