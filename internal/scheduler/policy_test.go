package scheduler

import (
	"testing"

	"github.com/annel0/match-replay/internal/protocol"
)

func TestPolicyForMode(t *testing.T) {
	if PolicyForMode(protocol.ModePvP) != PolicySharedMulti {
		t.Error("pvp должен давать PolicySharedMulti")
	}
	if PolicyForMode(protocol.ModePvAI) != PolicySingleController {
		t.Error("pvai должен давать PolicySingleController")
	}
	if PolicyForMode(protocol.ModeSpectator) != PolicySharedReadOnly {
		t.Error("spectator должен давать PolicySharedReadOnly")
	}
}

func TestSharedReadOnlyPolicy(t *testing.T) {
	viewer := ViewerInfo{ID: "v1", Role: protocol.RoleSpectator}

	for _, action := range []protocol.Action{
		protocol.ActionStart, protocol.ActionPause, protocol.ActionResume,
		protocol.ActionSpeed, protocol.ActionScrub,
	} {
		rej := PolicySharedReadOnly.Validate(action, viewer, "")
		if rej == nil || rej.Reason != protocol.ReasonForbiddenForRole {
			t.Errorf("Наблюдателю должно быть запрещено %s, получено: %v", action, rej)
		}
	}

	// stop отключает только отправителя — разрешен всем
	if rej := PolicySharedReadOnly.Validate(protocol.ActionStop, viewer, ""); rej != nil {
		t.Errorf("stop должен быть разрешен наблюдателю: %v", rej)
	}
}

func TestSingleControllerPolicy(t *testing.T) {
	controller := ViewerInfo{ID: "owner", Role: protocol.RolePlayer, Controller: true}
	stranger := ViewerInfo{ID: "other", Role: protocol.RolePlayer, Controller: true}

	if rej := PolicySingleController.Validate(protocol.ActionPause, controller, "owner"); rej != nil {
		t.Errorf("Контролирующий игрок должен управлять сессией: %v", rej)
	}
	rej := PolicySingleController.Validate(protocol.ActionPause, stranger, "owner")
	if rej == nil || rej.Reason != protocol.ReasonForbiddenForRole {
		t.Errorf("Чужой игрок не должен управлять pvai сессией, получено: %v", rej)
	}
}

func TestSharedMultiPolicy(t *testing.T) {
	player := ViewerInfo{ID: "p1", Role: protocol.RolePlayer, Controller: true}
	passive := ViewerInfo{ID: "p2", Role: protocol.RolePlayer, Controller: false}
	spectator := ViewerInfo{ID: "s1", Role: protocol.RoleSpectator}

	if rej := PolicySharedMulti.Validate(protocol.ActionScrub, player, ""); rej != nil {
		t.Errorf("Контролирующий игрок должен управлять общей сессией: %v", rej)
	}
	if rej := PolicySharedMulti.Validate(protocol.ActionPause, passive, ""); rej == nil {
		t.Error("Игрок без флага управления не должен управлять сессией")
	}
	rej := PolicySharedMulti.Validate(protocol.ActionSpeed, spectator, "")
	if rej == nil || rej.Reason != protocol.ReasonForbiddenForRole {
		t.Errorf("Наблюдатель в pvp сессии не должен управлять, получено: %v", rej)
	}
}
