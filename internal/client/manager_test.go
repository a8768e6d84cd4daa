package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/annel0/match-replay/internal/config"
	"github.com/annel0/match-replay/internal/protocol"
	"github.com/annel0/match-replay/internal/scheduler"
	"github.com/annel0/match-replay/internal/storage"
)

// fakeConn накапливает отправленные события для проверок
type fakeConn struct {
	mu     sync.Mutex
	events []protocol.Event
	closed bool
}

func (c *fakeConn) Send(ev protocol.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *fakeConn) Close(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// waitFor ждет появления события указанного типа
func (c *fakeConn) waitFor(t *testing.T, typ protocol.EventType, timeout time.Duration) protocol.Event {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		for _, ev := range c.events {
			if ev.Type == typ {
				c.mu.Unlock()
				return ev
			}
		}
		c.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Не дождались события %s за %s", typ, timeout)
	return protocol.Event{}
}

func (c *fakeConn) count(typ protocol.EventType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, ev := range c.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func newTestSetup(t *testing.T, chunkCount int) (*Manager, *scheduler.Manager) {
	t.Helper()

	store := storage.NewMemoryStorage()
	scores := make([]json.RawMessage, chunkCount)
	for i := range scores {
		scores[i] = json.RawMessage(fmt.Sprintf(`{"point":%d}`, i))
	}
	err := store.StoreMatch(context.Background(), &storage.Recording{
		GameID: "m1",
		Teams:  []string{"alpha", "beta"},
		Scores: scores,
	})
	if err != nil {
		t.Fatalf("Не удалось подготовить запись: %v", err)
	}

	cfg := &config.PlaybackConfig{
		DefaultDelaySecs:  0.01,
		GracePeriodSecs:   0.25,
		SweepIntervalSecs: 0.05,
	}
	sm := scheduler.NewManager(store, nil, nil, cfg)
	t.Cleanup(sm.Close)

	return NewManager(sm), sm
}

func TestMalformedMessageShortCircuits(t *testing.T) {
	cm, sm := newTestSetup(t, 5)
	conn := &fakeConn{}
	cm.Register("v1", protocol.RolePlayer, true, conn)

	cm.OnMessage("v1", []byte(`{broken`))

	ev := conn.waitFor(t, protocol.EventError, time.Second)
	if ev.Reason != "rejected:"+string(protocol.ReasonMalformedMessage) {
		t.Errorf("Ожидался отказ MalformedMessage, получено %q", ev.Reason)
	}
	if sm.Count() != 0 {
		t.Error("Некорректное сообщение не должно трогать планировщики")
	}
}

func TestStartDeliversJoinAckAndChunks(t *testing.T) {
	cm, _ := newTestSetup(t, 3)
	conn := &fakeConn{}
	cm.Register("v1", protocol.RolePlayer, true, conn)

	cm.OnMessage("v1", []byte(`{"action":"start","matchId":"m1","mode":"pvp"}`))

	conn.waitFor(t, protocol.EventJoin, time.Second)
	conn.waitFor(t, protocol.EventAck, time.Second)
	conn.waitFor(t, protocol.EventScoreUpdate, time.Second)
	conn.waitFor(t, protocol.EventCompleted, 2*time.Second)

	if got := conn.count(protocol.EventScoreUpdate); got != 3 {
		t.Errorf("Должны прийти все 3 чанка, получено %d", got)
	}
}

func TestControlWithoutSessionRejected(t *testing.T) {
	cm, _ := newTestSetup(t, 5)
	conn := &fakeConn{}
	cm.Register("v1", protocol.RolePlayer, true, conn)

	cm.OnMessage("v1", []byte(`{"action":"pause","matchId":"m1"}`))

	ev := conn.waitFor(t, protocol.EventError, time.Second)
	if ev.Reason != "rejected:"+string(protocol.ReasonInvalidActionForState) {
		t.Errorf("Команда без сессии должна давать InvalidActionForState, получено %q", ev.Reason)
	}
}

func TestStartUnknownMatchSurfacesStorageUnavailable(t *testing.T) {
	cm, _ := newTestSetup(t, 5)
	conn := &fakeConn{}
	cm.Register("v1", protocol.RolePlayer, true, conn)

	cm.OnMessage("v1", []byte(`{"action":"start","matchId":"ghost","mode":"pvp"}`))

	ev := conn.waitFor(t, protocol.EventError, time.Second)
	if ev.Reason != "rejected:"+string(protocol.ReasonStorageUnavailable) {
		t.Errorf("Незаписанный матч должен давать StorageUnavailable, получено %q", ev.Reason)
	}
}

func TestStopDetachesOnlyIssuer(t *testing.T) {
	cm, sm := newTestSetup(t, 100)
	conn1 := &fakeConn{}
	conn2 := &fakeConn{}
	cm.Register("v1", protocol.RolePlayer, true, conn1)
	cm.Register("v2", protocol.RolePlayer, true, conn2)

	cm.OnMessage("v1", []byte(`{"action":"start","matchId":"m1","mode":"pvp"}`))
	cm.OnMessage("v2", []byte(`{"action":"start","matchId":"m1","mode":"pvp"}`))
	conn1.waitFor(t, protocol.EventScoreUpdate, time.Second)
	conn2.waitFor(t, protocol.EventScoreUpdate, time.Second)

	if sm.Count() != 1 {
		t.Fatalf("Оба игрока должны попасть в одну сессию, планировщиков: %d", sm.Count())
	}

	cm.OnMessage("v1", []byte(`{"action":"stop","matchId":"m1"}`))
	conn1.waitFor(t, protocol.EventAck, time.Second)

	// второй зритель продолжает получать чанки
	before := conn2.count(protocol.EventScoreUpdate)
	deadline := time.Now().Add(time.Second)
	for conn2.count(protocol.EventScoreUpdate) <= before {
		if time.Now().After(deadline) {
			t.Fatal("После stop первого зрителя рассылка второму прекратилась")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if sm.Count() != 1 {
		t.Error("stop одного зрителя не должен разрушать общую сессию")
	}
}

func TestDisconnectReleasesIdempotently(t *testing.T) {
	cm, sm := newTestSetup(t, 100)
	conn := &fakeConn{}
	cm.Register("v1", protocol.RolePlayer, true, conn)

	cm.OnMessage("v1", []byte(`{"action":"start","matchId":"m1","mode":"pvai"}`))
	conn.waitFor(t, protocol.EventScoreUpdate, time.Second)

	cm.OnDisconnect("v1")
	cm.OnDisconnect("v1") // повторный вызов безвреден

	// pvai сессия разрушается сразу после ухода контроллера
	if sm.Count() != 0 {
		t.Errorf("pvai сессия должна быть разрушена после отключения, найдено %d", sm.Count())
	}
}

func TestSupersededConnectionFailureKeepsNewRegistration(t *testing.T) {
	cm, _ := newTestSetup(t, 100)
	old := &fakeConn{}
	cm.Register("v1", protocol.RolePlayer, true, old)
	cm.OnMessage("v1", []byte(`{"action":"start","matchId":"m1","mode":"pvp"}`))
	old.waitFor(t, protocol.EventScoreUpdate, time.Second)

	cm.mu.RLock()
	stale := cm.viewers["v1"]
	cm.mu.RUnlock()

	// переподключение вытесняет старое соединение
	fresh := &fakeConn{}
	cm.Register("v1", protocol.RolePlayer, true, fresh)

	// запоздалая ошибка отправки на вытесненном соединении
	cm.disconnect(stale)

	cm.mu.RLock()
	cur := cm.viewers["v1"]
	cm.mu.RUnlock()
	if cur == nil || cur.conn != Conn(fresh) {
		t.Fatal("Отключение вытесненного соединения сняло новую регистрацию")
	}

	// новая регистрация остается рабочей
	cm.OnMessage("v1", []byte(`{"action":"start","matchId":"m1","mode":"pvp"}`))
	fresh.waitFor(t, protocol.EventJoin, time.Second)
	fresh.waitFor(t, protocol.EventAck, time.Second)
}

func TestOnConnClosedChecksIdentity(t *testing.T) {
	cm, _ := newTestSetup(t, 5)
	old := &fakeConn{}
	cm.Register("v1", protocol.RolePlayer, true, old)

	fresh := &fakeConn{}
	cm.Register("v1", protocol.RolePlayer, true, fresh)

	// закрытие вытесненного соединения — не повод снимать регистрацию
	cm.OnConnClosed("v1", old)
	cm.OnMessage("v1", []byte(`{"action":"start","matchId":"m1","mode":"pvp"}`))
	fresh.waitFor(t, protocol.EventAck, time.Second)

	// закрытие текущего соединения снимает ее
	cm.OnConnClosed("v1", fresh)
	cm.mu.RLock()
	_, ok := cm.viewers["v1"]
	cm.mu.RUnlock()
	if ok {
		t.Error("Закрытие текущего соединения должно снимать регистрацию")
	}
}

func TestSpectatorAutoStartsViaClientManager(t *testing.T) {
	cm, _ := newTestSetup(t, 5)
	conn := &fakeConn{}
	cm.Register("s1", protocol.RoleSpectator, false, conn)

	cm.OnMessage("s1", []byte(`{"action":"start","matchId":"m1","mode":"spectator"}`))

	// наблюдатель получает чанки без явного start внутри сессии
	conn.waitFor(t, protocol.EventScoreUpdate, time.Second)
	conn.waitFor(t, protocol.EventAck, time.Second)

	// а управление отклоняется
	cm.OnMessage("s1", []byte(`{"action":"pause","matchId":"m1"}`))
	ev := conn.waitFor(t, protocol.EventError, time.Second)
	if ev.Reason != "rejected:"+string(protocol.ReasonForbiddenForRole) {
		t.Errorf("pause наблюдателя должен давать ForbiddenForRole, получено %q", ev.Reason)
	}
}
