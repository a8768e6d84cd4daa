package tests

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/match-replay/internal/client"
	"github.com/annel0/match-replay/internal/config"
	"github.com/annel0/match-replay/internal/eventbus"
	"github.com/annel0/match-replay/internal/protocol"
	"github.com/annel0/match-replay/internal/scheduler"
	"github.com/annel0/match-replay/internal/storage"
)

// recordedConn реализация client.Conn, накапливающая события для проверок
type recordedConn struct {
	mu     sync.Mutex
	events []protocol.Event
}

func (c *recordedConn) Send(ev protocol.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *recordedConn) Close(reason string) {}

func (c *recordedConn) snapshot() []protocol.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Event, len(c.events))
	copy(out, c.events)
	return out
}

func (c *recordedConn) countType(typ protocol.EventType) int {
	n := 0
	for _, ev := range c.snapshot() {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func (c *recordedConn) waitType(t *testing.T, typ protocol.EventType, timeout time.Duration) protocol.Event {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, ev := range c.snapshot() {
			if ev.Type == typ {
				return ev
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("не дождались события %s за %s", typ, timeout)
	return protocol.Event{}
}

func storeMatch(t *testing.T, store storage.GameStorage, matchID string, chunks int) {
	t.Helper()
	scores := make([]json.RawMessage, chunks)
	for i := range scores {
		scores[i] = json.RawMessage(fmt.Sprintf(`{"rally":%d}`, i))
	}
	err := store.StoreMatch(context.Background(), &storage.Recording{
		GameID: matchID,
		Teams:  []string{"nadal", "federer"},
		Scores: scores,
	})
	require.NoError(t, err)
}

func playbackConfig(delaySecs float64) *config.PlaybackConfig {
	return &config.PlaybackConfig{
		DefaultDelaySecs:  delaySecs,
		GracePeriodSecs:   0.3,
		SweepIntervalSecs: 0.05,
		RetryBackoffMs:    2,
	}
}

// Сценарий A: два игрока в одной pvp сессии; пауза одного останавливает
// рассылку обоим, resume любого из них возобновляет воспроизведение.
func TestScenarioSharedPvPPause(t *testing.T) {
	store := storage.NewMemoryStorage()
	storeMatch(t, store, "m1", 200)

	sm := scheduler.NewManager(store, nil, nil, playbackConfig(0.01))
	defer sm.Close()
	cm := client.NewManager(sm)

	conn1, conn2 := &recordedConn{}, &recordedConn{}
	cm.Register("p1", protocol.RolePlayer, true, conn1)
	cm.Register("p2", protocol.RolePlayer, true, conn2)

	cm.OnMessage("p1", []byte(`{"action":"start","matchId":"m1","mode":"pvp"}`))
	cm.OnMessage("p2", []byte(`{"action":"start","matchId":"m1","mode":"pvp"}`))

	conn1.waitType(t, protocol.EventScoreUpdate, time.Second)
	conn2.waitType(t, protocol.EventScoreUpdate, time.Second)

	// оба игрока в одном планировщике
	require.Equal(t, 1, sm.Count(), "оба resolve должны вернуть одну сессию")

	cm.OnMessage("p1", []byte(`{"action":"pause","matchId":"m1"}`))
	conn1.waitType(t, protocol.EventAck, time.Second)

	// ждем тишины после обработки паузы
	time.Sleep(50 * time.Millisecond)
	frozen := conn2.countType(protocol.EventScoreUpdate)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, frozen, conn2.countType(protocol.EventScoreUpdate),
		"после pause второй игрок не должен получать чанки")

	cm.OnMessage("p2", []byte(`{"action":"resume","matchId":"m1"}`))
	deadline := time.Now().Add(time.Second)
	for conn2.countType(protocol.EventScoreUpdate) <= frozen {
		require.False(t, time.Now().After(deadline), "после resume рассылка не возобновилась")
		time.Sleep(5 * time.Millisecond)
	}
}

// Сценарий B: наблюдатель получает все чанки с заданным темпом,
// после последнего приходит completed.
func TestScenarioSpectatorPacedPlayback(t *testing.T) {
	store := storage.NewMemoryStorage()
	storeMatch(t, store, "m2", 5)

	sm := scheduler.NewManager(store, nil, nil, playbackConfig(0.05))
	defer sm.Close()
	cm := client.NewManager(sm)

	conn := &recordedConn{}
	cm.Register("s1", protocol.RoleSpectator, false, conn)

	started := time.Now()
	cm.OnMessage("s1", []byte(`{"action":"start","matchId":"m2","mode":"spectator"}`))

	conn.waitType(t, protocol.EventCompleted, 3*time.Second)
	elapsed := time.Since(started)

	require.Equal(t, 5, conn.countType(protocol.EventScoreUpdate), "должны прийти все 5 чанков")

	// первый чанк уходит сразу, дальше 4 интервала темпа
	assert.GreaterOrEqual(t, elapsed, 180*time.Millisecond, "чанки должны идти с темпом, а не залпом")

	// порядок курсоров строгий: 0..4
	var cursors []int64
	for _, ev := range conn.snapshot() {
		if ev.Type == protocol.EventScoreUpdate {
			cursors = append(cursors, ev.Cursor)
		}
	}
	assert.Equal(t, []int64{0, 1, 2, 3, 4}, cursors, "чанки должны идти по порядку")
}

// Сценарий C: три наблюдателя делят один планировщик; после ухода всех
// сессия живет еще льготный период и только потом разрушается.
func TestScenarioSpectatorDedupAndGrace(t *testing.T) {
	store := storage.NewMemoryStorage()
	storeMatch(t, store, "m3", 500)

	sm := scheduler.NewManager(store, nil, nil, playbackConfig(0.01))
	defer sm.Close()
	cm := client.NewManager(sm)

	for i := 1; i <= 3; i++ {
		conn := &recordedConn{}
		id := fmt.Sprintf("s%d", i)
		cm.Register(id, protocol.RoleSpectator, false, conn)
		cm.OnMessage(id, []byte(`{"action":"start","matchId":"m3","mode":"spectator"}`))
		conn.waitType(t, protocol.EventScoreUpdate, time.Second)
	}

	require.Equal(t, 1, sm.Count(), "три наблюдателя должны делить одну сессию")

	cm.OnDisconnect("s1")
	cm.OnDisconnect("s2")
	cm.OnDisconnect("s3")

	// сразу после ухода всех сессия еще жива (льготный период)
	assert.Equal(t, 1, sm.Count(), "сессия не должна разрушаться немедленно")

	// после истечения окна — разрушена
	require.Eventually(t, func() bool { return sm.Count() == 0 },
		2*time.Second, 20*time.Millisecond, "сессия должна быть разрушена после льготного периода")
}

// Сценарий D: pause от наблюдателя отклоняется и не влияет на рассылку.
func TestScenarioSpectatorPauseRejected(t *testing.T) {
	store := storage.NewMemoryStorage()
	storeMatch(t, store, "m5", 500)

	sm := scheduler.NewManager(store, nil, nil, playbackConfig(0.01))
	defer sm.Close()
	cm := client.NewManager(sm)

	conn := &recordedConn{}
	cm.Register("s1", protocol.RoleSpectator, false, conn)
	cm.OnMessage("s1", []byte(`{"action":"start","matchId":"m5","mode":"spectator"}`))
	conn.waitType(t, protocol.EventScoreUpdate, time.Second)

	cm.OnMessage("s1", []byte(`{"action":"pause","matchId":"m5"}`))
	ev := conn.waitType(t, protocol.EventError, time.Second)
	require.Equal(t, "rejected:ForbiddenForRole", ev.Reason)

	// рассылка не пострадала
	before := conn.countType(protocol.EventScoreUpdate)
	require.Eventually(t, func() bool { return conn.countType(protocol.EventScoreUpdate) > before },
		time.Second, 5*time.Millisecond, "после отказа чанки должны продолжать идти")
}

// faultyStorage хранилище, у которого каждое чтение чанка падает
type faultyStorage struct{}

type faultyHandle struct{}

func (faultyStorage) Open(ctx context.Context, matchID string) (storage.Handle, error) {
	return faultyHandle{}, nil
}
func (faultyStorage) StoreMatch(ctx context.Context, rec *storage.Recording) error { return nil }
func (faultyStorage) Close() error                                                 { return nil }

func (faultyHandle) Details() storage.MatchDetails {
	return storage.MatchDetails{MatchID: "m4", Teams: []string{"a", "b"}, ChunkCount: 10}
}
func (faultyHandle) ReadChunk(ctx context.Context, cursor int64) (storage.Chunk, int64, error) {
	return storage.Chunk{}, cursor, errors.New("sector unreadable")
}
func (faultyHandle) Close() error { return nil }

// Сценарий E: хранилище падает на каждом чтении; после исчерпания
// повторов сессия переходит в Faulted, каждый зритель получает ровно
// одно событие faulted.
func TestScenarioStorageFaultBroadcastOnce(t *testing.T) {
	sm := scheduler.NewManager(faultyStorage{}, nil, nil, playbackConfig(0.005))
	defer sm.Close()
	cm := client.NewManager(sm)

	conn1, conn2 := &recordedConn{}, &recordedConn{}
	cm.Register("p1", protocol.RolePlayer, true, conn1)
	cm.Register("p2", protocol.RolePlayer, true, conn2)
	cm.OnMessage("p1", []byte(`{"action":"start","matchId":"m4","mode":"pvp"}`))
	cm.OnMessage("p2", []byte(`{"action":"start","matchId":"m4","mode":"pvp"}`))

	for _, conn := range []*recordedConn{conn1, conn2} {
		ev := conn.waitType(t, protocol.EventFaulted, 2*time.Second)
		assert.Equal(t, string(protocol.ReasonStorageReadError), ev.Reason)
	}

	// второго faulted не приходит
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, conn1.countType(protocol.EventFaulted), "faulted должен прийти ровно один раз")
	assert.Equal(t, 1, conn2.countType(protocol.EventFaulted), "faulted должен прийти ровно один раз")
	assert.Zero(t, conn1.countType(protocol.EventScoreUpdate), "чанков при сбое хранилища быть не должно")
}

// Ретрансляция: каждый разосланный чанк попадает и в шину событий.
func TestRelayPublishesEveryChunk(t *testing.T) {
	store := storage.NewMemoryStorage()
	storeMatch(t, store, "m6", 5)

	bus := eventbus.NewMemoryBus(256)
	var mu sync.Mutex
	var relayed []string
	_, err := bus.Subscribe(context.Background(), eventbus.Filter{
		Types:   []string{string(protocol.EventScoreUpdate)},
		Matches: []string{"m6"},
	}, func(ctx context.Context, ev *eventbus.Envelope) {
		mu.Lock()
		relayed = append(relayed, ev.EventType)
		mu.Unlock()
	})
	require.NoError(t, err)

	sm := scheduler.NewManager(store, nil, bus, playbackConfig(0.01))
	defer sm.Close()
	cm := client.NewManager(sm)

	conn := &recordedConn{}
	cm.Register("s1", protocol.RoleSpectator, false, conn)
	cm.OnMessage("s1", []byte(`{"action":"start","matchId":"m6","mode":"spectator"}`))
	conn.waitType(t, protocol.EventCompleted, 2*time.Second)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(relayed) == 5
	}, time.Second, 10*time.Millisecond, "все 5 чанков должны попасть в шину")
}
