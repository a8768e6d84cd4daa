package client

import (
	"context"
	"sync"
	"time"

	"github.com/annel0/match-replay/internal/logging"
	"github.com/annel0/match-replay/internal/protocol"
	"github.com/annel0/match-replay/internal/scheduler"
)

// attachment связь зрителя с одной сессией воспроизведения
type attachment struct {
	key    scheduler.SessionKey
	sched  *scheduler.Scheduler
	events <-chan protocol.Event
}

// viewer одно живое соединение
type viewer struct {
	info scheduler.ViewerInfo
	conn Conn

	mu  sync.Mutex
	att *attachment
}

// Manager мост между соединениями и ядром воспроизведения: разбирает
// входящие команды, разрешает сессии через реестр планировщиков и
// гонит исходящие события обратно в соединение. Зритель подключен
// максимум к одной сессии одновременно.
type Manager struct {
	mu         sync.RWMutex
	viewers    map[string]*viewer
	schedulers *scheduler.Manager
	log        *logging.Logger
}

// NewManager создает клиентский менеджер поверх реестра планировщиков
func NewManager(sm *scheduler.Manager) *Manager {
	return &Manager{
		viewers:    make(map[string]*viewer),
		schedulers: sm,
		log:        logging.GetClientLogger(),
	}
}

// Register регистрирует новое соединение зрителя.
// Повторная регистрация того же ID вытесняет старое соединение.
func (m *Manager) Register(viewerID string, role protocol.Role, controller bool, conn Conn) {
	v := &viewer{
		info: scheduler.ViewerInfo{ID: viewerID, Role: role, Controller: controller},
		conn: conn,
	}

	m.mu.Lock()
	old := m.viewers[viewerID]
	m.viewers[viewerID] = v
	m.mu.Unlock()

	if old != nil {
		m.log.Warn("Зритель %s переподключился, старое соединение вытеснено", viewerID)
		old.conn.Close("superseded by a new connection")
		m.releaseViewer(old)
	}
	m.log.Info("🔌 Зритель %s подключен (role=%s)", viewerID, role)
}

// OnMessage обрабатывает входящее сообщение зрителя. Ошибка разбора
// возвращается отправителю, планировщики при этом не затрагиваются.
func (m *Manager) OnMessage(viewerID string, raw []byte) {
	m.mu.RLock()
	v, ok := m.viewers[viewerID]
	m.mu.RUnlock()
	if !ok {
		m.log.Warn("Сообщение от незарегистрированного зрителя %s", viewerID)
		return
	}

	msg, rej := protocol.Parse(raw)
	if rej != nil {
		m.sendError(v, "", rej)
		return
	}

	switch msg.Action {
	case protocol.ActionStart:
		m.handleStart(v, msg)
	case protocol.ActionStop:
		m.handleStop(v, msg)
	default:
		m.handleControl(v, msg)
	}
}

// handleStart разрешает сессию через реестр и подключает зрителя.
// start для другого матча сначала освобождает текущую сессию.
func (m *Manager) handleStart(v *viewer, msg *protocol.ControlMessage) {
	key := scheduler.NewSessionKey(msg.MatchID, m.sessionMode(v, msg), v.info.ID)

	v.mu.Lock()
	cur := v.att
	v.mu.Unlock()
	if cur != nil {
		if cur.key == key {
			// повторный start в той же сессии: передаем планировщику,
			// он сам решит, валиден ли start для текущего состояния
			m.forward(v, cur, msg)
			return
		}
		m.releaseViewer(v)
	}

	params := scheduler.Params{Speed: msg.Speed}
	if msg.Delay > 0 {
		params.Delay = time.Duration(msg.Delay * float64(time.Second))
	}

	ctx, cancel := resolveContext()
	sched, rej := m.schedulers.Resolve(ctx, key, params)
	cancel()
	if rej != nil {
		m.sendError(v, msg.MatchID, rej)
		return
	}

	res, rej := sched.Attach(v.info)
	if rej != nil {
		// гонка с разрушением: зритель может послать start повторно
		m.sendError(v, msg.MatchID, rej)
		return
	}

	att := &attachment{key: key, sched: sched, events: res.Events}
	v.mu.Lock()
	v.att = att
	v.mu.Unlock()

	go m.pump(v, att)

	// наблюдательские сессии стартуют сами при первом подключении;
	// игровым нужен явный start, и только из Idle — иначе зритель
	// просто присоединился к уже идущей сессии
	if key.Mode != protocol.ModeSpectator && res.State == scheduler.StateIdle {
		if rej := sched.Apply(v.info, msg); rej != nil {
			m.sendError(v, msg.MatchID, rej)
			return
		}
	}
	m.sendAck(v, msg.MatchID, protocol.ActionStart)
}

// handleStop подтверждает команду и отключает только отправителя
func (m *Manager) handleStop(v *viewer, msg *protocol.ControlMessage) {
	v.mu.Lock()
	att := v.att
	v.mu.Unlock()
	if att == nil || att.key.MatchID != msg.MatchID {
		m.sendError(v, msg.MatchID, protocol.NewRejection(
			protocol.ReasonInvalidActionForState, "no attached session for this match"))
		return
	}

	if rej := att.sched.Apply(v.info, msg); rej != nil {
		m.sendError(v, msg.MatchID, rej)
		return
	}
	m.sendAck(v, msg.MatchID, protocol.ActionStop)
	m.releaseViewer(v)
}

// handleControl пересылает pause/resume/speed/scrub в подключенную сессию
func (m *Manager) handleControl(v *viewer, msg *protocol.ControlMessage) {
	v.mu.Lock()
	att := v.att
	v.mu.Unlock()
	if att == nil || att.key.MatchID != msg.MatchID {
		m.sendError(v, msg.MatchID, protocol.NewRejection(
			protocol.ReasonInvalidActionForState, "no attached session, send start first"))
		return
	}
	m.forward(v, att, msg)
}

func (m *Manager) forward(v *viewer, att *attachment, msg *protocol.ControlMessage) {
	rej := att.sched.Apply(v.info, msg)
	if rej == nil {
		m.sendAck(v, msg.MatchID, msg.Action)
		return
	}
	if rej.Reason == protocol.ReasonSchedulerDestroyed {
		// сессия умерла под зрителем: сбрасываем привязку, чтобы
		// следующий start создал новую
		m.releaseViewer(v)
	}
	m.sendError(v, msg.MatchID, rej)
}

// resolveContext ограничивает время открытия хранилища при создании сессии
func resolveContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}

// sessionMode определяет режим сессии: явный из сообщения, иначе по роли
func (m *Manager) sessionMode(v *viewer, msg *protocol.ControlMessage) protocol.Mode {
	if msg.Mode != "" {
		return msg.Mode
	}
	if v.info.Role == protocol.RoleSpectator {
		return protocol.ModeSpectator
	}
	return protocol.ModePvP
}

// pump гонит события сессии в соединение зрителя. Завершается, когда
// планировщик закрывает очередь (detach, slow consumer или разрушение).
func (m *Manager) pump(v *viewer, att *attachment) {
	for ev := range att.events {
		if err := v.conn.Send(ev); err != nil {
			m.log.Debug("Зритель %s: ошибка отправки, отключаем: %v", v.info.ID, err)
			m.disconnect(v)
			return
		}
	}
	// очередь закрыта со стороны планировщика
	v.mu.Lock()
	if v.att == att {
		v.att = nil
	}
	v.mu.Unlock()
	m.schedulers.Release(att.key, v.info.ID)
}

// OnDisconnect освобождает ресурсы зрителя. Идемпотентна.
func (m *Manager) OnDisconnect(viewerID string) {
	m.mu.Lock()
	v, ok := m.viewers[viewerID]
	if ok {
		delete(m.viewers, viewerID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	m.releaseViewer(v)
	m.log.Info("🔌 Зритель %s отключен", viewerID)
}

// OnConnClosed обрабатывает закрытие конкретного соединения. Регистрация
// снимается, только если она все еще указывает на это соединение:
// переподключившийся под тем же ID зритель не затрагивается.
func (m *Manager) OnConnClosed(viewerID string, conn Conn) {
	m.mu.RLock()
	v, ok := m.viewers[viewerID]
	m.mu.RUnlock()
	if !ok || v.conn != conn {
		return
	}
	m.disconnect(v)
}

// disconnect отключает конкретный экземпляр зрителя после ошибки отправки.
// Запоздалая ошибка на вытесненном соединении не должна снимать новую
// регистрацию под тем же ID.
func (m *Manager) disconnect(v *viewer) {
	m.mu.Lock()
	cur, ok := m.viewers[v.info.ID]
	current := ok && cur == v
	if current {
		delete(m.viewers, v.info.ID)
	}
	m.mu.Unlock()

	m.releaseViewer(v)
	if current {
		m.log.Info("🔌 Зритель %s отключен", v.info.ID)
	}
}

// releaseViewer снимает текущую привязку зрителя к сессии (идемпотентно)
func (m *Manager) releaseViewer(v *viewer) {
	v.mu.Lock()
	att := v.att
	v.att = nil
	v.mu.Unlock()
	if att == nil {
		return
	}
	m.schedulers.Release(att.key, v.info.ID)
}

// sendAck отправляет подтверждение принятой команды
func (m *Manager) sendAck(v *viewer, matchID string, action protocol.Action) {
	if err := v.conn.Send(protocol.NewAckEvent(matchID, action)); err != nil {
		m.disconnect(v)
	}
}

// sendError отправляет отказ отправившему зрителю
func (m *Manager) sendError(v *viewer, matchID string, rej *protocol.Rejection) {
	if err := v.conn.Send(protocol.NewErrorEvent(matchID, rej)); err != nil {
		m.disconnect(v)
	}
}
