package scheduler

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/annel0/match-replay/internal/eventbus"
	"github.com/annel0/match-replay/internal/logging"
	"github.com/annel0/match-replay/internal/protocol"
	"github.com/annel0/match-replay/internal/storage"
)

// State состояние машины воспроизведения
type State string

const (
	StateIdle      State = "idle"
	StatePlaying   State = "playing"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
	StateFaulted   State = "faulted"
	StateDestroyed State = "destroyed"
)

// Params параметры темпа при создании сессии
type Params struct {
	Delay time.Duration
	Speed float64
}

// Options пределы и тайминги планировщика (из конфигурации)
type Options struct {
	MaxSpeed        float64
	QueueCapacity   int
	OverflowStrikes int
	ReadRetries     int
	RetryBackoff    time.Duration
	PauseTimeout    time.Duration
}

// AttachResult снимок сессии для позднего зрителя: текущее состояние,
// курсор и темп, чтобы выровнять UI. История чанков не переигрывается.
type AttachResult struct {
	Events  <-chan protocol.Event
	State   State
	Cursor  int64
	Delay   time.Duration
	Speed   float64
	Details storage.MatchDetails
}

// subscriber исходящая очередь одного зрителя
type subscriber struct {
	info    ViewerInfo
	events  chan protocol.Event
	strikes int
}

type cmdKind int

const (
	cmdAttach cmdKind = iota
	cmdDetach
	cmdApply
)

type command struct {
	kind   cmdKind
	viewer ViewerInfo
	msg    *protocol.ControlMessage
	reply  chan cmdResult
}

type cmdResult struct {
	attach *AttachResult
	rej    *protocol.Rejection
}

// Scheduler машина состояний воспроизведения одного матча.
//
// Дисциплина единственного писателя: всё изменяемое состояние принадлежит
// горутине run; внешние вызовы кладут команды в ограниченную очередь и
// применяются строго в порядке прибытия (последняя из конфликтующих
// побеждает). Прямых мутаций извне нет.
type Scheduler struct {
	key    SessionKey
	policy AccessPolicy
	handle storage.Handle
	bus    eventbus.EventBus
	log    *logging.Logger
	opts   Options

	cmds        chan command
	done        chan struct{}
	destroyOnce sync.Once

	viewerCount atomic.Int32
	emptySince  atomic.Int64 // unix nano; 0 — есть зрители

	// поля ниже читает и пишет только горутина run
	state       State
	cursor      int64
	delay       time.Duration
	speed       float64
	subs        map[string]*subscriber
	retriesLeft int
	details     storage.MatchDetails
}

// newScheduler создает планировщик в состоянии Idle. Цикл запускает Manager.
func newScheduler(key SessionKey, handle storage.Handle, bus eventbus.EventBus, params Params, opts Options) *Scheduler {
	s := &Scheduler{
		key:    key,
		policy: PolicyForMode(key.Mode),
		handle: handle,
		bus:    bus,
		log:    logging.GetSchedulerLogger(),
		opts:   opts,
		cmds:   make(chan command, 32),
		done:   make(chan struct{}),
		state:  StateIdle,
		delay:  params.Delay,
		speed:  params.Speed,
		subs:   make(map[string]*subscriber),
	}
	s.details = handle.Details()
	s.retriesLeft = opts.ReadRetries
	// пока никто не подключился, сессия считается пустой для уборщика
	s.emptySince.Store(time.Now().UnixNano())
	return s
}

// Key возвращает ключ сессии
func (s *Scheduler) Key() SessionKey { return s.key }

// ViewerCount возвращает число подключенных зрителей
func (s *Scheduler) ViewerCount() int { return int(s.viewerCount.Load()) }

// EmptySince возвращает момент, с которого сессия без зрителей
// (нулевое время — зрители есть). Читается уборщиком менеджера.
func (s *Scheduler) EmptySince() time.Time {
	nano := s.emptySince.Load()
	if nano == 0 {
		return time.Time{}
	}
	return time.Unix(0, nano)
}

// Destroyed сообщает, завершен ли цикл планировщика
func (s *Scheduler) Destroyed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Destroy останавливает цикл. Вызывается только менеджером.
func (s *Scheduler) Destroy() {
	s.destroyOnce.Do(func() { close(s.done) })
}

// Attach подключает зрителя к рассылке и возвращает снимок сессии.
// Наблюдательская сессия автоматически стартует на первом подключении.
func (s *Scheduler) Attach(viewer ViewerInfo) (*AttachResult, *protocol.Rejection) {
	res := s.submit(command{kind: cmdAttach, viewer: viewer, reply: make(chan cmdResult, 1)})
	return res.attach, res.rej
}

// Detach отключает зрителя от рассылки (идемпотентно)
func (s *Scheduler) Detach(viewerID string) {
	s.submit(command{kind: cmdDetach, viewer: ViewerInfo{ID: viewerID}, reply: make(chan cmdResult, 1)})
}

// Apply применяет управляющую команду. nil — команда принята.
// Отказ локален: состояние сессии и другие зрители не затронуты.
func (s *Scheduler) Apply(viewer ViewerInfo, msg *protocol.ControlMessage) *protocol.Rejection {
	res := s.submit(command{kind: cmdApply, viewer: viewer, msg: msg, reply: make(chan cmdResult, 1)})
	return res.rej
}

// submit кладет команду в очередь и ждет результата.
// На разрушенном планировщике возвращает SchedulerDestroyed.
func (s *Scheduler) submit(cmd command) cmdResult {
	select {
	case s.cmds <- cmd:
	case <-s.done:
		return cmdResult{rej: rejectDestroyed()}
	}
	select {
	case res := <-cmd.reply:
		return res
	case <-s.done:
		// разрушение могло опередить обработку: забираем ответ, если он есть
		select {
		case res := <-cmd.reply:
			return res
		default:
			return cmdResult{rej: rejectDestroyed()}
		}
	}
}

func rejectDestroyed() *protocol.Rejection {
	return protocol.NewRejection(protocol.ReasonSchedulerDestroyed, "scheduler is destroyed, re-resolve the session")
}

// run главный цикл: единственный владелец состояния.
// playTimer отсчитывает паузу между чанками, pauseTimer — TTL паузы.
func (s *Scheduler) run() {
	playTimer := time.NewTimer(time.Hour)
	stopTimer(playTimer)
	pauseTimer := time.NewTimer(time.Hour)
	stopTimer(pauseTimer)

	for {
		select {
		case cmd := <-s.cmds:
			s.dispatch(cmd, playTimer, pauseTimer)
		case <-playTimer.C:
			s.tick(playTimer)
		case <-pauseTimer.C:
			s.autoResume(playTimer)
		case <-s.done:
			s.cleanup(playTimer, pauseTimer)
			return
		}
	}
}

func (s *Scheduler) dispatch(cmd command, play, pause *time.Timer) {
	switch cmd.kind {
	case cmdAttach:
		cmd.reply <- cmdResult{attach: s.attach(cmd.viewer, play)}
	case cmdDetach:
		s.detach(cmd.viewer.ID)
		cmd.reply <- cmdResult{}
	case cmdApply:
		rej := s.apply(cmd.viewer, cmd.msg, play, pause)
		result := "accepted"
		if rej != nil {
			result = string(rej.Reason)
		}
		commandsTotal.WithLabelValues(string(cmd.msg.Action), result).Inc()
		cmd.reply <- cmdResult{rej: rej}
	}
}

func (s *Scheduler) attach(viewer ViewerInfo, play *time.Timer) *AttachResult {
	sub := &subscriber{
		info:   viewer,
		events: make(chan protocol.Event, s.opts.QueueCapacity),
	}
	s.subs[viewer.ID] = sub
	s.viewerCount.Store(int32(len(s.subs)))
	s.emptySince.Store(0)

	// наблюдатели не могут послать start — сессия стартует сама
	if s.policy == PolicySharedReadOnly && s.state == StateIdle {
		s.startPlaying(play)
		s.log.Info("👁️ Сессия %s запущена первым наблюдателем %s", s.key, viewer.ID)
	}

	// событие game.join всегда первое в очереди зрителя
	detailsJSON, _ := json.Marshal(s.details)
	sub.events <- protocol.NewJoinEvent(s.key.MatchID, string(s.state), s.cursor,
		s.delay.Seconds(), s.speed, detailsJSON)

	return &AttachResult{
		Events:  sub.events,
		State:   s.state,
		Cursor:  s.cursor,
		Delay:   s.delay,
		Speed:   s.speed,
		Details: s.details,
	}
}

func (s *Scheduler) detach(viewerID string) {
	sub, ok := s.subs[viewerID]
	if !ok {
		return
	}
	delete(s.subs, viewerID)
	close(sub.events)
	s.viewerCount.Store(int32(len(s.subs)))
	if len(s.subs) == 0 {
		s.emptySince.Store(time.Now().UnixNano())
	}
}

func (s *Scheduler) apply(viewer ViewerInfo, msg *protocol.ControlMessage, play, pause *time.Timer) *protocol.Rejection {
	if rej := s.policy.Validate(msg.Action, viewer, s.key.ControllerID); rej != nil {
		return rej
	}
	if rej := msg.Validate(s.opts.MaxSpeed); rej != nil {
		return rej
	}

	switch msg.Action {
	case protocol.ActionStart:
		if s.state != StateIdle {
			return rejectState(msg.Action, s.state)
		}
		if msg.Delay > 0 {
			s.delay = time.Duration(msg.Delay * float64(time.Second))
		}
		if msg.Speed > 0 {
			s.speed = msg.Speed
		}
		s.startPlaying(play)
		s.log.Info("▶️ Сессия %s: воспроизведение запущено (delay=%s, speed=%.2f)", s.key, s.delay, s.speed)

	case protocol.ActionPause:
		if s.state != StatePlaying {
			return rejectState(msg.Action, s.state)
		}
		s.state = StatePaused
		stopTimer(play)
		if s.opts.PauseTimeout > 0 {
			pause.Reset(s.opts.PauseTimeout)
		}

	case protocol.ActionResume:
		if s.state != StatePaused {
			return rejectState(msg.Action, s.state)
		}
		stopTimer(pause)
		s.state = StatePlaying
		play.Reset(s.effectiveDelay())

	case protocol.ActionSpeed:
		if s.state != StatePlaying && s.state != StatePaused {
			return rejectState(msg.Action, s.state)
		}
		// действует со следующего чанка: взведенный таймер не трогаем
		s.speed = msg.Speed

	case protocol.ActionScrub:
		if s.state != StatePlaying && s.state != StatePaused {
			return rejectState(msg.Action, s.state)
		}
		pos := *msg.Position
		if pos >= s.details.ChunkCount {
			return protocol.NewRejection(protocol.ReasonOutOfRangeParameter,
				"scrub position beyond end of recording")
		}
		s.cursor = pos
		if s.state == StatePlaying {
			play.Reset(s.effectiveDelay())
		}

	case protocol.ActionStop:
		// отключение отправителя выполняет клиентский менеджер после ack
	}

	return nil
}

func rejectState(action protocol.Action, state State) *protocol.Rejection {
	return protocol.NewRejection(protocol.ReasonInvalidActionForState,
		string(action)+" is not valid in state "+string(state))
}

// startPlaying взводит немедленный тик: первый чанк уходит сразу,
// последующие — через effectiveDelay.
func (s *Scheduler) startPlaying(play *time.Timer) {
	s.state = StatePlaying
	s.retriesLeft = s.opts.ReadRetries
	play.Reset(0)
}

// effectiveDelay пауза между чанками с учетом множителя скорости
func (s *Scheduler) effectiveDelay() time.Duration {
	return time.Duration(float64(s.delay) / s.speed)
}

// tick читает очередной чанк и рассылает его всем зрителям
func (s *Scheduler) tick(play *time.Timer) {
	if s.state != StatePlaying {
		// запоздалый тик после паузы или завершения
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	chunk, next, err := s.handle.ReadChunk(ctx, s.cursor)
	cancel()

	if err == storage.ErrEndOfData {
		s.state = StateCompleted
		s.broadcast(protocol.NewCompletedEvent(s.key.MatchID, s.cursor))
		s.log.Info("🏁 Сессия %s: запись исчерпана на курсоре %d", s.key, s.cursor)
		return
	}
	if err != nil {
		if s.retriesLeft > 0 {
			s.retriesLeft--
			s.log.Warn("Сессия %s: ошибка чтения курсора %d, повтор через %s: %v",
				s.key, s.cursor, s.opts.RetryBackoff, err)
			play.Reset(s.opts.RetryBackoff)
			return
		}
		s.state = StateFaulted
		s.log.Error("💥 Сессия %s: повторы чтения исчерпаны: %v", s.key, err)
		s.broadcast(protocol.NewFaultedEvent(s.key.MatchID, err.Error()))
		return
	}

	s.retriesLeft = s.opts.ReadRetries
	s.broadcast(protocol.NewChunkEvent(s.key.MatchID, chunk.Index, chunk.Payload))
	chunksBroadcast.Inc()
	s.cursor = next
	play.Reset(s.effectiveDelay())
}

// autoResume снимает затянувшуюся паузу (TTL паузы из конфигурации)
func (s *Scheduler) autoResume(play *time.Timer) {
	if s.state != StatePaused || s.opts.PauseTimeout <= 0 {
		return
	}
	s.log.Info("⏯️ Сессия %s: пауза превысила %s, автовозобновление", s.key, s.opts.PauseTimeout)
	s.state = StatePlaying
	play.Reset(s.effectiveDelay())
}

// broadcast доставляет событие каждому зрителю и ретранслирует в шину
func (s *Scheduler) broadcast(ev protocol.Event) {
	s.relay(ev)
	for id, sub := range s.subs {
		s.deliver(id, sub, ev)
	}
}

// deliver кладет событие в очередь зрителя. Переполнение не блокирует
// цикл: вытесняется самое старое событие зрителя; подряд идущие
// переполнения засчитываются, и после лимита зритель отключается.
func (s *Scheduler) deliver(id string, sub *subscriber, ev protocol.Event) {
	select {
	case sub.events <- ev:
		sub.strikes = 0
		return
	default:
	}

	select {
	case <-sub.events:
		droppedEvents.Inc()
	default:
	}
	select {
	case sub.events <- ev:
	default:
	}

	sub.strikes++
	if sub.strikes >= s.opts.OverflowStrikes {
		s.evictSlow(id, sub)
	}
}

// evictSlow отключает зрителя, систематически не успевающего читать
func (s *Scheduler) evictSlow(id string, sub *subscriber) {
	slowConsumerDetaches.Inc()
	s.log.Warn("🐌 Сессия %s: зритель %s отключен как медленный потребитель", s.key, id)

	rej := protocol.NewRejection(protocol.ReasonSlowConsumer, "event queue overflowed repeatedly")
	select {
	case <-sub.events:
	default:
	}
	select {
	case sub.events <- protocol.NewErrorEvent(s.key.MatchID, rej):
	default:
	}
	s.detach(id)
}

// relay публикует событие в шину (fire-and-forget)
func (s *Scheduler) relay(ev protocol.Event) {
	if s.bus == nil {
		return
	}
	payload, err := ev.Encode()
	if err != nil {
		return
	}
	_ = s.bus.Publish(context.Background(), &eventbus.Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    "scheduler",
		EventType: string(ev.Type),
		MatchID:   s.key.MatchID,
		Payload:   payload,
	})
}

// cleanup завершает цикл: закрывает очереди зрителей и хендл хранилища,
// отвечает SchedulerDestroyed всем командам, застрявшим в очереди.
func (s *Scheduler) cleanup(play, pause *time.Timer) {
	stopTimer(play)
	stopTimer(pause)

	s.state = StateDestroyed
	for id, sub := range s.subs {
		delete(s.subs, id)
		close(sub.events)
	}
	s.viewerCount.Store(0)

	if err := s.handle.Close(); err != nil {
		s.log.Warn("Сессия %s: ошибка закрытия хендла хранилища: %v", s.key, err)
	}

	for {
		select {
		case cmd := <-s.cmds:
			cmd.reply <- cmdResult{rej: rejectDestroyed()}
		default:
			return
		}
	}
}

// stopTimer останавливает таймер и очищает канал, если тик уже случился
func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
