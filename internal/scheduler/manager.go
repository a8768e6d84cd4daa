package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/annel0/match-replay/internal/catalog"
	"github.com/annel0/match-replay/internal/config"
	"github.com/annel0/match-replay/internal/eventbus"
	"github.com/annel0/match-replay/internal/logging"
	"github.com/annel0/match-replay/internal/protocol"
	"github.com/annel0/match-replay/internal/storage"
)

// Manager реестр живых планировщиков: единственный источник истины
// для отображения ключ сессии → планировщик. Создает, дедуплицирует
// и разрушает сессии; фоновый уборщик добирает пустые сессии, чей
// льготный период истек.
type Manager struct {
	mu         sync.Mutex
	schedulers map[string]*Scheduler
	creating   map[string]*sync.Mutex

	store   storage.GameStorage
	catalog catalog.Repository
	bus     eventbus.EventBus
	cfg     *config.PlaybackConfig
	log     *logging.Logger

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewManager создает реестр и запускает фоновую уборку.
// catalog и bus могут быть nil — тогда соответствующие побочные
// эффекты (сводка матча, ретрансляция) просто не выполняются.
func NewManager(store storage.GameStorage, cat catalog.Repository, bus eventbus.EventBus, cfg *config.PlaybackConfig) *Manager {
	m := &Manager{
		schedulers: make(map[string]*Scheduler),
		creating:   make(map[string]*sync.Mutex),
		store:      store,
		catalog:    cat,
		bus:        bus,
		cfg:        cfg,
		log:        logging.GetSchedulerLogger(),
		done:       make(chan struct{}),
	}
	m.wg.Add(1)
	go m.sweepLoop()
	return m
}

// Resolve возвращает живой планировщик для ключа, создавая его при
// необходимости. Идемпотентный get-or-create: конкурентные вызовы с
// одним ключом получают один и тот же экземпляр — создание защищено
// пер-ключевым мьютексом с повторной проверкой реестра.
func (m *Manager) Resolve(ctx context.Context, key SessionKey, params Params) (*Scheduler, *protocol.Rejection) {
	k := key.String()

	m.mu.Lock()
	if s, ok := m.schedulers[k]; ok && !s.Destroyed() {
		m.mu.Unlock()
		return s, nil
	}
	lock, ok := m.creating[k]
	if !ok {
		lock = &sync.Mutex{}
		m.creating[k] = lock
	}
	m.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()

	// повторная проверка: конкурент мог создать, пока мы ждали мьютекс
	m.mu.Lock()
	if s, ok := m.schedulers[k]; ok && !s.Destroyed() {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	// хендл хранилища открывается до регистрации: при ошибке в реестре
	// ничего не появляется и вызывающий получает отказ
	handle, err := m.store.Open(ctx, key.MatchID)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, protocol.NewRejection(protocol.ReasonStorageUnavailable,
				fmt.Sprintf("match %q is not recorded", key.MatchID))
		}
		return nil, protocol.NewRejection(protocol.ReasonStorageUnavailable,
			fmt.Sprintf("cannot open recording: %v", err))
	}

	if params.Delay <= 0 {
		params.Delay = m.cfg.GetDefaultDelay()
	}
	if params.Speed <= 0 {
		params.Speed = m.cfg.GetDefaultSpeed()
	}

	s := newScheduler(key, handle, m.bus, params, Options{
		MaxSpeed:        m.cfg.GetMaxSpeed(),
		QueueCapacity:   m.cfg.GetQueueCapacity(),
		OverflowStrikes: m.cfg.GetOverflowStrikes(),
		ReadRetries:     m.cfg.GetReadRetries(),
		RetryBackoff:    m.cfg.GetRetryBackoff(),
		PauseTimeout:    m.cfg.GetPauseTimeout(),
	})
	go s.run()

	m.mu.Lock()
	m.schedulers[k] = s
	delete(m.creating, k)
	m.mu.Unlock()
	activeSchedulers.Inc()

	m.recordMatch(ctx, handle.Details())
	m.log.Info("🎾 Создан планировщик %s", k)
	return s, nil
}

// recordMatch обновляет сводку матча в каталоге (best-effort)
func (m *Manager) recordMatch(ctx context.Context, details storage.MatchDetails) {
	if m.catalog == nil {
		return
	}
	err := m.catalog.Put(ctx, &catalog.MatchInfo{
		MatchID:    details.MatchID,
		Teams:      details.Teams,
		ChunkCount: details.ChunkCount,
		PlayedAt:   time.Now().UTC(),
	})
	if err != nil {
		m.log.Warn("Не удалось обновить каталог матчей для %s: %v", details.MatchID, err)
	}
}

// Release отключает зрителя от сессии. Если зрителей не осталось:
// pvai разрушается немедленно (ключ никто другой не переиспользует),
// общие режимы получают льготный период на случай переподключения.
func (m *Manager) Release(key SessionKey, viewerID string) {
	m.mu.Lock()
	s, ok := m.schedulers[key.String()]
	m.mu.Unlock()
	if !ok || s.Destroyed() {
		return
	}

	s.Detach(viewerID)

	if s.ViewerCount() == 0 && key.Mode == protocol.ModePvAI {
		m.remove(key.String(), s)
	}
}

// Shutdown принудительно разрушает сессию независимо от зрителей
func (m *Manager) Shutdown(key SessionKey) {
	m.mu.Lock()
	s, ok := m.schedulers[key.String()]
	m.mu.Unlock()
	if ok {
		m.remove(key.String(), s)
	}
}

// remove выносит планировщик из реестра и останавливает его цикл
func (m *Manager) remove(k string, s *Scheduler) {
	m.mu.Lock()
	if cur, ok := m.schedulers[k]; ok && cur == s {
		delete(m.schedulers, k)
		activeSchedulers.Dec()
	}
	m.mu.Unlock()
	s.Destroy()
	m.log.Info("🗑️ Планировщик %s разрушен", k)
}

// Count возвращает число живых планировщиков
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.schedulers)
}

// sweepLoop периодически разрушает пустые сессии с истекшим льготным периодом
func (m *Manager) sweepLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.GetSweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.done:
			return
		}
	}
}

func (m *Manager) sweep() {
	grace := m.cfg.GetGracePeriod()
	now := time.Now()

	m.mu.Lock()
	expired := make(map[string]*Scheduler)
	for k, s := range m.schedulers {
		if s.Destroyed() {
			expired[k] = s
			continue
		}
		emptySince := s.EmptySince()
		if !emptySince.IsZero() && now.Sub(emptySince) > grace {
			expired[k] = s
		}
	}
	m.mu.Unlock()

	for k, s := range expired {
		m.remove(k, s)
	}
}

// Close разрушает все сессии и останавливает уборку
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
		m.wg.Wait()

		m.mu.Lock()
		all := make(map[string]*Scheduler, len(m.schedulers))
		for k, s := range m.schedulers {
			all[k] = s
		}
		m.mu.Unlock()

		for k, s := range all {
			m.remove(k, s)
		}
	})
}
