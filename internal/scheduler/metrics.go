package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Метрики подсистемы воспроизведения
var (
	activeSchedulers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "replay_active_schedulers",
		Help: "Количество живых планировщиков воспроизведения",
	})

	chunksBroadcast = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "replay_chunks_broadcast_total",
		Help: "Всего чанков, разосланных зрителям",
	})

	commandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "replay_commands_total",
		Help: "Управляющие команды по действию и результату",
	}, []string{"action", "result"})

	droppedEvents = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "replay_dropped_events_total",
		Help: "События, вытесненные из переполненных очередей зрителей",
	})

	slowConsumerDetaches = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "replay_slow_consumer_detaches_total",
		Help: "Зрители, отключенные за систематическое переполнение очереди",
	})
)

func init() {
	prometheus.MustRegister(
		activeSchedulers,
		chunksBroadcast,
		commandsTotal,
		droppedEvents,
		slowConsumerDetaches,
	)
}
