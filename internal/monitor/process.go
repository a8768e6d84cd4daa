package monitor

import (
	"os"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/annel0/match-replay/internal/logging"
)

// Метрики процесса сервиса
var (
	processCPUPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "replay_process_cpu_percent",
		Help: "Загрузка CPU процессом сервиса",
	})

	processMemoryBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "replay_process_memory_bytes",
		Help: "RSS память процесса сервиса",
	})

	goroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "replay_goroutines",
		Help: "Количество горутин процесса",
	})
)

func init() {
	prometheus.MustRegister(processCPUPercent, processMemoryBytes, goroutineCount)
}

// ProcessMonitor периодически снимает метрики собственного процесса
type ProcessMonitor struct {
	proc *process.Process
	log  *logging.Logger
	done chan struct{}
}

// StartProcessMonitor запускает фоновый сбор метрик процесса
func StartProcessMonitor(interval time.Duration) (*ProcessMonitor, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}

	m := &ProcessMonitor{
		proc: proc,
		log:  logging.GetComponentLogger("monitor"),
		done: make(chan struct{}),
	}
	go m.loop(interval)
	return m, nil
}

func (m *ProcessMonitor) loop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.collect()
		case <-m.done:
			return
		}
	}
}

func (m *ProcessMonitor) collect() {
	if cpu, err := m.proc.CPUPercent(); err == nil {
		processCPUPercent.Set(cpu)
	}
	if mem, err := m.proc.MemoryInfo(); err == nil && mem != nil {
		processMemoryBytes.Set(float64(mem.RSS))
	}
	goroutineCount.Set(float64(runtime.NumGoroutine()))
}

// Stop останавливает сбор метрик
func (m *ProcessMonitor) Stop() {
	close(m.done)
}
