package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/annel0/match-replay/internal/auth"
	"github.com/annel0/match-replay/internal/catalog"
	"github.com/annel0/match-replay/internal/client"
	"github.com/annel0/match-replay/internal/config"
	"github.com/annel0/match-replay/internal/eventbus"
	"github.com/annel0/match-replay/internal/logging"
	"github.com/annel0/match-replay/internal/monitor"
	"github.com/annel0/match-replay/internal/network"
	"github.com/annel0/match-replay/internal/observability"
	"github.com/annel0/match-replay/internal/scheduler"
	"github.com/annel0/match-replay/internal/storage"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации")
	flag.Parse()

	if err := logging.InitDefaultLogger("server"); err != nil {
		fmt.Printf("Ошибка инициализации логгера: %v\n", err)
		os.Exit(1)
	}
	defer logging.CloseDefaultLogger()

	logging.Info("🎾 Match Replay Server v%s запускается...", version)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Error("Ошибка загрузки конфигурации: %v", err)
		os.Exit(1)
	}
	if cfg == nil {
		cfg = config.Default()
		logging.Info("Конфигурация не задана, используются значения по умолчанию")
	}

	if cfg.Auth.JWTSecret != "" {
		if err := auth.SetJWTSecret(cfg.Auth.JWTSecret); err != nil {
			logging.Error("Ошибка установки JWT секрета: %v", err)
			os.Exit(1)
		}
	}

	ctx := context.Background()

	telemetry, err := observability.InitTelemetry(ctx, "match-replay", version)
	if err != nil {
		logging.Warn("Трассировка не запущена: %v", err)
	}

	// Хранилище записей матчей
	store, err := storage.NewFromConfig(&cfg.Storage)
	if err != nil {
		logging.Error("Ошибка инициализации хранилища: %v", err)
		os.Exit(1)
	}
	logging.Info("💾 Хранилище записей: %s", cfg.Storage.GetBackend())

	// Каталог метаданных матчей
	cat, err := catalog.NewFromConfig(&cfg.Catalog)
	if err != nil {
		logging.Error("Ошибка инициализации каталога: %v", err)
		os.Exit(1)
	}

	// Шина событий: ретрансляция чанков внешним потребителям
	var bus eventbus.EventBus
	if cfg.EventBus.Enabled {
		retention := time.Duration(cfg.EventBus.Retention) * time.Hour
		if retention <= 0 {
			retention = 24 * time.Hour
		}
		jsBus, err := eventbus.NewJetStreamBus(cfg.EventBus.URL, cfg.EventBus.Stream, retention)
		if err != nil {
			logging.Warn("JetStream недоступен, ретрансляция через in-memory шину: %v", err)
			bus = eventbus.NewMemoryBus(1024)
		} else {
			bus = jsBus
			defer jsBus.Close()
			logging.Info("📨 Шина событий: NATS JetStream (%s)", cfg.EventBus.URL)
		}
	}

	// Ядро: реестр планировщиков и клиентский менеджер
	schedManager := scheduler.NewManager(store, cat, bus, &cfg.Playback)
	clientManager := client.NewManager(schedManager)

	// Мониторинг процесса
	procMonitor, err := monitor.StartProcessMonitor(15 * time.Second)
	if err != nil {
		logging.Warn("Мониторинг процесса не запущен: %v", err)
	}

	// Сервер метрик на отдельном порту
	metricsPort := cfg.Server.GetMetricsPort()
	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", metricsPort),
		Handler: promhttp.Handler(),
	}
	go func() {
		logging.Info("📊 Метрики доступны на :%d/metrics", metricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("Ошибка сервера метрик: %v", err)
		}
	}()

	// Основной HTTP сервер: websocket-точка входа и каталог матчей
	server := network.NewServer(clientManager, cat)
	go func() {
		if err := server.Start(cfg.Server.GetHTTPPort()); err != nil {
			logging.Error("HTTP сервер остановлен с ошибкой: %v", err)
			os.Exit(1)
		}
	}()

	logging.Info("✅ Сервис воспроизведения готов принимать зрителей")

	// Ожидание сигнала завершения
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logging.Info("🛑 Получен сигнал %v, начинаем остановку...", sig)

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logging.Warn("Ошибка остановки HTTP сервера: %v", err)
	}
	_ = metricsSrv.Shutdown(shutdownCtx)

	schedManager.Close()

	if procMonitor != nil {
		procMonitor.Stop()
	}
	if err := cat.Close(); err != nil {
		logging.Warn("Ошибка закрытия каталога: %v", err)
	}
	if err := store.Close(); err != nil {
		logging.Warn("Ошибка закрытия хранилища: %v", err)
	}
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		logging.Warn("Ошибка остановки трассировки: %v", err)
	}
	_ = logging.GetLoggerManager().CloseAll()

	logging.Info("👋 Сервис остановлен")
}
