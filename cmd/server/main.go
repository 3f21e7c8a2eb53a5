package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/annel0/kenshi-mp/internal/config"
	"github.com/annel0/kenshi-mp/internal/eventbus"
	"github.com/annel0/kenshi-mp/internal/logging"
	"github.com/annel0/kenshi-mp/internal/metrics"
	"github.com/annel0/kenshi-mp/internal/observability"
	"github.com/annel0/kenshi-mp/internal/server"
	"github.com/annel0/kenshi-mp/internal/session"
	"github.com/annel0/kenshi-mp/internal/state"
	"github.com/annel0/kenshi-mp/internal/storage"
	"github.com/annel0/kenshi-mp/internal/tick"
	"github.com/annel0/kenshi-mp/internal/trade"
)

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации (или ENV KMP_CONFIG)")
	hostID := flag.String("host", "host", "идентификатор игрока-хоста")
	flag.Parse()

	// Инициализируем систему логирования
	if err := logging.InitDefaultLogger("server"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()

	logging.Info("🎮 Запуск Kenshi MP сервера...")

	// === КОНФИГУРАЦИЯ ===
	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Error("❌ Ошибка чтения конфигурации: %v", err)
		log.Fatalf("❌ Ошибка чтения конфигурации: %v", err)
	}
	if cfg == nil {
		cfg = &config.Config{}
	}

	tickRate := cfg.Server.GetTickRateHz()
	snapshotInterval := uint64(cfg.Server.GetSnapshotInterval())
	logging.Info("📡 Конфигурация: %d Гц, снапшот каждые %d тиков, до %d игроков",
		tickRate, snapshotInterval, cfg.Server.GetMaxPlayers())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// === ТЕЛЕМЕТРИЯ ===
	telemetryShutdown, err := observability.InitTelemetry(ctx, "kenshi-mp-server")
	if err != nil {
		logging.Warn("⚠️ OpenTelemetry недоступен: %v", err)
	} else {
		defer telemetryShutdown(context.Background())
	}

	// === ШИНА СОБЫТИЙ ===
	var bus eventbus.EventBus
	if cfg.EventBus.URL != "" {
		retention := time.Duration(cfg.EventBus.Retention) * time.Hour
		if retention == 0 {
			retention = 24 * time.Hour
		}
		jsBus, err := eventbus.NewJetStreamBus(cfg.EventBus.URL, cfg.EventBus.Stream, retention)
		if err != nil {
			logging.Error("❌ Подключение к NATS: %v", err)
			log.Fatalf("❌ Подключение к NATS: %v", err)
		}
		defer jsBus.Close()
		bus = jsBus
		logging.Info("📨 Шина событий: JetStream (%s)", cfg.EventBus.URL)
	} else {
		bus = eventbus.NewMemoryBus(1024)
		logging.Info("📨 Шина событий: in-memory")
	}
	if err := eventbus.StartLoggingListener(bus); err != nil {
		logging.Warn("⚠️ LoggingListener не запущен: %v", err)
	}

	// === ХРАНИЛИЩА ===
	worldStorage, err := storage.NewWorldStorage(cfg.Storage.GetDataPath())
	if err != nil {
		logging.Error("❌ Открытие хранилища мира: %v", err)
		log.Fatalf("❌ Открытие хранилища мира: %v", err)
	}
	defer worldStorage.Close()

	var poseRepo storage.PoseRepo
	switch {
	case cfg.Storage.RedisAddr != "":
		redisCfg := storage.DefaultRedisConfig()
		redisCfg.Addr = cfg.Storage.RedisAddr
		poseRepo, err = storage.NewRedisPoseRepo(redisCfg)
	case cfg.Storage.MariaDSN != "":
		poseRepo, err = storage.NewMariaPoseRepo(cfg.Storage.MariaDSN)
	default:
		poseRepo = storage.NewMemoryPoseRepo()
		logging.Info("💾 Позы игроков: in-memory (внешнее хранилище не настроено)")
	}
	if err != nil {
		logging.Error("❌ Подключение к хранилищу поз: %v", err)
		log.Fatalf("❌ Подключение к хранилищу поз: %v", err)
	}
	defer poseRepo.Close()

	// === ИГРОВЫЕ КОМПОНЕНТЫ ===
	gameVersion := cfg.Server.GameVersion
	if gameVersion == "" {
		gameVersion = "1.0.64"
	}
	modVersion := cfg.Server.ModVersion
	if modVersion == "" {
		modVersion = "0.1.0"
	}
	protocolVersion := cfg.Server.ProtocolVersion
	if protocolVersion == 0 {
		protocolVersion = 1
	}

	host := &session.PlayerIdentity{
		PlayerID:        *hostID,
		Name:            *hostID,
		GameVersion:     gameVersion,
		ModVersion:      modVersion,
		ProtocolVersion: protocolVersion,
	}
	sess := session.NewSession(host, gameVersion, modVersion, protocolVersion)

	history := tick.NewTickHistory(cfg.Server.GetHistoryCapacity())
	stateManager := state.NewStateManager(true, bus, history)
	tradeManager := trade.NewTradeManager(trade.NewMemoryLedger(), bus)

	serverMetrics := metrics.NewServerMetrics()
	serverMetrics.StartHTTP(fmt.Sprintf(":%d", cfg.Server.GetMetricsPort()))
	defer serverMetrics.StopHTTP()
	wireMetrics(ctx, bus, serverMetrics)

	busMetrics := eventbus.NewMetricsExporter(bus)
	busMetrics.Start()
	defer busMetrics.Stop()

	gameServer, err := server.NewGameServer(server.Options{
		Session:          sess,
		StateManager:     stateManager,
		History:          history,
		Bus:              bus,
		WorldStorage:     worldStorage,
		PoseRepo:         poseRepo,
		TradeManager:     tradeManager,
		Metrics:          serverMetrics,
		TickRateHz:       tickRate,
		SnapshotInterval: snapshotInterval,
		AutosaveInterval: time.Duration(cfg.Storage.GetAutosaveSec()) * time.Second,
	})
	if err != nil {
		logging.Error("❌ Создание игрового сервера: %v", err)
		log.Fatalf("❌ Создание игрового сервера: %v", err)
	}

	if err := gameServer.Start(ctx); err != nil {
		logging.Error("❌ Запуск игрового сервера: %v", err)
		log.Fatalf("❌ Запуск игрового сервера: %v", err)
	}

	// Хост сразу запускает симуляцию
	sess.Start(*hostID)

	logging.Info("✅ Сервер готов: сессия %s", sess.ID)
	logging.Info("   📈 Метрики: http://localhost:%d/metrics", cfg.Server.GetMetricsPort())

	// Ждём сигнала для завершения
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logging.Info("📡 Получен сигнал %v, завершение работы...", sig)

	// === GRACEFUL SHUTDOWN ===
	gameServer.Stop()
	cancel()

	logging.Info("👋 Сервер успешно остановлен")
}

// wireMetrics подписывает счётчики Prometheus на события шины
func wireMetrics(ctx context.Context, bus eventbus.EventBus, m *metrics.ServerMetrics) {
	bus.Subscribe(ctx, eventbus.Filter{
		Types: []string{
			eventbus.EventTradeCompleted,
			eventbus.EventTradeFailed,
			eventbus.EventDeltaApplied,
			eventbus.EventStateConflict,
		},
	}, func(_ context.Context, ev *eventbus.Envelope) {
		switch ev.EventType {
		case eventbus.EventTradeCompleted:
			m.TradesCompleted.Inc()
		case eventbus.EventTradeFailed:
			m.TradesFailed.Inc()
		case eventbus.EventDeltaApplied:
			m.DeltasApplied.Inc()
		case eventbus.EventStateConflict:
			var conflict struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal(ev.Payload, &conflict); err == nil && conflict.Type != "" {
				m.ConflictsDetected.WithLabelValues(conflict.Type).Inc()
			}
		}
	})
}
