package metrics

import (
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/annel0/kenshi-mp/internal/logging"
)

// ServerMetrics — доменные счётчики сервера в Prometheus
type ServerMetrics struct {
	TicksProduced     prometheus.Counter
	SnapshotsProduced prometheus.Counter
	DeltasApplied     prometheus.Counter
	ConflictsDetected *prometheus.CounterVec
	TradesCompleted   prometheus.Counter
	TradesFailed      prometheus.Counter
	ConnectedPlayers  prometheus.Gauge
	TickDuration      prometheus.Histogram

	startTime time.Time
	server    *http.Server
}

// NewServerMetrics регистрирует метрики в реестре по умолчанию
func NewServerMetrics() *ServerMetrics {
	const ns = "kmp"

	return &ServerMetrics{
		TicksProduced: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "ticks_produced_total",
			Help: "Количество произведённых тиков мира",
		}),
		SnapshotsProduced: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "snapshots_produced_total",
			Help: "Количество тиков с полным снапшотом",
		}),
		DeltasApplied: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "deltas_applied_total",
			Help: "Количество принятых клиентских дельт",
		}),
		ConflictsDetected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "conflicts_detected_total",
			Help: "Количество обнаруженных конфликтов состояния",
		}, []string{"type"}),
		TradesCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "trades_completed_total",
			Help: "Количество успешно завершённых обменов",
		}),
		TradesFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "trades_failed_total",
			Help: "Количество проваленных обменов",
		}),
		ConnectedPlayers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "connected_players",
			Help: "Текущее количество подключённых игроков",
		}),
		TickDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Name: "tick_duration_seconds",
			Help:    "Длительность производства одного тика",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 10),
		}),
		startTime: time.Now(),
	}
}

// StartHTTP поднимает /metrics на указанном адресе
func (sm *ServerMetrics) StartHTTP(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	sm.server = &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger := logging.GetComponentLogger("metrics")
		logger.Info("📈 Prometheus метрики на %s/metrics", addr)
		if err := sm.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("❌ Сервер метрик: %v", err)
		}
	}()
}

// StopHTTP останавливает сервер метрик
func (sm *ServerMetrics) StopHTTP() {
	if sm.server != nil {
		sm.server.Close()
	}
}

// GetUptime возвращает время работы сервера в человекочитаемом виде
func (sm *ServerMetrics) GetUptime() string {
	uptime := time.Since(sm.startTime)

	days := int(uptime.Hours()) / 24
	hours := int(uptime.Hours()) % 24
	minutes := int(uptime.Minutes()) % 60
	seconds := int(uptime.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dд %dч %dм %dс", days, hours, minutes, seconds)
	} else if hours > 0 {
		return fmt.Sprintf("%dч %dм %dс", hours, minutes, seconds)
	} else if minutes > 0 {
		return fmt.Sprintf("%dм %dс", minutes, seconds)
	}
	return fmt.Sprintf("%dс", seconds)
}

// GetMemoryUsage возвращает использование памяти процессом в MB
func (sm *ServerMetrics) GetMemoryUsage() float64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return float64(m.Alloc) / 1024 / 1024
}

// GetCPUUsage возвращает использование CPU процессом в процентах
func (sm *ServerMetrics) GetCPUUsage() (float64, error) {
	pid := int32(os.Getpid())
	proc, err := process.NewProcess(pid)
	if err != nil {
		return 0, err
	}

	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		// Если метрика процесса недоступна, берём системную
		cpuPercents, err := cpu.Percent(100*time.Millisecond, false)
		if err != nil || len(cpuPercents) == 0 {
			return 0, err
		}
		return cpuPercents[0], nil
	}

	return cpuPercent, nil
}

// GetDetailedMemoryStats возвращает детальную статистику памяти
func (sm *ServerMetrics) GetDetailedMemoryStats() map[string]interface{} {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return map[string]interface{}{
		"alloc_mb":       float64(m.Alloc) / 1024 / 1024,
		"total_alloc_mb": float64(m.TotalAlloc) / 1024 / 1024,
		"sys_mb":         float64(m.Sys) / 1024 / 1024,
		"heap_alloc_mb":  float64(m.HeapAlloc) / 1024 / 1024,
		"heap_sys_mb":    float64(m.HeapSys) / 1024 / 1024,
		"num_gc":         m.NumGC,
		"goroutines":     runtime.NumGoroutine(),
	}
}
