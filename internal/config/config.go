package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config — корневая структура конфигурации сервера
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	EventBus EventBusConfig `yaml:"eventbus"`
	Storage  StorageConfig  `yaml:"storage"`
}

// ServerConfig — параметры игрового цикла и сетевых портов
type ServerConfig struct {
	TickRateHz       int    `yaml:"tick_rate_hz"`
	SnapshotInterval int    `yaml:"snapshot_interval"`
	HistoryCapacity  int    `yaml:"history_capacity"`
	MaxPlayers       int    `yaml:"max_players"`
	GameVersion      string `yaml:"game_version"`
	ModVersion       string `yaml:"mod_version"`
	ProtocolVersion  int    `yaml:"protocol_version"`
	GamePort         int    `yaml:"game_port"`
	MetricsPort      int    `yaml:"metrics_port"`
}

// EventBusConfig — подключение к NATS JetStream.
// Пустой URL означает in-memory шину (одиночный сервер).
type EventBusConfig struct {
	URL       string `yaml:"url"`
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
}

// StorageConfig — слои хранения.
// RedisAddr и MariaDSN опциональны: без них позы держатся в памяти.
type StorageConfig struct {
	DataPath    string `yaml:"data_path"`
	RedisAddr   string `yaml:"redis_addr"`
	MariaDSN    string `yaml:"maria_dsn"`
	AutosaveSec int    `yaml:"autosave_sec"`
}

// GetTickRateHz возвращает частоту тиков с fallback значениями
func (s *ServerConfig) GetTickRateHz() int {
	return getIntWithEnvFallback(s.TickRateHz, "KMP_TICK_RATE_HZ", 20)
}

// GetSnapshotInterval возвращает период полных снимков в тиках
func (s *ServerConfig) GetSnapshotInterval() int {
	return getIntWithEnvFallback(s.SnapshotInterval, "KMP_SNAPSHOT_INTERVAL", 60)
}

// GetHistoryCapacity возвращает глубину истории тиков
func (s *ServerConfig) GetHistoryCapacity() int {
	return getIntWithEnvFallback(s.HistoryCapacity, "KMP_HISTORY_CAPACITY", 100)
}

// GetMaxPlayers возвращает предел игроков в сессии
func (s *ServerConfig) GetMaxPlayers() int {
	return getIntWithEnvFallback(s.MaxPlayers, "KMP_MAX_PLAYERS", 16)
}

// GetGamePort возвращает игровой порт с поддержкой fallback значений
func (s *ServerConfig) GetGamePort() int {
	return getIntWithEnvFallback(s.GamePort, "KMP_GAME_PORT", 7777)
}

// GetMetricsPort возвращает порт Prometheus метрик
func (s *ServerConfig) GetMetricsPort() int {
	return getIntWithEnvFallback(s.MetricsPort, "KMP_METRICS_PORT", 2112)
}

// GetDataPath возвращает каталог данных
func (st *StorageConfig) GetDataPath() string {
	if st.DataPath != "" {
		return st.DataPath
	}
	if envVal := os.Getenv("KMP_DATA_PATH"); envVal != "" {
		return envVal
	}
	return "./data"
}

// GetAutosaveSec возвращает период автосохранения мира в секундах
func (st *StorageConfig) GetAutosaveSec() int {
	return getIntWithEnvFallback(st.AutosaveSec, "KMP_AUTOSAVE_SEC", 30)
}

// getIntWithEnvFallback возвращает значение с приоритетом: config → env → default
func getIntWithEnvFallback(configVal int, envVar string, defaultVal int) int {
	if configVal > 0 {
		return configVal
	}

	if envVal := os.Getenv(envVar); envVal != "" {
		if v, err := strconv.Atoi(envVal); err == nil && v > 0 {
			return v
		}
	}

	return defaultVal
}

// Load читает YAML файл конфигурации.
// Если path == "", пытается прочитать из ENV KMP_CONFIG или возвращает nil, nil.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("KMP_CONFIG")
		if path == "" {
			return nil, nil // конфиг не задан — использовать дефолты
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
