package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  tick_rate_hz: 30
  snapshot_interval: 120
  game_version: "1.0.64"
  mod_version: "0.2.1"
  protocol_version: 2
eventbus:
  url: "nats://localhost:4222"
  stream: "KMP_EVENTS"
  retention_hours: 48
storage:
  data_path: "/var/lib/kmp"
  redis_addr: "localhost:6379"
  autosave_sec: 15
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 30, cfg.Server.GetTickRateHz())
	assert.Equal(t, 120, cfg.Server.GetSnapshotInterval())
	assert.Equal(t, "1.0.64", cfg.Server.GameVersion)
	assert.Equal(t, 2, cfg.Server.ProtocolVersion)
	assert.Equal(t, "nats://localhost:4222", cfg.EventBus.URL)
	assert.Equal(t, 48, cfg.EventBus.Retention)
	assert.Equal(t, "/var/lib/kmp", cfg.Storage.GetDataPath())
	assert.Equal(t, "localhost:6379", cfg.Storage.RedisAddr)
	assert.Equal(t, 15, cfg.Storage.GetAutosaveSec())
}

func TestLoadMissingPathIsNotError(t *testing.T) {
	t.Setenv("KMP_CONFIG", "")
	cfg, err := Load("")
	assert.NoError(t, err)
	assert.Nil(t, cfg, "без конфига работаем на дефолтах")
}

func TestDefaultsWithoutConfig(t *testing.T) {
	var s ServerConfig
	t.Setenv("KMP_TICK_RATE_HZ", "")
	t.Setenv("KMP_SNAPSHOT_INTERVAL", "")

	assert.Equal(t, 20, s.GetTickRateHz())
	assert.Equal(t, 60, s.GetSnapshotInterval())
	assert.Equal(t, 100, s.GetHistoryCapacity())
	assert.Equal(t, 16, s.GetMaxPlayers())
	assert.Equal(t, 7777, s.GetGamePort())
	assert.Equal(t, 2112, s.GetMetricsPort())

	var st StorageConfig
	t.Setenv("KMP_AUTOSAVE_SEC", "")
	assert.Equal(t, 30, st.GetAutosaveSec())
}

func TestEnvFallbackPriority(t *testing.T) {
	t.Setenv("KMP_TICK_RATE_HZ", "25")

	// Конфиг важнее ENV
	s := ServerConfig{TickRateHz: 40}
	assert.Equal(t, 40, s.GetTickRateHz())

	// ENV важнее дефолта
	s.TickRateHz = 0
	assert.Equal(t, 25, s.GetTickRateHz())

	// Мусор в ENV игнорируется
	t.Setenv("KMP_TICK_RATE_HZ", "не число")
	assert.Equal(t, 20, s.GetTickRateHz())
}
