package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimeSyncOffset(t *testing.T) {
	ts := NewTimeSync()

	_, synced := ts.Offset()
	assert.False(t, synced, "до первого обновления оценка не синхронизирована")

	// Серверные часы на 2 секунды впереди локальных
	ts.Update(time.Now().Add(2 * time.Second))

	offset, synced := ts.Offset()
	assert.True(t, synced)
	assert.InDelta(t, 2.0, offset.Seconds(), 0.1)

	estimated := ts.Now()
	assert.InDelta(t, 2.0, time.Until(estimated).Seconds(), 0.1)
}

func TestTimeSyncUpdateOverrides(t *testing.T) {
	ts := NewTimeSync()

	ts.Update(time.Now().Add(5 * time.Second))
	ts.Update(time.Now().Add(-1 * time.Second))

	offset, _ := ts.Offset()
	assert.InDelta(t, -1.0, offset.Seconds(), 0.1, "каждая метка замещает прежнее смещение")
}
