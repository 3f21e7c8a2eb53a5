package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/kenshi-mp/internal/entity"
	"github.com/annel0/kenshi-mp/internal/vec"
)

func newTestWorldStorage(t *testing.T) *WorldStorage {
	t.Helper()
	ws, err := NewWorldStorage(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func sampleRecord() *entity.WorldSaveRecord {
	e := entity.NewEntityState("char-1", entity.TypePlayer)
	e.Position = vec.Vec3{X: 42, Z: -7}
	e.Health = 80

	return &entity.WorldSaveRecord{
		Version:  entity.SaveFormatVersion,
		GameTime: 12.5,
		Day:      3,
		Weather:  1,
		Entities: []entity.EntitySaveRecord{e.ToSaveRecord()},
	}
}

func TestWorldStorageSaveLoad(t *testing.T) {
	ws := newTestWorldStorage(t)

	require.NoError(t, ws.SaveWorld("session-1", sampleRecord()))

	loaded, found, err := ws.LoadWorld("session-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 12.5, loaded.GameTime)
	assert.Equal(t, 3, loaded.Day)
	require.Len(t, loaded.Entities, 1)
	assert.Equal(t, "char-1", loaded.Entities[0].ID)
	assert.Equal(t, vec.Vec3{X: 42, Z: -7}, loaded.Entities[0].Position)
}

func TestWorldStorageLoadMissing(t *testing.T) {
	ws := newTestWorldStorage(t)

	record, found, err := ws.LoadWorld("nope")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, record)
}

func TestWorldStorageOverwrite(t *testing.T) {
	ws := newTestWorldStorage(t)

	first := sampleRecord()
	require.NoError(t, ws.SaveWorld("session-1", first))

	second := sampleRecord()
	second.Day = 10
	require.NoError(t, ws.SaveWorld("session-1", second))

	loaded, found, err := ws.LoadWorld("session-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 10, loaded.Day, "повторное сохранение перезаписывает снимок")
}

func TestWorldStorageRejectsNewerFormat(t *testing.T) {
	ws := newTestWorldStorage(t)

	record := sampleRecord()
	record.Version = entity.SaveFormatVersion + 1
	require.NoError(t, ws.SaveWorld("session-1", record))

	_, _, err := ws.LoadWorld("session-1")
	assert.Error(t, err, "сохранение из будущей версии формата не загружается")
}

func TestWorldStorageDeleteAndList(t *testing.T) {
	ws := newTestWorldStorage(t)

	require.NoError(t, ws.SaveWorld("session-a", sampleRecord()))
	require.NoError(t, ws.SaveWorld("session-b", sampleRecord()))

	sessions, err := ws.ListSessions()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"session-a", "session-b"}, sessions)

	require.NoError(t, ws.DeleteWorld("session-a"))

	sessions, err = ws.ListSessions()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"session-b"}, sessions)

	_, found, err := ws.LoadWorld("session-a")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestWorldStorageClosedRejectsOps(t *testing.T) {
	ws, err := NewWorldStorage(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, ws.Close())

	assert.Error(t, ws.SaveWorld("s", sampleRecord()))
	_, _, err = ws.LoadWorld("s")
	assert.Error(t, err)
	assert.NoError(t, ws.Close(), "повторное закрытие — no-op")
}
