package tick

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/kenshi-mp/internal/entity"
	"github.com/annel0/kenshi-mp/internal/vec"
)

func TestSnapshotCadenceDeterministic(t *testing.T) {
	// Полный снапшот тогда и только тогда, когда tickID кратен интервалу
	for tickID := uint64(1); tickID <= 200; tickID++ {
		wt := NewWorldTick(tickID, "s", 60)
		assert.Equal(t, tickID%60 == 0, wt.IsFullSnapshot, "тик %d", tickID)
	}

	// Нулевой интервал деградирует к значению по умолчанию
	wt := NewWorldTick(DefaultSnapshotInterval, "s", 0)
	assert.True(t, wt.IsFullSnapshot)
}

func TestComputeHashOrderIndependent(t *testing.T) {
	build := func(order []int) *WorldTick {
		wt := NewWorldTick(10, "session-1", 60)
		for _, i := range order {
			e := entity.NewEntityState(fmt.Sprintf("e-%d", i), entity.TypeNPC)
			e.Position = vec.Vec3{X: float64(i)}
			wt.AddEntity(e)
		}
		wt.ComputeHash()
		return wt
	}

	a := build([]int{1, 2, 3})
	b := build([]int{3, 1, 2})
	assert.Equal(t, a.Hash, b.Hash, "хэш не должен зависеть от порядка добавления")
}

func TestComputeHashSensitiveToState(t *testing.T) {
	wt := NewWorldTick(10, "session-1", 60)
	e := entity.NewEntityState("e-1", entity.TypeNPC)
	wt.AddEntity(e)
	base := wt.ComputeHash()

	e.Position.X = 0.001
	assert.NotEqual(t, base, wt.ComputeHash(), "изменение позиции должно менять хэш")

	e.Position.X = 0
	e.Health = 99
	assert.NotEqual(t, base, wt.ComputeHash(), "изменение здоровья должно менять хэш")
}

func TestWorldTickJSONRoundTrip(t *testing.T) {
	wt := NewWorldTick(120, "session-1", 60)
	wt.PlayerCount = 3
	wt.AddEntity(entity.NewEntityState("e-1", entity.TypePlayer))
	wt.ComputeHash()

	data, err := wt.ToJSON()
	require.NoError(t, err)

	restored, err := FromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, wt.TickID, restored.TickID)
	assert.Equal(t, wt.Hash, restored.Hash)
	assert.True(t, restored.IsFullSnapshot)
	assert.Equal(t, 3, restored.PlayerCount)
	assert.Len(t, restored.Entities, 1)
}

func TestTickHistoryEviction(t *testing.T) {
	history := NewTickHistory(5)

	for id := uint64(1); id <= 8; id++ {
		history.Add(NewWorldTick(id, "s", 60))
	}

	assert.Equal(t, 5, history.Len())
	assert.False(t, history.Contains(3), "старые тики вытеснены")
	assert.True(t, history.Contains(4))
	assert.True(t, history.Contains(8))

	latest := history.Latest()
	require.NotNil(t, latest)
	assert.Equal(t, uint64(8), latest.TickID)
}

func TestTickHistoryEmpty(t *testing.T) {
	history := NewTickHistory(0)
	assert.Equal(t, DefaultHistoryCapacity, history.Capacity())
	assert.Nil(t, history.Latest())
	assert.Equal(t, 0, history.Len())

	_, ok := history.Get(1)
	assert.False(t, ok)
}
