package state

import (
	"github.com/annel0/kenshi-mp/internal/entity"
)

// DeltaCompressor строит StateDelta между двумя снимками сущностей.
// Сравнение неглубокое: позиция, вращение и текущее действие.
// Изменившаяся сущность включается в дельту целиком.
type DeltaCompressor struct{}

// NewDeltaCompressor создаёт компрессор дельт
func NewDeltaCompressor() *DeltaCompressor {
	return &DeltaCompressor{}
}

// CreateDelta возвращает дельту от снимка from к снимку to.
// Сущности, присутствующие в from и исчезнувшие в to, в дельту
// не попадают: клиент узнаёт об удалениях только из полного снапшота.
func (dc *DeltaCompressor) CreateDelta(from, to map[string]*entity.EntityState, baseStateID, tickID uint64) *StateDelta {
	delta := &StateDelta{
		BaseStateID: baseStateID,
		TickID:      tickID,
	}

	for id, current := range to {
		previous, existed := from[id]
		if !existed {
			delta.Entries = append(delta.Entries, DeltaEntry{
				Kind:  entity.DeltaCreated,
				State: current.Clone(),
			})
			continue
		}

		if dc.hasChanged(previous, current) {
			delta.Entries = append(delta.Entries, DeltaEntry{
				Kind:  entity.DeltaUpdated,
				State: current.Clone(),
			})
		}
	}

	return delta
}

// CreateFullDelta строит полный ресинк: BaseStateID = 0, все сущности
func (dc *DeltaCompressor) CreateFullDelta(current map[string]*entity.EntityState, tickID uint64) *StateDelta {
	delta := &StateDelta{
		BaseStateID: 0,
		TickID:      tickID,
		FullState:   true,
	}

	for _, e := range current {
		delta.Entries = append(delta.Entries, DeltaEntry{
			Kind:  entity.DeltaCreated,
			State: e.Clone(),
		})
	}

	return delta
}

func (dc *DeltaCompressor) hasChanged(previous, current *entity.EntityState) bool {
	if !previous.Position.Equals(current.Position) {
		return true
	}
	if !previous.Rotation.Equals(current.Rotation) {
		return true
	}
	if previous.CurrentAction != current.CurrentAction {
		return true
	}
	return false
}
