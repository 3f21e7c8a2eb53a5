package entity

import (
	"github.com/annel0/kenshi-mp/internal/vec"
)

// Адаптеры к подсистеме сохранений.
// Ядро не пишет на диск само: save-записи строятся только из EntityState,
// а формат на диске — забота внешнего хранилища.

// EntitySaveRecord — запись одной сущности в сохранении мира
type EntitySaveRecord struct {
	ID       string             `json:"id"`
	Type     EntityType         `json:"type"`
	OwnerID  string             `json:"owner,omitempty"`
	Position vec.Vec3           `json:"position"`
	Rotation vec.Quat           `json:"rotation"`
	Health   float64            `json:"health"`
	Limbs    map[string]float64 `json:"limbs,omitempty"`
	Alive    bool               `json:"alive"`
}

// WorldSaveRecord — снимок мира для сохранения между перезапусками
type WorldSaveRecord struct {
	Version  int                `json:"version"`
	GameTime float64            `json:"game_time"`
	Day      int                `json:"day"`
	Weather  int                `json:"weather"`
	Entities []EntitySaveRecord `json:"entities"`
}

// SaveFormatVersion — текущая версия формата сохранений
const SaveFormatVersion = 1

// ToSaveRecord строит save-запись из состояния сущности
func (e *EntityState) ToSaveRecord() EntitySaveRecord {
	record := EntitySaveRecord{
		ID:       e.ID,
		Type:     e.Type,
		OwnerID:  e.OwnerID,
		Position: e.Position,
		Rotation: e.Rotation,
		Health:   e.Health,
		Alive:    e.IsAlive(),
	}

	if e.Limbs != nil {
		record.Limbs = make(map[string]float64, len(e.Limbs))
		for k, v := range e.Limbs {
			record.Limbs[k] = v
		}
	}

	return record
}

// FromSaveRecord восстанавливает состояние сущности из save-записи.
// Velocity и CurrentAction не сохраняются: после загрузки сущность покоится.
func FromSaveRecord(record EntitySaveRecord) *EntityState {
	state := NewEntityState(record.ID, record.Type)
	state.OwnerID = record.OwnerID
	state.Position = record.Position
	state.Rotation = record.Rotation
	state.Health = record.Health

	if record.Limbs != nil {
		state.Limbs = make(map[string]float64, len(record.Limbs))
		for k, v := range record.Limbs {
			state.Limbs[k] = v
		}
	}

	return state
}
