package state

import (
	"encoding/json"
	"fmt"

	"github.com/annel0/kenshi-mp/internal/entity"
)

// DeltaEntry — одна сущность внутри StateDelta.
// Сущность передаётся целиком (перезапись, не пополевое слияние).
type DeltaEntry struct {
	Kind  entity.DeltaKind    `json:"kind"`
	State *entity.EntityState `json:"state"`
}

// StateDelta — пакет изменений состояния между сервером и клиентом.
// BaseStateID — тик, относительно которого построена дельта;
// 0 означает полный ресинк (FullState == true, включены все сущности).
type StateDelta struct {
	BaseStateID uint64       `json:"base_state_id"`
	TickID      uint64       `json:"tick_id"`
	FullState   bool         `json:"full_state"`
	Entries     []DeltaEntry `json:"entries,omitempty"`
}

// EntityIDs возвращает идентификаторы всех затронутых сущностей
func (sd *StateDelta) EntityIDs() []string {
	ids := make([]string, 0, len(sd.Entries))
	for _, e := range sd.Entries {
		if e.State != nil {
			ids = append(ids, e.State.ID)
		}
	}
	return ids
}

// ToJSON сериализует дельту в канонический JSON
func (sd *StateDelta) ToJSON() ([]byte, error) {
	data, err := json.Marshal(sd)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации StateDelta: %w", err)
	}
	return data, nil
}

// StateDeltaFromJSON восстанавливает дельту из JSON
func StateDeltaFromJSON(data []byte) (*StateDelta, error) {
	var sd StateDelta
	if err := json.Unmarshal(data, &sd); err != nil {
		return nil, fmt.Errorf("ошибка десериализации StateDelta: %w", err)
	}
	return &sd, nil
}
