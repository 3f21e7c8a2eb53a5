package entity

import (
	"encoding/json"
	"fmt"
)

// DeltaKind определяет вид изменения сущности
type DeltaKind string

const (
	DeltaCreated DeltaKind = "created"
	DeltaUpdated DeltaKind = "updated"
	DeltaRemoved DeltaKind = "removed"
)

// EntityDelta — запись об одном изменении сущности.
// После создания не мутируется.
type EntityDelta struct {
	EntityID string                 `json:"entity_id"`
	Kind     DeltaKind              `json:"kind"`
	Changes  map[string]interface{} `json:"changes,omitempty"`
	TickID   uint64                 `json:"tick_id"`
}

// NewEntityDelta создаёт запись изменения
func NewEntityDelta(entityID string, kind DeltaKind, changes map[string]interface{}, tickID uint64) EntityDelta {
	return EntityDelta{
		EntityID: entityID,
		Kind:     kind,
		Changes:  changes,
		TickID:   tickID,
	}
}

// ToJSON сериализует дельту в канонический JSON
func (d *EntityDelta) ToJSON() ([]byte, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации EntityDelta %s: %w", d.EntityID, err)
	}
	return data, nil
}

// EntityDeltaFromJSON восстанавливает дельту из JSON
func EntityDeltaFromJSON(data []byte) (*EntityDelta, error) {
	var delta EntityDelta
	if err := json.Unmarshal(data, &delta); err != nil {
		return nil, fmt.Errorf("ошибка десериализации EntityDelta: %w", err)
	}
	return &delta, nil
}
