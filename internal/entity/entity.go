package entity

import (
	"encoding/json"
	"fmt"

	"github.com/annel0/kenshi-mp/internal/vec"
)

// EntityType определяет категорию синхронизируемого объекта
type EntityType string

const (
	TypePlayer   EntityType = "player"
	TypeNPC      EntityType = "npc"
	TypeItem     EntityType = "item"
	TypeBuilding EntityType = "building"
	TypeSquad    EntityType = "squad"
	TypeFaction  EntityType = "faction"
)

// Названия частей тела (модель здоровья по конечностям)
var LimbNames = []string{
	"head", "chest", "stomach",
	"left_arm", "right_arm", "left_leg", "right_leg",
}

// EntityState — каноническое состояние одного объекта мира.
// Чистые данные без поведения; владеет им исключительно StateManager.
// Создаётся при спавне, мутируется на месте валидированными
// обновлениями, удаляется при деспавне/смерти.
type EntityState struct {
	ID            string                 `json:"id"`
	Type          EntityType             `json:"type"`
	Position      vec.Vec3               `json:"position"`
	Rotation      vec.Quat               `json:"rotation"`
	Velocity      vec.Vec3               `json:"velocity"`
	Health        float64                `json:"health"`
	MaxHealth     float64                `json:"max_health"`
	Limbs         map[string]float64     `json:"limbs,omitempty"`
	OwnerID       string                 `json:"owner_id,omitempty"` // пусто = принадлежит серверу
	CurrentAction string                 `json:"current_action,omitempty"`
	Attributes    map[string]interface{} `json:"attributes,omitempty"`
}

// NewEntityState создаёт сущность с полным здоровьем и единичным вращением.
func NewEntityState(id string, entityType EntityType) *EntityState {
	limbs := make(map[string]float64, len(LimbNames))
	for _, name := range LimbNames {
		limbs[name] = 100
	}

	return &EntityState{
		ID:         id,
		Type:       entityType,
		Rotation:   vec.IdentityQuat(),
		Health:     100,
		MaxHealth:  100,
		Limbs:      limbs,
		Attributes: make(map[string]interface{}),
	}
}

// Clone возвращает глубокую копию состояния.
// Карты копируются, чтобы копия не делила память с оригиналом.
func (e *EntityState) Clone() *EntityState {
	if e == nil {
		return nil
	}

	clone := *e

	if e.Limbs != nil {
		clone.Limbs = make(map[string]float64, len(e.Limbs))
		for k, v := range e.Limbs {
			clone.Limbs[k] = v
		}
	}
	if e.Attributes != nil {
		clone.Attributes = make(map[string]interface{}, len(e.Attributes))
		for k, v := range e.Attributes {
			clone.Attributes[k] = v
		}
	}

	return &clone
}

// IsAlive сообщает, жива ли сущность
func (e *EntityState) IsAlive() bool {
	return e.Health > 0
}

// ToJSON сериализует состояние в канонический JSON
func (e *EntityState) ToJSON() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации EntityState %s: %w", e.ID, err)
	}
	return data, nil
}

// EntityStateFromJSON восстанавливает состояние из JSON
func EntityStateFromJSON(data []byte) (*EntityState, error) {
	var state EntityState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("ошибка десериализации EntityState: %w", err)
	}
	return &state, nil
}
