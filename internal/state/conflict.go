package state

import "time"

// ConflictType определяет вид конфликта состояния
type ConflictType string

const (
	ConflictPositionMismatch   ConflictType = "position_mismatch"
	ConflictInventoryMismatch  ConflictType = "inventory_mismatch"
	ConflictInvalidState       ConflictType = "invalid_state"
	ConflictAuthorityViolation ConflictType = "authority_violation"
	ConflictInvalidDelta       ConflictType = "invalid_delta"
)

// StateConflict — обнаруженное расхождение между заявленной мутацией
// и провалидированным состоянием сервера. Конфликты не применяются,
// а ставятся в очередь и потребляются циклом разрешения ровно один раз.
type StateConflict struct {
	Type       ConflictType `json:"type"`
	EntityID   string       `json:"entity_id,omitempty"`
	ClientID   string       `json:"client_id,omitempty"`
	Detail     string       `json:"detail"`
	DetectedAt time.Time    `json:"detected_at"`
}

// NewStateConflict создаёт конфликт с текущей меткой времени
func NewStateConflict(conflictType ConflictType, entityID, clientID, detail string) StateConflict {
	return StateConflict{
		Type:       conflictType,
		EntityID:   entityID,
		ClientID:   clientID,
		Detail:     detail,
		DetectedAt: time.Now(),
	}
}
