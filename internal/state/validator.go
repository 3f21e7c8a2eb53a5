package state

import (
	"fmt"

	"github.com/annel0/kenshi-mp/internal/entity"
)

// MaxMoveDistance — анти-телепорт порог: максимальное смещение персонажа
// за один шаг обновления. Ровно 100 единиц ещё допустимо.
const MaxMoveDistance = 100.0

// StateValidator проверяет обновления состояния на авторитативном сервере.
// Правила фиксированы; движок только применяет их, политика эскалации
// (кик, бан) живёт снаружи.
type StateValidator struct {
	maxMoveDistance float64
}

// NewStateValidator создаёт валидатор с порогом по умолчанию
func NewStateValidator() *StateValidator {
	return &StateValidator{maxMoveDistance: MaxMoveDistance}
}

// ValidateCharacterUpdate проверяет обновление персонажа относительно
// предыдущего состояния. old == nil означает создание.
func (v *StateValidator) ValidateCharacterUpdate(old, updated *entity.EntityState) error {
	if updated == nil {
		return fmt.Errorf("пустое состояние персонажа")
	}

	if old != nil {
		distance := old.Position.DistanceTo(updated.Position)
		if distance > v.maxMoveDistance {
			return fmt.Errorf("персонаж %s переместился на %.1f единиц за шаг (порог %.1f)",
				updated.ID, distance, v.maxMoveDistance)
		}
	}

	return v.validateHealth(updated)
}

// ValidateEntityUpdate проверяет обновление сущности без проверки движения
// (постройки, предметы, фракции не ходят).
func (v *StateValidator) ValidateEntityUpdate(updated *entity.EntityState) error {
	if updated == nil {
		return fmt.Errorf("пустое состояние сущности")
	}
	return v.validateHealth(updated)
}

// ValidateDeltaBase отклоняет дельты, чей базовый тик опережает
// реально произведённые сервером.
func (v *StateValidator) ValidateDeltaBase(baseStateID, currentTickID uint64) error {
	if baseStateID > currentTickID {
		return fmt.Errorf("базовый тик %d опережает текущий %d", baseStateID, currentTickID)
	}
	return nil
}

func (v *StateValidator) validateHealth(e *entity.EntityState) error {
	if e.Health < 0 || e.Health > 100 {
		return fmt.Errorf("здоровье %s вне диапазона [0,100]: %.1f", e.ID, e.Health)
	}
	for limb, value := range e.Limbs {
		if value < 0 || value > 100 {
			return fmt.Errorf("здоровье конечности %s/%s вне диапазона [0,100]: %.1f",
				e.ID, limb, value)
		}
	}
	return nil
}
