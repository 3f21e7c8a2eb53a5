package state

import (
	"github.com/annel0/kenshi-mp/internal/entity"
)

// PredictState экстраполирует кинематику сущностей вперёд на elapsed
// секунд: position += velocity * elapsed. Чисто клиентская догадка,
// никогда не авторитативна — следующий реальный тик её вытесняет.
func PredictState(entities map[string]*entity.EntityState, elapsedSeconds float64) map[string]*entity.EntityState {
	predicted := make(map[string]*entity.EntityState, len(entities))

	for id, e := range entities {
		clone := e.Clone()
		clone.Position = clone.Position.Add(clone.Velocity.Scale(elapsedSeconds))
		predicted[id] = clone
	}

	return predicted
}

// InterpolateState линейно интерполирует позиции и сферически — вращения
// сущностей, присутствующих в обоих снимках, t в [0,1]. Сущности,
// отсутствующие в to, сохраняют позу из from. Только для отрисовки:
// результат не должен питать игровые решения.
func InterpolateState(from, to map[string]*entity.EntityState, t float64) map[string]*entity.EntityState {
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}

	result := make(map[string]*entity.EntityState, len(from))

	for id, a := range from {
		b, ok := to[id]
		if !ok {
			result[id] = a.Clone()
			continue
		}

		clone := b.Clone()
		clone.Position = a.Position.Lerp(b.Position, t)
		clone.Rotation = a.Rotation.Slerp(b.Rotation, t)
		result[id] = clone
	}

	return result
}
