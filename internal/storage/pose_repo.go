package storage

import (
	"context"
	"time"

	"github.com/annel0/kenshi-mp/internal/vec"
)

// PlayerPose — последняя известная поза игрока.
// Вращение хранится в сжатом виде (smallest-three, см. vec.Quat.Compress):
// для межсессионного восстановления точности декомпрессии достаточно.
type PlayerPose struct {
	PlayerID  string    `json:"player_id"`
	Position  vec.Vec3  `json:"position"`
	Rotation  uint32    `json:"rotation"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PoseRepo определяет интерфейс для сохранения и загрузки поз игроков.
// Позы привязаны к PlayerID (постоянный идентификатор), а не к EntityID:
// это позволяет восстанавливать позицию между игровыми сессиями.
type PoseRepo interface {
	// Save сохраняет позу игрока
	Save(ctx context.Context, pose *PlayerPose) error

	// Load загружает позу игрока.
	// Второе значение false — поза не найдена (первый вход).
	Load(ctx context.Context, playerID string) (*PlayerPose, bool, error)

	// Delete удаляет сохранённую позу (для тестов или сброса)
	Delete(ctx context.Context, playerID string) error

	// BatchSave сохраняет позы нескольких игроков за один заход
	// (используется автосохранением)
	BatchSave(ctx context.Context, poses []*PlayerPose) error

	// Close освобождает ресурсы репозитория
	Close() error
}
