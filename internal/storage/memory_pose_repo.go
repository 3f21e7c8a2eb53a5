package storage

import (
	"context"
	"sync"
)

// MemoryPoseRepo — репозиторий поз в памяти.
// Используется в тестах и в автономном режиме без внешних хранилищ.
type MemoryPoseRepo struct {
	mu    sync.RWMutex
	poses map[string]*PlayerPose
}

// NewMemoryPoseRepo создаёт пустой репозиторий
func NewMemoryPoseRepo() *MemoryPoseRepo {
	return &MemoryPoseRepo{
		poses: make(map[string]*PlayerPose),
	}
}

func (mr *MemoryPoseRepo) Save(_ context.Context, pose *PlayerPose) error {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	clone := *pose
	mr.poses[pose.PlayerID] = &clone
	return nil
}

func (mr *MemoryPoseRepo) Load(_ context.Context, playerID string) (*PlayerPose, bool, error) {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	pose, ok := mr.poses[playerID]
	if !ok {
		return nil, false, nil
	}
	clone := *pose
	return &clone, true, nil
}

func (mr *MemoryPoseRepo) Delete(_ context.Context, playerID string) error {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	delete(mr.poses, playerID)
	return nil
}

func (mr *MemoryPoseRepo) BatchSave(ctx context.Context, poses []*PlayerPose) error {
	for _, pose := range poses {
		if err := mr.Save(ctx, pose); err != nil {
			return err
		}
	}
	return nil
}

func (mr *MemoryPoseRepo) Close() error {
	return nil
}
