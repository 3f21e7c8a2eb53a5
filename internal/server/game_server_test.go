package server

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/kenshi-mp/internal/auth"
	"github.com/annel0/kenshi-mp/internal/entity"
	"github.com/annel0/kenshi-mp/internal/session"
	"github.com/annel0/kenshi-mp/internal/state"
	"github.com/annel0/kenshi-mp/internal/storage"
	"github.com/annel0/kenshi-mp/internal/tick"
	"github.com/annel0/kenshi-mp/internal/vec"
)

func newTestServer(t *testing.T) (*GameServer, *session.Session, *state.StateManager, *tick.TickHistory) {
	t.Helper()

	host := &session.PlayerIdentity{
		PlayerID: "host", Name: "Хост",
		GameVersion: "1.0.64", ModVersion: "0.3.1", ProtocolVersion: 2,
	}
	sess := session.NewSession(host, "1.0.64", "0.3.1", 2)
	history := tick.NewTickHistory(tick.DefaultHistoryCapacity)
	manager := state.NewStateManager(true, nil, history)

	gs, err := NewGameServer(Options{
		Session:          sess,
		StateManager:     manager,
		History:          history,
		PoseRepo:         storage.NewMemoryPoseRepo(),
		TickRateHz:       20,
		SnapshotInterval: 4, // короткий период для теста
	})
	require.NoError(t, err)
	return gs, sess, manager, history
}

func TestGameServerTickCadence(t *testing.T) {
	gs, _, manager, history := newTestServer(t)

	npc := entity.NewEntityState("npc-1", entity.TypeNPC)
	require.NoError(t, manager.UpdateCharacterState("npc-1", npc))

	for i := 0; i < 8; i++ {
		gs.produceTick()
	}

	assert.Equal(t, 8, history.Len())
	assert.Equal(t, uint64(8), manager.CurrentTickID())

	// Снапшоты строго на тиках, кратных интервалу
	for id := uint64(1); id <= 8; id++ {
		wt, ok := history.Get(id)
		require.True(t, ok)
		assert.Equal(t, id%4 == 0, wt.IsFullSnapshot, "тик %d", id)
	}
}

func TestGameServerNPCSubRate(t *testing.T) {
	gs, _, manager, history := newTestServer(t)

	npc := entity.NewEntityState("npc-1", entity.TypeNPC)
	require.NoError(t, manager.UpdateCharacterState("npc-1", npc))

	// NPC двигается каждый тик, но в дельты попадает через раз
	for i := 0; i < 3; i++ {
		gs.produceTick()
		moved := npc.Clone()
		moved.Position = moved.Position.Add(vec.Vec3{X: 1})
		npc = moved
		require.NoError(t, manager.UpdateCharacterState("npc-1", moved))
	}

	// Тик 2 чётный — дельта NPC включена; тик 3 нечётный — нет
	wt2, ok := history.Get(2)
	require.True(t, ok)
	require.False(t, wt2.IsFullSnapshot)
	assert.NotEmpty(t, wt2.Deltas)

	wt3, ok := history.Get(3)
	require.True(t, ok)
	require.False(t, wt3.IsFullSnapshot)
	assert.Empty(t, wt3.Deltas)
}

func TestGameServerCombatNPCFullRate(t *testing.T) {
	gs, _, manager, history := newTestServer(t)

	npc := entity.NewEntityState("npc-1", entity.TypeNPC)
	npc.CurrentAction = combatAction
	require.NoError(t, manager.UpdateCharacterState("npc-1", npc))

	for i := 0; i < 3; i++ {
		gs.produceTick()
		moved := npc.Clone()
		moved.Position = moved.Position.Add(vec.Vec3{X: 1})
		npc = moved
		require.NoError(t, manager.UpdateCharacterState("npc-1", moved))
	}

	// В бою прореживание не действует: дельта есть и на нечётном тике
	wt3, ok := history.Get(3)
	require.True(t, ok)
	require.False(t, wt3.IsFullSnapshot)
	assert.NotEmpty(t, wt3.Deltas)
}

func TestGameServerJoinLeave(t *testing.T) {
	gs, sess, manager, _ := newTestServer(t)
	ctx := context.Background()

	identity := &session.PlayerIdentity{
		PlayerID: "player-1", Name: "Бип",
		GameVersion: "1.0.64", ModVersion: "0.3.1", ProtocolVersion: 2,
	}
	token, err := auth.GenerateJoinToken(identity, sess.ID)
	require.NoError(t, err)

	resp, err := gs.JoinPlayer(ctx, token)
	require.NoError(t, err)
	require.True(t, resp.Accepted)
	assert.Equal(t, "player-1", resp.PlayerID)
	assert.Equal(t, 2, sess.PlayerCount())

	// Персонаж создан в мире
	_, found := manager.Snapshot().Find("player-1")
	assert.True(t, found)

	gs.LeavePlayer(ctx, "player-1")
	assert.Equal(t, 1, sess.PlayerCount())

	// Поза сохранилась для будущего входа
	pose, found, err := gs.opts.PoseRepo.Load(ctx, "player-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "player-1", pose.PlayerID)
}

func TestGameServerJoinRejectsForeignToken(t *testing.T) {
	gs, _, _, _ := newTestServer(t)

	identity := &session.PlayerIdentity{
		PlayerID: "player-1", GameVersion: "1.0.64", ModVersion: "0.3.1", ProtocolVersion: 2,
	}
	token, err := auth.GenerateJoinToken(identity, "другая-сессия")
	require.NoError(t, err)

	resp, err := gs.JoinPlayer(context.Background(), token)
	require.NoError(t, err)
	assert.False(t, resp.Accepted)

	resp, err = gs.JoinPlayer(context.Background(), "мусор")
	require.NoError(t, err)
	assert.False(t, resp.Accepted)
}

func TestGameServerPoseRestoredOnJoin(t *testing.T) {
	gs, sess, manager, _ := newTestServer(t)
	ctx := context.Background()

	saved := &storage.PlayerPose{
		PlayerID: "player-1",
		Position: vec.Vec3{X: 42, Y: 0, Z: -7},
		Rotation: vec.IdentityQuat().Compress(),
	}
	require.NoError(t, gs.opts.PoseRepo.Save(ctx, saved))

	identity := &session.PlayerIdentity{
		PlayerID: "player-1", GameVersion: "1.0.64", ModVersion: "0.3.1", ProtocolVersion: 2,
	}
	token, err := auth.GenerateJoinToken(identity, sess.ID)
	require.NoError(t, err)

	resp, err := gs.JoinPlayer(ctx, token)
	require.NoError(t, err)
	require.True(t, resp.Accepted)

	character, found := manager.Snapshot().Find("player-1")
	require.True(t, found)
	assert.Equal(t, saved.Position, character.Position)
}
