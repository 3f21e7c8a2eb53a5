package tests

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/kenshi-mp/internal/auth"
	"github.com/annel0/kenshi-mp/internal/entity"
	"github.com/annel0/kenshi-mp/internal/eventbus"
	"github.com/annel0/kenshi-mp/internal/server"
	"github.com/annel0/kenshi-mp/internal/session"
	"github.com/annel0/kenshi-mp/internal/state"
	"github.com/annel0/kenshi-mp/internal/storage"
	"github.com/annel0/kenshi-mp/internal/tick"
	"github.com/annel0/kenshi-mp/internal/trade"
	"github.com/annel0/kenshi-mp/internal/vec"
)

const (
	testGameVersion = "1.0.64"
	testModVersion  = "0.1.0"
	testProtocol    = 1
)

func testIdentity(playerID, name string) *session.PlayerIdentity {
	return &session.PlayerIdentity{
		PlayerID:        playerID,
		Name:            name,
		GameVersion:     testGameVersion,
		ModVersion:      testModVersion,
		ProtocolVersion: testProtocol,
	}
}

type testStack struct {
	sess     *session.Session
	manager  *state.StateManager
	history  *tick.TickHistory
	bus      eventbus.EventBus
	ledger   *trade.MemoryLedger
	trades   *trade.TradeManager
	storage  *storage.WorldStorage
	poseRepo *storage.MemoryPoseRepo
	server   *server.GameServer
}

func newTestStack(t *testing.T, dataDir string) *testStack {
	t.Helper()

	host := testIdentity("host-1", "Хост")
	sess := session.NewSession(host, testGameVersion, testModVersion, testProtocol)

	bus := eventbus.NewMemoryBus(128)
	history := tick.NewTickHistory(tick.DefaultHistoryCapacity)
	manager := state.NewStateManager(true, bus, history)

	ledger := trade.NewMemoryLedger()
	trades := trade.NewTradeManager(ledger, bus)

	ws, err := storage.NewWorldStorage(dataDir)
	require.NoError(t, err)

	poseRepo := storage.NewMemoryPoseRepo()

	srv, err := server.NewGameServer(server.Options{
		Session:          sess,
		StateManager:     manager,
		History:          history,
		Bus:              bus,
		WorldStorage:     ws,
		PoseRepo:         poseRepo,
		TradeManager:     trades,
		TickRateHz:       100, // Ускоренный тик, чтобы не ждать в тестах
		SnapshotInterval: 10,
	})
	require.NoError(t, err)

	return &testStack{
		sess: sess, manager: manager, history: history, bus: bus,
		ledger: ledger, trades: trades, storage: ws, poseRepo: poseRepo,
		server: srv,
	}
}

// Полный путь игрока: токен → подключение → тики → дельта → отключение.
func TestPlayerLifecycleEndToEnd(t *testing.T) {
	dataDir := t.TempDir()
	stack := newTestStack(t, dataDir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, stack.server.Start(ctx))
	defer stack.server.Stop()

	require.True(t, stack.sess.Start("host-1"), "хост запускает сессию")

	// Второй игрок подключается по токену
	guest := testIdentity("guest-1", "Гость")
	token, err := auth.GenerateJoinToken(guest, stack.sess.ID)
	require.NoError(t, err)

	resp, err := stack.server.JoinPlayer(ctx, token)
	require.NoError(t, err)
	require.True(t, resp.Accepted, "подключение отклонено: %s", resp.Reason)
	assert.Equal(t, "guest-1", resp.PlayerID)
	assert.Equal(t, 2, stack.sess.PlayerCount())

	// Тик-цикл производит тики, пока сессия играет
	require.Eventually(t, func() bool {
		return stack.manager.CurrentTickID() >= 5
	}, 2*time.Second, 10*time.Millisecond, "тики не производятся")

	// Пауза останавливает симуляцию
	require.True(t, stack.sess.Pause("host-1"))
	paused := stack.manager.CurrentTickID()
	time.Sleep(100 * time.Millisecond)
	assert.LessOrEqual(t, stack.manager.CurrentTickID(), paused+1, "тики на паузе не должны идти")
	require.True(t, stack.sess.Resume("host-1"))

	// Гость двигает своего персонажа и получает дельту
	moved := entity.NewEntityState("guest-1", entity.TypePlayer)
	moved.OwnerID = "guest-1"
	moved.Position = vec.Vec3{X: 25, Z: 10}
	require.NoError(t, stack.manager.UpdateCharacterState("guest-1", moved))

	full := stack.manager.GetStateDelta("guest-1")
	assert.True(t, full.FullState, "первая дельта клиента — полный снимок")

	// Отключение сохраняет позу
	stack.server.LeavePlayer(ctx, "guest-1")
	assert.Equal(t, 1, stack.sess.PlayerCount())

	pose, found, err := stack.poseRepo.Load(ctx, "guest-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, vec.Vec3{X: 25, Z: 10}, pose.Position)

	// Повторное подключение восстанавливает позицию из позы
	token2, err := auth.GenerateJoinToken(guest, stack.sess.ID)
	require.NoError(t, err)
	resp2, err := stack.server.JoinPlayer(ctx, token2)
	require.NoError(t, err)
	require.True(t, resp2.Accepted)

	restored, ok := stack.manager.Snapshot().Find("guest-1")
	require.True(t, ok)
	assert.Equal(t, vec.Vec3{X: 25, Z: 10}, restored.Position)
}

// Обмен между двумя подключёнными игроками от предложения до исполнения.
func TestTradeFlowEndToEnd(t *testing.T) {
	stack := newTestStack(t, t.TempDir())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, stack.server.Start(ctx))
	defer stack.server.Stop()
	require.True(t, stack.sess.Start("host-1"))

	guest := testIdentity("guest-1", "Гость")
	token, err := auth.GenerateJoinToken(guest, stack.sess.ID)
	require.NoError(t, err)
	resp, err := stack.server.JoinPlayer(ctx, token)
	require.NoError(t, err)
	require.True(t, resp.Accepted)

	// Начальные инвентари
	sword := trade.TradeItem{ItemID: "item-sword", TemplateID: "meitou_katana", Quantity: 1}
	stack.ledger.Grant("host-1", sword)
	stack.ledger.SetBalance("host-1", 100)
	stack.ledger.SetBalance("guest-1", 5000)

	ts, err := stack.trades.Propose("host-1", "guest-1")
	require.NoError(t, err)

	require.Equal(t, trade.TradeOK, stack.trades.Accept(ts.ID, "guest-1"))
	require.Equal(t, trade.TradeOK, stack.trades.ModifyOffer(ts.ID, "host-1", []trade.TradeItem{sword}, 0))
	require.Equal(t, trade.TradeOK, stack.trades.ModifyOffer(ts.ID, "guest-1", nil, 2500))
	require.Equal(t, trade.TradeOK, stack.trades.LockOffer(ts.ID, "host-1"))
	require.Equal(t, trade.TradeOK, stack.trades.LockOffer(ts.ID, "guest-1"))

	require.Equal(t, trade.TradeOK, stack.trades.Execute(ctx, ts.ID))

	// Меч и деньги поменялись местами
	assert.False(t, stack.ledger.HasItem("host-1", "item-sword"))
	assert.True(t, stack.ledger.HasItem("guest-1", "item-sword"))
	assert.Equal(t, int64(2600), stack.ledger.Balance("host-1"))
	assert.Equal(t, int64(2500), stack.ledger.Balance("guest-1"))

	final, err := stack.trades.GetSession(ts.ID)
	require.NoError(t, err)
	assert.Equal(t, trade.StateCompleted, final.State)
}

// Дисконнект участника отменяет его активный обмен без движения предметов.
func TestDisconnectCancelsActiveTrade(t *testing.T) {
	stack := newTestStack(t, t.TempDir())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, stack.server.Start(ctx))
	defer stack.server.Stop()
	require.True(t, stack.sess.Start("host-1"))

	guest := testIdentity("guest-1", "Гость")
	token, err := auth.GenerateJoinToken(guest, stack.sess.ID)
	require.NoError(t, err)
	resp, err := stack.server.JoinPlayer(ctx, token)
	require.NoError(t, err)
	require.True(t, resp.Accepted)

	stack.ledger.SetBalance("host-1", 100)
	stack.ledger.SetBalance("guest-1", 100)

	ts, err := stack.trades.Propose("host-1", "guest-1")
	require.NoError(t, err)
	require.Equal(t, trade.TradeOK, stack.trades.Accept(ts.ID, "guest-1"))

	stack.server.LeavePlayer(ctx, "guest-1")

	final, err := stack.trades.GetSession(ts.ID)
	require.NoError(t, err)
	assert.Equal(t, trade.StateCancelled, final.State)
	assert.Equal(t, int64(100), stack.ledger.Balance("host-1"), "отмена не движет ценности")
}

// Перезапуск сервера восстанавливает мир из сохранения.
func TestWorldSurvivesRestart(t *testing.T) {
	dataDir := t.TempDir()
	stack := newTestStack(t, dataDir)

	ctx := context.Background()
	require.NoError(t, stack.server.Start(ctx))
	require.True(t, stack.sess.Start("host-1"))

	npc := entity.NewEntityState("npc-beak-thing", entity.TypeNPC)
	npc.Position = vec.Vec3{X: -40, Z: 12}
	npc.Health = 61
	require.NoError(t, stack.manager.UpdateCharacterState("npc-beak-thing", npc))
	stack.manager.SetWorldMeta(18.5, 42, 2)

	sessionID := stack.sess.ID
	stack.server.Stop() // Финальное сохранение
	require.NoError(t, stack.storage.Close())

	// Вторая жизнь: то же хранилище, та же сессия
	ws, err := storage.NewWorldStorage(dataDir)
	require.NoError(t, err)
	defer ws.Close()

	record, found, err := ws.LoadWorld(sessionID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 42, record.Day)
	assert.Equal(t, 18.5, record.GameTime)

	manager := state.NewStateManager(true, nil, tick.NewTickHistory(10))
	entities := make([]*entity.EntityState, 0, len(record.Entities))
	for _, rec := range record.Entities {
		entities = append(entities, entity.FromSaveRecord(rec))
	}
	manager.LoadEntities(entities)

	restored, ok := manager.Snapshot().Find("npc-beak-thing")
	require.True(t, ok)
	assert.Equal(t, vec.Vec3{X: -40, Z: 12}, restored.Position)
	assert.Equal(t, 61.0, restored.Health)
}

// Токен чужой сессии отклоняется без ошибки транспортного уровня.
func TestForeignSessionTokenRejected(t *testing.T) {
	stack := newTestStack(t, t.TempDir())

	ctx := context.Background()
	require.NoError(t, stack.server.Start(ctx))
	defer stack.server.Stop()

	guest := testIdentity("guest-1", "Гость")
	token, err := auth.GenerateJoinToken(guest, "другая-сессия")
	require.NoError(t, err)

	resp, err := stack.server.JoinPlayer(ctx, token)
	require.NoError(t, err)
	assert.False(t, resp.Accepted)
	assert.Equal(t, 1, stack.sess.PlayerCount())
}
