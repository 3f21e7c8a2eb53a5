package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/annel0/kenshi-mp/internal/auth"
	"github.com/annel0/kenshi-mp/internal/entity"
	"github.com/annel0/kenshi-mp/internal/eventbus"
	"github.com/annel0/kenshi-mp/internal/logging"
	"github.com/annel0/kenshi-mp/internal/metrics"
	"github.com/annel0/kenshi-mp/internal/protocol"
	"github.com/annel0/kenshi-mp/internal/session"
	"github.com/annel0/kenshi-mp/internal/state"
	"github.com/annel0/kenshi-mp/internal/storage"
	"github.com/annel0/kenshi-mp/internal/tick"
	"github.com/annel0/kenshi-mp/internal/trade"
	"github.com/annel0/kenshi-mp/internal/vec"
)

// Интервалы фоновых циклов сервера
const (
	defaultAutosaveInterval = 30 * time.Second
	timeSyncInterval        = 1 * time.Second
)

// npcTickDivisor прореживает NPC в дельта-тиках: при базовых 20 Гц
// NPC обновляются на 10 Гц. NPC в бою не прореживаются.
const npcTickDivisor = 2

// combatAction — значение CurrentAction, при котором сущность
// синхронизируется на полной частоте независимо от типа
const combatAction = "combat"

// Options — зависимости и параметры игрового сервера
type Options struct {
	Session      *session.Session
	StateManager *state.StateManager
	History      *tick.TickHistory
	Bus          eventbus.EventBus
	WorldStorage *storage.WorldStorage
	PoseRepo     storage.PoseRepo
	TradeManager *trade.TradeManager
	Metrics      *metrics.ServerMetrics

	TickRateHz       int
	SnapshotInterval uint64
	AutosaveInterval time.Duration
}

// GameServer — авторитативный сервер сессии: владеет тик-циклом,
// автосохранением и широковещательной синхронизацией времени.
// Транспорт к серверу не прибит: произведённые тики и метки времени
// публикуются в шину событий, транспортный слой подписывается на них.
type GameServer struct {
	opts   Options
	codec  *protocol.Codec
	logger *logging.Logger

	tickInterval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewGameServer создаёт сервер. Возвращает ошибку при неполных опциях.
func NewGameServer(opts Options) (*GameServer, error) {
	if opts.Session == nil || opts.StateManager == nil || opts.History == nil {
		return nil, fmt.Errorf("неполные опции сервера: нужны Session, StateManager и History")
	}
	if opts.TickRateHz <= 0 {
		opts.TickRateHz = 20
	}
	if opts.SnapshotInterval == 0 {
		opts.SnapshotInterval = tick.DefaultSnapshotInterval
	}
	if opts.AutosaveInterval <= 0 {
		opts.AutosaveInterval = defaultAutosaveInterval
	}

	codec, err := protocol.NewCodec()
	if err != nil {
		return nil, err
	}

	return &GameServer{
		opts:         opts,
		codec:        codec,
		logger:       logging.GetServerLogger(),
		tickInterval: time.Second / time.Duration(opts.TickRateHz),
	}, nil
}

// Start восстанавливает мир из сохранения и запускает фоновые циклы
func (gs *GameServer) Start(ctx context.Context) error {
	if err := gs.restoreWorld(); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	gs.cancel = cancel

	gs.opts.StateManager.Start(runCtx)
	if gs.opts.TradeManager != nil {
		gs.opts.TradeManager.Start()
	}

	gs.wg.Add(1)
	go gs.tickLoop(runCtx)

	gs.wg.Add(1)
	go gs.timeSyncLoop(runCtx)

	if gs.opts.WorldStorage != nil {
		gs.wg.Add(1)
		go gs.autosaveLoop(runCtx)
	}

	gs.logger.Info("🎮 Сервер запущен: сессия %s, %d Гц, снапшот каждые %d тиков",
		gs.opts.Session.ID, gs.opts.TickRateHz, gs.opts.SnapshotInterval)
	return nil
}

// Stop останавливает циклы и выполняет финальное сохранение
func (gs *GameServer) Stop() {
	if gs.cancel != nil {
		gs.cancel()
	}
	gs.wg.Wait()

	if gs.opts.TradeManager != nil {
		gs.opts.TradeManager.Stop()
	}
	gs.opts.StateManager.Stop()

	if gs.opts.WorldStorage != nil {
		if err := gs.saveWorld(context.Background()); err != nil {
			gs.logger.Error("❌ Финальное сохранение мира: %v", err)
		}
	}
	gs.codec.Close()

	gs.logger.Info("🎮 Сервер остановлен, мир сохранён")
}

//================ Подключение игроков =================//

// JoinPlayer проверяет токен и вводит игрока в сессию: восстанавливает
// позу из репозитория, создаёт персонажа и регистрирует клиента
// в движке состояния.
func (gs *GameServer) JoinPlayer(ctx context.Context, token string) (*protocol.JoinResponse, error) {
	identity, sessionID, err := auth.ValidateJoinToken(token)
	if err != nil {
		return &protocol.JoinResponse{Accepted: false, Reason: "невалидный токен"}, nil
	}
	if sessionID != gs.opts.Session.ID {
		return &protocol.JoinResponse{Accepted: false, Reason: "токен выдан другой сессии"}, nil
	}

	if result := gs.opts.Session.AddPlayer(identity); result != session.JoinOK {
		return &protocol.JoinResponse{Accepted: false, Reason: result.String()}, nil
	}

	character := entity.NewEntityState(identity.PlayerID, entity.TypePlayer)
	character.OwnerID = identity.PlayerID

	if gs.opts.PoseRepo != nil {
		pose, found, err := gs.opts.PoseRepo.Load(ctx, identity.PlayerID)
		if err != nil {
			gs.logger.Warn("⚠️ Поза игрока %s не загружена: %v", identity.PlayerID, err)
		} else if found {
			character.Position = pose.Position
			character.Rotation = vec.DecompressQuat(pose.Rotation)
		}
	}

	if err := gs.opts.StateManager.UpdateCharacterState(character.ID, character); err != nil {
		gs.opts.Session.RemovePlayer(identity.PlayerID)
		return nil, fmt.Errorf("не удалось создать персонажа %s: %w", identity.PlayerID, err)
	}

	gs.opts.StateManager.RegisterClient(identity.PlayerID, []string{identity.PlayerID}, nil)

	if gs.opts.Metrics != nil {
		gs.opts.Metrics.ConnectedPlayers.Set(float64(gs.opts.Session.PlayerCount()))
	}
	gs.publishEvent(eventbus.EventPlayerJoined, 6, []byte(
		fmt.Sprintf(`{"player_id":%q,"session_id":%q}`, identity.PlayerID, gs.opts.Session.ID)))

	return &protocol.JoinResponse{
		Accepted:  true,
		SessionID: gs.opts.Session.ID,
		PlayerID:  identity.PlayerID,
	}, nil
}

// LeavePlayer выводит игрока из сессии: сохраняет позу, отменяет его
// активный обмен и снимает регистрацию клиента. Персонаж остаётся
// в мире до закрытия сессии, как и прочие принадлежащие игроку сущности.
func (gs *GameServer) LeavePlayer(ctx context.Context, playerID string) {
	if gs.opts.TradeManager != nil {
		gs.opts.TradeManager.CancelForPlayer(playerID)
	}

	if gs.opts.PoseRepo != nil {
		if character, ok := gs.opts.StateManager.Snapshot().Find(playerID); ok {
			pose := &storage.PlayerPose{
				PlayerID: playerID,
				Position: character.Position,
				Rotation: character.Rotation.Compress(),
			}
			if err := gs.opts.PoseRepo.Save(ctx, pose); err != nil {
				gs.logger.Warn("⚠️ Поза игрока %s не сохранена: %v", playerID, err)
			}
		}
	}

	gs.opts.StateManager.UnregisterClient(playerID)
	gs.opts.Session.RemovePlayer(playerID)

	if gs.opts.Metrics != nil {
		gs.opts.Metrics.ConnectedPlayers.Set(float64(gs.opts.Session.PlayerCount()))
	}
	gs.publishEvent(eventbus.EventPlayerLeft, 6, []byte(
		fmt.Sprintf(`{"player_id":%q,"session_id":%q}`, playerID, gs.opts.Session.ID)))
}

//================ Фоновые циклы =================//

// tickLoop производит тики с настроенной частотой.
// Тики идут только пока сессия в состоянии Playing: пауза
// останавливает симуляцию, но не сам цикл.
func (gs *GameServer) tickLoop(ctx context.Context) {
	defer gs.wg.Done()

	ticker := time.NewTicker(gs.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if gs.opts.Session.CurrentState() != session.StatePlaying {
				continue
			}
			gs.produceTick()
		}
	}
}

func (gs *GameServer) produceTick() {
	started := time.Now()

	nextTickID := gs.opts.StateManager.CurrentTickID() + 1
	includeNPC := nextTickID%npcTickDivisor == 0

	wt := gs.opts.StateManager.CaptureTick(gs.opts.Session.ID, gs.opts.SnapshotInterval,
		func(e *entity.EntityState) bool {
			if e.Type == entity.TypeNPC && e.CurrentAction != combatAction {
				return includeNPC
			}
			return true
		})

	gs.opts.History.Add(wt)

	data, err := wt.ToJSON()
	if err != nil {
		gs.logger.Error("❌ Сериализация тика %d: %v", wt.TickID, err)
		return
	}
	gs.publishEvent(eventbus.EventTickProduced, 5, data)

	if gs.opts.Metrics != nil {
		gs.opts.Metrics.TicksProduced.Inc()
		if wt.IsFullSnapshot {
			gs.opts.Metrics.SnapshotsProduced.Inc()
		}
		gs.opts.Metrics.TickDuration.Observe(time.Since(started).Seconds())
	}
}

// timeSyncLoop раз в секунду рассылает метку серверного времени.
// Клиентский TimeSync строит по ней смещение локальных часов.
func (gs *GameServer) timeSyncLoop(ctx context.Context) {
	defer gs.wg.Done()

	ticker := time.NewTicker(timeSyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame, err := gs.codec.EncodePayload(protocol.MsgTimeSync, &protocol.TimeSyncPayload{
				ServerTime: time.Now().UnixMilli(),
				TickID:     gs.opts.StateManager.CurrentTickID(),
			})
			if err != nil {
				gs.logger.Error("❌ Кодирование time sync: %v", err)
				continue
			}
			gs.publishEvent(eventbus.EventTimeSync, 3, frame)
		}
	}
}

// autosaveLoop периодически сохраняет мир и позы игроков
func (gs *GameServer) autosaveLoop(ctx context.Context) {
	defer gs.wg.Done()

	ticker := time.NewTicker(gs.opts.AutosaveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := gs.saveWorld(ctx); err != nil {
				gs.logger.Error("❌ Автосохранение: %v", err)
			}
		}
	}
}

//================ Сохранение и восстановление =================//

// restoreWorld загружает мир сессии из хранилища, если сохранение есть
func (gs *GameServer) restoreWorld() error {
	if gs.opts.WorldStorage == nil {
		return nil
	}

	record, found, err := gs.opts.WorldStorage.LoadWorld(gs.opts.Session.ID)
	if err != nil {
		return fmt.Errorf("не удалось загрузить мир: %w", err)
	}
	if !found {
		gs.logger.Info("🌍 Сохранения для сессии %s нет, мир пуст", gs.opts.Session.ID)
		return nil
	}

	entities := make([]*entity.EntityState, 0, len(record.Entities))
	for _, rec := range record.Entities {
		entities = append(entities, entity.FromSaveRecord(rec))
	}
	gs.opts.StateManager.LoadEntities(entities)
	gs.opts.StateManager.SetWorldMeta(record.GameTime, record.Day, record.Weather)

	gs.logger.Info("🌍 Мир восстановлен: %d сущностей, день %d", len(entities), record.Day)
	return nil
}

// saveWorld пишет снимок мира и позы подключённых игроков
func (gs *GameServer) saveWorld(ctx context.Context) error {
	snapshot := gs.opts.StateManager.Snapshot()

	record := &entity.WorldSaveRecord{
		Version:  entity.SaveFormatVersion,
		GameTime: snapshot.GameTime,
		Day:      snapshot.Day,
		Weather:  snapshot.Weather,
	}
	for _, e := range snapshot.AllEntities() {
		record.Entities = append(record.Entities, e.ToSaveRecord())
	}

	if err := gs.opts.WorldStorage.SaveWorld(gs.opts.Session.ID, record); err != nil {
		return err
	}

	if gs.opts.PoseRepo != nil {
		var poses []*storage.PlayerPose
		for _, playerID := range gs.opts.Session.PlayerIDs() {
			if character, ok := snapshot.Find(playerID); ok {
				poses = append(poses, &storage.PlayerPose{
					PlayerID: playerID,
					Position: character.Position,
					Rotation: character.Rotation.Compress(),
				})
			}
		}
		if err := gs.opts.PoseRepo.BatchSave(ctx, poses); err != nil {
			return fmt.Errorf("ошибка сохранения поз: %w", err)
		}
	}

	return nil
}

func (gs *GameServer) publishEvent(eventType string, priority int, payload []byte) {
	if gs.opts.Bus == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := gs.opts.Bus.Publish(ctx, eventbus.NewEnvelope("server", eventType, priority, payload)); err != nil {
		gs.logger.Warn("⚠️ Публикация события %s: %v", eventType, err)
	}
}
