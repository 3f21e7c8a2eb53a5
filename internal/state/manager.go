package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/annel0/kenshi-mp/internal/entity"
	"github.com/annel0/kenshi-mp/internal/eventbus"
	"github.com/annel0/kenshi-mp/internal/logging"
	"github.com/annel0/kenshi-mp/internal/tick"
)

// ClientStateInfo — серверное знание о подключённом клиенте:
// последний подтверждённый тик и множества сущностей, которые
// клиент имеет право мутировать.
type ClientStateInfo struct {
	ClientID             string
	LastAckTickID        uint64
	AuthorizedCharacters map[string]struct{}
	AuthorizedSquads     map[string]struct{}

	// Снимок, относительно которого строится следующая дельта клиенту
	lastKnown map[string]*entity.EntityState

	// Сущности, которые надо выдать клиенту принудительно
	// (пометки цикла разрешения конфликтов, потребляются по одной)
	forcedResync map[string]struct{}
}

// IsAuthorized сообщает, вправе ли клиент мутировать сущность
func (c *ClientStateInfo) IsAuthorized(entityID string) bool {
	if _, ok := c.AuthorizedCharacters[entityID]; ok {
		return true
	}
	_, ok := c.AuthorizedSquads[entityID]
	return ok
}

// StateChangedEvent — полезная нагрузка события state.changed
type StateChangedEvent struct {
	Kind     entity.DeltaKind    `json:"kind"`
	EntityID string              `json:"entity_id"`
	Old      *entity.EntityState `json:"old,omitempty"`
	New      *entity.EntityState `json:"new,omitempty"`
}

const conflictQueueCapacity = 256

// StateManager владеет живым состоянием мира и опосредует каждый доступ.
// Блокировка намеренно грубая: один мьютекс на всё состояние. Это
// осознанный размен параллелизма на простоту, а не случайность;
// шардирование по категориям — открытый вопрос на будущее.
type StateManager struct {
	mu    sync.Mutex
	state *WorldState

	authoritative bool
	currentTickID uint64

	validator  *StateValidator
	compressor *DeltaCompressor
	history    *tick.TickHistory
	bus        eventbus.EventBus
	logger     *logging.Logger

	clients map[string]*ClientStateInfo

	// Очередь конфликтов: много писателей, один потребитель (resolveLoop)
	conflicts chan StateConflict

	// Снимки для отката и для тик-дельт
	lastGoodSnapshot *WorldState
	lastCaptured     map[string]*entity.EntityState

	resolveCancel context.CancelFunc
}

// NewStateManager создаёт менеджер состояния.
// authoritative == true на сервере: включает валидацию и цикл
// разрешения конфликтов. Клиентская копия живёт с authoritative == false.
func NewStateManager(authoritative bool, bus eventbus.EventBus, history *tick.TickHistory) *StateManager {
	return &StateManager{
		state:         NewWorldState(),
		authoritative: authoritative,
		validator:     NewStateValidator(),
		compressor:    NewDeltaCompressor(),
		history:       history,
		bus:           bus,
		logger:        logging.GetSyncLogger(),
		clients:       make(map[string]*ClientStateInfo),
		conflicts:     make(chan StateConflict, conflictQueueCapacity),
		lastCaptured:  make(map[string]*entity.EntityState),
	}
}

// Start запускает фоновый цикл разрешения конфликтов (только сервер).
func (m *StateManager) Start(ctx context.Context) {
	if !m.authoritative {
		return
	}
	rctx, cancel := context.WithCancel(ctx)
	m.resolveCancel = cancel
	go m.resolveLoop(rctx)
}

// Stop останавливает цикл разрешения конфликтов.
func (m *StateManager) Stop() {
	if m.resolveCancel != nil {
		m.resolveCancel()
	}
}

// CurrentTickID возвращает идентификатор последнего произведённого тика.
func (m *StateManager) CurrentTickID() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentTickID
}

// Snapshot возвращает глубокую копию текущего состояния мира
// (для автосохранения и отладки).
func (m *StateManager) Snapshot() *WorldState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

// LoadEntities загружает сущности в мир (восстановление из сохранения).
// Используется до старта тик-цикла, валидация не применяется.
func (m *StateManager) LoadEntities(entities []*entity.EntityState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entities {
		if category := m.state.Category(e.Type); category != nil {
			category[e.ID] = e
		}
	}
}

// SetWorldMeta обновляет мировые метаданные (время суток, день, погоду).
func (m *StateManager) SetWorldMeta(gameTime float64, day, weather int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.GameTime = gameTime
	m.state.Day = day
	m.state.Weather = weather
}

//================ Мутации по категориям =================//

// UpdateCharacterState обновляет состояние персонажа (игрок или NPC).
func (m *StateManager) UpdateCharacterState(id string, newState *entity.EntityState) error {
	return m.updateEntity(id, newState, true)
}

// UpdateSquadState обновляет состояние отряда.
func (m *StateManager) UpdateSquadState(id string, newState *entity.EntityState) error {
	return m.updateEntity(id, newState, false)
}

// UpdateBuildingState обновляет состояние постройки.
func (m *StateManager) UpdateBuildingState(id string, newState *entity.EntityState) error {
	return m.updateEntity(id, newState, false)
}

// UpdateItemState обновляет состояние предмета.
func (m *StateManager) UpdateItemState(id string, newState *entity.EntityState) error {
	return m.updateEntity(id, newState, false)
}

// UpdateFactionState обновляет состояние фракции.
func (m *StateManager) UpdateFactionState(id string, newState *entity.EntityState) error {
	return m.updateEntity(id, newState, false)
}

// updateEntity — общий путь мутации: клонировать старое, применить новое,
// провалидировать (на сервере), при провале откатить и поставить конфликт
// в очередь. Уведомление уходит только при успешном применении.
func (m *StateManager) updateEntity(id string, newState *entity.EntityState, isCharacter bool) error {
	if newState == nil {
		return fmt.Errorf("пустое состояние для %s", id)
	}
	if newState.ID != id {
		return fmt.Errorf("ID состояния %s не совпадает с ключом %s", newState.ID, id)
	}

	m.mu.Lock()

	category := m.state.Category(newState.Type)
	if category == nil {
		m.mu.Unlock()
		return fmt.Errorf("неизвестный тип сущности: %s", newState.Type)
	}

	old := category[id]
	var oldClone *entity.EntityState
	if old != nil {
		oldClone = old.Clone()
	}

	category[id] = newState

	if m.authoritative {
		var err error
		if isCharacter {
			err = m.validator.ValidateCharacterUpdate(oldClone, newState)
		} else {
			err = m.validator.ValidateEntityUpdate(newState)
		}
		if err != nil {
			// Откат: восстанавливаем прежнее значение, уведомление не шлём
			if oldClone != nil {
				category[id] = oldClone
			} else {
				delete(category, id)
			}
			m.mu.Unlock()
			m.QueueConflict(NewStateConflict(ConflictInvalidState, id, "", err.Error()))
			return err
		}
	}

	m.mu.Unlock()

	kind := entity.DeltaUpdated
	if oldClone == nil {
		kind = entity.DeltaCreated
	}
	m.publishStateChanged(kind, id, oldClone, newState)
	return nil
}

// RemoveEntity удаляет сущность из мира (деспавн/смерть).
func (m *StateManager) RemoveEntity(id string) bool {
	m.mu.Lock()

	var removed *entity.EntityState
	for _, category := range []map[string]*entity.EntityState{
		m.state.Characters, m.state.Squads, m.state.Buildings, m.state.Items, m.state.Factions,
	} {
		if e, ok := category[id]; ok {
			removed = e
			delete(category, id)
			break
		}
	}

	m.mu.Unlock()

	if removed == nil {
		return false
	}
	m.publishStateChanged(entity.DeltaRemoved, id, removed, nil)
	return true
}

//================ Клиенты и дельты =================//

// RegisterClient регистрирует клиента с выданными ему множествами
// авторизованных сущностей. Движок только применяет авторитет,
// вычисляет его вызывающая сторона.
func (m *StateManager) RegisterClient(clientID string, characters, squads []string) {
	info := &ClientStateInfo{
		ClientID:             clientID,
		AuthorizedCharacters: make(map[string]struct{}, len(characters)),
		AuthorizedSquads:     make(map[string]struct{}, len(squads)),
		lastKnown:            make(map[string]*entity.EntityState),
		forcedResync:         make(map[string]struct{}),
	}
	for _, id := range characters {
		info.AuthorizedCharacters[id] = struct{}{}
	}
	for _, id := range squads {
		info.AuthorizedSquads[id] = struct{}{}
	}

	m.mu.Lock()
	m.clients[clientID] = info
	m.mu.Unlock()

	m.logger.Debug("Клиент %s зарегистрирован: %d персонажей, %d отрядов",
		clientID, len(characters), len(squads))
}

// UnregisterClient удаляет клиента.
func (m *StateManager) UnregisterClient(clientID string) {
	m.mu.Lock()
	delete(m.clients, clientID)
	m.mu.Unlock()
}

// AcknowledgeTick фиксирует последний подтверждённый клиентом тик.
func (m *StateManager) AcknowledgeTick(clientID string, tickID uint64) {
	m.mu.Lock()
	if client, ok := m.clients[clientID]; ok && tickID > client.LastAckTickID {
		client.LastAckTickID = tickID
	}
	m.mu.Unlock()
}

// ApplyStateDelta применяет клиентскую дельту (только сервер).
// Двое ворот, оба должны пройти, иначе дельта отклоняется целиком:
// авторитет (каждая затронутая сущность в множествах клиента) и
// свежесть (базовый тик не опережает текущий). Слияние — перезапись
// сущности целиком, последний писатель побеждает.
func (m *StateManager) ApplyStateDelta(clientID string, delta *StateDelta) error {
	if delta == nil {
		return fmt.Errorf("пустая дельта от %s", clientID)
	}

	m.mu.Lock()

	client, known := m.clients[clientID]
	if !known {
		m.mu.Unlock()
		conflict := NewStateConflict(ConflictAuthorityViolation, "", clientID,
			"дельта от незарегистрированного клиента")
		m.QueueConflict(conflict)
		return fmt.Errorf("клиент %s не зарегистрирован", clientID)
	}

	for _, entry := range delta.Entries {
		if entry.State == nil {
			m.mu.Unlock()
			return fmt.Errorf("дельта от %s содержит пустую запись", clientID)
		}
		if !client.IsAuthorized(entry.State.ID) {
			m.mu.Unlock()
			conflict := NewStateConflict(ConflictAuthorityViolation, entry.State.ID, clientID,
				"мутация сущности вне авторизованных множеств")
			m.QueueConflict(conflict)
			return fmt.Errorf("клиент %s не авторизован для сущности %s", clientID, entry.State.ID)
		}
	}

	if err := m.validator.ValidateDeltaBase(delta.BaseStateID, m.currentTickID); err != nil {
		m.mu.Unlock()
		conflict := NewStateConflict(ConflictInvalidDelta, "", clientID, err.Error())
		m.QueueConflict(conflict)
		return err
	}

	applied := 0
	for _, entry := range delta.Entries {
		st := entry.State.Clone()
		category := m.state.Category(st.Type)
		if category == nil {
			continue
		}
		if entry.Kind == entity.DeltaRemoved {
			delete(category, st.ID)
		} else {
			category[st.ID] = st
		}
		applied++
	}

	m.mu.Unlock()

	m.publishEvent(eventbus.EventDeltaApplied, 4, map[string]interface{}{
		"client_id": clientID,
		"base_tick": delta.BaseStateID,
		"applied":   applied,
	})
	return nil
}

// GetStateDelta строит дельту для клиента. Незнакомый клиент или
// подтверждённый тик, выпавший из окна истории, деградируют до полного
// ресинка (BaseStateID = 0, все сущности).
func (m *StateManager) GetStateDelta(clientID string) *StateDelta {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.state.AllEntities()

	client, known := m.clients[clientID]
	if !known || client.LastAckTickID == 0 || !m.history.Contains(client.LastAckTickID) {
		delta := m.compressor.CreateFullDelta(current, m.currentTickID)
		if known {
			client.lastKnown = cloneEntityMap(current)
			// Полный ресинк покрывает любые ожидающие коррекции
			client.forcedResync = make(map[string]struct{})
		}
		return delta
	}

	delta := m.compressor.CreateDelta(client.lastKnown, current, client.LastAckTickID, m.currentTickID)
	m.appendForcedResync(delta, current, client)
	client.lastKnown = cloneEntityMap(current)
	return delta
}

// appendForcedResync добавляет в дельту сущности, помеченные для клиента
// циклом разрешения конфликтов, даже если компрессор не увидел изменений.
// Пометки клиента потребляются здесь же. Вызывается под блокировкой.
func (m *StateManager) appendForcedResync(delta *StateDelta, current map[string]*entity.EntityState, client *ClientStateInfo) {
	included := make(map[string]struct{}, len(delta.Entries))
	for _, entry := range delta.Entries {
		included[entry.State.ID] = struct{}{}
	}

	for id := range client.forcedResync {
		delete(client.forcedResync, id)

		e, exists := current[id]
		if !exists {
			continue
		}
		if _, ok := included[id]; ok {
			continue
		}
		delta.Entries = append(delta.Entries, DeltaEntry{
			Kind:  entity.DeltaUpdated,
			State: e.Clone(),
		})
		included[id] = struct{}{}
	}
}

// markForcedResync помечает сущность для принудительной выдачи каждому
// зарегистрированному клиенту; каждый потребляет свою пометку независимо.
func (m *StateManager) markForcedResync(entityID string) {
	m.mu.Lock()
	for _, client := range m.clients {
		client.forcedResync[entityID] = struct{}{}
	}
	m.mu.Unlock()
}

//================ Тики =================//

// CaptureTick производит очередной авторитативный тик: идентификаторы
// строго растут и не переиспользуются внутри сессии. Снапшот-тики несут
// полный список сущностей, остальные — дельты с прошлого тика.
// filter (может быть nil) ограничивает сущности дельта-тиков —
// так сервер прореживает NPC до их собственной частоты.
func (m *StateManager) CaptureTick(sessionID string, snapshotInterval uint64, filter func(*entity.EntityState) bool) *tick.WorldTick {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.currentTickID++
	wt := tick.NewWorldTick(m.currentTickID, sessionID, snapshotInterval)
	wt.PlayerCount = len(m.clients)

	entities := m.state.AllEntities()

	// Хэш считается по текущим сущностям независимо от вида тика
	for _, e := range entities {
		wt.AddEntity(e.Clone())
	}
	wt.ComputeHash()

	if wt.IsFullSnapshot {
		m.lastGoodSnapshot = m.state.Clone()
		m.lastCaptured = cloneEntityMap(entities)
		return wt
	}

	diff := m.compressor.CreateDelta(m.lastCaptured, entities, m.currentTickID-1, m.currentTickID)
	wt.Entities = nil
	captured := cloneEntityMap(entities)
	for _, entry := range diff.Entries {
		if filter != nil && !filter(entry.State) {
			// База отфильтрованной сущности не продвигается: её изменение
			// всплывёт в дельте следующего включённого тика
			if prev, ok := m.lastCaptured[entry.State.ID]; ok {
				captured[entry.State.ID] = prev
			} else {
				delete(captured, entry.State.ID)
			}
			continue
		}
		wt.AddDelta(entry.State.ID, entry.Kind, map[string]interface{}{
			"position":       entry.State.Position,
			"rotation":       entry.State.Rotation,
			"current_action": entry.State.CurrentAction,
			"health":         entry.State.Health,
		})
	}
	m.lastCaptured = captured
	return wt
}

//================ Конфликты =================//

// QueueConflict ставит конфликт в очередь разрешения.
// Неблокирующий: при переполнении очереди конфликт отбрасывается с логом.
func (m *StateManager) QueueConflict(conflict StateConflict) {
	select {
	case m.conflicts <- conflict:
		m.publishEvent(eventbus.EventStateConflict, 6, conflict)
	default:
		m.logger.Warn("Очередь конфликтов переполнена, %s для %s отброшен",
			conflict.Type, conflict.EntityID)
	}
}

// resolveLoop — фоновый потребитель очереди конфликтов.
// Политика фиксирована по виду конфликта и не настраивается.
func (m *StateManager) resolveLoop(ctx context.Context) {
	m.logger.Info("Цикл разрешения конфликтов запущен")
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Цикл разрешения конфликтов остановлен")
			return
		case conflict := <-m.conflicts:
			m.resolveConflict(conflict)
		}
	}
}

func (m *StateManager) resolveConflict(conflict StateConflict) {
	switch conflict.Type {
	case ConflictPositionMismatch:
		// Принудительный ресинк позиции в следующей дельте каждого клиента
		m.markForcedResync(conflict.EntityID)
		m.logger.Debug("Конфликт позиции %s: помечен для коррекции", conflict.EntityID)

	case ConflictInventoryMismatch:
		m.markForcedResync(conflict.EntityID)
		m.logger.Debug("Конфликт инвентаря %s: помечен для синхронизации", conflict.EntityID)

	case ConflictInvalidState:
		m.mu.Lock()
		if m.lastGoodSnapshot != nil {
			m.state = m.lastGoodSnapshot.Clone()
			m.mu.Unlock()
			m.logger.Warn("Невалидное состояние %s: откат к последнему снапшоту", conflict.EntityID)
		} else {
			m.mu.Unlock()
			m.logger.Warn("Невалидное состояние %s: снапшота для отката нет, конфликт не разрешён",
				conflict.EntityID)
		}

	case ConflictAuthorityViolation:
		// Эскалация (кик и т.п.) — внешняя политика, здесь только лог
		m.logger.Warn("Нарушение авторитета: клиент %s, сущность %s — %s",
			conflict.ClientID, conflict.EntityID, conflict.Detail)

	case ConflictInvalidDelta:
		m.logger.Debug("Невалидная дельта от %s: %s", conflict.ClientID, conflict.Detail)
	}
}

//================ События =================//

func (m *StateManager) publishStateChanged(kind entity.DeltaKind, entityID string, old, updated *entity.EntityState) {
	m.publishEvent(eventbus.EventStateChanged, 5, StateChangedEvent{
		Kind:     kind,
		EntityID: entityID,
		Old:      old,
		New:      updated,
	})
}

func (m *StateManager) publishEvent(eventType string, priority int, payload interface{}) {
	if m.bus == nil {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		m.logger.Error("Ошибка сериализации события %s: %v", eventType, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.bus.Publish(ctx, eventbus.NewEnvelope("state", eventType, priority, data)); err != nil {
		m.logger.Warn("Ошибка публикации события %s: %v", eventType, err)
	}
}

func cloneEntityMap(src map[string]*entity.EntityState) map[string]*entity.EntityState {
	dst := make(map[string]*entity.EntityState, len(src))
	for id, e := range src {
		dst[id] = e.Clone()
	}
	return dst
}
