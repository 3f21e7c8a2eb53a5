package state

import (
	"github.com/annel0/kenshi-mp/internal/entity"
)

// WorldState — текущее состояние мира: карты сущностей по категориям
// плюс мировые метаданные. Доступ только через StateManager под его
// общим мьютексом; само по себе состояние не синхронизировано.
type WorldState struct {
	Characters map[string]*entity.EntityState `json:"characters"`
	Squads     map[string]*entity.EntityState `json:"squads"`
	Buildings  map[string]*entity.EntityState `json:"buildings"`
	Items      map[string]*entity.EntityState `json:"items"`
	Factions   map[string]*entity.EntityState `json:"factions"`

	GameTime float64 `json:"game_time"` // время суток, 0.0-1.0
	Day      int     `json:"day"`
	Weather  int     `json:"weather"`
}

// NewWorldState создаёт пустое состояние мира
func NewWorldState() *WorldState {
	return &WorldState{
		Characters: make(map[string]*entity.EntityState),
		Squads:     make(map[string]*entity.EntityState),
		Buildings:  make(map[string]*entity.EntityState),
		Items:      make(map[string]*entity.EntityState),
		Factions:   make(map[string]*entity.EntityState),
		GameTime:   0.5,
	}
}

// Category возвращает карту категории для типа сущности.
// Персонажи игроков и NPC живут в одной карте Characters.
func (ws *WorldState) Category(entityType entity.EntityType) map[string]*entity.EntityState {
	switch entityType {
	case entity.TypePlayer, entity.TypeNPC:
		return ws.Characters
	case entity.TypeSquad:
		return ws.Squads
	case entity.TypeBuilding:
		return ws.Buildings
	case entity.TypeItem:
		return ws.Items
	case entity.TypeFaction:
		return ws.Factions
	default:
		return nil
	}
}

// AllEntities собирает все сущности мира в одну карту по ID
func (ws *WorldState) AllEntities() map[string]*entity.EntityState {
	result := make(map[string]*entity.EntityState,
		len(ws.Characters)+len(ws.Squads)+len(ws.Buildings)+len(ws.Items)+len(ws.Factions))

	for _, category := range []map[string]*entity.EntityState{
		ws.Characters, ws.Squads, ws.Buildings, ws.Items, ws.Factions,
	} {
		for id, e := range category {
			result[id] = e
		}
	}
	return result
}

// Find ищет сущность по ID во всех категориях
func (ws *WorldState) Find(entityID string) (*entity.EntityState, bool) {
	for _, category := range []map[string]*entity.EntityState{
		ws.Characters, ws.Squads, ws.Buildings, ws.Items, ws.Factions,
	} {
		if e, ok := category[entityID]; ok {
			return e, true
		}
	}
	return nil, false
}

// Clone возвращает глубокую копию состояния мира
func (ws *WorldState) Clone() *WorldState {
	clone := NewWorldState()
	clone.GameTime = ws.GameTime
	clone.Day = ws.Day
	clone.Weather = ws.Weather

	cloneCategory := func(dst, src map[string]*entity.EntityState) {
		for id, e := range src {
			dst[id] = e.Clone()
		}
	}
	cloneCategory(clone.Characters, ws.Characters)
	cloneCategory(clone.Squads, ws.Squads)
	cloneCategory(clone.Buildings, ws.Buildings)
	cloneCategory(clone.Items, ws.Items)
	cloneCategory(clone.Factions, ws.Factions)

	return clone
}
