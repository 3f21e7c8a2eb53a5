package tick

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/annel0/kenshi-mp/internal/entity"
)

// DefaultSnapshotInterval — каждый 60-й тик несёт полный снапшот
// (3 секунды при базовых 20 Гц).
const DefaultSnapshotInterval = 60

// WorldTick — один авторитативный момент симуляции.
// Несёт либо полный список сущностей (снапшот), либо список дельт;
// осмысленно ровно одно из двух. После создания не мутируется
// (AddEntity/AddDelta используются только при наполнении).
type WorldTick struct {
	TickID         uint64                `json:"tick_id"`
	SessionID      string                `json:"session_id"`
	Timestamp      int64                 `json:"timestamp"` // unix-миллисекунды, стенные часы сервера
	IsFullSnapshot bool                  `json:"is_full_snapshot"`
	PlayerCount    int                   `json:"player_count"`
	Entities       []*entity.EntityState `json:"entities,omitempty"`
	Deltas         []entity.EntityDelta  `json:"deltas,omitempty"`
	Hash           uint64                `json:"hash"`
}

// NewWorldTick создаёт тик. Детерминированно: полный снапшот тогда и
// только тогда, когда tickID кратен snapshotInterval.
func NewWorldTick(tickID uint64, sessionID string, snapshotInterval uint64) *WorldTick {
	if snapshotInterval == 0 {
		snapshotInterval = DefaultSnapshotInterval
	}

	return &WorldTick{
		TickID:         tickID,
		SessionID:      sessionID,
		Timestamp:      time.Now().UnixMilli(),
		IsFullSnapshot: tickID%snapshotInterval == 0,
	}
}

// AddEntity добавляет сущность в снапшот. Без валидации:
// за корректность состояний отвечает state-движок, не тики.
func (wt *WorldTick) AddEntity(state *entity.EntityState) {
	wt.Entities = append(wt.Entities, state)
}

// AddDelta добавляет запись изменения. Также без валидации.
func (wt *WorldTick) AddDelta(entityID string, kind entity.DeltaKind, changes map[string]interface{}) {
	wt.Deltas = append(wt.Deltas, entity.NewEntityDelta(entityID, kind, changes, wt.TickID))
}

// ComputeHash канонизирует tickID, sessionID и id/позицию/здоровье каждой
// сущности в один xxhash64 и запоминает его в тике. Расхождение хэша на
// клиенте — сигнал запросить полный ресинк, а не чинить состояние молча.
func (wt *WorldTick) ComputeHash() uint64 {
	digest := xxhash.New()

	digest.WriteString(strconv.FormatUint(wt.TickID, 10))
	digest.WriteString("|")
	digest.WriteString(wt.SessionID)

	// Сортируем по ID: порядок в карте мира недетерминирован
	entities := make([]*entity.EntityState, len(wt.Entities))
	copy(entities, wt.Entities)
	sort.Slice(entities, func(i, j int) bool { return entities[i].ID < entities[j].ID })

	for _, e := range entities {
		digest.WriteString("|")
		digest.WriteString(e.ID)
		digest.WriteString(":")
		digest.WriteString(strconv.FormatFloat(e.Position.X, 'g', -1, 64))
		digest.WriteString(",")
		digest.WriteString(strconv.FormatFloat(e.Position.Y, 'g', -1, 64))
		digest.WriteString(",")
		digest.WriteString(strconv.FormatFloat(e.Position.Z, 'g', -1, 64))
		digest.WriteString(":")
		digest.WriteString(strconv.FormatFloat(e.Health, 'g', -1, 64))
	}

	wt.Hash = digest.Sum64()
	return wt.Hash
}

// ToJSON сериализует тик в канонический JSON
func (wt *WorldTick) ToJSON() ([]byte, error) {
	data, err := json.Marshal(wt)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации WorldTick %d: %w", wt.TickID, err)
	}
	return data, nil
}

// FromJSON восстанавливает тик из JSON
func FromJSON(data []byte) (*WorldTick, error) {
	var wt WorldTick
	if err := json.Unmarshal(data, &wt); err != nil {
		return nil, fmt.Errorf("ошибка десериализации WorldTick: %w", err)
	}
	return &wt, nil
}
