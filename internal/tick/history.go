package tick

import "sync"

// DefaultHistoryCapacity — окно реплея по умолчанию
// (100 тиков ≈ 5 секунд при 20 Гц).
const DefaultHistoryCapacity = 100

// TickHistory — ограниченный FIFO-буфер тиков.
// Один писатель (тик-цикл) и произвольное число читателей
// (по одному на клиентский запрос); синхронизация внутренняя,
// внешних блокировок вызывающим не требуется.
type TickHistory struct {
	mu       sync.RWMutex
	ticks    []*WorldTick
	capacity int
}

// NewTickHistory создаёт историю с указанной ёмкостью.
func NewTickHistory(capacity int) *TickHistory {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &TickHistory{
		ticks:    make([]*WorldTick, 0, capacity),
		capacity: capacity,
	}
}

// Add добавляет тик; при переполнении вытесняется самый старый.
func (th *TickHistory) Add(wt *WorldTick) {
	th.mu.Lock()
	defer th.mu.Unlock()

	if len(th.ticks) >= th.capacity {
		th.ticks = th.ticks[1:]
	}
	th.ticks = append(th.ticks, wt)
}

// Get возвращает тик по идентификатору.
// Линейный проход: при ёмкости ~100 это дешевле индексов.
func (th *TickHistory) Get(tickID uint64) (*WorldTick, bool) {
	th.mu.RLock()
	defer th.mu.RUnlock()

	for _, wt := range th.ticks {
		if wt.TickID == tickID {
			return wt, true
		}
	}
	return nil, false
}

// Contains сообщает, есть ли тик в окне истории.
func (th *TickHistory) Contains(tickID uint64) bool {
	_, ok := th.Get(tickID)
	return ok
}

// Latest возвращает самый свежий тик или nil, если история пуста.
func (th *TickHistory) Latest() *WorldTick {
	th.mu.RLock()
	defer th.mu.RUnlock()

	if len(th.ticks) == 0 {
		return nil
	}
	return th.ticks[len(th.ticks)-1]
}

// Len возвращает число тиков в истории.
func (th *TickHistory) Len() int {
	th.mu.RLock()
	defer th.mu.RUnlock()
	return len(th.ticks)
}

// Capacity возвращает ёмкость истории.
func (th *TickHistory) Capacity() int {
	return th.capacity
}
