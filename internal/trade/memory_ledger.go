package trade

import (
	"context"
	"fmt"
	"sync"
)

// MemoryLedger — авторитативный серверный инвентарь в памяти.
// Все шесть операций выполняются под одним мьютексом, поэтому
// относительно друг друга они атомарны и идемпотентность не нужна:
// частичный перенос возможен только между вызовами, что и фиксирует
// политика «Failed без компенсации» торгового движка.
type MemoryLedger struct {
	mu    sync.Mutex
	items map[string]map[string]TradeItem // playerID → itemID → предмет
	money map[string]int64
}

// NewMemoryLedger создаёт пустой леджер
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		items: make(map[string]map[string]TradeItem),
		money: make(map[string]int64),
	}
}

// Grant кладёт предмет в инвентарь игрока (инициализация мира)
func (ml *MemoryLedger) Grant(playerID string, item TradeItem) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	if ml.items[playerID] == nil {
		ml.items[playerID] = make(map[string]TradeItem)
	}
	ml.items[playerID][item.ItemID] = item
}

// SetBalance задаёт баланс игрока (инициализация мира)
func (ml *MemoryLedger) SetBalance(playerID string, amount int64) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	ml.money[playerID] = amount
}

// Balance возвращает текущий баланс игрока
func (ml *MemoryLedger) Balance(playerID string) int64 {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	return ml.money[playerID]
}

// HasItem сообщает, владеет ли игрок предметом
func (ml *MemoryLedger) HasItem(playerID, itemID string) bool {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	_, ok := ml.items[playerID][itemID]
	return ok
}

func (ml *MemoryLedger) ValidateItem(_ context.Context, playerID string, item TradeItem) error {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	owned, ok := ml.items[playerID][item.ItemID]
	if !ok {
		return fmt.Errorf("предмет %s не принадлежит игроку %s", item.ItemID, playerID)
	}
	if item.Quantity > owned.Quantity {
		return fmt.Errorf("у игрока %s только %d из %d предмета %s",
			playerID, owned.Quantity, item.Quantity, item.ItemID)
	}
	return nil
}

func (ml *MemoryLedger) ValidateMoney(_ context.Context, playerID string, amount int64) error {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	if ml.money[playerID] < amount {
		return fmt.Errorf("у игрока %s недостаточно денег: %d < %d",
			playerID, ml.money[playerID], amount)
	}
	return nil
}

func (ml *MemoryLedger) RemoveItem(_ context.Context, playerID string, item TradeItem) error {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	owned, ok := ml.items[playerID][item.ItemID]
	if !ok || item.Quantity > owned.Quantity {
		return fmt.Errorf("невозможно изъять %s у игрока %s", item.ItemID, playerID)
	}

	if item.Quantity == owned.Quantity {
		delete(ml.items[playerID], item.ItemID)
	} else {
		owned.Quantity -= item.Quantity
		ml.items[playerID][item.ItemID] = owned
	}
	return nil
}

func (ml *MemoryLedger) AddItem(_ context.Context, playerID string, item TradeItem) error {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	if ml.items[playerID] == nil {
		ml.items[playerID] = make(map[string]TradeItem)
	}
	if existing, ok := ml.items[playerID][item.ItemID]; ok {
		existing.Quantity += item.Quantity
		ml.items[playerID][item.ItemID] = existing
	} else {
		ml.items[playerID][item.ItemID] = item
	}
	return nil
}

func (ml *MemoryLedger) RemoveMoney(_ context.Context, playerID string, amount int64) error {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	if ml.money[playerID] < amount {
		return fmt.Errorf("невозможно списать %d у игрока %s", amount, playerID)
	}
	ml.money[playerID] -= amount
	return nil
}

func (ml *MemoryLedger) AddMoney(_ context.Context, playerID string, amount int64) error {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	ml.money[playerID] += amount
	return nil
}
