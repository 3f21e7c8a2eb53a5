package trade

import "context"

// TradeItem — один предмет в предложении обмена
type TradeItem struct {
	ItemID     string `json:"item_id"`
	TemplateID string `json:"template_id,omitempty"`
	Quantity   int    `json:"quantity"`
}

// InventoryLedger — полный контракт торгового движка с хранилищем
// инвентаря. Сессия обмена не знает, как инвентарь устроен: хост
// передаёт реализацию при исполнении. Шесть методов соответствуют
// шести операциям фазы валидации и фазы переноса.
//
// Движок не выполняет компенсирующих откатов: если удаление прошло,
// а последующее добавление упало, сессия помечается Failed как есть.
// Поэтому реализации обязаны делать операции идемпотентными или
// транзакционными на своей стороне.
type InventoryLedger interface {
	// ValidateItem проверяет, что предмет принадлежит игроку
	ValidateItem(ctx context.Context, playerID string, item TradeItem) error

	// ValidateMoney проверяет, что у игрока есть указанная сумма
	ValidateMoney(ctx context.Context, playerID string, amount int64) error

	// RemoveItem изымает предмет у игрока
	RemoveItem(ctx context.Context, playerID string, item TradeItem) error

	// AddItem передаёт предмет игроку
	AddItem(ctx context.Context, playerID string, item TradeItem) error

	// RemoveMoney списывает деньги у игрока
	RemoveMoney(ctx context.Context, playerID string, amount int64) error

	// AddMoney зачисляет деньги игроку
	AddMoney(ctx context.Context, playerID string, amount int64) error
}
