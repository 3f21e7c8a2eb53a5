package trade

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TradeState — состояние конечного автомата сессии обмена
type TradeState string

const (
	StateProposed       TradeState = "proposed"
	StateNegotiating    TradeState = "negotiating"
	StateInitiatorReady TradeState = "initiator_ready"
	StateTargetReady    TradeState = "target_ready"
	StateBothReady      TradeState = "both_ready"
	StateExecuting      TradeState = "executing"
	StateCompleted      TradeState = "completed"
	StateFailed         TradeState = "failed"
	StateCancelled      TradeState = "cancelled"
)

// TradeResult — типизированный код исхода операции над сессией
type TradeResult int

const (
	TradeOK TradeResult = iota
	TradeErrInvalidState
	TradeErrNotParticipant
	TradeErrOfferLocked
	TradeErrValidationFailed
	TradeErrExecutionFailed
)

// String возвращает строковое представление кода исхода
func (r TradeResult) String() string {
	switch r {
	case TradeOK:
		return "ok"
	case TradeErrInvalidState:
		return "invalid_state"
	case TradeErrNotParticipant:
		return "not_participant"
	case TradeErrOfferLocked:
		return "offer_locked"
	case TradeErrValidationFailed:
		return "validation_failed"
	case TradeErrExecutionFailed:
		return "execution_failed"
	default:
		return "unknown"
	}
}

// Таймауты сессии. Рекомендательные: сессия сама себя не закрывает,
// внешний sweeper действует по IsExpired/IsReadyTimeoutExceeded.
const (
	SessionTimeout = 5 * time.Minute
	ReadyTimeout   = 30 * time.Second
)

// TradeOffer — предложение одной стороны обмена
type TradeOffer struct {
	PlayerID   string      `json:"player_id"`
	Items      []TradeItem `json:"items,omitempty"`
	Money      int64       `json:"money"`
	Ready      bool        `json:"ready"`
	ModifiedAt time.Time   `json:"modified_at"`
}

// TradeSession — атомарный двусторонний обмен.
// Исполнение достижимо только через независимые, отзываемые до коммита
// действия обеих сторон; содержимое предложений перепроверяется в момент
// исполнения, а не берётся на веру со времён переговоров — именно это
// исключает дублирование предметов.
//
// Сессия не синхронизирована внутренне: конкурентные вызовы мутаторов
// одной сессии обязан сериализовать вызывающий (TradeManager держит
// мьютекс на активную сессию).
type TradeSession struct {
	ID             string      `json:"id"`
	InitiatorOffer *TradeOffer `json:"initiator_offer"`
	TargetOffer    *TradeOffer `json:"target_offer"`
	State          TradeState  `json:"state"`
	CreatedAt      time.Time   `json:"created_at"`
	ReadyAt        time.Time   `json:"ready_at,omitempty"`
	FailureReason  string      `json:"failure_reason,omitempty"`
}

// NewTradeSession создаёт сессию в состоянии Proposed
func NewTradeSession(initiatorID, targetID string) *TradeSession {
	now := time.Now()
	return &TradeSession{
		ID:             uuid.NewString(),
		InitiatorOffer: &TradeOffer{PlayerID: initiatorID, ModifiedAt: now},
		TargetOffer:    &TradeOffer{PlayerID: targetID, ModifiedAt: now},
		State:          StateProposed,
		CreatedAt:      now,
	}
}

// IsTerminal сообщает, завершена ли сессия
func (ts *TradeSession) IsTerminal() bool {
	switch ts.State {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// IsExpired сообщает, истёк ли общий таймаут сессии
func (ts *TradeSession) IsExpired(now time.Time) bool {
	return now.Sub(ts.CreatedAt) > SessionTimeout
}

// IsReadyTimeoutExceeded сообщает, провисела ли сессия в BothReady
// дольше разрешённого окна без исполнения
func (ts *TradeSession) IsReadyTimeoutExceeded(now time.Time) bool {
	if ts.ReadyAt.IsZero() {
		return false
	}
	return now.Sub(ts.ReadyAt) > ReadyTimeout
}

// offerOf возвращает предложение участника или nil
func (ts *TradeSession) offerOf(playerID string) *TradeOffer {
	if ts.InitiatorOffer.PlayerID == playerID {
		return ts.InitiatorOffer
	}
	if ts.TargetOffer.PlayerID == playerID {
		return ts.TargetOffer
	}
	return nil
}

// Accept переводит сессию из Proposed в Negotiating.
// Валиден только для целевой стороны и только из Proposed.
func (ts *TradeSession) Accept(playerID string) TradeResult {
	if ts.State != StateProposed {
		return TradeErrInvalidState
	}
	if ts.TargetOffer.PlayerID != playerID {
		return TradeErrNotParticipant
	}
	ts.State = StateNegotiating
	return TradeOK
}

// ModifyOffer заменяет предложение стороны целиком.
// Валиден только в Negotiating и только пока собственное предложение
// стороны не зафиксировано.
func (ts *TradeSession) ModifyOffer(playerID string, items []TradeItem, money int64) TradeResult {
	if ts.State != StateNegotiating {
		return TradeErrInvalidState
	}
	offer := ts.offerOf(playerID)
	if offer == nil {
		return TradeErrNotParticipant
	}
	if offer.Ready {
		return TradeErrOfferLocked
	}

	offer.Items = make([]TradeItem, len(items))
	copy(offer.Items, items)
	offer.Money = money
	offer.ModifiedAt = time.Now()
	return TradeOK
}

// LockOffer фиксирует предложение стороны и пересчитывает состояние
func (ts *TradeSession) LockOffer(playerID string) TradeResult {
	switch ts.State {
	case StateNegotiating, StateInitiatorReady, StateTargetReady:
	default:
		return TradeErrInvalidState
	}

	offer := ts.offerOf(playerID)
	if offer == nil {
		return TradeErrNotParticipant
	}

	offer.Ready = true
	offer.ModifiedAt = time.Now()
	ts.recomputeState()
	return TradeOK
}

// UnlockOffer снимает фиксацию. Отклоняется после достижения
// BothReady: после начала коммита пути назад нет.
func (ts *TradeSession) UnlockOffer(playerID string) TradeResult {
	switch ts.State {
	case StateNegotiating, StateInitiatorReady, StateTargetReady:
	default:
		return TradeErrInvalidState
	}

	offer := ts.offerOf(playerID)
	if offer == nil {
		return TradeErrNotParticipant
	}

	offer.Ready = false
	offer.ModifiedAt = time.Now()
	ts.recomputeState()
	return TradeOK
}

// recomputeState выводит состояние из флагов готовности обоих
// предложений. Достижение BothReady запоминается: с этого момента
// отсчитывается окно ReadyTimeout.
func (ts *TradeSession) recomputeState() {
	initiatorReady := ts.InitiatorOffer.Ready
	targetReady := ts.TargetOffer.Ready

	switch {
	case initiatorReady && targetReady:
		if ts.State != StateBothReady {
			ts.State = StateBothReady
			ts.ReadyAt = time.Now()
		}
	case initiatorReady:
		ts.State = StateInitiatorReady
	case targetReady:
		ts.State = StateTargetReady
	default:
		ts.State = StateNegotiating
	}
}

// Cancel переводит сессию в Cancelled из любого нетерминального
// состояния. Начавшееся исполнение отменить нельзя: Execute атомарен
// по отношению к отмене. Дисконнект клиента идёт через этот же вход.
func (ts *TradeSession) Cancel(reason string) TradeResult {
	if ts.IsTerminal() || ts.State == StateExecuting {
		return TradeErrInvalidState
	}
	ts.State = StateCancelled
	ts.FailureReason = reason
	return TradeOK
}

// Execute исполняет обмен через переданный леджер. Валиден только из
// BothReady. Три фазы: перевалидация владения предметами, перевалидация
// денег, затем переносы в фиксированном порядке — изъятия предметов и
// денег обеих сторон, потом зачисления крест-накрест. Ошибка фазы
// переноса оставляет сессию Failed без компенсирующего отката.
func (ts *TradeSession) Execute(ctx context.Context, ledger InventoryLedger) TradeResult {
	if ts.State != StateBothReady {
		return TradeErrInvalidState
	}
	ts.State = StateExecuting

	initiator := ts.InitiatorOffer
	target := ts.TargetOffer

	// Фаза 1: предметы всё ещё принадлежат заявленным владельцам
	for _, offer := range []*TradeOffer{initiator, target} {
		for _, item := range offer.Items {
			if err := ledger.ValidateItem(ctx, offer.PlayerID, item); err != nil {
				ts.fail(fmt.Sprintf("предмет %s не прошёл валидацию у %s: %v",
					item.ItemID, offer.PlayerID, err))
				return TradeErrValidationFailed
			}
		}
	}

	// Фаза 2: деньги всё ещё на месте
	for _, offer := range []*TradeOffer{initiator, target} {
		if offer.Money > 0 {
			if err := ledger.ValidateMoney(ctx, offer.PlayerID, offer.Money); err != nil {
				ts.fail(fmt.Sprintf("деньги %d не прошли валидацию у %s: %v",
					offer.Money, offer.PlayerID, err))
				return TradeErrValidationFailed
			}
		}
	}

	// Фаза 3: переносы в фиксированном порядке
	for _, offer := range []*TradeOffer{initiator, target} {
		for _, item := range offer.Items {
			if err := ledger.RemoveItem(ctx, offer.PlayerID, item); err != nil {
				ts.fail(fmt.Sprintf("изъятие предмета %s у %s: %v", item.ItemID, offer.PlayerID, err))
				return TradeErrExecutionFailed
			}
		}
	}
	for _, offer := range []*TradeOffer{initiator, target} {
		if offer.Money > 0 {
			if err := ledger.RemoveMoney(ctx, offer.PlayerID, offer.Money); err != nil {
				ts.fail(fmt.Sprintf("списание %d у %s: %v", offer.Money, offer.PlayerID, err))
				return TradeErrExecutionFailed
			}
		}
	}
	for _, item := range initiator.Items {
		if err := ledger.AddItem(ctx, target.PlayerID, item); err != nil {
			ts.fail(fmt.Sprintf("передача предмета %s игроку %s: %v", item.ItemID, target.PlayerID, err))
			return TradeErrExecutionFailed
		}
	}
	for _, item := range target.Items {
		if err := ledger.AddItem(ctx, initiator.PlayerID, item); err != nil {
			ts.fail(fmt.Sprintf("передача предмета %s игроку %s: %v", item.ItemID, initiator.PlayerID, err))
			return TradeErrExecutionFailed
		}
	}
	if initiator.Money > 0 {
		if err := ledger.AddMoney(ctx, target.PlayerID, initiator.Money); err != nil {
			ts.fail(fmt.Sprintf("зачисление %d игроку %s: %v", initiator.Money, target.PlayerID, err))
			return TradeErrExecutionFailed
		}
	}
	if target.Money > 0 {
		if err := ledger.AddMoney(ctx, initiator.PlayerID, target.Money); err != nil {
			ts.fail(fmt.Sprintf("зачисление %d игроку %s: %v", target.Money, initiator.PlayerID, err))
			return TradeErrExecutionFailed
		}
	}

	ts.State = StateCompleted
	return TradeOK
}

func (ts *TradeSession) fail(reason string) {
	ts.State = StateFailed
	ts.FailureReason = reason
}

// ToJSON сериализует сессию в канонический JSON
func (ts *TradeSession) ToJSON() ([]byte, error) {
	data, err := json.Marshal(ts)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации TradeSession %s: %w", ts.ID, err)
	}
	return data, nil
}

// FromJSON восстанавливает сессию из JSON
func FromJSON(data []byte) (*TradeSession, error) {
	var ts TradeSession
	if err := json.Unmarshal(data, &ts); err != nil {
		return nil, fmt.Errorf("ошибка десериализации TradeSession: %w", err)
	}
	return &ts, nil
}
