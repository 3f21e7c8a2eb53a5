package trade

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/annel0/kenshi-mp/internal/eventbus"
	"github.com/annel0/kenshi-mp/internal/logging"
)

// Интервал обхода активных сессий сборщиком таймаутов
const sweepInterval = 5 * time.Second

// sessionEntry связывает сессию с её мьютексом.
// Мьютекс сериализует все мутаторы одной сессии: сама TradeSession
// внутренней синхронизации не имеет.
type sessionEntry struct {
	mu      sync.Mutex
	session *TradeSession
}

// TradeManager владеет активными сессиями обмена: создаёт, маршрутизирует
// действия игроков, исполняет через леджер и убирает протухшие сессии.
type TradeManager struct {
	mu       sync.RWMutex
	sessions map[string]*sessionEntry

	ledger InventoryLedger
	bus    eventbus.EventBus
	logger *logging.Logger

	sweepCancel context.CancelFunc
}

// NewTradeManager создаёт менеджер обменов
func NewTradeManager(ledger InventoryLedger, bus eventbus.EventBus) *TradeManager {
	return &TradeManager{
		sessions: make(map[string]*sessionEntry),
		ledger:   ledger,
		bus:      bus,
		logger:   logging.GetTradeLogger(),
	}
}

// Start запускает сборщик таймаутов
func (tm *TradeManager) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	tm.sweepCancel = cancel
	go tm.sweepLoop(ctx)
	tm.logger.Info("💰 TradeManager запущен")
}

// Stop останавливает сборщик таймаутов. Активные сессии остаются:
// они либо доисполнятся, либо будут отменены при следующем действии.
func (tm *TradeManager) Stop() {
	if tm.sweepCancel != nil {
		tm.sweepCancel()
	}
	tm.logger.Info("💰 TradeManager остановлен")
}

// Propose создаёт новую сессию обмена между инициатором и целью.
// Игрок участвует максимум в одном активном обмене одновременно.
func (tm *TradeManager) Propose(initiatorID, targetID string) (*TradeSession, error) {
	if initiatorID == targetID {
		return nil, fmt.Errorf("обмен с самим собой невозможен")
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()

	for _, entry := range tm.sessions {
		s := entry.session
		if s.IsTerminal() {
			continue
		}
		if s.offerOf(initiatorID) != nil || s.offerOf(targetID) != nil {
			return nil, fmt.Errorf("игрок уже участвует в обмене %s", s.ID)
		}
	}

	session := NewTradeSession(initiatorID, targetID)
	tm.sessions[session.ID] = &sessionEntry{session: session}

	tm.logger.Info("💰 Обмен предложен: %s (%s → %s)", session.ID, initiatorID, targetID)
	return session, nil
}

// entry возвращает запись сессии по идентификатору
func (tm *TradeManager) entry(sessionID string) (*sessionEntry, error) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	e, ok := tm.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("сессия обмена %s не найдена", sessionID)
	}
	return e, nil
}

// GetSession возвращает копию-снимок сессии для чтения
func (tm *TradeManager) GetSession(sessionID string) (*TradeSession, error) {
	e, err := tm.entry(sessionID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	snapshot := *e.session
	initiator := *e.session.InitiatorOffer
	target := *e.session.TargetOffer
	snapshot.InitiatorOffer = &initiator
	snapshot.TargetOffer = &target
	return &snapshot, nil
}

// Accept — целевая сторона принимает предложение
func (tm *TradeManager) Accept(sessionID, playerID string) TradeResult {
	return tm.withSession(sessionID, func(s *TradeSession) TradeResult {
		return s.Accept(playerID)
	})
}

// ModifyOffer — сторона меняет своё предложение
func (tm *TradeManager) ModifyOffer(sessionID, playerID string, items []TradeItem, money int64) TradeResult {
	return tm.withSession(sessionID, func(s *TradeSession) TradeResult {
		return s.ModifyOffer(playerID, items, money)
	})
}

// LockOffer — сторона фиксирует своё предложение
func (tm *TradeManager) LockOffer(sessionID, playerID string) TradeResult {
	return tm.withSession(sessionID, func(s *TradeSession) TradeResult {
		return s.LockOffer(playerID)
	})
}

// UnlockOffer — сторона снимает фиксацию (до BothReady)
func (tm *TradeManager) UnlockOffer(sessionID, playerID string) TradeResult {
	return tm.withSession(sessionID, func(s *TradeSession) TradeResult {
		return s.UnlockOffer(playerID)
	})
}

// Cancel отменяет сессию по инициативе участника
func (tm *TradeManager) Cancel(sessionID, playerID string) TradeResult {
	return tm.withSession(sessionID, func(s *TradeSession) TradeResult {
		if s.offerOf(playerID) == nil {
			return TradeErrNotParticipant
		}
		res := s.Cancel(fmt.Sprintf("отменено игроком %s", playerID))
		if res == TradeOK {
			tm.logger.Info("💰 Обмен %s отменён игроком %s", s.ID, playerID)
		}
		return res
	})
}

// CancelForPlayer отменяет активную сессию игрока, если она есть.
// Вызывается при дисконнекте: никакие предметы при этом не движутся.
func (tm *TradeManager) CancelForPlayer(playerID string) {
	tm.mu.RLock()
	var entries []*sessionEntry
	for _, e := range tm.sessions {
		entries = append(entries, e)
	}
	tm.mu.RUnlock()

	for _, e := range entries {
		e.mu.Lock()
		s := e.session
		if !s.IsTerminal() && s.State != StateExecuting && s.offerOf(playerID) != nil {
			s.Cancel(fmt.Sprintf("игрок %s отключился", playerID))
			tm.logger.Warn("💰 Обмен %s отменён: дисконнект %s", s.ID, playerID)
		}
		e.mu.Unlock()
	}
}

// Execute исполняет сессию через леджер менеджера.
// Исход публикуется в шину событий.
func (tm *TradeManager) Execute(ctx context.Context, sessionID string) TradeResult {
	ctx, span := otel.Tracer("trade").Start(ctx, "TradeManager.Execute",
		trace.WithAttributes(attribute.String("trade.session_id", sessionID)))
	defer span.End()

	e, err := tm.entry(sessionID)
	if err != nil {
		return TradeErrInvalidState
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.session
	res := s.Execute(ctx, tm.ledger)
	span.SetAttributes(attribute.String("trade.state", string(s.State)))

	switch s.State {
	case StateCompleted:
		tm.logger.Info("✅ Обмен %s завершён: %s ↔ %s", s.ID,
			s.InitiatorOffer.PlayerID, s.TargetOffer.PlayerID)
		tm.publishOutcome(ctx, eventbus.EventTradeCompleted, s)
	case StateFailed:
		tm.logger.Error("❌ Обмен %s провален: %s", s.ID, s.FailureReason)
		tm.publishOutcome(ctx, eventbus.EventTradeFailed, s)
	}

	return res
}

// withSession выполняет мутатор под мьютексом сессии
func (tm *TradeManager) withSession(sessionID string, fn func(*TradeSession) TradeResult) TradeResult {
	e, err := tm.entry(sessionID)
	if err != nil {
		return TradeErrInvalidState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.session)
}

// publishOutcome публикует исход обмена в шину событий
func (tm *TradeManager) publishOutcome(ctx context.Context, eventType string, s *TradeSession) {
	if tm.bus == nil {
		return
	}

	payload, err := s.ToJSON()
	if err != nil {
		tm.logger.Error("❌ Ошибка сериализации исхода обмена %s: %v", s.ID, err)
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	ev := eventbus.NewEnvelope("trade", eventType, 7, payload)
	if err := tm.bus.Publish(pubCtx, ev); err != nil {
		tm.logger.Error("❌ Ошибка публикации события %s: %v", eventType, err)
	}
}

// sweepLoop периодически отменяет протухшие сессии и удаляет терминальные
func (tm *TradeManager) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tm.sweep(time.Now())
		}
	}
}

// sweep отменяет сессии с истёкшими таймаутами и убирает терминальные
func (tm *TradeManager) sweep(now time.Time) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	for id, e := range tm.sessions {
		e.mu.Lock()
		s := e.session
		switch {
		case s.IsTerminal():
			delete(tm.sessions, id)
		case s.State == StateExecuting:
			// Исполнение не трогаем
		case s.IsExpired(now):
			s.Cancel("таймаут сессии обмена")
			tm.logger.Warn("⏰ Обмен %s отменён по таймауту сессии", id)
		case s.State == StateBothReady && s.IsReadyTimeoutExceeded(now):
			s.Cancel("таймаут готовности без исполнения")
			tm.logger.Warn("⏰ Обмен %s отменён: BothReady без исполнения", id)
		}
		e.mu.Unlock()
	}
}

// ActiveSessions возвращает количество нетерминальных сессий
func (tm *TradeManager) ActiveSessions() int {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	count := 0
	for _, e := range tm.sessions {
		if !e.session.IsTerminal() {
			count++
		}
	}
	return count
}
