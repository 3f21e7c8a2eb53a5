package trade

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/kenshi-mp/internal/eventbus"
)

func TestTradeManagerOnePlayerOneActiveTrade(t *testing.T) {
	tm := NewTradeManager(newMemoryLedger(), nil)

	s1, err := tm.Propose("alice", "bob")
	require.NoError(t, err)
	require.NotNil(t, s1)

	// Алиса уже торгует — вторая сессия с её участием отклоняется
	_, err = tm.Propose("alice", "carol")
	assert.Error(t, err)
	_, err = tm.Propose("carol", "bob")
	assert.Error(t, err)

	// Третьи лица торгуют свободно
	_, err = tm.Propose("carol", "dave")
	assert.NoError(t, err)
}

func TestTradeManagerSelfTradeRejected(t *testing.T) {
	tm := NewTradeManager(newMemoryLedger(), nil)
	_, err := tm.Propose("alice", "alice")
	assert.Error(t, err)
}

func TestTradeManagerConcurrentLocksReachBothReadyOnce(t *testing.T) {
	tm := NewTradeManager(newMemoryLedger(), nil)

	s, err := tm.Propose("alice", "bob")
	require.NoError(t, err)
	require.Equal(t, TradeOK, tm.Accept(s.ID, "bob"))

	// Обе стороны фиксируют одновременно: мьютекс сессии сериализует
	var wg sync.WaitGroup
	for _, player := range []string{"alice", "bob"} {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			tm.LockOffer(s.ID, p)
		}(player)
	}
	wg.Wait()

	snapshot, err := tm.GetSession(s.ID)
	require.NoError(t, err)
	assert.Equal(t, StateBothReady, snapshot.State)
	assert.False(t, snapshot.ReadyAt.IsZero())
}

func TestTradeManagerExecutePublishesOutcome(t *testing.T) {
	ledger := newMemoryLedger()
	sword := TradeItem{ItemID: "sword-1", Quantity: 1}
	ledger.give("alice", sword)

	bus := eventbus.NewMemoryBus(16)
	completed := make(chan *eventbus.Envelope, 1)
	_, err := bus.Subscribe(context.Background(),
		eventbus.Filter{Types: []string{eventbus.EventTradeCompleted}},
		func(_ context.Context, ev *eventbus.Envelope) {
			completed <- ev
		})
	require.NoError(t, err)

	tm := NewTradeManager(ledger, bus)
	s, err := tm.Propose("alice", "bob")
	require.NoError(t, err)
	require.Equal(t, TradeOK, tm.Accept(s.ID, "bob"))
	require.Equal(t, TradeOK, tm.ModifyOffer(s.ID, "alice", []TradeItem{sword}, 0))
	require.Equal(t, TradeOK, tm.LockOffer(s.ID, "alice"))
	require.Equal(t, TradeOK, tm.LockOffer(s.ID, "bob"))

	require.Equal(t, TradeOK, tm.Execute(context.Background(), s.ID))
	assert.True(t, ledger.has("bob", "sword-1"))

	ev := <-completed
	assert.Equal(t, "trade", ev.Source)

	restored, err := FromJSON(ev.Payload)
	require.NoError(t, err)
	assert.Equal(t, s.ID, restored.ID)
	assert.Equal(t, StateCompleted, restored.State)
}

func TestTradeManagerCancelForPlayer(t *testing.T) {
	tm := NewTradeManager(newMemoryLedger(), nil)

	s, err := tm.Propose("alice", "bob")
	require.NoError(t, err)
	require.Equal(t, TradeOK, tm.Accept(s.ID, "bob"))

	tm.CancelForPlayer("bob")

	snapshot, err := tm.GetSession(s.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, snapshot.State)
	assert.Equal(t, 0, tm.ActiveSessions())
}

func TestTradeManagerSweepRemovesTerminalAndExpired(t *testing.T) {
	tm := NewTradeManager(newMemoryLedger(), nil)

	s, err := tm.Propose("alice", "bob")
	require.NoError(t, err)
	require.Equal(t, TradeOK, tm.Cancel(s.ID, "alice"))

	tm.sweep(s.CreatedAt)
	_, err = tm.GetSession(s.ID)
	assert.Error(t, err)

	s2, err := tm.Propose("carol", "dave")
	require.NoError(t, err)

	// Истекает общий таймаут — сессия отменяется
	tm.sweep(s2.CreatedAt.Add(SessionTimeout + sweepInterval))
	snapshot, err := tm.GetSession(s2.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, snapshot.State)
}
