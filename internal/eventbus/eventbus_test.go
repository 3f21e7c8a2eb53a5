package eventbus

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBusPublishSubscribe(t *testing.T) {
	bus := NewMemoryBus(16)
	ctx := context.Background()

	var received int64
	_, err := bus.Subscribe(ctx, Filter{Types: []string{EventTickProduced}}, func(_ context.Context, ev *Envelope) {
		assert.Equal(t, EventTickProduced, ev.EventType)
		atomic.AddInt64(&received, 1)
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, NewEnvelope("server", EventTickProduced, 5, []byte(`{}`))))
	// Другой тип не проходит фильтр
	require.NoError(t, bus.Publish(ctx, NewEnvelope("server", EventTimeSync, 5, []byte(`{}`))))

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&received) == 1
	}, time.Second, 5*time.Millisecond)

	stats := bus.Metrics()
	assert.Equal(t, uint64(2), stats.Published)
}

func TestMemoryBusFilterBySource(t *testing.T) {
	bus := NewMemoryBus(16)
	ctx := context.Background()

	var fromTrade int64
	_, err := bus.Subscribe(ctx, Filter{Sources: []string{"trade"}}, func(_ context.Context, _ *Envelope) {
		atomic.AddInt64(&fromTrade, 1)
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, NewEnvelope("trade", EventTradeCompleted, 7, nil)))
	require.NoError(t, bus.Publish(ctx, NewEnvelope("state", EventStateChanged, 5, nil)))

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&fromTrade) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestMemoryBusUnsubscribe(t *testing.T) {
	bus := NewMemoryBus(16)
	ctx := context.Background()

	var received int64
	sub, err := bus.Subscribe(ctx, Filter{}, func(_ context.Context, _ *Envelope) {
		atomic.AddInt64(&received, 1)
	})
	require.NoError(t, err)

	sub.Unsubscribe()
	require.NoError(t, bus.Publish(ctx, NewEnvelope("server", EventTickProduced, 5, nil)))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(0), atomic.LoadInt64(&received), "после отписки события не доставляются")
}

func TestMemoryBusDropsLowPriorityWhenFull(t *testing.T) {
	// Буфер на одно событие и ни одного потребителя, который бы его разгребал
	// быстрее, чем мы публикуем
	bus := NewMemoryBus(1)
	ctx := context.Background()

	// Заполняем буфер и публикуем низкоприоритетные поверх: часть должна
	// быть отброшена, а не заблокировать вызывающего
	for i := 0; i < 50; i++ {
		require.NoError(t, bus.Publish(ctx, NewEnvelope("state", EventStateChanged, 2, nil)))
	}

	stats := bus.Metrics()
	assert.Greater(t, stats.Dropped, uint64(0), "низкий приоритет дропается при переполнении")
	assert.Equal(t, uint64(50), stats.Published+stats.Dropped)
}
