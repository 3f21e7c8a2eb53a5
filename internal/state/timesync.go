package state

import (
	"sync"
	"time"
)

// TimeSync — клиентская оценка серверного времени.
// На каждом обновлении запоминается offset = serverTime − localTime,
// дальше серверное время считается как localTime + offset.
// Упрощённая NTP-оценка без компенсации RTT: при переменной задержке
// сети смещение систематически завышено примерно на половину RTT.
type TimeSync struct {
	mu     sync.RWMutex
	offset time.Duration
	synced bool
}

// NewTimeSync создаёт несинхронизированную оценку времени
func NewTimeSync() *TimeSync {
	return &TimeSync{}
}

// Update пересчитывает смещение по очередной метке серверного времени
func (ts *TimeSync) Update(serverTime time.Time) {
	ts.mu.Lock()
	ts.offset = serverTime.Sub(time.Now())
	ts.synced = true
	ts.mu.Unlock()
}

// Now возвращает оценку текущего серверного времени.
// До первого Update возвращает локальное время.
func (ts *TimeSync) Now() time.Time {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return time.Now().Add(ts.offset)
}

// Offset возвращает текущее смещение и признак синхронизации
func (ts *TimeSync) Offset() (time.Duration, bool) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.offset, ts.synced
}
