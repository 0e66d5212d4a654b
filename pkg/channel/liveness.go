package channel

import "sync/atomic"

// DefaultMaxMissedHeartbeats — число пропусков подряд, после которого соединение мертво.
const DefaultMaxMissedHeartbeats = 2

// Liveness считает пропущенные heartbeat.
// Beat вызывается читателем, Check — циклом heartbeat раз в интервал.
type Liveness struct {
	received atomic.Bool
	missed   atomic.Int32
	limit    int32
}

// NewLiveness создаёт счётчик с пределом limit (<=0 — DefaultMaxMissedHeartbeats).
func NewLiveness(limit int) *Liveness {
	if limit <= 0 {
		limit = DefaultMaxMissedHeartbeats
	}
	return &Liveness{limit: int32(limit)}
}

// Beat отмечает полученный heartbeat.
func (l *Liveness) Beat() {
	l.received.Store(true)
}

// Check закрывает текущий интервал. Возвращает false, когда пропусков подряд
// набралось limit.
func (l *Liveness) Check() bool {
	if l.received.Swap(false) {
		l.missed.Store(0)
		return true
	}
	return l.missed.Add(1) < l.limit
}

// Missed возвращает число пропусков подряд.
func (l *Liveness) Missed() int {
	return int(l.missed.Load())
}
