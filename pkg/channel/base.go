// Package channel содержит общие части клиентского и серверного канала:
// жизненный цикл, очередь, сессию поверх соединения, handshake и учёт живости.
package channel

import (
	"context"
	"sync"
	"sync/atomic"
)

// Protocol — транспорт, по которому идёт обмен после handshake.
type Protocol int32

// Транспорты
const (
	TCP Protocol = iota
	UDP
)

func (p Protocol) String() string {
	if p == UDP {
		return "udp"
	}
	return "tcp"
}

// Base — жизненный цикл канала: один контекст отмены на все рабочие циклы
// и однократное уведомление о завершении.
//
// Нулевое значение не готово к работе, используйте NewBase.
type Base struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closed atomic.Bool
	reason atomic.Value // string

	onFail func(reason string)
}

// NewBase создаёт жизненный цикл. onFail вызывается ровно один раз при Dispose.
func NewBase(onFail func(reason string)) *Base {
	ctx, cancel := context.WithCancel(context.Background())
	return &Base{ctx: ctx, cancel: cancel, onFail: onFail}
}

// Context возвращает контекст, отменяемый при Dispose.
func (b *Base) Context() context.Context {
	return b.ctx
}

// Done закрывается при Dispose.
func (b *Base) Done() <-chan struct{} {
	return b.ctx.Done()
}

// Go запускает рабочий цикл, отслеживаемый Wait.
func (b *Base) Go(fn func(ctx context.Context)) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn(b.ctx)
	}()
}

// Dispose отменяет контекст, освобождает ресурсы через release и сообщает
// onFail(reason). Повторные вызовы ничего не делают и возвращают false.
// Не ждёт завершения циклов: может вызываться из самих циклов и из onFail.
func (b *Base) Dispose(reason string, release func()) bool {
	if !b.closed.CompareAndSwap(false, true) {
		return false
	}
	b.reason.Store(reason)
	b.cancel()
	if release != nil {
		release()
	}
	if b.onFail != nil {
		b.onFail(reason)
	}
	return true
}

// Closed сообщает, был ли вызван Dispose.
func (b *Base) Closed() bool {
	return b.closed.Load()
}

// Reason возвращает причину закрытия или пустую строку.
func (b *Base) Reason() string {
	r, _ := b.reason.Load().(string)
	return r
}

// Wait ждёт завершения всех циклов, запущенных через Go.
func (b *Base) Wait() {
	b.wg.Wait()
}
