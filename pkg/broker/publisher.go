package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/udisondev/clunks/pkg/protocol"
)

// Requester отправляет пакеты клиентов хранилищу и ждёт строку статуса.
type Requester struct {
	broker *Broker
	// do выполняет один запрос; по умолчанию Request.
	do func(context.Context, Request) (string, error)

	// tails хранит по сессии сигнал завершения последнего ответа Forward.
	mu    sync.Mutex
	tails map[string]chan struct{}
}

// NewRequester создаёт отправителя запросов.
func NewRequester(broker *Broker) *Requester {
	r := &Requester{broker: broker, tails: make(map[string]chan struct{})}
	r.do = r.Request
	return r
}

// Request отправляет запрос и возвращает ответ хранилища.
// Без ctx deadline ожидание ограничено RequestTimeout брокера.
func (r *Requester) Request(ctx context.Context, req Request) (string, error) {
	data, err := EncodeRequest(req)
	if err != nil {
		return "", err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.broker.requestTimeout)
		defer cancel()
	}

	subject := Subject(req.DataID)
	slog.Debug("requester: sending", "subject", subject, "user_id", req.UserID, "size", len(data))

	msg, err := r.broker.conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		slog.Error("requester: failed", "subject", subject, "user_id", req.UserID, "error", err)
		return "", fmt.Errorf("request %s: %w", subject, err)
	}
	return string(msg.Data), nil
}

// Forward отправляет запрос в отдельной горутине и передаёт ответ в reply.
// Запросы одной сессии (SessionID) выполняются параллельно, но reply вызывается
// в порядке вызовов Forward. При ошибке reply получает StatusFailure.
func (r *Requester) Forward(ctx context.Context, req Request, reply func(status string)) {
	done := make(chan struct{})

	r.mu.Lock()
	prev := r.tails[req.SessionID]
	r.tails[req.SessionID] = done
	r.mu.Unlock()

	go func() {
		defer r.release(req.SessionID, done)

		status, err := r.do(ctx, req)
		if err != nil {
			status = protocol.StatusFailure
		}
		if prev != nil {
			<-prev
		}
		reply(status)
	}()
}

func (r *Requester) release(session string, done chan struct{}) {
	close(done)
	r.mu.Lock()
	if r.tails[session] == done {
		delete(r.tails, session)
	}
	r.mu.Unlock()
}
