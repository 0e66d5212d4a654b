package broker

import (
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/udisondev/clunks/pkg/protocol"
)

// Handler обрабатывает запрос и возвращает строку статуса.
type Handler func(Request) string

// Responder отвечает на запросы одного типа пакетов.
type Responder struct {
	sub *nats.Subscription
}

// NewResponder подписывается на запросы типа id. Экземпляры с одинаковой queue
// делят нагрузку. Неразборчивый запрос получает StatusFailure.
func NewResponder(broker *Broker, id protocol.DataID, queue string, handler Handler) (*Responder, error) {
	subject := Subject(id)
	slog.Debug("responder: creating", "subject", subject, "queue", queue)

	sub, err := broker.conn.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		status := protocol.StatusFailure
		req, err := DecodeRequest(msg.Data)
		if err != nil {
			slog.Warn("responder: invalid request", "subject", subject, "error", err)
		} else {
			status = handler(req)
		}

		if err := msg.Respond([]byte(status)); err != nil {
			slog.Error("responder: respond failed", "subject", subject, "error", err)
		}
	})
	if err != nil {
		slog.Error("responder: subscribe failed", "subject", subject, "error", err)
		return nil, fmt.Errorf("subscribe to %s: %w", subject, err)
	}

	slog.Info("responder: subscribed", "subject", subject, "queue", queue)

	return &Responder{sub: sub}, nil
}

// Unsubscribe отписывается от запросов.
func (r *Responder) Unsubscribe() error {
	subject := r.sub.Subject
	slog.Debug("responder: unsubscribing", "subject", subject)
	if err := r.sub.Unsubscribe(); err != nil {
		slog.Error("responder: unsubscribe failed", "subject", subject, "error", err)
		return err
	}
	return nil
}
