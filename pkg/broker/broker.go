// Package broker связывает канал с внешним хранилищем комнат и пользователей через NATS:
// пакеты Command и Login уходят запросом, ответ — строка статуса.
package broker

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// Broker управляет соединением с NATS.
type Broker struct {
	conn           *nats.Conn
	requestTimeout time.Duration
}

// DefaultRequestTimeout — ожидание ответа хранилища по умолчанию.
const DefaultRequestTimeout = 5 * time.Second

// Config конфигурация NATS.
type Config struct {
	URLs           []string
	Name           string
	ReconnectWait  time.Duration
	MaxReconnects  int
	RequestTimeout time.Duration
}

// New создаёт новый брокер.
func New(cfg Config) (*Broker, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("broker: NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("broker: NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			slog.Info("broker: NATS connection closed")
		}),
	}

	// NATS поддерживает URL через запятую
	url := nats.DefaultURL
	if len(cfg.URLs) > 0 {
		url = strings.Join(cfg.URLs, ",")
	}

	slog.Debug("broker: connecting", "urls", url)

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		slog.Error("broker: connect failed", "urls", url, "error", err)
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	slog.Debug("broker: connection established", "server_id", conn.ConnectedServerId(), "url", conn.ConnectedUrl())

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	return &Broker{conn: conn, requestTimeout: timeout}, nil
}

// Conn возвращает соединение NATS.
func (b *Broker) Conn() *nats.Conn {
	return b.conn
}

// RequestTimeout возвращает ожидание ответа на один запрос.
func (b *Broker) RequestTimeout() time.Duration {
	return b.requestTimeout
}

// Close закрывает соединение, дождавшись обработки уже полученных сообщений.
func (b *Broker) Close() error {
	slog.Debug("broker: closing connection")
	if err := b.conn.Drain(); err != nil {
		slog.Error("broker: drain failed", "error", err)
		return err
	}
	return nil
}
