package server

import (
	"time"

	"github.com/udisondev/clunks/pkg/channel"
	"github.com/udisondev/clunks/pkg/metrics"
	"github.com/udisondev/clunks/pkg/protocol"
)

// Константы по умолчанию.
const (
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultHeartbeatInterval = 5 * time.Second

	// DefaultWriteTimeout — таймаут записи одного кадра клиенту.
	DefaultWriteTimeout = 30 * time.Second
)

type serverConfig struct {
	handshakeTimeout  time.Duration
	writeTimeout      time.Duration
	heartbeatInterval time.Duration
	maxMissed         int
	maxFrameSize      int
	maxClients        int

	rateLimitPerSec float64
	rateLimitBurst  int

	onDispatch      func(protocol.Packet, *ClientModel)
	onClientAdded   func(*ClientModel)
	onClientRemoved func(c *ClientModel, reason string)
	onFail          func(reason string)

	metrics *metrics.Metrics
}

func defaultConfig() serverConfig {
	return serverConfig{
		handshakeTimeout:  DefaultHandshakeTimeout,
		writeTimeout:      DefaultWriteTimeout,
		heartbeatInterval: DefaultHeartbeatInterval,
		maxMissed:         channel.DefaultMaxMissedHeartbeats,
		maxFrameSize:      protocol.DefaultMaxFrameSize,
	}
}

// Option конфигурирует сервер.
type Option func(*serverConfig)

// WithHandshakeTimeout ограничивает handshake одного клиента.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *serverConfig) {
		c.handshakeTimeout = d
	}
}

// WithWriteTimeout устанавливает таймаут записи кадра в TCP.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *serverConfig) {
		c.writeTimeout = d
	}
}

// WithHeartbeatInterval устанавливает период heartbeat.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *serverConfig) {
		c.heartbeatInterval = d
	}
}

// WithMaxMissedHeartbeats устанавливает число пропусков подряд до удаления клиента.
func WithMaxMissedHeartbeats(n int) Option {
	return func(c *serverConfig) {
		c.maxMissed = n
	}
}

// WithMaxFrameSize ограничивает bodyLength входящего TCP кадра.
func WithMaxFrameSize(n int) Option {
	return func(c *serverConfig) {
		c.maxFrameSize = n
	}
}

// WithMaxClients ограничивает число одновременных соединений (0 без ограничения).
func WithMaxClients(n int) Option {
	return func(c *serverConfig) {
		c.maxClients = n
	}
}

// WithRateLimit ограничивает входящие пакеты одного клиента.
// perSec=0 отключает ограничение. Превышение лимита удаляет клиента.
func WithRateLimit(perSec float64, burst int) Option {
	return func(c *serverConfig) {
		c.rateLimitPerSec = perSec
		c.rateLimitBurst = burst
	}
}

// WithOnDispatch устанавливает обработчик входящих пакетов.
// Вызывается из одной горутины в порядке приёма.
func WithOnDispatch(handler func(protocol.Packet, *ClientModel)) Option {
	return func(c *serverConfig) {
		c.onDispatch = handler
	}
}

// WithOnClientAdded вызывается после успешного handshake.
func WithOnClientAdded(handler func(*ClientModel)) Option {
	return func(c *serverConfig) {
		c.onClientAdded = handler
	}
}

// WithOnClientRemoved вызывается один раз для каждого удалённого клиента.
func WithOnClientRemoved(handler func(c *ClientModel, reason string)) Option {
	return func(c *serverConfig) {
		c.onClientRemoved = handler
	}
}

// WithOnFail устанавливает обработчик завершения сервера.
func WithOnFail(handler func(reason string)) Option {
	return func(c *serverConfig) {
		c.onFail = handler
	}
}

// WithMetrics включает запись метрик.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *serverConfig) {
		c.metrics = m
	}
}
