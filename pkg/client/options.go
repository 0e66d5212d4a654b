package client

import (
	"time"

	"github.com/udisondev/clunks/pkg/channel"
	"github.com/udisondev/clunks/pkg/metrics"
	"github.com/udisondev/clunks/pkg/protocol"
)

// Константы по умолчанию.
const (
	DefaultDialTimeout       = 10 * time.Second
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultWriteTimeout      = 30 * time.Second
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultHandshakeAttempts = 3
)

type connectConfig struct {
	dialTimeout       time.Duration
	handshakeTimeout  time.Duration
	writeTimeout      time.Duration
	heartbeatInterval time.Duration
	maxMissed         int
	handshakeAttempts int
	maxFrameSize      int

	onDispatch func(protocol.Packet)
	onFail     func(reason string)
	onWarning  func(msg string)

	metrics *metrics.Metrics
}

func defaultConfig() connectConfig {
	return connectConfig{
		dialTimeout:       DefaultDialTimeout,
		handshakeTimeout:  DefaultHandshakeTimeout,
		writeTimeout:      DefaultWriteTimeout,
		heartbeatInterval: DefaultHeartbeatInterval,
		maxMissed:         channel.DefaultMaxMissedHeartbeats,
		handshakeAttempts: DefaultHandshakeAttempts,
		maxFrameSize:      protocol.DefaultMaxFrameSize,
	}
}

// Option конфигурирует клиента.
type Option func(*connectConfig)

// WithDialTimeout устанавливает таймаут TCP подключения.
func WithDialTimeout(d time.Duration) Option {
	return func(c *connectConfig) {
		c.dialTimeout = d
	}
}

// WithHandshakeTimeout ограничивает одну попытку handshake.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *connectConfig) {
		c.handshakeTimeout = d
	}
}

// WithWriteTimeout устанавливает таймаут записи кадра в TCP.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *connectConfig) {
		c.writeTimeout = d
	}
}

// WithHeartbeatInterval устанавливает период heartbeat.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *connectConfig) {
		c.heartbeatInterval = d
	}
}

// WithMaxMissedHeartbeats устанавливает число пропусков подряд до закрытия.
func WithMaxMissedHeartbeats(n int) Option {
	return func(c *connectConfig) {
		c.maxMissed = n
	}
}

// WithHandshakeAttempts устанавливает число попыток handshake.
func WithHandshakeAttempts(n int) Option {
	return func(c *connectConfig) {
		c.handshakeAttempts = n
	}
}

// WithMaxFrameSize ограничивает bodyLength входящего TCP кадра.
func WithMaxFrameSize(n int) Option {
	return func(c *connectConfig) {
		c.maxFrameSize = n
	}
}

// WithOnDispatch устанавливает обработчик входящих пакетов.
// Вызывается из одной горутины в порядке приёма.
func WithOnDispatch(handler func(protocol.Packet)) Option {
	return func(c *connectConfig) {
		c.onDispatch = handler
	}
}

// WithOnFail устанавливает обработчик завершения канала. Вызывается ровно один раз.
func WithOnFail(handler func(reason string)) Option {
	return func(c *connectConfig) {
		c.onFail = handler
	}
}

// WithOnWarning устанавливает обработчик предупреждений оператору.
func WithOnWarning(handler func(msg string)) Option {
	return func(c *connectConfig) {
		c.onWarning = handler
	}
}

// WithMetrics включает запись метрик.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *connectConfig) {
		c.metrics = m
	}
}
